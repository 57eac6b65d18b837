// Package store persists document updates as an append-only log keyed by
// room. A room's document is reconstructed by replaying its records in
// receipt order; records are never mutated or compacted inline.
package store

import (
	"context"
	"errors"
	"strings"
)

// EphemeralPrefix marks rooms that are never persisted and the only rooms
// whose logs may be cleared.
const EphemeralPrefix = "test-"

// ErrClearNotAllowed is returned when ClearDocument targets a room outside
// the ephemeral prefix.
var ErrClearNotAllowed = errors.New("clear is only allowed for ephemeral rooms")

// UpdateLog is the durable append-only record set for room documents.
type UpdateLog interface {
	// GetDocument returns the room's stored updates in receipt order. A room
	// with no records yields an empty slice, not an error.
	GetDocument(ctx context.Context, roomID string) ([][]byte, error)
	// AppendUpdate durably appends one update record.
	AppendUpdate(ctx context.Context, roomID string, update []byte) error
	// ClearDocument deletes all records for an ephemeral room. Non-ephemeral
	// rooms are refused with ErrClearNotAllowed.
	ClearDocument(ctx context.Context, roomID string) error
}

// IsEphemeral reports whether a room id names an ephemeral room. The room id
// is `community/diagramId`; the prefix is checked on the diagram segment.
func IsEphemeral(roomID string) bool {
	segment := roomID
	if idx := strings.LastIndex(roomID, "/"); idx >= 0 {
		segment = roomID[idx+1:]
	}
	return strings.HasPrefix(segment, EphemeralPrefix)
}
