// Package wire defines the websocket message envelope exchanged between the
// relay and its clients. Document updates are opaque bytes produced by
// graphdoc; presence rides the same envelope but is never persisted.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/Ramsey-B/trellis/pkg/models"
)

// Message types.
const (
	// TypeSync is sent by the relay to each newly admitted client: the full
	// document state plus the room's current presence list and title.
	TypeSync = "sync"
	// TypeUpdate carries one encoded document update.
	TypeUpdate = "update"
	// TypePresence carries presence upserts for one or more connections.
	TypePresence = "presence"
	// TypePresenceRemove announces departed connections.
	TypePresenceRemove = "presence.remove"
)

// Message is the envelope for every frame on the room socket.
type Message struct {
	Type     string                 `json:"type"`
	Update   []byte                 `json:"update,omitempty"`
	Presence []models.PresenceEntry `json:"presence,omitempty"`
	Removed  []string               `json:"removed,omitempty"`
	Title    string                 `json:"title,omitempty"`
}

// Encode serializes a message for the socket.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", m.Type, err)
	}
	return data, nil
}

// Decode parses a frame received from the socket.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	if m.Type == "" {
		return nil, fmt.Errorf("message is missing a type")
	}
	return &m, nil
}
