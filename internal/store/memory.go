package store

import (
	"context"
	"sync"
)

// MemoryLog is an in-process UpdateLog used in tests and as the durability
// fallback when no backend is configured.
type MemoryLog struct {
	mu      sync.RWMutex
	records map[string][][]byte
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		records: make(map[string][][]byte),
	}
}

func (l *MemoryLog) GetDocument(_ context.Context, roomID string) ([][]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	stored := l.records[roomID]
	updates := make([][]byte, len(stored))
	copy(updates, stored)
	return updates, nil
}

func (l *MemoryLog) AppendUpdate(_ context.Context, roomID string, update []byte) error {
	record := make([]byte, len(update))
	copy(record, update)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[roomID] = append(l.records[roomID], record)
	return nil
}

func (l *MemoryLog) ClearDocument(_ context.Context, roomID string) error {
	if !IsEphemeral(roomID) {
		return ErrClearNotAllowed
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, roomID)
	return nil
}
