// Package storage persists the ledger as one JSON blob under a named slot.
package storage

import (
	"context"
	"errors"
	"sync"
)

// ErrSlotEmpty is returned by Slot.Read when nothing was ever written.
var ErrSlotEmpty = errors.New("slot is empty")

// Slot is a durable named key/value cell holding an opaque payload.
type Slot interface {
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, payload []byte) error
}

// MemorySlot keeps payloads in process memory.
type MemorySlot struct {
	mu    sync.Mutex
	items map[string][]byte
}

func NewMemorySlot() *MemorySlot {
	return &MemorySlot{items: make(map[string][]byte)}
}

func (m *MemorySlot) Read(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[name]
	if !ok {
		return nil, ErrSlotEmpty
	}
	return append([]byte(nil), p...), nil
}

func (m *MemorySlot) Write(_ context.Context, name string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[name] = append([]byte(nil), payload...)
	return nil
}
