package asset

import (
	"context"
	"fmt"
	"sync"
)

// Loader decodes the resource behind a reference. Implementations must be
// safe for concurrent use and should return ErrNotFound for unknown ids.
type Loader interface {
	Load(ctx context.Context, ref Reference) (*ImpulseResponse, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, ref Reference) (*ImpulseResponse, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context, ref Reference) (*ImpulseResponse, error) {
	return f(ctx, ref)
}

type memoryItem struct {
	sampleRate float64
	channels   [][]float64
}

// MemoryLoader serves impulse responses registered in memory. Every load
// returns a fresh ImpulseResponse over the registered samples.
type MemoryLoader struct {
	mu    sync.RWMutex
	items map[Reference]memoryItem
}

// NewMemoryLoader returns an empty registry.
func NewMemoryLoader() *MemoryLoader {
	return &MemoryLoader{items: make(map[Reference]memoryItem)}
}

// Add registers channels under id in category c, replacing any previous
// registration. The samples are validated but not copied.
func (m *MemoryLoader) Add(id string, c Category, sampleRate float64, channels ...[]float64) error {
	ref := NewReference(id, c)
	if ref.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidImpulse)
	}
	if _, err := NewImpulseResponse(ref.ID, sampleRate, channels); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[ref] = memoryItem{sampleRate: sampleRate, channels: channels}

	return nil
}

// Remove unregisters id in category c.
func (m *MemoryLoader) Remove(id string, c Category) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, NewReference(id, c))
}

// Load implements Loader.
func (m *MemoryLoader) Load(_ context.Context, ref Reference) (*ImpulseResponse, error) {
	m.mu.RLock()
	item, ok := m.items[ref]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return NewImpulseResponse(ref.ID, item.sampleRate, item.channels)
}
