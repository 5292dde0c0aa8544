package conversation

import (
	"context"
	"sync"
)

// MemoryBackend keeps histories in process memory.
type MemoryBackend struct {
	mu       sync.RWMutex
	sessions map[string][]Turn
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sessions: make(map[string][]Turn)}
}

// Load implements Backend.
func (b *MemoryBackend) Load(ctx context.Context, sessionID string, n int) ([]Turn, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	turns := b.sessions[sessionID]
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return append([]Turn(nil), turns...), nil
}

// Append implements Backend.
func (b *MemoryBackend) Append(ctx context.Context, sessionID string, max int, turns ...Turn) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	history := append(b.sessions[sessionID], turns...)
	if max > 0 && len(history) > max {
		history = append([]Turn(nil), history[len(history)-max:]...)
	}
	b.sessions[sessionID] = history
	return nil
}

// Clear implements Backend.
func (b *MemoryBackend) Clear(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, sessionID)
	return nil
}

// Close implements Backend.
func (b *MemoryBackend) Close() error {
	return nil
}
