package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager serializes access to session histories.
type Manager struct {
	backend    Backend
	maxHistory int
	logger     *zap.Logger
	now        func() time.Time

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// sessionLock is a mutex that can be acquired with a context. refs counts
// holders and waiters so idle entries can be dropped.
type sessionLock struct {
	ch   chan struct{}
	refs int
}

// NewManager creates a Manager. maxHistory <= 0 uses
// DefaultMaxHistoryMessages; a nil backend uses a new MemoryBackend.
func NewManager(backend Backend, maxHistory int, logger *zap.Logger) *Manager {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistoryMessages
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		backend:    backend,
		maxHistory: maxHistory,
		logger:     logger,
		now:        time.Now,
		locks:      make(map[string]*sessionLock),
	}
}

// MaxHistory returns the per-session bound.
func (m *Manager) MaxHistory() int {
	return m.maxHistory
}

// Open acquires the session's writer lock, waiting until it is free or ctx
// is done. The caller must Close the returned Session.
func (m *Manager) Open(ctx context.Context, sessionID string) (*Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidSession
	}
	release, err := m.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &Session{id: sessionID, manager: m, release: release}, nil
}

// Reset clears a session's history. It waits for any open Session on the
// same ID to close.
func (m *Manager) Reset(ctx context.Context, sessionID string) error {
	sess, err := m.Open(ctx, sessionID)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := m.backend.Clear(ctx, sessionID); err != nil {
		return fmt.Errorf("clearing session history: %w", err)
	}
	m.logger.Debug("session history cleared", zap.String("session_id", sessionID))
	return nil
}

// Close closes the backend.
func (m *Manager) Close() error {
	return m.backend.Close()
}

func (m *Manager) acquire(ctx context.Context, id string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sessionLock{ch: make(chan struct{}, 1)}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		m.unref(id, l)
		return nil, fmt.Errorf("waiting for session %q: %w", id, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			m.unref(id, l)
		})
	}, nil
}

func (m *Manager) unref(id string, l *sessionLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, id)
	}
}

// Session is exclusive access to one session's history.
type Session struct {
	id      string
	manager *Manager
	release func()

	mu     sync.Mutex
	closed bool
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// Recent returns the last n turns, oldest first. n <= 0 or above the bound
// returns the whole retained history.
func (s *Session) Recent(ctx context.Context, n int) ([]Turn, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	if n <= 0 || n > s.manager.maxHistory {
		n = s.manager.maxHistory
	}
	turns, err := s.manager.backend.Load(ctx, s.id, n)
	if err != nil {
		return nil, fmt.Errorf("loading session history: %w", err)
	}
	return turns, nil
}

// Record appends a user turn and the assistant's reply, keeping only the
// most recent turns up to the bound.
func (s *Session) Record(ctx context.Context, user, assistant string) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	now := s.manager.now()
	err := s.manager.backend.Append(ctx, s.id, s.manager.maxHistory,
		Turn{Role: RoleUser, Text: user, At: now},
		Turn{Role: RoleAssistant, Text: assistant, At: now},
	)
	if err != nil {
		return fmt.Errorf("recording session turn: %w", err)
	}
	return nil
}

// Close releases the session lock. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.release()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
