package conversation

import (
	"context"
	"errors"
	"time"
)

// DefaultMaxHistoryMessages bounds each session's history.
const DefaultMaxHistoryMessages = 10

var (
	// ErrInvalidSession is returned for an empty session ID.
	ErrInvalidSession = errors.New("invalid session ID")

	// ErrSessionClosed is returned when a closed Session is used.
	ErrSessionClosed = errors.New("session closed")
)

// Role is who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of a conversation.
type Turn struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Backend stores session histories.
type Backend interface {
	// Load returns the last n turns of a session, oldest first. An unknown
	// session has no turns.
	Load(ctx context.Context, sessionID string, n int) ([]Turn, error)

	// Append adds turns and drops the oldest so that at most max remain.
	Append(ctx context.Context, sessionID string, max int, turns ...Turn) error

	// Clear removes a session's history.
	Clear(ctx context.Context, sessionID string) error

	// Close releases backend resources.
	Close() error
}
