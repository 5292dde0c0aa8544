// Package llm is the chat-completion boundary. Everything that talks to a
// language model goes through Completer.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrCompletion matches every completion-service failure.
var ErrCompletion = errors.New("completion service error")

// Role is a chat message author.
type Role string

// Chat roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// System returns a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User returns a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant returns an assistant message.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Options are per-call overrides. Nil or zero fields use the completer's
// defaults.
type Options struct {
	Temperature *float64
	MaxTokens   int
}

// CallOption configures a single Complete call.
type CallOption func(*Options)

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) CallOption {
	return func(o *Options) { o.Temperature = &t }
}

// WithMaxTokens overrides the response token limit.
func WithMaxTokens(n int) CallOption {
	return func(o *Options) { o.MaxTokens = n }
}

// ApplyOptions folds opts into an Options value.
func ApplyOptions(opts ...CallOption) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Completer produces the assistant's reply to a conversation.
type Completer interface {
	Complete(ctx context.Context, messages []Message, opts ...CallOption) (string, error)
}

// CompletionError reports a failed completion. It matches ErrCompletion.
type CompletionError struct {
	Model    string
	Attempts int
	Err      error
}

func (e *CompletionError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("completion with %s failed after %d attempts: %v", e.Model, e.Attempts, e.Err)
	}
	return fmt.Sprintf("completion with %s failed: %v", e.Model, e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// Is reports whether target is ErrCompletion.
func (e *CompletionError) Is(target error) bool { return target == ErrCompletion }
