package llm

import (
	"context"
	"errors"
	"sync"
)

// Reply is one scripted completion outcome.
type Reply struct {
	Text string
	Err  error
}

// Text returns a successful Reply.
func Text(s string) Reply { return Reply{Text: s} }

// Fail returns a failing Reply. The error is wrapped in *CompletionError.
func Fail(err error) Reply { return Reply{Err: err} }

// Call is a recorded Complete invocation.
type Call struct {
	Messages []Message
	Options  Options
}

// ScriptedCompleter is a Completer for tests. It returns Replies in order,
// or delegates to Handler when set. Once the script is exhausted every call
// fails.
type ScriptedCompleter struct {
	// Handler, when set, computes each reply from the request.
	Handler func(messages []Message, opts Options) (string, error)

	mu      sync.Mutex
	replies []Reply
	calls   []Call
}

// NewScriptedCompleter returns a completer that plays replies in order.
func NewScriptedCompleter(replies ...Reply) *ScriptedCompleter {
	return &ScriptedCompleter{replies: replies}
}

// Complete implements Completer.
func (s *ScriptedCompleter) Complete(ctx context.Context, messages []Message, opts ...CallOption) (string, error) {
	o := ApplyOptions(opts...)

	s.mu.Lock()
	s.calls = append(s.calls, Call{Messages: append([]Message(nil), messages...), Options: o})
	handler := s.Handler
	var reply Reply
	scripted := false
	if handler == nil && len(s.replies) > 0 {
		reply, s.replies = s.replies[0], s.replies[1:]
		scripted = true
	}
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", &CompletionError{Model: "scripted", Err: err}
	}

	switch {
	case handler != nil:
		text, err := handler(messages, o)
		if err != nil {
			return "", &CompletionError{Model: "scripted", Err: err}
		}
		return text, nil
	case scripted:
		if reply.Err != nil {
			return "", &CompletionError{Model: "scripted", Err: reply.Err}
		}
		return reply.Text, nil
	default:
		return "", &CompletionError{Model: "scripted", Err: errors.New("script exhausted")}
	}
}

// CallCount returns the number of Complete calls.
func (s *ScriptedCompleter) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// Calls returns a copy of the recorded calls.
func (s *ScriptedCompleter) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}
