// Package events publishes answer notifications to NATS so other services
// can observe what ragd answered.
//
// Each answer is published as JSON to a single subject (default
// "ragd.answers"):
//
//	{"kind":"ask","session_id":"...","namespace":"...","query":"...","answers":[...],"at":"..."}
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Kinds of answer events.
const (
	KindAsk        = "ask"
	KindSynthesize = "synthesize"
)

// ErrPublish wraps publish failures.
var ErrPublish = errors.New("publish answer event")

// AnswerSummary is one answer within an event.
type AnswerSummary struct {
	Query    string   `json:"query"`
	Text     string   `json:"answer"`
	Pages    []string `json:"pages"`
	Fallback bool     `json:"fallback,omitempty"`
}

// AnswerEvent describes one completed request.
type AnswerEvent struct {
	Kind      string          `json:"kind"`
	RequestID string          `json:"request_id,omitempty"`
	SessionID string          `json:"session_id"`
	Namespace string          `json:"namespace"`
	Query     string          `json:"query"`
	Answers   []AnswerSummary `json:"answers"`
	At        time.Time       `json:"at"`
}

// Publisher sends answer events.
type Publisher interface {
	PublishAnswer(ctx context.Context, ev AnswerEvent) error
	Close() error
}

// Nop discards events.
type Nop struct{}

// PublishAnswer implements Publisher.
func (Nop) PublishAnswer(context.Context, AnswerEvent) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }

// NATSPublisher publishes events on a NATS subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	owned   bool
	logger  *zap.Logger
}

// NewNATSPublisher publishes on subject over an existing connection. The
// caller keeps ownership of conn.
func NewNATSPublisher(conn *nats.Conn, subject string, logger *zap.Logger) *NATSPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{conn: conn, subject: subject, logger: logger}
}

// Connect dials url and returns a publisher that closes the connection on
// Close. Connection failures at startup are retried in the background.
func Connect(url, subject string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("ragd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from NATS", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected to NATS", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	p := NewNATSPublisher(nc, subject, logger)
	p.owned = true
	return p, nil
}

// PublishAnswer implements Publisher.
func (p *NATSPublisher) PublishAnswer(ctx context.Context, ev AnswerEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrPublish, err)
	}

	msg := nats.NewMsg(p.subject)
	msg.Data = data
	msg.Header.Set("Ragd-Kind", ev.Kind)
	if ev.RequestID != "" {
		msg.Header.Set(nats.MsgIdHdr, ev.RequestID)
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}
	return nil
}

// Close drains and closes an owned connection.
func (p *NATSPublisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.conn.Drain()
}

// NewFromConfig returns a NATS publisher when events are enabled and Nop
// otherwise.
func NewFromConfig(cfg config.EventsConfig, logger *zap.Logger) (Publisher, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	p, err := Connect(cfg.NATSURL, cfg.Subject, logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}
