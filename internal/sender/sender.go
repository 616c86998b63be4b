// Package sender delivers engine messages. Every Sender must treat
// Message.IdempotencyKey as the de-duplication key: delivery is
// at-least-once and the dispatcher retries failed keys on the next tick.
package sender

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
)

var (
	ErrNoRecipient    = errors.New("message has no recipient")
	ErrUnknownChannel = errors.New("no sender for channel")
)

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, msg domain.Message) error
}

// Func adapts a function to Sender.
type Func func(ctx context.Context, msg domain.Message) error

func (f Func) Send(ctx context.Context, msg domain.Message) error { return f(ctx, msg) }

// Router picks a Sender by Message.Channel.
type Router struct {
	mu       sync.RWMutex
	channels map[string]Sender
}

func NewRouter() *Router {
	return &Router{channels: make(map[string]Sender)}
}

// Register binds a channel name to a sender.
func (r *Router) Register(channel string, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[channel] = s
}

// Channels lists the registered channel names.
func (r *Router) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.channels))
	for name := range r.channels {
		out = append(out, name)
	}
	return out
}

func (r *Router) Send(ctx context.Context, msg domain.Message) error {
	channel := msg.Channel
	if channel == "" {
		channel = domain.ChannelEmail
	}
	r.mu.RLock()
	s, ok := r.channels[channel]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownChannel, channel)
	}
	return s.Send(ctx, msg)
}

// LogSender only logs. It stands in for real delivery in local runs.
type LogSender struct{}

func (LogSender) Send(_ context.Context, msg domain.Message) error {
	logger.Info("sender: would send message",
		"channel", msg.Channel, "subject_id", msg.SubjectID, "to", msg.To,
		"subject", msg.Subject, "idempotency_key", msg.IdempotencyKey)
	return nil
}
