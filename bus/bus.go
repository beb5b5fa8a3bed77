// Package bus fans committed turn events out to subscribers over a watermill
// gochannel pub/sub. Every session has its own topic, so a subscriber only
// sees the terminal events of the session it asked for.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/hupe1980/turnstream/core"
	"github.com/hupe1980/turnstream/logging"
)

// ErrClosed is returned by operations on a closed Bus.
var ErrClosed = errors.New("event bus closed")

// Options configure a Bus.
type Options struct {
	// Buffer is the per-subscriber output buffer of the underlying channel.
	Buffer int64
	Logger logging.Logger
}

// Bus publishes core.Event values per session. It satisfies
// service.Publisher.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger logging.Logger

	mu     sync.RWMutex
	closed bool
}

// New creates a Bus.
func New(optFns ...func(o *Options)) *Bus {
	opts := Options{Buffer: 100, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: opts.Buffer,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		logger: opts.Logger,
	}
}

// Topic returns the topic committed events of sessionID are published on.
func Topic(sessionID string) string { return "session." + sessionID }

// Publish sends ev to the subscribers of its session. Events without session
// id are rejected.
func (b *Bus) Publish(_ context.Context, ev core.Event) error {
	if ev.SessionID == "" {
		return fmt.Errorf("%w: event %s has no session id", core.ErrInvalidInput, ev.ID)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return &core.SerializationError{Cause: err}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("turn_id", ev.TurnID)
	if err := b.pubsub.Publish(Topic(ev.SessionID), msg); err != nil {
		return fmt.Errorf("publish event %s: %w", ev.ID, err)
	}
	b.logger.Debug("bus.publish", "session_id", ev.SessionID, "turn_id", ev.TurnID, "event_id", ev.ID)
	return nil
}

// Subscribe streams the events published for sessionID until ctx is done or
// the bus is closed; the returned channel is closed then. Only events
// published after Subscribe returned are delivered.
func (b *Bus) Subscribe(ctx context.Context, sessionID string) (<-chan core.Event, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrClosed
	}
	messages, err := b.pubsub.Subscribe(ctx, Topic(sessionID))
	b.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("subscribe to session %s: %w", sessionID, err)
	}

	out := make(chan core.Event)
	go func() {
		defer close(out)
		for msg := range messages {
			var ev core.Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.logger.Warn("bus.decode.error", "session_id", sessionID, "message_id", msg.UUID, "error", err.Error())
				msg.Ack()
				continue
			}
			select {
			case out <- ev:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

// Close stops the bus and ends all subscriptions.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.pubsub.Close()
}
