// Package events is a small in-process, fire-and-forget event bus. It keeps
// the relay's response path unaware of who consumes what it publishes.
package events

import (
	"errors"
	"log/slog"
	"sync"

	"geoserver-relay/internal/model"
)

// Event is anything published on the bus.
type Event interface {
	Topic() string
}

// TileServed is published by the relay after a tile-cache request was answered.
type TileServed struct {
	SessionID string
	Telemetry model.TelemetryEvent
}

// Topic implements Event.
func (TileServed) Topic() string { return "tile-served" }

// SessionClosed is published when a push channel goes away.
type SessionClosed struct {
	SessionID string
}

// Topic implements Event.
func (SessionClosed) Topic() string { return "session-closed" }

// ErrClosed is returned by Publish once the bus has been closed.
var ErrClosed = errors.New("events: bus closed")

// DefaultBuffer is the per-subscriber queue length used by Subscribe.
const DefaultBuffer = 256

type subscriber struct {
	name  string
	queue chan Event
}

// Bus fans events out to subscribers. Each subscriber has its own goroutine
// and bounded queue; a full queue drops the event for that subscriber only.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscriber
	closed bool
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewBus creates an empty Bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{logger: logger.With("component", "event_bus")}
}

// Subscribe registers fn to receive every event published after this call.
func (b *Bus) Subscribe(name string, fn func(Event)) {
	b.SubscribeBuffered(name, DefaultBuffer, fn)
}

// SubscribeBuffered is Subscribe with an explicit queue length.
func (b *Bus) SubscribeBuffered(name string, buffer int, fn func(Event)) {
	s := &subscriber{name: name, queue: make(chan Event, max(1, buffer))}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.subs = append(b.subs, s)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for ev := range s.queue {
			b.deliver(s.name, fn, ev)
		}
	}()
}

func (b *Bus) deliver(name string, fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked", "subscriber", name, "topic", ev.Topic(), "panic", r)
		}
	}()
	fn(ev)
}

// Publish hands ev to every subscriber without blocking.
func (b *Bus) Publish(ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, s := range b.subs {
		select {
		case s.queue <- ev:
		default:
			b.logger.Debug("subscriber queue full, event dropped", "subscriber", s.name, "topic", ev.Topic())
		}
	}
	return nil
}

// Close stops accepting events and waits for queued ones to be delivered.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.queue)
	}
	b.mu.Unlock()
	b.wg.Wait()
}
