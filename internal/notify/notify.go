// Package notify fans bot events out to live consumers.
package notify

import (
	"context"
	"sync"
	"time"
)

type Event string

const (
	EventQR              Event = "qr"
	EventConnected       Event = "connected"
	EventDisconnected    Event = "disconnected"
	EventState           Event = "state"
	EventMessageReceived Event = "message_received"
	EventLeadCreated     Event = "lead_created"
	EventMessageSent     Event = "message_sent"
	EventMessageQueued   Event = "message_queued"
)

// Envelope is the wire shape shared by every sink.
type Envelope struct {
	Event     Event `json:"event"`
	Payload   any   `json:"payload,omitempty"`
	Timestamp int64 `json:"timestamp"`
}

func NewEnvelope(event Event, payload any) Envelope {
	return Envelope{Event: event, Payload: payload, Timestamp: time.Now().UnixMilli()}
}

// Notifier must not block the caller for long; delivery is best effort.
type Notifier interface {
	Publish(ctx context.Context, event Event, payload any)
}

type Nop struct{}

func (Nop) Publish(context.Context, Event, any) {}

// OrNop returns n, or a Nop when n is nil.
func OrNop(n Notifier) Notifier {
	if n == nil {
		return Nop{}
	}
	return n
}

// Multi publishes to every notifier in order.
type Multi []Notifier

func (m Multi) Publish(ctx context.Context, event Event, payload any) {
	for _, n := range m {
		if n != nil {
			n.Publish(ctx, event, payload)
		}
	}
}

// Capture keeps every published envelope in memory.
type Capture struct {
	mu     sync.Mutex
	events []Envelope
}

func (c *Capture) Publish(_ context.Context, event Event, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, NewEnvelope(event, payload))
}

func (c *Capture) Events() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Envelope(nil), c.events...)
}

// Count returns how many envelopes carry the given event.
func (c *Capture) Count(event Event) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Event == event {
			n++
		}
	}
	return n
}
