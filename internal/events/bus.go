// Package events carries the audit trail: every register and login outcome is
// emitted as a CloudEvent on the auth-events topic. Delivery is best-effort;
// authentication never waits on, or fails because of, the audit path.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Audit event types. LOGIN_FAILED carries the internal rejection reason; the
// topic is trusted infrastructure and clients never see it.
const (
	TypeUserRegistered = "USER_REGISTERED"
	TypeLoginSuccess   = "LOGIN_SUCCESS"
	TypeLoginFailed    = "LOGIN_FAILED"
)

// Source identifies this service in the CloudEvent envelope.
const Source = "/api/v1/auth"

// Emitter is the surface the auth facade publishes through. Satisfied by the
// in-memory Bus, the Pub/Sub bus, and test fakes.
type Emitter interface {
	Emit(eventType, subject string, data map[string]interface{})
}

// CloudEvent is the CloudEvents 1.0 envelope used on the wire and on the
// operator stream.
type CloudEvent struct {
	SpecVersion string                 `json:"specversion"`
	Type        string                 `json:"type"`
	Source      string                 `json:"source"`
	ID          string                 `json:"id"`
	Time        time.Time              `json:"time"`
	Subject     string                 `json:"subject,omitempty"`
	Data        map[string]interface{} `json:"data"`
}

// NewCloudEvent builds a CloudEvents 1.0 compliant envelope.
func NewCloudEvent(eventType, subject string, data map[string]interface{}) *CloudEvent {
	return &CloudEvent{
		SpecVersion: "1.0",
		Type:        eventType,
		Source:      Source,
		ID:          uuid.NewString(),
		Time:        time.Now().UTC(),
		Subject:     subject,
		Data:        data,
	}
}

// JSON serialises the event.
func (ce *CloudEvent) JSON() ([]byte, error) {
	return json.Marshal(ce)
}

// Bus is the in-process fan-out. Subscribers are the operator websocket
// stream and tests; a slow subscriber drops events rather than blocking the
// publisher.
type Bus struct {
	mu         sync.RWMutex
	subs       []chan *CloudEvent
	bufferSize int
}

// NewBus creates an in-memory bus.
func NewBus() *Bus {
	return &Bus{bufferSize: 100}
}

// Subscribe returns a channel receiving every published event.
func (b *Bus) Subscribe() chan *CloudEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *CloudEvent, b.bufferSize)
	b.subs = append(b.subs, ch)
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (b *Bus) Unsubscribe(ch chan *CloudEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	filtered := b.subs[:0]
	for _, s := range b.subs {
		if s != ch {
			filtered = append(filtered, s)
		}
	}
	b.subs = filtered
	close(ch)
}

// Publish delivers an event to every subscriber, skipping full channels.
func (b *Bus) Publish(event *CloudEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			// Subscriber is behind; the audit stream is best-effort.
		}
	}
}

// Emit builds and publishes an event.
func (b *Bus) Emit(eventType, subject string, data map[string]interface{}) {
	b.Publish(NewCloudEvent(eventType, subject, data))
}

// SubscriberCount reports the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

var _ Emitter = (*Bus)(nil)
