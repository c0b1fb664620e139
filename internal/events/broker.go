// Package events fans session-scoped notifications out to their SSE
// subscribers.
package events

import (
	"encoding/json"
	"fmt"
	"sync"
)

// TypeReasoning is the event type carrying tutor decisions to the client.
const TypeReasoning = "reasoning"

// Event is one wire frame: a type plus its JSON payload.
type Event struct {
	Type string
	Data json.RawMessage
}

// Subscriber receives the events of one session. The channel is closed by
// Unsubscribe.
type Subscriber struct {
	ch chan Event
}

func (s *Subscriber) Events() <-chan Event { return s.ch }

// Broker routes events to per-session subscriber sets. Slow subscribers
// never block publishers: when a queue is full the oldest queued event is
// dropped to make room.
type Broker struct {
	mu        sync.RWMutex
	sessions  map[string]map[*Subscriber]struct{}
	queueSize int
}

func NewBroker(queueSize int) *Broker {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Broker{
		sessions:  make(map[string]map[*Subscriber]struct{}),
		queueSize: queueSize,
	}
}

func (b *Broker) Subscribe(sessionID string) *Subscriber {
	sub := &Subscriber{ch: make(chan Event, b.queueSize)}

	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.sessions[sessionID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		b.sessions[sessionID] = set
	}
	set[sub] = struct{}{}
	return sub
}

func (b *Broker) Unsubscribe(sessionID string, sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.sessions[sessionID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.ch)
	if len(set) == 0 {
		delete(b.sessions, sessionID)
	}
}

// Publish marshals payload and enqueues it for every subscriber of the
// session. Sessions with no subscribers drop the event silently.
func (b *Broker) Publish(sessionID, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	ev := Event{Type: eventType, Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.sessions[sessionID] {
		select {
		case sub.ch <- ev:
		default:
			// Full queue: shed the oldest event, keep the newest.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}
	return nil
}

// SubscriberCount reports the total subscribers across all sessions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, set := range b.sessions {
		n += len(set)
	}
	return n
}

// SessionCount reports how many sessions have at least one subscriber.
func (b *Broker) SessionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}
