// Package ttsstream hands synthesized speech to the client. Reasoning and
// voice flows register what should be spoken and send the client an opaque
// id; the client then fetches the audio exactly once.
package ttsstream

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handle is one pending utterance. Exactly one of Text and Stream is set:
// Text for fully decided replies, Stream for sentences still being produced.
type Handle struct {
	ID        string
	Text      string
	Stream    <-chan string
	CreatedAt time.Time
}

// Streamed reports whether the audio arrives as incremental sentences.
func (h *Handle) Streamed() bool { return h.Stream != nil }

// Registry stores pending utterances until the client claims them. Take is
// destructive so replayed URLs cannot fetch audio twice; a sweeper drops
// handles never claimed within the TTL.
type Registry struct {
	mu       sync.Mutex
	entries  map[string]*Handle
	ttl      time.Duration
	onExpire func(dropped int)
}

func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Registry{
		entries: make(map[string]*Handle),
		ttl:     ttl,
	}
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// RegisterText stores a fixed utterance and returns its id.
func (r *Registry) RegisterText(text string) string {
	h := &Handle{ID: newID(), Text: text, CreatedAt: time.Now()}
	r.mu.Lock()
	r.entries[h.ID] = h
	r.mu.Unlock()
	return h.ID
}

// RegisterStream stores a sentence-stream utterance. The producer sends
// sentences on the returned channel and closes it when done.
func (r *Registry) RegisterStream(buffer int) (string, chan<- string) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan string, buffer)
	h := &Handle{ID: newID(), Stream: ch, CreatedAt: time.Now()}
	r.mu.Lock()
	r.entries[h.ID] = h
	r.mu.Unlock()
	return h.ID, ch
}

// Take removes and returns the handle. A second Take of the same id, or a
// Take of an expired id, reports false.
func (r *Registry) Take(id string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	delete(r.entries, id)
	return h, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// SetExpireHook registers a callback invoked with the number of handles
// each sweep drops. Set it before StartSweeper.
func (r *Registry) SetExpireHook(hook func(dropped int)) {
	r.mu.Lock()
	r.onExpire = hook
	r.mu.Unlock()
}

// StartSweeper evicts unclaimed handles in the background.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep(time.Now())
			}
		}
	}()
}

func (r *Registry) sweep(now time.Time) int {
	r.mu.Lock()
	dropped := 0
	for id, h := range r.entries {
		if now.Sub(h.CreatedAt) >= r.ttl {
			delete(r.entries, id)
			dropped++
		}
	}
	hook := r.onExpire
	r.mu.Unlock()
	if dropped > 0 && hook != nil {
		hook(dropped)
	}
	return dropped
}
