package ttsstream

import (
	"testing"
	"time"
)

func TestRegisterTextAndTake(t *testing.T) {
	r := NewRegistry(time.Minute)
	id := r.RegisterText("Good start so far.")

	if len(id) != 32 {
		t.Fatalf("id length = %d, want 32 hex chars (%q)", len(id), id)
	}
	for _, c := range id {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			t.Fatalf("id %q contains non-hex char %q", id, c)
		}
	}

	h, ok := r.Take(id)
	if !ok {
		t.Fatalf("Take(%q) = false, want handle", id)
	}
	if h.Text != "Good start so far." {
		t.Fatalf("text = %q", h.Text)
	}
	if h.Streamed() {
		t.Fatalf("text handle reports streamed")
	}
}

func TestTakeIsDestructive(t *testing.T) {
	r := NewRegistry(time.Minute)
	id := r.RegisterText("once only")

	if _, ok := r.Take(id); !ok {
		t.Fatalf("first Take failed")
	}
	if _, ok := r.Take(id); ok {
		t.Fatalf("second Take succeeded, handle must be single-use")
	}
	if _, ok := r.Take("0123456789abcdef0123456789abcdef"); ok {
		t.Fatalf("Take of unknown id succeeded")
	}
}

func TestRegisterStream(t *testing.T) {
	r := NewRegistry(time.Minute)
	id, send := r.RegisterStream(4)

	send <- "First sentence."
	close(send)

	h, ok := r.Take(id)
	if !ok {
		t.Fatalf("Take(%q) failed", id)
	}
	if !h.Streamed() {
		t.Fatalf("stream handle reports fixed text")
	}
	got, open := <-h.Stream
	if !open || got != "First sentence." {
		t.Fatalf("stream read = %q open=%v", got, open)
	}
	if _, open := <-h.Stream; open {
		t.Fatalf("stream not closed after producer close")
	}
}

func TestSweepEvictsExpired(t *testing.T) {
	r := NewRegistry(50 * time.Millisecond)
	var expired int
	r.SetExpireHook(func(dropped int) { expired += dropped })
	id := r.RegisterText("stale")

	if dropped := r.sweep(time.Now()); dropped != 0 {
		t.Fatalf("fresh handle swept")
	}
	if expired != 0 {
		t.Fatalf("expire hook fired on a fresh handle")
	}
	if dropped := r.sweep(time.Now().Add(time.Second)); dropped != 1 {
		t.Fatalf("sweep dropped %d, want 1", dropped)
	}
	if expired != 1 {
		t.Fatalf("expire hook count = %d, want 1", expired)
	}
	if _, ok := r.Take(id); ok {
		t.Fatalf("expired handle still takeable")
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}
}

func TestIDsAreUnique(t *testing.T) {
	r := NewRegistry(time.Minute)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := r.RegisterText("x")
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
