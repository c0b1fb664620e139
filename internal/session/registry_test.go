package session

import (
	"testing"
	"time"
)

func TestConnectAndGet(t *testing.T) {
	r := NewRegistry(time.Minute)
	r.Connect(Session{ID: "s1", UserID: "u1", DocumentName: "hw3.pdf", QuestionNumber: 2})

	got, err := r.Get("s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.DocumentName != "hw3.pdf" || got.QuestionNumber != 2 {
		t.Fatalf("session = %+v", got)
	}
	if got.ContentMode != ModeMath {
		t.Fatalf("ContentMode = %q, want default %q", got.ContentMode, ModeMath)
	}

	if _, err := r.Get("missing"); err != ErrNotFound {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestConnectEvictsOthers(t *testing.T) {
	r := NewRegistry(time.Minute)
	var evicted []string
	r.SetEvictHook(func(s *Session) { evicted = append(evicted, s.ID) })

	r.Connect(Session{ID: "s1"})
	r.Connect(Session{ID: "s2"})

	if _, err := r.Get("s1"); err != ErrNotFound {
		t.Fatalf("s1 still registered after s2 connected")
	}
	if _, err := r.Get("s2"); err != nil {
		t.Fatalf("s2 missing: %v", err)
	}
	if len(evicted) != 1 || evicted[0] != "s1" {
		t.Fatalf("evicted = %v, want [s1]", evicted)
	}
	if got := r.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", got)
	}
}

func TestReconnectSameIDDoesNotEvictSelf(t *testing.T) {
	r := NewRegistry(time.Minute)
	var evicted []string
	r.SetEvictHook(func(s *Session) { evicted = append(evicted, s.ID) })

	r.Connect(Session{ID: "s1", QuestionNumber: 1})
	r.Connect(Session{ID: "s1", QuestionNumber: 5})

	if len(evicted) != 0 {
		t.Fatalf("evicted = %v, want none", evicted)
	}
	got, err := r.Get("s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.QuestionNumber != 5 {
		t.Fatalf("QuestionNumber = %d, want 5 after reconnect", got.QuestionNumber)
	}
}

func TestGetReturnsClone(t *testing.T) {
	r := NewRegistry(time.Minute)
	r.Connect(Session{ID: "s1"})

	a, _ := r.Get("s1")
	a.PartLabel = "tampered"

	b, _ := r.Get("s1")
	if b.PartLabel == "tampered" {
		t.Fatalf("Get() returned shared state")
	}
}

func TestSetPartLabelAndContentMode(t *testing.T) {
	r := NewRegistry(time.Minute)
	r.Connect(Session{ID: "s1"})

	if err := r.SetPartLabel("s1", " b "); err != nil {
		t.Fatalf("SetPartLabel() error = %v", err)
	}
	if err := r.SetContentMode("s1", ModeDiagram); err != nil {
		t.Fatalf("SetContentMode() error = %v", err)
	}
	got, _ := r.Get("s1")
	if got.PartLabel != "b" {
		t.Fatalf("PartLabel = %q, want b", got.PartLabel)
	}
	if got.ContentMode != ModeDiagram {
		t.Fatalf("ContentMode = %q, want diagram", got.ContentMode)
	}

	if err := r.SetContentMode("s1", "scribble"); err == nil {
		t.Fatalf("SetContentMode accepted invalid mode")
	}
	if err := r.SetPartLabel("missing", "a"); err != ErrNotFound {
		t.Fatalf("SetPartLabel(missing) = %v, want ErrNotFound", err)
	}
}

func TestDisconnect(t *testing.T) {
	r := NewRegistry(time.Minute)
	r.Connect(Session{ID: "s1"})

	s, err := r.Disconnect("s1")
	if err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if s.ID != "s1" {
		t.Fatalf("Disconnect returned %+v", s)
	}
	if _, err := r.Disconnect("s1"); err != ErrNotFound {
		t.Fatalf("second Disconnect = %v, want ErrNotFound", err)
	}
	if got := r.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", got)
	}
}

func TestEvictInactive(t *testing.T) {
	r := NewRegistry(10 * time.Millisecond)
	var evicted []string
	r.SetEvictHook(func(s *Session) { evicted = append(evicted, s.ID) })

	r.Connect(Session{ID: "stale"})
	time.Sleep(20 * time.Millisecond)
	r.evictInactive()

	if len(evicted) != 1 || evicted[0] != "stale" {
		t.Fatalf("evicted = %v, want [stale]", evicted)
	}
	if _, err := r.Get("stale"); err != ErrNotFound {
		t.Fatalf("stale session survived eviction")
	}
}

func TestLatest(t *testing.T) {
	r := NewRegistry(time.Minute)
	if got := r.Latest(); got != nil {
		t.Fatalf("Latest() on empty registry = %+v, want nil", got)
	}

	r.Connect(Session{ID: "s1", DocumentName: "hw3.pdf"})
	got := r.Latest()
	if got == nil || got.ID != "s1" {
		t.Fatalf("Latest() = %+v, want s1", got)
	}

	got.DocumentName = "mutated"
	if fresh := r.Latest(); fresh.DocumentName != "hw3.pdf" {
		t.Fatalf("Latest() returned a shared record: %+v", fresh)
	}
}
