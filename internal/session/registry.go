// Package session tracks which writing sessions are currently connected
// and what document and question each one declared.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ContentMode describes how a page's ink should be interpreted.
const (
	ModeMath    = "math"
	ModeDiagram = "diagram"
)

var ErrNotFound = errors.New("session not found")

// Session is one connected writer. PartLabel and ContentMode follow the
// most recent stroke event that carried them.
type Session struct {
	ID             string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	DocumentName   string    `json:"document_name"`
	QuestionNumber int       `json:"question_number"`
	PartLabel      string    `json:"part_label"`
	ContentMode    string    `json:"content_mode"`
	Simulated      bool      `json:"simulated"`
	ConnectedAt    time.Time `json:"connected_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Registry is the in-memory set of connected sessions. The service runs
// single-tenant: connecting a new session evicts every other one, and the
// evict hook gives the pipeline a chance to drop per-session state.
type Registry struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onEvict           func(*Session)
}

func NewRegistry(inactivityTimeout time.Duration) *Registry {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Registry{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
	}
}

func (r *Registry) SetEvictHook(hook func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvict = hook
}

// Connect registers s and evicts every other session.
func (r *Registry) Connect(s Session) *Session {
	now := time.Now().UTC()
	s.ConnectedAt = now
	s.LastActivityAt = now
	if strings.TrimSpace(s.ContentMode) == "" {
		s.ContentMode = ModeMath
	}

	r.mu.Lock()
	var evicted []*Session
	for id, other := range r.sessions {
		if id == s.ID {
			continue
		}
		evicted = append(evicted, other)
		delete(r.sessions, id)
	}
	stored := s
	r.sessions[s.ID] = &stored
	hook := r.onEvict
	r.mu.Unlock()

	if hook != nil {
		for _, e := range evicted {
			hook(e)
		}
	}
	return clone(&stored)
}

func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// Disconnect removes the session and returns its final record.
func (r *Registry) Disconnect(sessionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	delete(r.sessions, sessionID)
	return s, nil
}

func (r *Registry) Touch(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// SetPartLabel records which sub-part the student is working on.
func (r *Registry) SetPartLabel(sessionID, label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.PartLabel = strings.TrimSpace(label)
	return nil
}

// SetContentMode flips a session between math and diagram capture.
func (r *Registry) SetContentMode(sessionID, mode string) error {
	mode = strings.TrimSpace(mode)
	if mode != ModeMath && mode != ModeDiagram {
		return errors.New("content_mode must be math or diagram")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.ContentMode = mode
	return nil
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Latest returns the most recently active session, or nil when none are
// connected. The audit endpoints use it when no session id is given.
func (r *Registry) Latest() *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *Session
	for _, s := range r.sessions {
		if latest == nil || s.LastActivityAt.After(latest.LastActivityAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil
	}
	return clone(latest)
}

// StartJanitor evicts sessions with no activity past the timeout.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.evictInactive()
			}
		}
	}()
}

func (r *Registry) evictInactive() {
	now := time.Now().UTC()

	r.mu.Lock()
	var evicted []*Session
	for id, s := range r.sessions {
		if now.Sub(s.LastActivityAt) < r.inactivityTimeout {
			continue
		}
		evicted = append(evicted, s)
		delete(r.sessions, id)
	}
	hook := r.onEvict
	r.mu.Unlock()

	if hook != nil {
		for _, s := range evicted {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
