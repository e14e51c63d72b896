package delay

import (
	"sync"
	"time"
)

// DefaultSession is used when a caller does not name a session.
const DefaultSession = "default"

// DefaultSessionIdle is how long an untouched workspace is kept.
const DefaultSessionIdle = 2 * time.Hour

type sessionEntry struct {
	ws       *Workspace
	lastSeen time.Time
}

// Sessions keeps one Workspace per session id. Workspaces not touched for
// Idle are evicted on the next access to the registry.
type Sessions struct {
	mu      sync.Mutex
	entries map[string]*sessionEntry
	base    *Thresholds

	Idle time.Duration
	Now  func() time.Time
}

// NewSessions creates a registry whose workspaces start from a copy of base
// (the defaults when nil).
func NewSessions(base *Thresholds) *Sessions {
	if base == nil {
		base = DefaultThresholds()
	}
	return &Sessions{
		entries: make(map[string]*sessionEntry),
		base:    base,
		Idle:    DefaultSessionIdle,
		Now:     time.Now,
	}
}

// Get returns the workspace for id, creating it on first use.
func (s *Sessions) Get(id string) *Workspace {
	if id == "" {
		id = DefaultSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	s.purge(now)

	e, ok := s.entries[id]
	if !ok {
		e = &sessionEntry{ws: NewWorkspace(s.base.Clone())}
		s.entries[id] = e
	}
	e.lastSeen = now
	return e.ws
}

// Drop forgets the workspace for id.
func (s *Sessions) Drop(id string) {
	if id == "" {
		id = DefaultSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Purge evicts idle workspaces and returns how many were removed.
func (s *Sessions) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purge(s.Now())
}

// Len reports how many workspaces are held.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Sessions) purge(now time.Time) int {
	if s.Idle <= 0 {
		return 0
	}
	n := 0
	for id, e := range s.entries {
		if now.Sub(e.lastSeen) > s.Idle {
			delete(s.entries, id)
			n++
		}
	}
	return n
}
