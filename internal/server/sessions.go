package server

import (
	"crypto/sha256"
	"sync"
	"time"

	"github.com/maruel/secdb/internal/metrics"
)

// Sessions tracks the credentials seen recently. A session is identified by
// the digest of the credential and expires after a period of inactivity.
type Sessions struct {
	now func() time.Time

	mu      sync.Mutex
	timeout time.Duration
	seen    map[[sha256.Size]byte]time.Time
}

// NewSessions returns an empty session table.
func NewSessions(timeout time.Duration) *Sessions {
	return &Sessions{now: time.Now, timeout: timeout, seen: map[[sha256.Size]byte]time.Time{}}
}

// SetTimeout changes the inactivity timeout.
func (s *Sessions) SetTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
}

// Touch records activity for credential and expires stale sessions. It
// returns true when the session was new.
func (s *Sessions) Touch(credential string) bool {
	key := sha256.Sum256([]byte(credential))
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweepLocked(now)
	_, ok := s.seen[key]
	s.seen[key] = now
	metrics.SessionsActive.Set(float64(len(s.seen)))
	return !ok
}

// Active reports whether credential was seen within the timeout. It does not
// extend the session.
func (s *Sessions) Active(credential string) bool {
	key := sha256.Sum256([]byte(credential))
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.seen[key]
	return ok && s.now().Sub(last) <= s.timeout
}

// Sweep expires stale sessions.
func (s *Sessions) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(s.now())
	metrics.SessionsActive.Set(float64(len(s.seen)))
}

func (s *Sessions) sweepLocked(now time.Time) {
	for k, last := range s.seen {
		if now.Sub(last) > s.timeout {
			delete(s.seen, k)
		}
	}
}

// Len returns the number of active sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
