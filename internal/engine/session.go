package engine

import (
	"context"
	"sync"

	"github.com/laerdal/simimager/internal/source"
)

// Session is the per-refresh state: an owned pending-response counter
// and the candidate lists collected so far. Responses may arrive in
// any order; the session completes exactly once, after every expected
// response (success or error) has been accounted for. A superseded
// session still drains its counter but its completion is not
// published.
type Session struct {
	id           int
	artifactOnly bool

	mu        sync.Mutex
	remaining int
	cdn       []source.CandidateImage
	releases  []source.CandidateImage
	artifacts []source.CandidateImage
	errs      int

	done chan struct{}
}

func newSession(id, expected int, artifactOnly bool) *Session {
	return &Session{
		id:           id,
		artifactOnly: artifactOnly,
		remaining:    expected,
		done:         make(chan struct{}),
	}
}

// Done is closed when the session has accounted for every response.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session completes or ctx is cancelled.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// account records one response and reports whether it was the last
// one. Exactly one account call happens per issued request, whether
// the request succeeded or failed.
func (s *Session) account(fn func(*Session)) (last bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remaining <= 0 {
		// Accounting past zero is a programming error; tolerate it
		// rather than double-firing completion.
		return false
	}
	if fn != nil {
		fn(s)
	}
	s.remaining--
	return s.remaining == 0
}
