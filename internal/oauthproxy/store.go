package oauthproxy

import (
	"sync"
	"time"
)

// pendingAuth tracks one authorization request between the redirect to the
// upstream provider and its callback.
type pendingAuth struct {
	ClientRedirect  string
	ClientState     string
	CodeChallenge   string
	ChallengeMethod string
	Nonce           string
	ExpiresAt       time.Time
}

// authCode is a single-use local authorization code awaiting exchange.
type authCode struct {
	UserID          string
	Email           string
	Scope           string
	ClientRedirect  string
	CodeChallenge   string
	ChallengeMethod string
	ExpiresAt       time.Time
}

// flowStore holds in-flight flow state. Entries are single use: fetching
// removes them. Expired entries are purged opportunistically on writes.
type flowStore struct {
	mu      sync.Mutex
	pending map[string]pendingAuth
	codes   map[string]authCode
}

func newFlowStore() *flowStore {
	return &flowStore{
		pending: make(map[string]pendingAuth),
		codes:   make(map[string]authCode),
	}
}

func (s *flowStore) putPending(id string, p pendingAuth) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(time.Now())
	s.pending[id] = p
}

func (s *flowStore) takePending(id string, now time.Time) (pendingAuth, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	if !ok {
		return pendingAuth{}, false
	}
	delete(s.pending, id)
	if now.After(p.ExpiresAt) {
		return pendingAuth{}, false
	}
	return p, true
}

func (s *flowStore) putCode(code string, c authCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(time.Now())
	s.codes[code] = c
}

func (s *flowStore) takeCode(code string, now time.Time) (authCode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[code]
	if !ok {
		return authCode{}, false
	}
	delete(s.codes, code)
	if now.After(c.ExpiresAt) {
		return authCode{}, false
	}
	return c, true
}

func (s *flowStore) purgeLocked(now time.Time) {
	for id, p := range s.pending {
		if now.After(p.ExpiresAt) {
			delete(s.pending, id)
		}
	}
	for code, c := range s.codes {
		if now.After(c.ExpiresAt) {
			delete(s.codes, code)
		}
	}
}
