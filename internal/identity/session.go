// Package identity supplies the current authenticated user to the chat core.
package identity

import (
	"context"
	"errors"
	"sync"

	"tutorlink/chat/internal/models"
)

// Resolver looks the user up when the token alone does not identify them.
type Resolver interface {
	Me(ctx context.Context) (*models.Identity, error)
}

// Listener is called after every identity change, with nil on logout.
type Listener func(id *models.Identity)

// Session holds the bearer token and the identity derived from it.
type Session struct {
	mu        sync.RWMutex
	token     string
	current   *models.Identity
	secret    string
	listeners []Listener
}

// NewSession creates a logged-out session. secret may be empty.
func NewSession(secret string) *Session {
	return &Session{secret: secret}
}

// Token returns the bearer token, empty when logged out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Current returns a copy of the identity, or nil when logged out.
func (s *Session) Current() *models.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	id := *s.current
	return &id
}

// Subscribe registers a listener for identity changes.
func (s *Session) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Login installs token and derives the identity from its claims, falling
// back to the resolver when the claims carry no user id. The token is set
// before the resolver runs so authenticated lookups can use it.
func (s *Session) Login(ctx context.Context, token string, r Resolver) (*models.Identity, error) {
	id, err := ParseToken(token, s.secret)
	if errors.Is(err, ErrNoUserClaim) && r != nil {
		s.mu.Lock()
		s.token = token
		s.mu.Unlock()
		id, err = r.Me(ctx)
	}
	if err != nil {
		s.Logout()
		return nil, err
	}

	s.set(token, id)
	return s.Current(), nil
}

// Logout clears the credential and notifies listeners.
func (s *Session) Logout() {
	s.set("", nil)
}

func (s *Session) set(token string, id *models.Identity) {
	s.mu.Lock()
	changed := !s.current.Same(id)
	s.token = token
	s.current = id
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	if !changed {
		return
	}
	for _, l := range listeners {
		if id == nil {
			l(nil)
			continue
		}
		cp := *id
		l(&cp)
	}
}
