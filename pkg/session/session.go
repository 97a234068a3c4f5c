// Package session holds per-user interaction state and the gate that moves
// it between anonymous and authenticated.
package session

import (
	"sync"

	"finboard/pkg/domain"
)

type State int

const (
	Anonymous State = iota
	Authenticated
)

func (s State) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "anonymous"
}

// Key names a value scoped to the signed-in identity.
type Key string

// Session is one user's interaction state. The zero value is not usable;
// call New.
type Session struct {
	mu       sync.Mutex
	identity domain.Identity
	token    string
	values   map[Key]any
}

// New returns an anonymous session.
func New() *Session {
	return &Session{values: make(map[Key]any)}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity.IsZero() {
		return Anonymous
	}
	return Authenticated
}

// Require returns the signed-in identity or domain.ErrAuthenticationRequired.
func (s *Session) Require() (domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity.IsZero() {
		return domain.Identity{}, domain.ErrAuthenticationRequired
	}
	return s.identity, nil
}

// Token returns the bearer token issued at login, if any.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Put stores a scoped value. Values are dropped on logout.
func (s *Session) Put(key Key, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *Session) Get(key Key) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *Session) Delete(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Value is a typed Get.
func Value[T any](s *Session, key Key) (T, bool) {
	v, ok := s.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

func (s *Session) establish(identity domain.Identity, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = identity
	s.token = token
	s.values = make(map[Key]any)
}

// clear drops identity, token and every scoped value and returns the token
// that was held.
func (s *Session) clear() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := s.token
	s.identity = domain.Identity{}
	s.token = ""
	s.values = make(map[Key]any)
	return token
}
