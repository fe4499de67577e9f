// Package session tracks whether an operator is signed in. The page agent
// refuses to execute actions while nobody is.
package session

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// State is the current session as seen by agents.
type State struct {
	Authorized bool   `json:"authorized"`
	User       string `json:"user,omitempty"`
	Since      int64  `json:"since,omitempty"`
}

// Store holds one session and notifies listeners on change.
type Store struct {
	mu        sync.RWMutex
	state     State
	listeners []func(State)
	now       func() time.Time
}

// New returns a signed-out store.
func New() *Store {
	return &Store{now: time.Now}
}

func (s *Store) Current() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SignIn authorizes user. An empty user is treated as sign out.
func (s *Store) SignIn(user string) State {
	user = strings.TrimSpace(user)
	if user == "" {
		return s.SignOut()
	}
	return s.set(State{Authorized: true, User: user, Since: s.now().UnixMilli()})
}

func (s *Store) SignOut() State {
	return s.set(State{})
}

// Apply sets the session from a client-supplied state.
func (s *Store) Apply(st State) State {
	if !st.Authorized {
		return s.SignOut()
	}
	if strings.TrimSpace(st.User) == "" {
		st.User = "operator"
	}
	return s.SignIn(st.User)
}

// OnChange registers fn, called synchronously after every change.
func (s *Store) OnChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) set(st State) State {
	s.mu.Lock()
	changed := s.state.Authorized != st.Authorized || s.state.User != st.User
	if !changed {
		st = s.state
	}
	s.state = st
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()
	if changed {
		for _, fn := range listeners {
			fn(st)
		}
	}
	return st
}
