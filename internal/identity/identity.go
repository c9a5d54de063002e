// Package identity tracks who is signed in to a client session.
package identity

import "sync"

// State is the signed-in identity of a session. An empty UserID means
// signed out.
type State struct {
	UserID string
}

// LoggedIn reports whether a user is signed in.
func (s State) LoggedIn() bool {
	return s.UserID != ""
}

// Provider exposes the current identity and its changes.
type Provider interface {
	Current() State
	// Subscribe registers fn for identity changes and returns a function
	// that removes it.
	Subscribe(fn func(prev, next State)) (unsubscribe func())
}

var _ Provider = (*Session)(nil)

// Session is an in-process identity provider for one client. Subscribers
// are called synchronously, in subscription order, only when the identity
// actually changes.
type Session struct {
	mu     sync.Mutex
	state  State
	subs   map[int]func(prev, next State)
	order  []int
	nextID int
}

// NewSession creates a signed-out session.
func NewSession() *Session {
	return &Session{subs: make(map[int]func(prev, next State))}
}

func (s *Session) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Subscribe(fn func(prev, next State)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.order = append(s.order, id)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
			s.mu.Unlock()
		})
	}
}

// SignIn switches the session to userID. Signing in as a different user
// while signed in is a user switch.
func (s *Session) SignIn(userID string) {
	s.set(State{UserID: userID})
}

// SignOut clears the session identity.
func (s *Session) SignOut() {
	s.set(State{})
}

func (s *Session) set(next State) {
	s.mu.Lock()
	prev := s.state
	if prev == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	fns := make([]func(prev, next State), 0, len(s.order))
	for _, id := range s.order {
		fns = append(fns, s.subs[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(prev, next)
	}
}
