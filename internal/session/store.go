// Package session keeps the set of wall sessions and their members.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/codefionn/tilewall/internal/calibration"
	"github.com/codefionn/tilewall/internal/consts"
)

var (
	// ErrDuplicateSession is returned when a requested session ID is taken
	ErrDuplicateSession = errors.New("session already exists")
	// ErrSessionNotFound is returned for unknown session IDs
	ErrSessionNotFound = errors.New("session not found")
	// ErrAlreadyMember is returned when joining a session twice
	ErrAlreadyMember = errors.New("already a member of this session")
	// ErrSessionFull is returned when a session has no free slot
	ErrSessionFull = errors.New("session is full")
	// ErrSessionNotEmpty is returned when removing a session that has members
	ErrSessionNotEmpty = errors.New("session still has members")
)

const maxIDAttempts = 16

// Session is a snapshot of one session. Members are in join order; the
// slot index of a member is its position.
type Session struct {
	ID        string
	Name      string
	Host      string
	Members   []string
	CreatedAt time.Time
	Layout    *calibration.Result
}

// HasMember reports whether clientID is in the session
func (s Session) HasMember(clientID string) bool {
	return indexOf(s.Members, clientID) >= 0
}

// Summary is the listing view of a session
type Summary struct {
	ID          string
	Name        string
	MemberCount int
	MaxSlots    int
}

// Store holds all sessions. Each operation is atomic on its own.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
	maxSlots int
	newID    func() string
	now      func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithMaxSlots caps the number of members per session
func WithMaxSlots(n int) Option {
	return func(s *Store) {
		s.maxSlots = n
	}
}

// WithIDGenerator replaces the word ID generator
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		s.newID = gen
	}
}

// NewStore creates an empty store
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		maxSlots: consts.DefaultMaxSlots,
		newID:    WordIDs(nil),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create starts a session hosted by host. An empty requestedID picks a
// fresh word ID. The host leaves any session it was in.
func (s *Store) Create(host, name, requestedID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := requestedID
	if id == "" {
		for i := 0; i < maxIDAttempts; i++ {
			candidate := s.newID()
			if _, taken := s.sessions[candidate]; !taken {
				id = candidate
				break
			}
		}
		if id == "" {
			return Session{}, fmt.Errorf("%w: no free session ID after %d attempts", ErrDuplicateSession, maxIDAttempts)
		}
	} else if _, taken := s.sessions[id]; taken {
		return Session{}, fmt.Errorf("%w: %s", ErrDuplicateSession, id)
	}

	s.removeMemberLocked(host)

	if name == "" {
		name = id
	}
	sess := &Session{
		ID:        id,
		Name:      name,
		Host:      host,
		Members:   []string{host},
		CreatedAt: s.now(),
	}
	s.sessions[id] = sess
	s.order = append(s.order, id)
	return sess.clone(), nil
}

// List returns summaries in creation order
func (s *Store) List() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Summary, 0, len(s.order))
	for _, id := range s.order {
		sess := s.sessions[id]
		out = append(out, Summary{
			ID:          sess.ID,
			Name:        sess.Name,
			MemberCount: len(sess.Members),
			MaxSlots:    s.maxSlots,
		})
	}
	return out
}

// Join adds clientID to a session and returns its slot index. A client in
// another session is moved. Failures leave the store unchanged.
func (s *Store) Join(sessionID, clientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if indexOf(sess.Members, clientID) >= 0 {
		return 0, fmt.Errorf("%w: %s", ErrAlreadyMember, sessionID)
	}
	if s.maxSlots > 0 && len(sess.Members) >= s.maxSlots {
		return 0, fmt.Errorf("%w: %s has %d members", ErrSessionFull, sessionID, len(sess.Members))
	}

	s.removeMemberLocked(clientID)
	sess.Members = append(sess.Members, clientID)
	return len(sess.Members) - 1, nil
}

// Leave removes clientID from the first session listing it. It returns
// that session's ID and whether anything was removed.
func (s *Store) Leave(clientID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeMemberLocked(clientID)
}

// Exists reports whether the session exists
func (s *Store) Exists(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[sessionID]
	return ok
}

// Get returns a copy of a session
func (s *Store) Get(sessionID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess.clone(), nil
}

// SessionOf returns the session ID clientID belongs to
func (s *Store) SessionOf(clientID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order {
		if indexOf(s.sessions[id].Members, clientID) >= 0 {
			return id, true
		}
	}
	return "", false
}

// Members returns the members of a session in slot order
func (s *Store) Members(sessionID string) ([]string, error) {
	sess, err := s.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Members, nil
}

// RemoveIfEmpty deletes a session that has no members. The membership
// check and the removal happen under one lock, so a concurrent Join either
// lands first and the removal fails, or fails with ErrSessionNotFound.
func (s *Store) RemoveIfEmpty(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if len(sess.Members) > 0 {
		return fmt.Errorf("%w: %s has %d", ErrSessionNotEmpty, sessionID, len(sess.Members))
	}
	delete(s.sessions, sessionID)
	for i, id := range s.order {
		if id == sessionID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// SetLayout stores the latest calibration result of a session
func (s *Store) SetLayout(sessionID string, result *calibration.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	sess.Layout = result
	return nil
}

// removeMemberLocked drops clientID from the first session containing it.
// When the host leaves, the next member in slot order takes over.
func (s *Store) removeMemberLocked(clientID string) (string, bool) {
	for _, id := range s.order {
		sess := s.sessions[id]
		i := indexOf(sess.Members, clientID)
		if i < 0 {
			continue
		}
		sess.Members = append(sess.Members[:i:i], sess.Members[i+1:]...)
		if sess.Host == clientID {
			sess.Host = ""
			if len(sess.Members) > 0 {
				sess.Host = sess.Members[0]
			}
		}
		return id, true
	}
	return "", false
}

func (s *Session) clone() Session {
	c := *s
	c.Members = append([]string(nil), s.Members...)
	return c
}

func indexOf(list []string, v string) int {
	for i, item := range list {
		if item == v {
			return i
		}
	}
	return -1
}
