package session

import (
	"sort"
	"sync"
)

// Store keeps at most one Session per user in memory. Get, Put and Remove
// are safe for concurrent use; Lock serializes whole units of work for a
// single user without blocking other users.
type Store struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	locks    map[int64]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		sessions: make(map[int64]*Session),
		locks:    make(map[int64]*userLock),
	}
}

// Lock acquires the per-user lock and returns its release function.
// Lock entries are dropped once nobody holds or waits for them.
func (s *Store) Lock(userID int64) func() {
	s.mu.Lock()
	l, ok := s.locks[userID]
	if !ok {
		l = &userLock{}
		s.locks[userID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()

			s.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(s.locks, userID)
			}
			s.mu.Unlock()
		})
	}
}

// Get returns the user's session
func (s *Store) Get(userID int64) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	return sess, ok
}

// Put stores sess under its UserID, replacing any previous entry
func (s *Store) Put(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.UserID] = sess
}

// Remove deletes the user's session
func (s *Store) Remove(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

// Len returns the number of in-flight flows
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// UserIDs returns users with an in-flight flow, sorted. Sessions are not
// inspected here: their fields belong to whoever holds the user's Lock.
func (s *Store) UserIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Store) lockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
