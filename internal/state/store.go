// Package state holds the in-memory student records shared by the scheduler
// and the read-only presentation layer.
package state

import (
	"slices"
	"strings"
	"sync"

	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/session"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/student"
)

// Store maps student ids to records. Readers always get deep copies; the
// scheduler swaps whole records in.
type Store struct {
	mu       sync.RWMutex
	session  *session.Session
	students map[string]*student.Record
}

// NewStore creates an empty store with no session
func NewStore() *Store {
	return &Store{students: map[string]*student.Record{}}
}

// Replace installs a freshly bootstrapped session and its records,
// discarding everything held before.
func (s *Store) Replace(sess session.Session, records map[string]*student.Record) {
	students := make(map[string]*student.Record, len(records))
	for id, rec := range records {
		students[id] = rec.Clone()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = &sess
	s.students = students
}

// Invalidate drops the session. Records stay readable until the next
// Replace.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
}

// Session returns the current session, if any
func (s *Store) Session() (session.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return session.Session{}, false
	}
	return *s.session, true
}

// Ready reports whether a session has been bootstrapped
func (s *Store) Ready() bool {
	_, ok := s.Session()
	return ok
}

// Get returns a copy of one record
func (s *Store) Get(id string) (*student.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.students[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Put swaps in a record for a student already in the store. Unknown ids are
// ignored and reported as false.
func (s *Store) Put(rec *student.Record) bool {
	c := rec.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.students[c.StudentID]; !ok {
		return false
	}
	s.students[c.StudentID] = c
	return true
}

// IDs returns the student ids in ascending order
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.students))
	for id := range s.students {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// List returns copies of every record ordered by student id
func (s *Store) List() []*student.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*student.Record, 0, len(s.students))
	for _, rec := range s.students {
		out = append(out, rec.Clone())
	}
	slices.SortFunc(out, func(a, b *student.Record) int {
		return strings.Compare(a.StudentID, b.StudentID)
	})
	return out
}
