// Package store provides storage backends for IntakePipe.
//
// It includes a JSON file store (the default), SQLite and PostgreSQL backends
// for the field record, and an in-memory store for tests. Every backend also
// acts as the session dump sink.
package store

import (
	"fmt"
	"sync"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// Store is the persistence boundary for the field record and the session dump.
//
// LoadRecord fails loud when the backing data is absent: the field set and its
// order are authored outside the agent, so an empty record is a configuration
// error, never a silent default.
type Store interface {
	LoadRecord() (models.Record, error)
	SaveRecord(models.Record) error
	SaveSession(models.Session) error
	Close() error
}

// InMemoryStore is a simple in-memory store for tests and the core-only mode.
type InMemoryStore struct {
	mu       sync.Mutex
	record   *models.Record
	sessions []models.Session
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// SeedRecord sets the record returned by subsequent LoadRecord calls.
func (s *InMemoryStore) SeedRecord(r models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := r.Clone()
	s.record = &clone
}

func (s *InMemoryStore) LoadRecord() (models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return models.Record{}, fmt.Errorf("no record seeded")
	}
	return s.record.Clone(), nil
}

func (s *InMemoryStore) SaveRecord(r models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := r.Clone()
	s.record = &clone
	return nil
}

func (s *InMemoryStore) SaveSession(sess models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, sess)
	return nil
}

// Sessions returns all sessions saved so far.
func (s *InMemoryStore) Sessions() []models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Session, len(s.sessions))
	copy(out, s.sessions)
	return out
}

func (s *InMemoryStore) Close() error { return nil }
