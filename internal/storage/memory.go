package storage

import (
	"context"
	"sync"
)

// MemoryStore is an in-process storage collaborator used when the database
// is disabled and in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	ages     map[string]int
	analyses []*AnalysisRecord
	alerts   map[string]*AlertRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ages:   make(map[string]int),
		alerts: make(map[string]*AlertRecord),
	}
}

// SetUserAge seeds the age directory.
func (s *MemoryStore) SetUserAge(userID string, age int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ages[userID] = age
}

// LoadUserAge looks up a seeded age.
func (s *MemoryStore) LoadUserAge(_ context.Context, userID string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	age, ok := s.ages[userID]
	return age, ok
}

// PersistAnalysis appends the record.
func (s *MemoryStore) PersistAnalysis(_ context.Context, record *AnalysisRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyses = append(s.analyses, record)
	return nil
}

// PersistAlert stores the latest snapshot keyed by alert ID.
func (s *MemoryStore) PersistAlert(_ context.Context, record *AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[record.AlertID] = record
	return nil
}

// Analyses returns a copy of all persisted analysis records.
func (s *MemoryStore) Analyses() []*AnalysisRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*AnalysisRecord, len(s.analyses))
	copy(out, s.analyses)
	return out
}

// Alert returns the latest persisted snapshot for an alert ID.
func (s *MemoryStore) Alert(alertID string) (*AlertRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.alerts[alertID]
	return record, ok
}
