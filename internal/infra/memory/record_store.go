package memory

import (
	"context"
	"sync"

	"assessment-engine/internal/domain"
)

// RecordStore keeps terminal session records in memory. The first record saved
// for a session id wins; later saves are ignored.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]domain.SessionRecord
}

func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string]domain.SessionRecord)}
}

func (s *RecordStore) SaveRecord(_ context.Context, record domain.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.SessionID]; exists {
		return nil
	}
	s.records[record.SessionID] = record
	return nil
}

func (s *RecordStore) Get(sessionID string) (domain.SessionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[sessionID]
	return record, ok
}

func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
