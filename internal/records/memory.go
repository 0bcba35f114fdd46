package records

import (
	"fmt"
	"sort"
	"sync"

	"github.com/soltixdb/historian/internal/models"
)

// MemoryStore keeps every record type in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	states   map[int32]models.StateRecord
	metadata map[int32]models.MetadataRecord
	intercom map[int]models.IntercomRecord
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:   make(map[int32]models.StateRecord),
		metadata: make(map[int32]models.MetadataRecord),
		intercom: make(map[int]models.IntercomRecord),
	}
}

func (s *MemoryStore) ReadState(historianID int32) (models.StateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.states[historianID]
	if !ok {
		return models.StateRecord{}, fmt.Errorf("state %d: %w", historianID, ErrNotFound)
	}
	return rec, nil
}

func (s *MemoryStore) WriteState(historianID int32, rec models.StateRecord) error {
	s.mu.Lock()
	s.states[historianID] = rec
	s.mu.Unlock()
	return nil
}

// StateIDs returns the ids of all stored state records in ascending order
func (s *MemoryStore) StateIDs() ([]int32, error) {
	s.mu.RLock()
	ids := make([]int32, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MemoryStore) ReadMetadata(historianID int32) (models.MetadataRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.metadata[historianID]
	if !ok {
		return models.MetadataRecord{}, fmt.Errorf("metadata %d: %w", historianID, ErrNotFound)
	}
	return rec, nil
}

func (s *MemoryStore) WriteMetadata(historianID int32, rec models.MetadataRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.metadata[historianID] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ReadIntercom(slot int) (models.IntercomRecord, error) {
	if slot < 1 {
		return models.IntercomRecord{}, fmt.Errorf("invalid intercom slot %d", slot)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.intercom[slot], nil
}

func (s *MemoryStore) WriteIntercom(slot int, rec models.IntercomRecord) error {
	if slot < 1 {
		return fmt.Errorf("invalid intercom slot %d", slot)
	}
	s.mu.Lock()
	s.intercom[slot] = rec
	s.mu.Unlock()
	return nil
}
