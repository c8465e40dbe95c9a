package state

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
)

// InMemoryStore is an in-memory implementation of Store
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*ResumeRecord
}

// NewInMemoryStore creates a new in-memory state store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]*ResumeRecord),
	}
}

// copyRecord keeps callers from mutating stored records.
func copyRecord(rec *ResumeRecord) *ResumeRecord {
	c := *rec
	c.Payload = maps.Clone(rec.Payload)
	return &c
}

// CreateResume implements Store
func (s *InMemoryStore) CreateResume(ctx context.Context, rec *ResumeRecord) (bool, error) {
	if rec.ExecutionARN == "" {
		return false, fmt.Errorf("execution ARN is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ExecutionARN]; exists {
		return false, nil
	}
	s.records[rec.ExecutionARN] = copyRecord(rec)
	return true, nil
}

// SaveResume implements Store
func (s *InMemoryStore) SaveResume(ctx context.Context, rec *ResumeRecord) error {
	if rec.ExecutionARN == "" {
		return fmt.Errorf("execution ARN is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.ExecutionARN] = copyRecord(rec)
	return nil
}

// GetResume implements Store
func (s *InMemoryStore) GetResume(ctx context.Context, executionARN string) (*ResumeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[executionARN]
	if !exists {
		return nil, fmt.Errorf("execution %s: %w", executionARN, ErrNotFound)
	}
	return copyRecord(rec), nil
}

// ListResumes implements Store. Records are ordered by creation time.
func (s *InMemoryStore) ListResumes(ctx context.Context, status ResumeStatus) ([]*ResumeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ResumeRecord, 0, len(s.records))
	for _, rec := range s.records {
		if status == "" || rec.Status == status {
			out = append(out, copyRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ExecutionARN < out[j].ExecutionARN
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteResume implements Store
func (s *InMemoryStore) DeleteResume(ctx context.Context, executionARN string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, executionARN)
	return nil
}
