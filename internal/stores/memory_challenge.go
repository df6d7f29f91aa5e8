package stores

import (
	"context"
	"sync"
	"time"
)

// MemoryChallengeStore is the in-process counterpart of RedisChallengeStore
// for single-instance deployments and tests.
type MemoryChallengeStore struct {
	mu      sync.Mutex
	records map[string]Challenge
	now     func() time.Time
}

func NewMemoryChallengeStore(now func() time.Time) *MemoryChallengeStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryChallengeStore{
		records: make(map[string]Challenge),
		now:     now,
	}
}

// Save ignores ttl; ExpiresAt on the record decides expiry.
func (s *MemoryChallengeStore) Save(_ context.Context, challengeID string, record *Challenge, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[challengeID] = *record
	return nil
}

func (s *MemoryChallengeStore) Get(_ context.Context, challengeID string) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[challengeID]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	if s.now().Unix() > record.ExpiresAt {
		delete(s.records, challengeID)
		return nil, ErrChallengeExpired
	}
	return &record, nil
}

func (s *MemoryChallengeStore) Delete(_ context.Context, challengeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[challengeID]; !ok {
		return false, nil
	}
	delete(s.records, challengeID)
	return true, nil
}

func (s *MemoryChallengeStore) RecordFailure(_ context.Context, challengeID string, maxAttempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[challengeID]
	if !ok {
		return false, ErrChallengeNotFound
	}
	if s.now().Unix() > record.ExpiresAt {
		delete(s.records, challengeID)
		return false, ErrChallengeExpired
	}

	record.Attempts++
	if int(record.Attempts) >= maxAttempts {
		delete(s.records, challengeID)
		return true, nil
	}
	s.records[challengeID] = record
	return false, nil
}

// Len reports the number of stored records, expired ones included.
func (s *MemoryChallengeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
