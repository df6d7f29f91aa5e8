package atlasauth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MrEthical07/atlasauth/internal/stores"
	"github.com/redis/go-redis/v9"
)

type challengeBackend interface {
	Save(context.Context, string, *stores.Challenge, time.Duration) error
	Get(context.Context, string) (*stores.Challenge, error)
	Delete(context.Context, string) (bool, error)
	RecordFailure(context.Context, string, int) (bool, error)
}

// builtinChallengeStore adapts the internal Redis and in-process backends to
// ChallengeStore and its error contract.
type builtinChallengeStore struct {
	backend challengeBackend
}

// NewRedisChallengeStore keeps challenges in Redis under prefix. Records
// carry a server-side TTL, so abandoned challenges need no cleanup.
func NewRedisChallengeStore(client redis.UniversalClient, prefix string, now func() time.Time) ChallengeStore {
	return &builtinChallengeStore{backend: stores.NewRedisChallengeStore(client, prefix, now)}
}

// NewMemoryChallengeStore keeps challenges in process memory. Use it only
// when a single engine instance serves every sign-in.
func NewMemoryChallengeStore(now func() time.Time) ChallengeStore {
	return &builtinChallengeStore{backend: stores.NewMemoryChallengeStore(now)}
}

func (s *builtinChallengeStore) Save(ctx context.Context, challengeID string, c Challenge, ttl time.Duration) error {
	attempts := c.Attempts
	if attempts < 0 {
		attempts = 0
	}
	if attempts > math.MaxUint16 {
		attempts = math.MaxUint16
	}
	record := &stores.Challenge{
		UserID:    c.UserID,
		ExpiresAt: c.ExpiresAt.Unix(),
		Attempts:  uint16(attempts),
	}
	return mapChallengeStoreError(s.backend.Save(ctx, challengeID, record, ttl))
}

func (s *builtinChallengeStore) Get(ctx context.Context, challengeID string) (Challenge, error) {
	record, err := s.backend.Get(ctx, challengeID)
	if err != nil {
		return Challenge{}, mapChallengeStoreError(err)
	}
	return Challenge{
		UserID:    record.UserID,
		ExpiresAt: time.Unix(record.ExpiresAt, 0),
		Attempts:  int(record.Attempts),
	}, nil
}

func (s *builtinChallengeStore) RecordFailure(ctx context.Context, challengeID string, maxAttempts int) (bool, error) {
	exceeded, err := s.backend.RecordFailure(ctx, challengeID, maxAttempts)
	return exceeded, mapChallengeStoreError(err)
}

func (s *builtinChallengeStore) Delete(ctx context.Context, challengeID string) (bool, error) {
	deleted, err := s.backend.Delete(ctx, challengeID)
	return deleted, mapChallengeStoreError(err)
}

func mapChallengeStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrChallengeNotFound):
		return ErrChallengeInvalid
	case errors.Is(err, stores.ErrChallengeExpired):
		return ErrChallengeExpired
	default:
		return fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
	}
}

// challengeFlowError normalizes any ChallengeStore error, including those of
// caller-supplied stores, for the two-factor flow.
func challengeFlowError(err error) error {
	switch {
	case errors.Is(err, ErrChallengeInvalid),
		errors.Is(err, ErrChallengeExpired),
		errors.Is(err, ErrChallengeUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
	}
}
