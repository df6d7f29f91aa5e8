package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	challengeRecordVersion1 = 1
	defaultChallengePrefix  = "atc"
	maxWatchRetries         = 4
)

var (
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrChallengeExpired  = errors.New("challenge expired")
	ErrChallengeBackend  = errors.New("challenge backend unavailable")
)

// Challenge is a pending second-factor challenge. ExpiresAt is Unix seconds.
type Challenge struct {
	UserID    string
	ExpiresAt int64
	Attempts  uint16
}

// RedisChallengeStore keeps challenges as versioned binary records with a TTL.
type RedisChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisChallengeStore returns a store writing keys under prefix ("atc" when
// empty). A nil now uses time.Now.
func NewRedisChallengeStore(redisClient redis.UniversalClient, prefix string, now func() time.Time) *RedisChallengeStore {
	if prefix == "" {
		prefix = defaultChallengePrefix
	}
	if now == nil {
		now = time.Now
	}
	return &RedisChallengeStore{
		redis:  redisClient,
		prefix: prefix,
		now:    now,
	}
}

func (s *RedisChallengeStore) key(challengeID string) string {
	return s.prefix + ":" + challengeID
}

func (s *RedisChallengeStore) Save(ctx context.Context, challengeID string, record *Challenge, ttl time.Duration) error {
	encoded, err := encodeChallenge(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(challengeID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

func (s *RedisChallengeStore) Get(ctx context.Context, challengeID string) (*Challenge, error) {
	data, err := s.redis.Get(ctx, s.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}

	record, err := decodeChallenge(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	if s.now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(challengeID)).Result()
		return nil, ErrChallengeExpired
	}
	return record, nil
}

// Delete reports whether this call removed the record. Only one of several
// concurrent callers sees true.
func (s *RedisChallengeStore) Delete(ctx context.Context, challengeID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(challengeID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return n > 0, nil
}

// RecordFailure adds one failed attempt and deletes the record once
// maxAttempts is reached, reporting exceeded=true in that case.
func (s *RedisChallengeStore) RecordFailure(ctx context.Context, challengeID string, maxAttempts int) (bool, error) {
	key := s.key(challengeID)

	for i := 0; i < maxWatchRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeChallenge(data)
			if err != nil {
				return err
			}

			ttl := time.Unix(record.ExpiresAt, 0).Sub(s.now())
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrChallengeExpired
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			updated, err := encodeChallenge(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrChallengeNotFound
			}
			if errors.Is(err, ErrChallengeExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
		}
		return exceeded, nil
	}

	return false, fmt.Errorf("%w: too much contention", ErrChallengeBackend)
}

func encodeChallenge(record *Challenge) ([]byte, error) {
	if record == nil {
		return nil, errors.New("nil challenge record")
	}
	if len(record.UserID) > 65535 {
		return nil, errors.New("challenge user id length exceeded")
	}

	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion1)
	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.UserID)

	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (*Challenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersion1 {
		return nil, errors.New("invalid challenge record version")
	}

	record := &Challenge{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var userLen uint16
	if err := binary.Read(reader, binary.BigEndian, &userLen); err != nil {
		return nil, err
	}
	user := make([]byte, userLen)
	if _, err := io.ReadFull(reader, user); err != nil {
		return nil, err
	}
	record.UserID = string(user)

	return record, nil
}
