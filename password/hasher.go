package password

import (
	"errors"
	"fmt"
	"strings"
)

// Hasher hashes and verifies passwords. A mismatch is (false, nil); errors are
// reserved for malformed hashes and hashing failures.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(plain, encodedHash string) (bool, error)
}

const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

var (
	ErrEmptyPassword        = errors.New("password is empty")
	ErrPasswordTooLong      = errors.New("password exceeds maximum length")
	ErrInvalidHash          = errors.New("invalid password hash")
	ErrUnsupportedAlgorithm = errors.New("unsupported password algorithm")
	ErrInvalidConfig        = errors.New("invalid password config")
)

// Config selects and tunes the active hasher.
type Config struct {
	Algorithm  string
	BcryptCost int
	Argon2     Argon2Config
}

// DefaultConfig returns bcrypt at DefaultBcryptCost with argon2id parameters
// ready for a switch.
func DefaultConfig() Config {
	return Config{
		Algorithm:  AlgorithmBcrypt,
		BcryptCost: DefaultBcryptCost,
		Argon2:     DefaultArgon2Config(),
	}
}

// New builds a Multi whose active hasher is cfg.Algorithm. Verification
// accepts hashes from both algorithms.
func New(cfg Config) (*Multi, error) {
	bc, err := NewBcrypt(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	a2, err := NewArgon2(cfg.Argon2)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Algorithm)) {
	case "", AlgorithmBcrypt:
		return &Multi{active: bc, bcrypt: bc, argon2: a2}, nil
	case AlgorithmArgon2id:
		return &Multi{active: a2, bcrypt: bc, argon2: a2}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, cfg.Algorithm)
	}
}

// Multi hashes with the active algorithm and verifies any supported hash.
type Multi struct {
	active Hasher
	bcrypt *Bcrypt
	argon2 *Argon2
}

func (m *Multi) Hash(plain string) (string, error) {
	return m.active.Hash(plain)
}

func (m *Multi) Verify(plain, encodedHash string) (bool, error) {
	h, err := m.hasherFor(encodedHash)
	if err != nil {
		return false, err
	}
	return h.Verify(plain, encodedHash)
}

// NeedsRehash reports whether encodedHash uses another algorithm or weaker
// parameters than the active hasher.
func (m *Multi) NeedsRehash(encodedHash string) (bool, error) {
	h, err := m.hasherFor(encodedHash)
	if err != nil {
		return false, err
	}
	if h != m.active {
		return true, nil
	}
	switch active := m.active.(type) {
	case *Bcrypt:
		return active.NeedsUpgrade(encodedHash)
	case *Argon2:
		return active.NeedsUpgrade(encodedHash)
	}
	return false, nil
}

func (m *Multi) hasherFor(encodedHash string) (Hasher, error) {
	switch {
	case strings.HasPrefix(encodedHash, "$argon2id$"):
		return m.argon2, nil
	case strings.HasPrefix(encodedHash, "$2a$"),
		strings.HasPrefix(encodedHash, "$2b$"),
		strings.HasPrefix(encodedHash, "$2y$"):
		return m.bcrypt, nil
	default:
		return nil, ErrInvalidHash
	}
}
