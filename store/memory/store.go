// Package memory implements every atlasauth repository in process memory.
// It is meant for tests, examples and single-instance development servers.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/atlasauth"
	"github.com/google/uuid"
)

type linkKey struct {
	provider  string
	accountID string
}

// Store implements atlasauth.UserRepository, atlasauth.PasswordHashUpdater,
// atlasauth.LinkedIdentityRepository and atlasauth.TwoFactorRepository.
// The zero value is not usable; call New.
type Store struct {
	mu sync.Mutex

	users   map[string]atlasauth.UserAccount
	byEmail map[string]string
	links   map[linkKey]atlasauth.LinkedIdentity

	twoFactor map[string]atlasauth.TwoFactorRecord
	recovery  map[string]map[[32]byte]struct{}
}

func New() *Store {
	return &Store{
		users:     make(map[string]atlasauth.UserAccount),
		byEmail:   make(map[string]string),
		links:     make(map[linkKey]atlasauth.LinkedIdentity),
		twoFactor: make(map[string]atlasauth.TwoFactorRecord),
		recovery:  make(map[string]map[[32]byte]struct{}),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneUser(u atlasauth.UserAccount) atlasauth.UserAccount {
	u.EmailVerifiedAt = cloneTime(u.EmailVerifiedAt)
	u.DeletedAt = cloneTime(u.DeletedAt)
	return u
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (atlasauth.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return atlasauth.UserAccount{}, atlasauth.ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

func (s *Store) FindUserByID(_ context.Context, userID string) (atlasauth.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return atlasauth.UserAccount{}, atlasauth.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) CreateUser(_ context.Context, user atlasauth.UserAccount) (atlasauth.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Email = normalizeEmail(user.Email)
	if _, taken := s.byEmail[user.Email]; taken {
		return atlasauth.UserAccount{}, atlasauth.ErrUserExists
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if _, taken := s.users[user.ID]; taken {
		return atlasauth.UserAccount{}, atlasauth.ErrUserExists
	}
	if user.Role == "" {
		user.Role = atlasauth.RoleUser
	}

	user = cloneUser(user)
	s.users[user.ID] = user
	s.byEmail[user.Email] = user.ID
	return cloneUser(user), nil
}

func (s *Store) MarkEmailVerified(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return atlasauth.ErrNotFound
	}
	if u.EmailVerifiedAt == nil {
		u.EmailVerifiedAt = &at
		s.users[userID] = u
	}
	return nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return atlasauth.ErrNotFound
	}
	u.PasswordHash = passwordHash
	s.users[userID] = u
	return nil
}

// SoftDeleteUser stamps DeletedAt. Deleted users keep their email.
func (s *Store) SoftDeleteUser(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return atlasauth.ErrNotFound
	}
	u.DeletedAt = &at
	s.users[userID] = u
	return nil
}

func (s *Store) FindLinkedIdentity(_ context.Context, provider, providerAccountID string) (atlasauth.LinkedIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[linkKey{provider: provider, accountID: providerAccountID}]
	if !ok {
		return atlasauth.LinkedIdentity{}, atlasauth.ErrNotFound
	}
	link.ExpiresAt = cloneTime(link.ExpiresAt)
	return link, nil
}

func (s *Store) CreateLinkedIdentity(_ context.Context, link atlasauth.LinkedIdentity) (atlasauth.LinkOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := linkKey{provider: link.Provider, accountID: link.ProviderAccountID}
	if _, exists := s.links[key]; exists {
		return atlasauth.LinkConflict, nil
	}
	link.ExpiresAt = cloneTime(link.ExpiresAt)
	s.links[key] = link
	return atlasauth.LinkCreated, nil
}

func (s *Store) GetTwoFactor(_ context.Context, userID string) (atlasauth.TwoFactorRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.twoFactor[userID]
	if !ok {
		return atlasauth.TwoFactorRecord{}, atlasauth.ErrNotFound
	}
	return record, nil
}

func (s *Store) SavePendingSecret(_ context.Context, userID, encryptedSecret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.twoFactor[userID].Enabled {
		return atlasauth.ErrTwoFactorAlreadyEnabled
	}
	s.twoFactor[userID] = atlasauth.TwoFactorRecord{
		UserID:          userID,
		EncryptedSecret: encryptedSecret,
	}
	return nil
}

func (s *Store) EnableTwoFactor(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.twoFactor[userID]
	if !ok || record.EncryptedSecret == "" {
		return atlasauth.ErrNotFound
	}
	record.Enabled = true
	s.twoFactor[userID] = record
	return nil
}

func (s *Store) DisableTwoFactor(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.twoFactor, userID)
	delete(s.recovery, userID)
	return nil
}

func (s *Store) UpdateLastUsedCounter(_ context.Context, userID string, counter int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.twoFactor[userID]
	if !ok || counter <= record.LastUsedCounter {
		return false, nil
	}
	record.LastUsedCounter = counter
	s.twoFactor[userID] = record
	return true, nil
}

func (s *Store) ReplaceRecoveryCodes(_ context.Context, userID string, codes []atlasauth.RecoveryCodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := make(map[[32]byte]struct{}, len(codes))
	for _, c := range codes {
		set[c.Hash] = struct{}{}
	}
	s.recovery[userID] = set
	return nil
}

func (s *Store) ConsumeRecoveryCode(_ context.Context, userID string, hash [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.recovery[userID]
	if _, ok := set[hash]; !ok {
		return false, nil
	}
	delete(set, hash)
	return true, nil
}

func (s *Store) CountRecoveryCodes(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.recovery[userID]), nil
}
