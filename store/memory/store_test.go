package memory

import (
	"context"
	"crypto/sha256"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/atlasauth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ atlasauth.UserRepository           = (*Store)(nil)
	_ atlasauth.PasswordHashUpdater      = (*Store)(nil)
	_ atlasauth.LinkedIdentityRepository = (*Store)(nil)
	_ atlasauth.TwoFactorRepository      = (*Store)(nil)
)

func TestStore_CreateAndFindUser(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateUser(ctx, atlasauth.UserAccount{Email: " Alice@Example.COM ", PasswordHash: "h"})
	require.NoError(t, err)
	_, err = uuid.Parse(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", created.Email)
	assert.Equal(t, atlasauth.RoleUser, created.Role)

	byEmail, err := s.FindUserByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	byID, err := s.FindUserByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Email, byID.Email)

	_, err = s.CreateUser(ctx, atlasauth.UserAccount{Email: "alice@example.com"})
	assert.ErrorIs(t, err, atlasauth.ErrUserExists)

	_, err = s.FindUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, atlasauth.ErrNotFound)
}

func TestStore_ReturnedUsersAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	verified := time.Unix(100, 0)

	u, err := s.CreateUser(ctx, atlasauth.UserAccount{Email: "a@example.com", EmailVerifiedAt: &verified})
	require.NoError(t, err)

	*u.EmailVerifiedAt = time.Unix(999, 0)
	again, err := s.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), again.EmailVerifiedAt.Unix())
}

func TestStore_MarkEmailVerifiedKeepsFirstStamp(t *testing.T) {
	s := New()
	ctx := context.Background()

	u, err := s.CreateUser(ctx, atlasauth.UserAccount{Email: "a@example.com"})
	require.NoError(t, err)

	require.NoError(t, s.MarkEmailVerified(ctx, u.ID, time.Unix(10, 0)))
	require.NoError(t, s.MarkEmailVerified(ctx, u.ID, time.Unix(20, 0)))

	got, err := s.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.EmailVerifiedAt.Unix())

	assert.ErrorIs(t, s.MarkEmailVerified(ctx, "missing", time.Now()), atlasauth.ErrNotFound)
}

func TestStore_CreateLinkedIdentityConflict(t *testing.T) {
	s := New()
	ctx := context.Background()
	link := atlasauth.LinkedIdentity{UserID: "u1", Provider: "google", ProviderAccountID: "g1"}

	outcome, err := s.CreateLinkedIdentity(ctx, link)
	require.NoError(t, err)
	assert.Equal(t, atlasauth.LinkCreated, outcome)

	link.UserID = "u2"
	outcome, err = s.CreateLinkedIdentity(ctx, link)
	require.NoError(t, err)
	assert.Equal(t, atlasauth.LinkConflict, outcome)

	got, err := s.FindLinkedIdentity(ctx, "google", "g1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
}

func TestStore_TwoFactorLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.GetTwoFactor(ctx, "u1")
	require.ErrorIs(t, err, atlasauth.ErrNotFound)
	require.ErrorIs(t, s.EnableTwoFactor(ctx, "u1"), atlasauth.ErrNotFound)

	require.NoError(t, s.SavePendingSecret(ctx, "u1", "v1.secret"))
	rec, err := s.GetTwoFactor(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, rec.Enabled)

	require.NoError(t, s.EnableTwoFactor(ctx, "u1"))
	require.ErrorIs(t, s.SavePendingSecret(ctx, "u1", "v1.other"), atlasauth.ErrTwoFactorAlreadyEnabled)
	rec, err = s.GetTwoFactor(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, rec.Enabled)
	assert.Equal(t, "v1.secret", rec.EncryptedSecret)

	advanced, err := s.UpdateLastUsedCounter(ctx, "u1", 5)
	require.NoError(t, err)
	assert.True(t, advanced)
	advanced, err = s.UpdateLastUsedCounter(ctx, "u1", 5)
	require.NoError(t, err)
	assert.False(t, advanced)

	h := sha256.Sum256([]byte("x"))
	require.NoError(t, s.ReplaceRecoveryCodes(ctx, "u1", []atlasauth.RecoveryCodeRecord{{Hash: h}}))
	n, err := s.CountRecoveryCodes(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.DisableTwoFactor(ctx, "u1"))
	_, err = s.GetTwoFactor(ctx, "u1")
	assert.ErrorIs(t, err, atlasauth.ErrNotFound)
	n, err = s.CountRecoveryCodes(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_ConsumeRecoveryCodeOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	h := sha256.Sum256([]byte("code"))
	require.NoError(t, s.ReplaceRecoveryCodes(ctx, "u1", []atlasauth.RecoveryCodeRecord{{Hash: h}}))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ConsumeRecoveryCode(ctx, "u1", h)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
