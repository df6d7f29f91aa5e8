package atlasauth_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/atlasauth"
)

func TestAuthorizeCredentialsReturnsUser(t *testing.T) {
	env := newTestEnv(t)
	seeded := env.seedUser(t, "alice@example.com", true)

	user, err := env.engine.AuthorizeCredentials(context.Background(), atlasauth.CredentialsRequest{
		Email:        "  Alice@Example.com ",
		Password:     testPassword,
		RateLimitKey: "203.0.113.7",
	})
	if err != nil {
		t.Fatalf("AuthorizeCredentials failed: %v", err)
	}
	if user == nil {
		t.Fatal("expected an authorized user")
	}
	if user.ID != seeded.ID || user.Email != "alice@example.com" || user.Name != "Alice" {
		t.Fatalf("unexpected user %+v", user)
	}
	if user.EmailVerifiedAt == nil {
		t.Fatal("expected EmailVerifiedAt to be carried over")
	}
	if got := env.counter(atlasauth.MetricSignInSuccess); got != 1 {
		t.Fatalf("expected 1 success, got %d", got)
	}
}

func TestAuthorizeCredentialsRefusalsAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice@example.com", true)

	deleted := env.seedUser(t, "gone@example.com", true)
	if err := env.store.SoftDeleteUser(context.Background(), deleted.ID, env.clock.Now()); err != nil {
		t.Fatalf("SoftDeleteUser failed: %v", err)
	}

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", "alice@example.com", "not the password"},
		{"unknown email", "bob@example.com", testPassword},
		{"malformed email", "alice-at-example.com", testPassword},
		{"short password", "alice@example.com", "short"},
		{"oversized password", "alice@example.com", strings.Repeat("x", 73)},
		{"oversized multibyte password", "alice@example.com", strings.Repeat("é", 40)},
		{"deleted account", "gone@example.com", testPassword},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			user, err := env.engine.AuthorizeCredentials(context.Background(), atlasauth.CredentialsRequest{
				Email:        tc.email,
				Password:     tc.password,
				RateLimitKey: tc.name,
			})
			if err != nil {
				t.Fatalf("expected nil error, got %v", err)
			}
			if user != nil {
				t.Fatalf("expected refusal, got %+v", user)
			}
			if got := env.counter(atlasauth.MetricSignInFailure); got != uint64(i+1) {
				t.Fatalf("expected %d failures, got %d", i+1, got)
			}
		})
	}
}

func TestAuthorizeCredentialsUnverifiedEmail(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "new@example.com", false)

	user, err := env.engine.AuthorizeCredentials(context.Background(), atlasauth.CredentialsRequest{
		Email:    "new@example.com",
		Password: testPassword,
	})
	if user != nil {
		t.Fatalf("expected no user, got %+v", user)
	}
	if !errors.Is(err, atlasauth.ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified, got %v", err)
	}
	var denial *atlasauth.DenialError
	if !errors.As(err, &denial) || denial.Reason != atlasauth.DenialEmailNotVerified {
		t.Fatalf("expected DenialError, got %T", err)
	}

	// A wrong password must not reveal the verification state.
	user, err = env.engine.AuthorizeCredentials(context.Background(), atlasauth.CredentialsRequest{
		Email:    "new@example.com",
		Password: "not the password",
	})
	if err != nil || user != nil {
		t.Fatalf("expected silent refusal, got user=%+v err=%v", user, err)
	}
}

func TestAuthorizeCredentialsRateLimit(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice@example.com", true)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		user, err := env.engine.AuthorizeCredentials(ctx, atlasauth.CredentialsRequest{
			Email:        "alice@example.com",
			Password:     "not the password",
			RateLimitKey: "198.51.100.1",
		})
		if err != nil || user != nil {
			t.Fatalf("attempt %d: expected refusal, got user=%+v err=%v", i, user, err)
		}
	}

	user, err := env.engine.AuthorizeCredentials(ctx, atlasauth.CredentialsRequest{
		Email:        "alice@example.com",
		Password:     testPassword,
		RateLimitKey: "198.51.100.1",
	})
	if err != nil || user != nil {
		t.Fatalf("expected blocked refusal, got user=%+v err=%v", user, err)
	}
	if got := env.counter(atlasauth.MetricSignInRateLimited); got != 1 {
		t.Fatalf("expected 1 rate-limited attempt, got %d", got)
	}

	// Other keys are unaffected.
	user, err = env.engine.AuthorizeCredentials(ctx, atlasauth.CredentialsRequest{
		Email:        "alice@example.com",
		Password:     testPassword,
		RateLimitKey: "198.51.100.2",
	})
	if err != nil || user == nil {
		t.Fatalf("expected success on a fresh key, got user=%+v err=%v", user, err)
	}

	// The block lifts after BlockDuration.
	env.clock.Advance(11 * time.Minute)
	user, err = env.engine.AuthorizeCredentials(ctx, atlasauth.CredentialsRequest{
		Email:        "alice@example.com",
		Password:     testPassword,
		RateLimitKey: "198.51.100.1",
	})
	if err != nil || user == nil {
		t.Fatalf("expected success after block, got user=%+v err=%v", user, err)
	}
}

func TestAuthorizeCredentialsSuccessClearsFailures(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice@example.com", true)
	ctx := context.Background()

	attempt := func(pw string) *atlasauth.AuthorizedUser {
		user, err := env.engine.AuthorizeCredentials(ctx, atlasauth.CredentialsRequest{
			Email:        "alice@example.com",
			Password:     pw,
			RateLimitKey: "k",
		})
		if err != nil {
			t.Fatalf("AuthorizeCredentials failed: %v", err)
		}
		return user
	}

	for i := 0; i < 4; i++ {
		attempt("not the password")
	}
	if attempt(testPassword) == nil {
		t.Fatal("expected success before the limit")
	}
	for i := 0; i < 4; i++ {
		attempt("not the password")
	}
	if attempt(testPassword) == nil {
		t.Fatal("expected counter reset after success")
	}
}

func TestAuthorizeCredentialsUpgradesPasswordHash(t *testing.T) {
	env := newTestEnv(t, withConfig(func(cfg *atlasauth.Config) {
		cfg.Password.Algorithm = "argon2id"
	}))
	ctx := context.Background()

	legacy, err := atlasauth.New().
		WithConfig(testConfig()).
		WithUserRepository(env.store).
		WithTwoFactorRepository(env.store).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer legacy.Close()

	hash, err := legacy.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	verified := env.clock.Now()
	seeded, err := env.store.CreateUser(ctx, atlasauth.UserAccount{
		Email:           "legacy@example.com",
		PasswordHash:    hash,
		EmailVerifiedAt: &verified,
	})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	user, err := env.engine.AuthorizeCredentials(ctx, atlasauth.CredentialsRequest{
		Email:    "legacy@example.com",
		Password: testPassword,
	})
	if err != nil || user == nil {
		t.Fatalf("expected success, got user=%+v err=%v", user, err)
	}

	stored, err := env.store.FindUserByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("FindUserByID failed: %v", err)
	}
	if !strings.HasPrefix(stored.PasswordHash, "$argon2id$") {
		t.Fatalf("expected argon2id hash after sign-in, got %q", stored.PasswordHash)
	}
	if got := env.counter(atlasauth.MetricPasswordRehashed); got != 1 {
		t.Fatalf("expected 1 rehash, got %d", got)
	}
}

func TestSignInWithoutTwoFactorReturnsUser(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice@example.com", true)

	res, err := env.engine.SignIn(context.Background(), atlasauth.CredentialsRequest{
		Email:    "alice@example.com",
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if res == nil || res.RequiresTwoFactor || res.User == nil {
		t.Fatalf("expected direct sign-in, got %+v", res)
	}
}

func TestSignInWithTwoFactorDisabledByConfig(t *testing.T) {
	store := newTestEnv(t).store
	cfg := testConfig()
	cfg.TwoFactor.Enabled = false
	cfg.TwoFactor.EncryptionKey = ""
	cfg.JWT.PrivateKey = nil

	engine, err := atlasauth.New().WithConfig(cfg).WithUserRepository(store).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	hash, _ := engine.HashPassword(testPassword)
	now := time.Now()
	if _, err := store.CreateUser(context.Background(), atlasauth.UserAccount{
		Email: "alice@example.com", PasswordHash: hash, EmailVerifiedAt: &now,
	}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	res, err := engine.SignIn(context.Background(), atlasauth.CredentialsRequest{
		Email:    "alice@example.com",
		Password: testPassword,
	})
	if err != nil || res == nil || res.User == nil {
		t.Fatalf("expected direct sign-in, got res=%+v err=%v", res, err)
	}

	if _, err := engine.BeginTwoFactorSetup(context.Background(), res.User.ID); !errors.Is(err, atlasauth.ErrTwoFactorDisabled) {
		t.Fatalf("expected ErrTwoFactorDisabled, got %v", err)
	}
}

type failingUsers struct {
	atlasauth.UserRepository
}

func (failingUsers) FindUserByEmail(context.Context, string) (atlasauth.UserAccount, error) {
	return atlasauth.UserAccount{}, errors.New("connection refused")
}

func TestAuthorizeCredentialsStoreUnavailable(t *testing.T) {
	cfg := testConfig()
	cfg.TwoFactor.Enabled = false
	engine, err := atlasauth.New().WithConfig(cfg).WithUserRepository(failingUsers{}).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	_, err = engine.AuthorizeCredentials(context.Background(), atlasauth.CredentialsRequest{
		Email:    "alice@example.com",
		Password: testPassword,
	})
	if !errors.Is(err, atlasauth.ErrUserStoreUnavailable) {
		t.Fatalf("expected ErrUserStoreUnavailable, got %v", err)
	}
}

func TestAuthorizeCredentialsNilEngine(t *testing.T) {
	var engine *atlasauth.Engine
	if _, err := engine.AuthorizeCredentials(context.Background(), atlasauth.CredentialsRequest{}); !errors.Is(err, atlasauth.ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}

func TestAuditRecordsSignInOutcomes(t *testing.T) {
	sink := atlasauth.NewChannelSink(16)
	env := newTestEnv(t, withAuditSink(sink))
	seeded := env.seedUser(t, "alice@example.com", true)

	ctx := atlasauth.WithClientIP(context.Background(), "203.0.113.9")
	if _, err := env.engine.AuthorizeCredentials(ctx, atlasauth.CredentialsRequest{
		Email: "alice@example.com", Password: "not the password",
	}); err != nil {
		t.Fatalf("AuthorizeCredentials failed: %v", err)
	}
	if _, err := env.engine.AuthorizeCredentials(ctx, atlasauth.CredentialsRequest{
		Email: "alice@example.com", Password: testPassword,
	}); err != nil {
		t.Fatalf("AuthorizeCredentials failed: %v", err)
	}
	env.engine.Close()

	var events []atlasauth.AuditEvent
	for len(events) < 2 {
		select {
		case ev := <-sink.Events():
			events = append(events, ev)
		case <-time.After(time.Second):
			t.Fatalf("expected 2 events, got %d", len(events))
		}
	}

	if events[0].EventType != "signin_failure" || events[0].Success || events[0].Metadata["reason"] != "password_mismatch" {
		t.Fatalf("unexpected failure event %+v", events[0])
	}
	if events[1].EventType != "signin_success" || !events[1].Success || events[1].UserID != seeded.ID {
		t.Fatalf("unexpected success event %+v", events[1])
	}
	if events[1].IP != "203.0.113.9" {
		t.Fatalf("expected client IP in event, got %q", events[1].IP)
	}
}
