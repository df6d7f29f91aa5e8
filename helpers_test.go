package atlasauth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/atlasauth"
	"github.com/MrEthical07/atlasauth/store/memory"
	"github.com/pquerna/otp"
	pqtotp "github.com/pquerna/otp/totp"
)

const (
	testPassword      = "correct horse battery"
	testEncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1_700_000_010, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() atlasauth.Config {
	cfg := atlasauth.DefaultConfig()
	cfg.TwoFactor.EncryptionKey = testEncryptionKey
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.BcryptCost = 10
	cfg.Password.Argon2Memory = 8 * 1024
	cfg.Metrics.Enabled = true
	return cfg
}

type testEnv struct {
	engine *atlasauth.Engine
	store  *memory.Store
	clock  *testClock
}

type envSettings struct {
	cfg        atlasauth.Config
	store      *memory.Store
	identities atlasauth.LinkedIdentityRepository
	twoFactor  atlasauth.TwoFactorRepository
	sink       atlasauth.AuditSink
}

type envOption func(*envSettings)

func withConfig(fn func(*atlasauth.Config)) envOption {
	return func(s *envSettings) { fn(&s.cfg) }
}

// withIdentities replaces the link repository. repo should wrap store so
// seeded users and links are visible to both.
func withIdentities(store *memory.Store, repo atlasauth.LinkedIdentityRepository) envOption {
	return func(s *envSettings) {
		s.store = store
		s.identities = repo
	}
}

// withTwoFactor replaces the two-factor repository. repo should wrap the
// env's default store so seeded users stay visible.
func withTwoFactor(wrap func(*memory.Store) atlasauth.TwoFactorRepository) envOption {
	return func(s *envSettings) { s.twoFactor = wrap(s.store) }
}

func withAuditSink(sink atlasauth.AuditSink) envOption {
	return func(s *envSettings) {
		s.cfg.Audit.Enabled = true
		s.sink = sink
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	settings := envSettings{cfg: testConfig(), store: memory.New()}
	for _, opt := range opts {
		opt(&settings)
	}
	if settings.identities == nil {
		settings.identities = settings.store
	}
	if settings.twoFactor == nil {
		settings.twoFactor = settings.store
	}

	clock := newTestClock()
	b := atlasauth.New().
		WithConfig(settings.cfg).
		WithUserRepository(settings.store).
		WithLinkedIdentityRepository(settings.identities).
		WithTwoFactorRepository(settings.twoFactor).
		WithClock(clock.Now)
	if settings.sink != nil {
		b.WithAuditSink(settings.sink)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, store: settings.store, clock: clock}
}

func (env *testEnv) seedUser(t *testing.T, email string, verified bool) atlasauth.UserAccount {
	t.Helper()

	hash, err := env.engine.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	account := atlasauth.UserAccount{
		Email:        email,
		PasswordHash: hash,
		DisplayName:  "Alice",
	}
	if verified {
		at := env.clock.Now().Add(-time.Hour)
		account.EmailVerifiedAt = &at
	}
	user, err := env.store.CreateUser(context.Background(), account)
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return user
}

// code returns the TOTP for secret at the test clock's current time.
func (env *testEnv) code(t *testing.T, secret string) string {
	t.Helper()

	code, err := pqtotp.GenerateCodeCustom(secret, env.clock.Now(), pqtotp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom failed: %v", err)
	}
	return code
}

// enrol runs setup and confirmation for userID and returns the secret and
// the first recovery codes. The clock is moved past the confirming step.
func (env *testEnv) enrol(t *testing.T, userID string) (string, []string) {
	t.Helper()
	ctx := context.Background()

	setup, err := env.engine.BeginTwoFactorSetup(ctx, userID)
	if err != nil {
		t.Fatalf("BeginTwoFactorSetup failed: %v", err)
	}
	codes, err := env.engine.ConfirmTwoFactorSetup(ctx, userID, env.code(t, setup.Secret))
	if err != nil {
		t.Fatalf("ConfirmTwoFactorSetup failed: %v", err)
	}
	env.clock.Advance(30 * time.Second)
	return setup.Secret, codes
}

func (env *testEnv) challenge(t *testing.T, email string) string {
	t.Helper()

	res, err := env.engine.SignIn(context.Background(), atlasauth.CredentialsRequest{
		Email:        email,
		Password:     testPassword,
		RateLimitKey: "203.0.113.7",
	})
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if res == nil || !res.RequiresTwoFactor || res.ChallengeToken == "" {
		t.Fatalf("expected a two-factor challenge, got %+v", res)
	}
	return res.ChallengeToken
}

func (env *testEnv) counter(id atlasauth.MetricID) uint64 {
	return env.engine.MetricsSnapshot().Counters[id]
}
