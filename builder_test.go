package atlasauth_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrEthical07/atlasauth"
	"github.com/MrEthical07/atlasauth/ratelimit"
	"github.com/MrEthical07/atlasauth/store/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestBuildRequiresRepositories(t *testing.T) {
	if _, err := atlasauth.New().WithConfig(testConfig()).Build(); err == nil {
		t.Fatal("expected error without a user repository")
	}

	store := memory.New()
	if _, err := atlasauth.New().WithConfig(testConfig()).WithUserRepository(store).Build(); err == nil {
		t.Fatal("expected error without a two-factor repository")
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.TwoFactor.EncryptionKey = "not-a-key"
	store := memory.New()

	_, err := atlasauth.New().WithConfig(cfg).WithUserRepository(store).WithTwoFactorRepository(store).Build()
	if err == nil || !strings.Contains(err.Error(), "EncryptionKey") {
		t.Fatalf("expected EncryptionKey error, got %v", err)
	}
}

func TestBuilderIsSingleUse(t *testing.T) {
	store := memory.New()
	b := atlasauth.New().WithConfig(testConfig()).WithUserRepository(store).WithTwoFactorRepository(store)

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestBuildWithRedisSharesState(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := memory.New()
	clock := newTestClock()
	engine, err := atlasauth.New().
		WithConfig(testConfig()).
		WithRedis(client).
		WithUserRepository(store).
		WithTwoFactorRepository(store).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	env := &testEnv{engine: engine, store: store, clock: clock}
	user := env.seedUser(t, "alice@example.com", true)
	secret, _ := env.enrol(t, user.ID)
	ctx := context.Background()

	if _, err := engine.AuthorizeCredentials(ctx, atlasauth.CredentialsRequest{
		Email: "alice@example.com", Password: "not the password", RateLimitKey: "10.0.0.1",
	}); err != nil {
		t.Fatalf("AuthorizeCredentials failed: %v", err)
	}
	if !mr.Exists("rl:signin:10.0.0.1") {
		t.Fatalf("expected sign-in limiter key in redis, have %v", mr.Keys())
	}

	token := env.challenge(t, "alice@example.com")
	var challengeKeys int
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, "atc:") {
			challengeKeys++
		}
	}
	if challengeKeys != 1 {
		t.Fatalf("expected one challenge in redis, have %v", mr.Keys())
	}

	if _, err := engine.CompleteSignIn(ctx, token, env.code(t, secret), atlasauth.FactorTOTP); err != nil {
		t.Fatalf("CompleteSignIn failed: %v", err)
	}
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, "atc:") {
			t.Fatalf("expected redeemed challenge to be deleted, have %v", mr.Keys())
		}
	}
}

func TestRedisOutageSurfacesAsUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	store := memory.New()
	engine, err := atlasauth.New().
		WithConfig(testConfig()).
		WithRedis(client).
		WithUserRepository(store).
		WithTwoFactorRepository(store).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	mr.Close()
	_, err = engine.AuthorizeCredentials(context.Background(), atlasauth.CredentialsRequest{
		Email: "alice@example.com", Password: testPassword,
	})
	if !errors.Is(err, atlasauth.ErrRateLimiterUnavailable) {
		t.Fatalf("expected ErrRateLimiterUnavailable, got %v", err)
	}
}

func TestExplicitRateLimitStoreWins(t *testing.T) {
	limits := ratelimit.NewMemoryStore()
	store := memory.New()
	engine, err := atlasauth.New().
		WithConfig(testConfig()).
		WithRateLimitStore(limits).
		WithUserRepository(store).
		WithTwoFactorRepository(store).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if _, err := engine.AuthorizeCredentials(context.Background(), atlasauth.CredentialsRequest{
		Email: "nobody@example.com", Password: testPassword, RateLimitKey: "k",
	}); err != nil {
		t.Fatalf("AuthorizeCredentials failed: %v", err)
	}
	if limits.Len() != 1 {
		t.Fatalf("expected one limiter entry, got %d", limits.Len())
	}
}

func TestMetricsDisabledEngineSnapshotIsEmpty(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	store := memory.New()
	engine, err := atlasauth.New().WithConfig(cfg).WithUserRepository(store).WithTwoFactorRepository(store).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	_, _ = engine.AuthorizeCredentials(context.Background(), atlasauth.CredentialsRequest{Email: "a@example.com", Password: testPassword})
	if snap := engine.MetricsSnapshot(); len(snap.Counters) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap.Counters)
	}
}

func TestLatencyHistogramRecordsPasswordVerify(t *testing.T) {
	env := newTestEnv(t, withConfig(func(cfg *atlasauth.Config) {
		cfg.Metrics.EnableLatencyHistograms = true
	}))
	env.seedUser(t, "alice@example.com", true)

	_, _ = env.engine.AuthorizeCredentials(context.Background(), atlasauth.CredentialsRequest{Email: "alice@example.com", Password: testPassword})

	var total uint64
	for _, n := range env.engine.MetricsSnapshot().Histograms[atlasauth.MetricPasswordVerifyLatency] {
		total += n
	}
	if total != 1 {
		t.Fatalf("expected one observation, got %d", total)
	}
}
