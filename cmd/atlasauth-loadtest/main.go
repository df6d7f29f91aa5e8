package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/atlasauth"
	"github.com/MrEthical07/atlasauth/store/memory"
	"github.com/MrEthical07/atlasauth/totp"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const loadPassword = "load-test-password"

// userState tracks the unused recovery codes and pending challenge tokens of
// one seeded account.
type userState struct {
	email  string
	mu     sync.Mutex
	codes  []string
	tokens []string
}

func (u *userState) pushToken(token string) {
	u.mu.Lock()
	u.tokens = append(u.tokens, token)
	u.mu.Unlock()
}

// pop returns a pending token and an unused recovery code, or ok=false.
func (u *userState) pop() (token, code string, ok bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.tokens) == 0 || len(u.codes) == 0 {
		return "", "", false
	}
	token, u.tokens = u.tokens[0], u.tokens[1:]
	code, u.codes = u.codes[0], u.codes[1:]
	return token, code, true
}

func main() {
	var (
		users       = flag.Int("users", 200, "number of two-factor accounts to seed")
		concurrency = flag.Int("concurrency", 32, "number of concurrent workers")
		ops         = flag.Int("ops", 2000, "operations per phase (signin + redeem)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	engine, store, err := buildEngine(client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("seeding %d users...\n", *users)
	startSeed := time.Now()
	states := make([]*userState, *users)
	for i := range states {
		state, err := seedUser(ctx, engine, store, i)
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			os.Exit(1)
		}
		states[i] = state
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	signInStats := runSignInPhase(ctx, engine, states, *ops, *concurrency)
	redeemStats := runRedeemPhase(ctx, engine, states, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("signin", signInStats)
	printStats("redeem", redeemStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("challenges issued=%d redeemed=%d failed=%d\n",
		snap.Counters[atlasauth.MetricChallengeIssued],
		snap.Counters[atlasauth.MetricChallengeSuccess],
		snap.Counters[atlasauth.MetricChallengeFailure],
	)
}

func buildEngine(client redis.UniversalClient) (*atlasauth.Engine, *memory.Store, error) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(rand.Intn(256))
	}

	cfg := atlasauth.DefaultConfig()
	cfg.TwoFactor.EncryptionKey = hex.EncodeToString(key)
	cfg.JWT.PrivateKey = []byte(hex.EncodeToString(key))
	cfg.Password.BcryptCost = 10
	cfg.Metrics.Enabled = true

	store := memory.New()
	engine, err := atlasauth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserRepository(store).
		WithLinkedIdentityRepository(store).
		WithTwoFactorRepository(store).
		Build()
	return engine, store, err
}

func seedUser(ctx context.Context, engine *atlasauth.Engine, store *memory.Store, i int) (*userState, error) {
	hash, err := engine.HashPassword(loadPassword)
	if err != nil {
		return nil, err
	}
	verified := time.Now()
	user, err := store.CreateUser(ctx, atlasauth.UserAccount{
		Email:           fmt.Sprintf("user-%d@load.test", i),
		PasswordHash:    hash,
		DisplayName:     fmt.Sprintf("User %d", i),
		EmailVerifiedAt: &verified,
	})
	if err != nil {
		return nil, err
	}

	setup, err := engine.BeginTwoFactorSetup(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	code, err := totp.GenerateCode(setup.Secret, totp.Options{})
	if err != nil {
		return nil, err
	}
	codes, err := engine.ConfirmTwoFactorSetup(ctx, user.ID, code)
	if err != nil {
		return nil, err
	}
	return &userState{email: user.Email, codes: codes}, nil
}

func runSignInPhase(ctx context.Context, engine *atlasauth.Engine, states []*userState, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				state := states[r.Intn(len(states))]
				t0 := time.Now()
				res, err := engine.SignIn(ctx, atlasauth.CredentialsRequest{
					Email:        state.email,
					Password:     loadPassword,
					RateLimitKey: fmt.Sprintf("10.%d.%d.%d", worker%256, (i/256)%256, i%256),
				})
				d := time.Since(t0)
				if err != nil || res == nil || !res.RequiresTwoFactor {
					atomic.AddInt64(&failures, 1)
				} else {
					state.pushToken(res.ChallengeToken)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

// runRedeemPhase spends the tokens from runSignInPhase with recovery codes.
// It stops early once every account has run out of tokens or codes.
func runRedeemPhase(ctx context.Context, engine *atlasauth.Engine, states []*userState, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				// Walk the accounts from a per-op offset until one has work.
				var token, code string
				found := false
				for j := 0; j < len(states) && !found; j++ {
					token, code, found = states[(i+j)%len(states)].pop()
				}
				if !found {
					return
				}
				t0 := time.Now()
				_, err := engine.CompleteSignIn(ctx, token, code, atlasauth.FactorRecoveryCode)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
