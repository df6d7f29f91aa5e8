package atlasauth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/atlasauth/envelope"
	"github.com/MrEthical07/atlasauth/internal"
	"github.com/MrEthical07/atlasauth/internal/audit"
	"github.com/MrEthical07/atlasauth/jwt"
	"github.com/MrEthical07/atlasauth/password"
	"github.com/MrEthical07/atlasauth/ratelimit"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder is single-use.
//
// With a Redis client, the sign-in limiter and the challenge store are shared
// through Redis; without one they live in process memory. Explicit
// WithRateLimitStore and WithChallengeStore calls win over both.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users          UserRepository
	identities     LinkedIdentityRepository
	twoFactor      TwoFactorRepository
	tokens         TokenGenerator
	challenges     ChallengeStore
	rateLimitStore ratelimit.Store

	auditSink AuditSink
	clock     func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserRepository(repo UserRepository) *Builder {
	b.users = repo
	return b
}

func (b *Builder) WithLinkedIdentityRepository(repo LinkedIdentityRepository) *Builder {
	b.identities = repo
	return b
}

func (b *Builder) WithTwoFactorRepository(repo TwoFactorRepository) *Builder {
	b.twoFactor = repo
	return b
}

// WithTokenGenerator replaces the crypto/rand generator used for OAuth
// placeholder passwords.
func (b *Builder) WithTokenGenerator(gen TokenGenerator) *Builder {
	b.tokens = gen
	return b
}

func (b *Builder) WithChallengeStore(store ChallengeStore) *Builder {
	b.challenges = store
	return b
}

func (b *Builder) WithRateLimitStore(store ratelimit.Store) *Builder {
	b.rateLimitStore = store
	return b
}

// WithAuditSink sets the audit destination. Events are only dispatched when
// Config.Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides time.Now for challenge expiry, token timestamps and
// rate-limit windows.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.users == nil {
		return nil, errors.New("user repository required")
	}
	if cfg.TwoFactor.Enabled && b.twoFactor == nil {
		return nil, errors.New("two-factor repository required when two-factor is enabled")
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	engine := &Engine{
		config:     cloneConfig(cfg),
		users:      b.users,
		identities: b.identities,
		twoFactor:  b.twoFactor,
		tokens:     b.tokens,
		challenges: b.challenges,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		clock:      clock,
	}
	if engine.tokens == nil {
		engine.tokens = tokenGeneratorFunc(internal.NewToken)
	}

	// -------- RATE LIMITERS --------
	limitStore := b.rateLimitStore
	if limitStore == nil {
		if b.redis != nil {
			limitStore = ratelimit.NewRedisStore(b.redis, cfg.RateLimit.RedisPrefix)
		} else {
			limitStore = ratelimit.NewMemoryStore()
		}
	}
	engine.signInLimiter = ratelimit.New(namespacedStore{inner: limitStore, prefix: "signin:"}, ratelimit.Config{
		MaxAttempts:   cfg.RateLimit.MaxAttempts,
		Window:        cfg.RateLimit.Window,
		BlockDuration: cfg.RateLimit.BlockDuration,
	})
	engine.managementLimiter = ratelimit.New(namespacedStore{inner: limitStore, prefix: "mgmt:"}, ratelimit.Config{
		MaxAttempts:   cfg.TwoFactor.ManagementMaxAttempts,
		Window:        cfg.TwoFactor.ManagementWindow,
		BlockDuration: cfg.TwoFactor.ManagementBlockDuration,
	})

	// -------- PASSWORDS --------
	ph, err := password.New(cfg.passwordConfig())
	if err != nil {
		return nil, err
	}
	engine.passwords = ph

	// -------- TWO-FACTOR --------
	if cfg.TwoFactor.Enabled {
		cipher, err := envelope.NewCipher(cfg.TwoFactor.EncryptionKey)
		if err != nil {
			return nil, err
		}
		engine.cipher = cipher

		jm, err := jwt.NewManager(jwt.Config{
			TTL:           cfg.TwoFactor.ChallengeTTL,
			SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
			PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
			PublicKey:     cloneBytes(cfg.JWT.PublicKey),
			Issuer:        cfg.JWT.Issuer,
			Audience:      cfg.JWT.Audience,
			Leeway:        cfg.JWT.Leeway,
			KeyID:         cfg.JWT.KeyID,
			Now:           clock,
		})
		if err != nil {
			return nil, err
		}
		engine.jwtManager = jm

		if engine.challenges == nil {
			if b.redis != nil {
				engine.challenges = NewRedisChallengeStore(b.redis, cfg.TwoFactor.ChallengeKeyPrefix, clock)
			} else {
				engine.challenges = NewMemoryChallengeStore(clock)
			}
		}
	}

	// -------- AUDIT / METRICS --------
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:     cfg.Audit.Enabled,
		BufferSize:  cfg.Audit.BufferSize,
		DropIfFull:  cfg.Audit.DropIfFull,
		SinkTimeout: cfg.Audit.SinkTimeout,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return engine, nil
}

// namespacedStore keeps the two limiters apart inside one Store, so a
// caller-chosen sign-in key can never address a management entry.
type namespacedStore struct {
	inner  ratelimit.Store
	prefix string
}

func (s namespacedStore) Get(ctx context.Context, key string) (ratelimit.Entry, bool, error) {
	return s.inner.Get(ctx, s.prefix+key)
}

func (s namespacedStore) Put(ctx context.Context, key string, e ratelimit.Entry, ttl time.Duration) error {
	return s.inner.Put(ctx, s.prefix+key, e, ttl)
}

func (s namespacedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, s.prefix+key)
}

type tokenGeneratorFunc func(int) (string, error)

func (f tokenGeneratorFunc) GenerateToken(byteLength int) (string, error) {
	return f(byteLength)
}
