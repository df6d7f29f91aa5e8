package atlasauth

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/atlasauth/envelope"
	"github.com/MrEthical07/atlasauth/password"
	"github.com/MrEthical07/atlasauth/totp"
)

// Config is the full engine configuration. Start from DefaultConfig, or from
// LoadConfigFromEnv, and adjust. Builder.Build validates it.
type Config struct {
	TOTP      TOTPConfig      `envPrefix:"TOTP_"`
	TwoFactor TwoFactorConfig `envPrefix:"TWO_FACTOR_"`
	JWT       JWTConfig       `envPrefix:"JWT_"`
	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_"`
	Password  PasswordConfig  `envPrefix:"PASSWORD_"`
	OAuth     OAuthConfig     `envPrefix:"OAUTH_"`
	Audit     AuditConfig     `envPrefix:"AUDIT_"`
	Metrics   MetricsConfig   `envPrefix:"METRICS_"`
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig tunes code generation and the provisioning URI. Changing Digits,
// PeriodSeconds or Algorithm invalidates every enrolled authenticator.
type TOTPConfig struct {
	Issuer        string `env:"ISSUER"`
	Digits        int    `env:"DIGITS"`
	PeriodSeconds int    `env:"PERIOD_SECONDS"`
	Algorithm     string `env:"ALGORITHM"` // SHA1 (default), SHA256, SHA512
	SkewSteps     int    `env:"SKEW_STEPS"`
	SecretBytes   int    `env:"SECRET_BYTES"`
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

// TwoFactorConfig controls step-up sign-in and two-factor management.
type TwoFactorConfig struct {
	Enabled bool `env:"ENABLED"`
	// EncryptionKey is 32 bytes, hex or base64 encoded.
	EncryptionKey string `env:"ENCRYPTION_KEY"`

	ChallengeTTL         time.Duration `env:"CHALLENGE_TTL"`
	ChallengeMaxAttempts int           `env:"CHALLENGE_MAX_ATTEMPTS"`
	ChallengeKeyPrefix   string        `env:"CHALLENGE_KEY_PREFIX"`

	RecoveryCodeCount  int `env:"RECOVERY_CODE_COUNT"`
	RecoveryCodeLength int `env:"RECOVERY_CODE_LENGTH"`

	DisableConfirmation     string `env:"DISABLE_CONFIRMATION"`
	EnforceReplayProtection bool   `env:"ENFORCE_REPLAY_PROTECTION"`

	// Management limits throttle confirm, disable and regenerate per user.
	ManagementMaxAttempts   int           `env:"MANAGEMENT_MAX_ATTEMPTS"`
	ManagementWindow        time.Duration `env:"MANAGEMENT_WINDOW"`
	ManagementBlockDuration time.Duration `env:"MANAGEMENT_BLOCK_DURATION"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig signs challenge tokens. Their lifetime is TwoFactor.ChallengeTTL.
type JWTConfig struct {
	SigningMethod string        `env:"SIGNING_METHOD"` // "hs256" (default) or "ed25519"
	PrivateKey    []byte        `env:"PRIVATE_KEY"`
	PublicKey     []byte        `env:"PUBLIC_KEY"`
	Issuer        string        `env:"ISSUER"`
	Audience      string        `env:"AUDIENCE"`
	KeyID         string        `env:"KEY_ID"`
	Leeway        time.Duration `env:"LEEWAY"`
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig drives the sign-in limiter.
type RateLimitConfig struct {
	MaxAttempts   int           `env:"MAX_ATTEMPTS"`
	Window        time.Duration `env:"WINDOW"`
	BlockDuration time.Duration `env:"BLOCK_DURATION"`
	// RedisPrefix applies only when the engine is built with Redis.
	RedisPrefix string `env:"REDIS_PREFIX"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	Algorithm         string `env:"ALGORITHM"` // "bcrypt" (default) or "argon2id"
	BcryptCost        int    `env:"BCRYPT_COST"`
	Argon2Memory      uint32 `env:"ARGON2_MEMORY"` // in KB
	Argon2Time        uint32 `env:"ARGON2_TIME"`
	Argon2Parallelism uint8  `env:"ARGON2_PARALLELISM"`
	Argon2SaltLength  uint32 `env:"ARGON2_SALT_LENGTH"`
	Argon2KeyLength   uint32 `env:"ARGON2_KEY_LENGTH"`
	// UpgradeOnLogin rehashes outdated hashes after a successful sign-in when
	// the user repository implements PasswordHashUpdater.
	UpgradeOnLogin bool `env:"UPGRADE_ON_LOGIN"`
}

/*
====================================
OAUTH CONFIG
====================================
*/

type OAuthConfig struct {
	DefaultDisplayName    string `env:"DEFAULT_DISPLAY_NAME"`
	PlaceholderTokenBytes int    `env:"PLACEHOLDER_TOKEN_BYTES"`
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

type AuditConfig struct {
	Enabled     bool          `env:"ENABLED"`
	BufferSize  int           `env:"BUFFER_SIZE"`
	DropIfFull  bool          `env:"DROP_IF_FULL"`
	SinkTimeout time.Duration `env:"SINK_TIMEOUT"`
}

type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED"`
	EnableLatencyHistograms bool `env:"ENABLE_LATENCY_HISTOGRAMS"`
}

// DefaultConfig returns production defaults. Two-factor is enabled, so
// TwoFactor.EncryptionKey and the JWT keys must still be supplied.
func DefaultConfig() Config {
	pw := password.DefaultConfig()
	return Config{
		TOTP: TOTPConfig{
			Issuer:        "Atlas",
			Digits:        totp.DefaultDigits,
			PeriodSeconds: totp.DefaultPeriodSeconds,
			Algorithm:     string(totp.DefaultAlgorithm),
			SkewSteps:     totp.DefaultSkewSteps,
			SecretBytes:   totp.DefaultSecretBytes,
		},
		TwoFactor: TwoFactorConfig{
			Enabled:                 true,
			ChallengeTTL:            5 * time.Minute,
			ChallengeMaxAttempts:    5,
			ChallengeKeyPrefix:      "atc",
			RecoveryCodeCount:       10,
			RecoveryCodeLength:      10,
			DisableConfirmation:     "DISABLE",
			EnforceReplayProtection: true,
			ManagementMaxAttempts:   5,
			ManagementWindow:        15 * time.Minute,
			ManagementBlockDuration: 15 * time.Minute,
		},
		JWT: JWTConfig{
			SigningMethod: "hs256",
			Issuer:        "atlasauth",
			Audience:      "atlasauth-2fa",
			Leeway:        30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			MaxAttempts:   5,
			Window:        5 * time.Minute,
			BlockDuration: 10 * time.Minute,
			RedisPrefix:   "rl:",
		},
		Password: PasswordConfig{
			Algorithm:         pw.Algorithm,
			BcryptCost:        pw.BcryptCost,
			Argon2Memory:      pw.Argon2.Memory,
			Argon2Time:        pw.Argon2.Time,
			Argon2Parallelism: pw.Argon2.Parallelism,
			Argon2SaltLength:  pw.Argon2.SaltLength,
			Argon2KeyLength:   pw.Argon2.KeyLength,
			UpgradeOnLogin:    true,
		},
		OAuth: OAuthConfig{
			DefaultDisplayName:    "Atlas User",
			PlaceholderTokenBytes: 32,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c Config) passwordConfig() password.Config {
	return password.Config{
		Algorithm:  c.Password.Algorithm,
		BcryptCost: c.Password.BcryptCost,
		Argon2: password.Argon2Config{
			Memory:      c.Password.Argon2Memory,
			Time:        c.Password.Argon2Time,
			Parallelism: c.Password.Argon2Parallelism,
			SaltLength:  c.Password.Argon2SaltLength,
			KeyLength:   c.Password.Argon2KeyLength,
		},
	}
}

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	// TOTP
	if strings.TrimSpace(c.TOTP.Issuer) == "" {
		return errors.New("TOTP Issuer must not be empty")
	}
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 10 {
		return errors.New("TOTP Digits must be between 6 and 10")
	}
	if c.TOTP.PeriodSeconds < 1 || c.TOTP.PeriodSeconds > 300 {
		return errors.New("TOTP PeriodSeconds must be between 1 and 300")
	}
	switch totp.Algorithm(strings.ToUpper(c.TOTP.Algorithm)) {
	case totp.SHA1, totp.SHA256, totp.SHA512:
	default:
		return errors.New("TOTP Algorithm must be SHA1, SHA256 or SHA512")
	}
	if c.TOTP.SkewSteps < 0 || c.TOTP.SkewSteps > 10 {
		return errors.New("TOTP SkewSteps must be between 0 and 10")
	}
	if c.TOTP.SecretBytes < 10 || c.TOTP.SecretBytes > 128 {
		return errors.New("TOTP SecretBytes must be between 10 and 128")
	}

	// Two-factor
	if c.TwoFactor.Enabled {
		if c.TwoFactor.EncryptionKey == "" {
			return errors.New("TwoFactor EncryptionKey is required when two-factor is enabled")
		}
		if _, err := envelope.ParseKey(c.TwoFactor.EncryptionKey); err != nil {
			return errors.New("TwoFactor EncryptionKey must decode to 32 bytes")
		}
		if c.TwoFactor.ChallengeTTL <= 0 || c.TwoFactor.ChallengeTTL > 15*time.Minute {
			return errors.New("TwoFactor ChallengeTTL must be in (0, 15m]")
		}
		if c.TwoFactor.ChallengeMaxAttempts < 1 || c.TwoFactor.ChallengeMaxAttempts > 10 {
			return errors.New("TwoFactor ChallengeMaxAttempts must be between 1 and 10")
		}
		if c.TwoFactor.RecoveryCodeCount < 1 || c.TwoFactor.RecoveryCodeCount > 50 {
			return errors.New("TwoFactor RecoveryCodeCount must be between 1 and 50")
		}
		if c.TwoFactor.RecoveryCodeLength < 8 || c.TwoFactor.RecoveryCodeLength > 32 {
			return errors.New("TwoFactor RecoveryCodeLength must be between 8 and 32")
		}
		if strings.TrimSpace(c.TwoFactor.DisableConfirmation) == "" {
			return errors.New("TwoFactor DisableConfirmation must not be empty")
		}
		if c.TwoFactor.ManagementMaxAttempts <= 0 {
			return errors.New("TwoFactor ManagementMaxAttempts must be > 0")
		}
		if c.TwoFactor.ManagementWindow <= 0 || c.TwoFactor.ManagementBlockDuration <= 0 {
			return errors.New("TwoFactor ManagementWindow and ManagementBlockDuration must be > 0")
		}

		// JWT
		switch c.JWT.SigningMethod {
		case "hs256":
			if len(c.JWT.PrivateKey) < 32 {
				return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
			}
		case "ed25519":
			if len(c.JWT.PrivateKey) == 0 {
				return errors.New("ed25519 requires PrivateKey")
			}
			if len(c.JWT.PublicKey) == 0 {
				return errors.New("ed25519 requires PublicKey")
			}
		default:
			return errors.New("unsupported JWT signing method")
		}
		if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
			return errors.New("JWT Leeway must be in [0, 2m]")
		}
	}

	// Rate limit
	if c.RateLimit.MaxAttempts <= 0 {
		return errors.New("RateLimit MaxAttempts must be > 0")
	}
	if c.RateLimit.Window <= 0 {
		return errors.New("RateLimit Window must be > 0")
	}
	if c.RateLimit.BlockDuration <= 0 {
		return errors.New("RateLimit BlockDuration must be > 0")
	}

	// Password
	switch strings.ToLower(c.Password.Algorithm) {
	case password.AlgorithmBcrypt, password.AlgorithmArgon2id:
	default:
		return errors.New("Password Algorithm must be bcrypt or argon2id")
	}
	if c.Password.BcryptCost < 10 || c.Password.BcryptCost > 31 {
		return errors.New("Password BcryptCost must be between 10 and 31")
	}
	if c.Password.Argon2Memory < 8*1024 {
		return errors.New("Password Argon2Memory must be >= 8192 KB")
	}
	if c.Password.Argon2Time < 1 || c.Password.Argon2Parallelism < 1 {
		return errors.New("Password Argon2Time and Argon2Parallelism must be >= 1")
	}
	if c.Password.Argon2SaltLength < 16 || c.Password.Argon2KeyLength < 16 {
		return errors.New("Password Argon2SaltLength and Argon2KeyLength must be >= 16")
	}

	// OAuth
	if len([]rune(strings.TrimSpace(c.OAuth.DefaultDisplayName))) < 2 {
		return errors.New("OAuth DefaultDisplayName must be at least 2 characters")
	}
	// 54 bytes is the largest token whose base64url form fits bcrypt's 72.
	if c.OAuth.PlaceholderTokenBytes < 16 || c.OAuth.PlaceholderTokenBytes > 54 {
		return errors.New("OAuth PlaceholderTokenBytes must be between 16 and 54")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	if c.Audit.SinkTimeout < 0 {
		return errors.New("Audit SinkTimeout must be >= 0")
	}

	return nil
}
