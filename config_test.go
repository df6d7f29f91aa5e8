package atlasauth

import (
	"strings"
	"testing"
	"time"
)

func validTestConfig() Config {
	cfg := DefaultConfig()
	cfg.TwoFactor.EncryptionKey = strings.Repeat("ab", 32)
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	return cfg
}

func TestDefaultConfigNeedsKeys(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected defaults without keys to be rejected")
	}

	cfg = validTestConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{"totp sha256", func(c *Config) { c.TOTP.Algorithm = "sha256" }, true},
		{"totp md5", func(c *Config) { c.TOTP.Algorithm = "MD5" }, false},
		{"totp five digits", func(c *Config) { c.TOTP.Digits = 5 }, false},
		{"totp eight digits", func(c *Config) { c.TOTP.Digits = 8 }, true},
		{"totp zero period", func(c *Config) { c.TOTP.PeriodSeconds = 0 }, false},
		{"totp negative skew", func(c *Config) { c.TOTP.SkewSteps = -1 }, false},
		{"totp short secret", func(c *Config) { c.TOTP.SecretBytes = 8 }, false},
		{"totp blank issuer", func(c *Config) { c.TOTP.Issuer = "  " }, false},
		{"two-factor key too short", func(c *Config) { c.TwoFactor.EncryptionKey = "abcd" }, false},
		{"two-factor key base64", func(c *Config) { c.TwoFactor.EncryptionKey = "AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8=" }, true},
		{"two-factor missing key", func(c *Config) { c.TwoFactor.EncryptionKey = "" }, false},
		{"two-factor disabled without keys", func(c *Config) {
			c.TwoFactor.Enabled = false
			c.TwoFactor.EncryptionKey = ""
			c.JWT.PrivateKey = nil
		}, true},
		{"challenge ttl too long", func(c *Config) { c.TwoFactor.ChallengeTTL = time.Hour }, false},
		{"challenge attempts zero", func(c *Config) { c.TwoFactor.ChallengeMaxAttempts = 0 }, false},
		{"recovery code too short", func(c *Config) { c.TwoFactor.RecoveryCodeLength = 6 }, false},
		{"blank confirmation", func(c *Config) { c.TwoFactor.DisableConfirmation = " " }, false},
		{"management window zero", func(c *Config) { c.TwoFactor.ManagementWindow = 0 }, false},
		{"jwt short hmac key", func(c *Config) { c.JWT.PrivateKey = []byte("short") }, false},
		{"jwt rs256", func(c *Config) { c.JWT.SigningMethod = "rs256" }, false},
		{"jwt ed25519 without public key", func(c *Config) { c.JWT.SigningMethod = "ed25519" }, false},
		{"jwt leeway 45s", func(c *Config) { c.JWT.Leeway = 45 * time.Second }, true},
		{"jwt leeway 3m", func(c *Config) { c.JWT.Leeway = 3 * time.Minute }, false},
		{"rate limit zero attempts", func(c *Config) { c.RateLimit.MaxAttempts = 0 }, false},
		{"rate limit zero window", func(c *Config) { c.RateLimit.Window = 0 }, false},
		{"password argon2id", func(c *Config) { c.Password.Algorithm = "argon2id" }, true},
		{"password scrypt", func(c *Config) { c.Password.Algorithm = "scrypt" }, false},
		{"bcrypt cost 9", func(c *Config) { c.Password.BcryptCost = 9 }, false},
		{"argon2 memory too low", func(c *Config) { c.Password.Argon2Memory = 1024 }, false},
		{"oauth one-letter display name", func(c *Config) { c.OAuth.DefaultDisplayName = "A" }, false},
		{"oauth placeholder too small", func(c *Config) { c.OAuth.PlaceholderTokenBytes = 8 }, false},
		{"oauth placeholder at bcrypt limit", func(c *Config) { c.OAuth.PlaceholderTokenBytes = 54 }, true},
		{"oauth placeholder past bcrypt limit", func(c *Config) { c.OAuth.PlaceholderTokenBytes = 55 }, false},
		{"audit enabled zero buffer", func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.BufferSize = 0
		}, false},
		{"audit negative timeout", func(c *Config) { c.Audit.SinkTimeout = -time.Second }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.wantValid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("ATLASAUTH_TWO_FACTOR_ENCRYPTION_KEY", strings.Repeat("0f", 32))
	t.Setenv("ATLASAUTH_JWT_PRIVATE_KEY", "0123456789abcdef0123456789abcdef")
	t.Setenv("ATLASAUTH_TOTP_ISSUER", "Example Corp")
	t.Setenv("ATLASAUTH_TOTP_DIGITS", "8")
	t.Setenv("ATLASAUTH_RATE_LIMIT_WINDOW", "2m")
	t.Setenv("ATLASAUTH_TWO_FACTOR_CHALLENGE_TTL", "90s")
	t.Setenv("ATLASAUTH_AUDIT_ENABLED", "true")
	t.Setenv("ATLASAUTH_PASSWORD_UPGRADE_ON_LOGIN", "false")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv failed: %v", err)
	}
	if cfg.TOTP.Issuer != "Example Corp" || cfg.TOTP.Digits != 8 {
		t.Fatalf("unexpected TOTP config %+v", cfg.TOTP)
	}
	if cfg.RateLimit.Window != 2*time.Minute || cfg.TwoFactor.ChallengeTTL != 90*time.Second {
		t.Fatalf("durations not parsed: %v %v", cfg.RateLimit.Window, cfg.TwoFactor.ChallengeTTL)
	}
	if string(cfg.JWT.PrivateKey) != "0123456789abcdef0123456789abcdef" {
		t.Fatalf("unexpected JWT key %q", cfg.JWT.PrivateKey)
	}
	if !cfg.Audit.Enabled || cfg.Password.UpgradeOnLogin {
		t.Fatal("booleans not parsed")
	}

	// Unset variables keep their defaults.
	if cfg.TwoFactor.RecoveryCodeCount != 10 || cfg.Password.BcryptCost != 12 {
		t.Fatalf("defaults lost: %+v", cfg.TwoFactor)
	}
}

func TestLoadConfigFromEnvRejectsInvalid(t *testing.T) {
	t.Setenv("ATLASAUTH_TWO_FACTOR_ENABLED", "false")
	t.Setenv("ATLASAUTH_RATE_LIMIT_MAX_ATTEMPTS", "0")

	if _, err := LoadConfigFromEnv(); err == nil || !strings.Contains(err.Error(), "validate config") {
		t.Fatalf("expected validation error, got %v", err)
	}

	t.Setenv("ATLASAUTH_RATE_LIMIT_MAX_ATTEMPTS", "many")
	if _, err := LoadConfigFromEnv(); err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestCloneConfigCopiesKeys(t *testing.T) {
	cfg := validTestConfig()
	clone := cloneConfig(cfg)
	clone.JWT.PrivateKey[0] = 'X'
	if cfg.JWT.PrivateKey[0] == 'X' {
		t.Fatal("cloneConfig must copy key bytes")
	}
}
