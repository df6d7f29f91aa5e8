package password

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func testConfig(alg string) Config {
	return Config{
		Algorithm:  alg,
		BcryptCost: bcrypt.MinCost,
		Argon2:     fastArgon2Config(),
	}
}

func TestNewSelectsActiveAlgorithm(t *testing.T) {
	cases := map[string]string{
		"":         "$2a$",
		"bcrypt":   "$2a$",
		"ARGON2ID": "$argon2id$",
	}
	for alg, prefix := range cases {
		m, err := New(testConfig(alg))
		if err != nil {
			t.Fatalf("%q: New error: %v", alg, err)
		}
		hash, err := m.Hash("password123")
		if err != nil {
			t.Fatalf("%q: Hash error: %v", alg, err)
		}
		if hash[:len(prefix)] != prefix {
			t.Fatalf("%q: expected prefix %s, got %s", alg, prefix, hash)
		}
	}

	if _, err := New(testConfig("scrypt")); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Fatalf("expected ErrUnsupportedAlgorithm, got %v", err)
	}
}

func TestMultiVerifiesBothAlgorithms(t *testing.T) {
	bcryptActive, err := New(testConfig(AlgorithmBcrypt))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	argonActive, err := New(testConfig(AlgorithmArgon2id))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	bh, _ := bcryptActive.Hash("password123")
	ah, _ := argonActive.Hash("password123")

	for _, m := range []*Multi{bcryptActive, argonActive} {
		for _, h := range []string{bh, ah} {
			if ok, err := m.Verify("password123", h); err != nil || !ok {
				t.Fatalf("expected %s to verify, ok=%v err=%v", h, ok, err)
			}
			if ok, err := m.Verify("password124", h); err != nil || ok {
				t.Fatalf("expected %s to mismatch, ok=%v err=%v", h, ok, err)
			}
		}
	}

	if _, err := bcryptActive.Verify("password123", "plaintext"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
}

func TestMultiNeedsRehash(t *testing.T) {
	bcryptActive, _ := New(testConfig(AlgorithmBcrypt))
	argonActive, _ := New(testConfig(AlgorithmArgon2id))

	bh, _ := bcryptActive.Hash("password123")
	ah, _ := argonActive.Hash("password123")

	checks := []struct {
		m    *Multi
		hash string
		want bool
	}{
		{bcryptActive, bh, false},
		{bcryptActive, ah, true},
		{argonActive, ah, false},
		{argonActive, bh, true},
	}
	for i, c := range checks {
		got, err := c.m.NeedsRehash(c.hash)
		if err != nil {
			t.Fatalf("case %d: NeedsRehash error: %v", i, err)
		}
		if got != c.want {
			t.Fatalf("case %d: expected %v, got %v", i, c.want, got)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Algorithm != AlgorithmBcrypt || cfg.BcryptCost != 12 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if _, err := New(cfg); err != nil {
		t.Fatalf("default config should build: %v", err)
	}
}
