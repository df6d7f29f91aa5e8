package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"

	// PurposeTwoFactor is the only purpose this package issues.
	PurposeTwoFactor = "2fa"

	minHMACKeyBytes = 32
	maxLeeway       = 2 * time.Minute
)

var (
	ErrInvalidConfig = errors.New("invalid challenge token config")
	ErrInvalidToken  = errors.New("invalid challenge token")

	errUnknownKID = errors.New("unknown kid")
)

// Config controls signing and validation.
//
// For ed25519, PrivateKey may be omitted on verify-only instances. VerifyKeys
// maps kid to public key and takes precedence over PublicKey when set. Keys
// may be raw or PEM encoded.
type Config struct {
	TTL           time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte

	// Now overrides the clock; nil uses time.Now.
	Now func() time.Time
}

// Manager issues and parses challenge tokens. Keys are decoded once by
// NewManager; the Manager is immutable and safe for concurrent use.
type Manager struct {
	ttl      time.Duration
	issuer   string
	audience string
	kid      string
	now      func() time.Time

	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	byKID     map[string]any
	parser    *jwt.Parser
}

// ChallengeClaims is the payload of a challenge token.
type ChallengeClaims struct {
	UID     string `json:"uid"`
	CID     string `json:"cid"`
	Purpose string `json:"pur"`
	jwt.RegisteredClaims
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("%w: ttl must be > 0", ErrInvalidConfig)
	}
	if cfg.Leeway < 0 || cfg.Leeway > maxLeeway {
		return nil, fmt.Errorf("%w: leeway must be in [0,%s]", ErrInvalidConfig, maxLeeway)
	}

	m := &Manager{
		ttl:      cfg.TTL,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		kid:      strings.TrimSpace(cfg.KeyID),
		now:      cfg.Now,
	}
	if m.now == nil {
		m.now = time.Now
	}

	var err error
	switch cfg.SigningMethod {
	case MethodHS256:
		err = m.loadHMAC(cfg)
	case MethodEd25519:
		err = m.loadEd25519(cfg)
	default:
		err = fmt.Errorf("%w: unsupported signing method %q", ErrInvalidConfig, cfg.SigningMethod)
	}
	if err != nil {
		return nil, err
	}
	if m.kid != "" && m.byKID != nil {
		if _, ok := m.byKID[m.kid]; !ok {
			return nil, fmt.Errorf("%w: KeyID is not present in VerifyKeys", ErrInvalidConfig)
		}
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	}
	if cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(cfg.Leeway))
	}
	if m.issuer != "" {
		options = append(options, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		options = append(options, jwt.WithAudience(m.audience))
	}
	m.parser = jwt.NewParser(options...)

	return m, nil
}

func (m *Manager) loadHMAC(cfg Config) error {
	if len(cfg.PrivateKey) < minHMACKeyBytes {
		return fmt.Errorf("%w: hs256 requires a key of at least %d bytes", ErrInvalidConfig, minHMACKeyBytes)
	}
	m.method = jwt.SigningMethodHS256
	m.signKey = cfg.PrivateKey
	m.verifyKey = cfg.PrivateKey
	if len(cfg.VerifyKeys) > 0 {
		m.byKID = make(map[string]any, len(cfg.VerifyKeys))
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return fmt.Errorf("%w: verify key map contains empty kid", ErrInvalidConfig)
			}
			m.byKID[kid] = key
		}
	}
	return nil
}

func (m *Manager) loadEd25519(cfg Config) error {
	m.method = jwt.SigningMethodEdDSA
	if len(cfg.PrivateKey) > 0 {
		priv, err := parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return err
		}
		m.signKey = priv
	}
	if len(cfg.PublicKey) > 0 {
		pub, err := parseEdPublicKey(cfg.PublicKey)
		if err != nil {
			return err
		}
		m.verifyKey = pub
	}
	if len(cfg.VerifyKeys) > 0 {
		m.byKID = make(map[string]any, len(cfg.VerifyKeys))
		for kid, raw := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return fmt.Errorf("%w: verify key map contains empty kid", ErrInvalidConfig)
			}
			pub, err := parseEdPublicKey(raw)
			if err != nil {
				return fmt.Errorf("%w: verify key for kid %q: %v", ErrInvalidConfig, kid, err)
			}
			m.byKID[kid] = pub
		}
	}
	if m.verifyKey == nil && m.byKID == nil {
		return fmt.Errorf("%w: ed25519 requires a public key or verify key set", ErrInvalidConfig)
	}
	return nil
}

// TTL returns the configured token lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// IssueChallenge signs a token binding userID to challengeID.
func (m *Manager) IssueChallenge(userID, challengeID string) (string, error) {
	if userID == "" || challengeID == "" {
		return "", fmt.Errorf("%w: user and challenge ids are required", ErrInvalidToken)
	}
	if m.signKey == nil {
		return "", fmt.Errorf("%w: no signing key configured", ErrInvalidConfig)
	}

	now := m.now()
	claims := ChallengeClaims{
		UID:     userID,
		CID:     challengeID,
		Purpose: PurposeTwoFactor,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.issuer,
		},
	}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}

	token := jwt.NewWithClaims(m.method, claims)
	if m.kid != "" {
		token.Header["kid"] = m.kid
	}
	return token.SignedString(m.signKey)
}

// ParseChallenge verifies signature, expiry, issuer, audience and purpose.
// Every failure wraps ErrInvalidToken.
func (m *Manager) ParseChallenge(tokenStr string) (*ChallengeClaims, error) {
	claims := &ChallengeClaims{}
	token, err := m.parser.ParseWithClaims(tokenStr, claims, m.keyFor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Purpose != PurposeTwoFactor || claims.UID == "" || claims.CID == "" {
		return nil, fmt.Errorf("%w: wrong purpose or missing ids", ErrInvalidToken)
	}
	return claims, nil
}

// keyFor picks the verification key from the token's kid header.
func (m *Manager) keyFor(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if m.byKID != nil {
		key, ok := m.byKID[kid]
		if !ok {
			return nil, errUnknownKID
		}
		return key, nil
	}
	if m.kid != "" && kid != m.kid {
		return nil, errUnknownKID
	}
	return m.verifyKey, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ed25519 private key", ErrInvalidConfig)
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: invalid ed25519 private key type", ErrInvalidConfig)
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ed25519 public key", ErrInvalidConfig)
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: invalid ed25519 public key type", ErrInvalidConfig)
	}
	return edKey, nil
}
