// Package envelope encrypts TOTP secrets at rest with AES-256-GCM.
//
// Payloads are self-describing strings of the form
//
//	v1:<iv>:<tag>:<ciphertext>
//
// where every segment is unpadded base64url. Decryption authenticates the
// whole payload before any plaintext is returned.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// Version is the only payload version produced and accepted today.
	Version = "v1"

	KeySize = 32
	IVSize  = 12
	TagSize = 16
)

var (
	ErrInvalidKeySize     = errors.New("envelope key must decode to 32 bytes")
	ErrInvalidKeyEncoding = errors.New("envelope key is neither hex nor base64")
	ErrEmptyPlaintext     = errors.New("envelope plaintext is empty")
	ErrMalformedPayload   = errors.New("malformed envelope payload")
	ErrUnsupportedVersion = errors.New("unsupported envelope version")
	ErrDecryptFailed      = errors.New("envelope authentication failed")
)

var segment = base64.RawURLEncoding

// ParseKey decodes a hex or base64 (standard or URL alphabet, padded or not)
// key and enforces the AES-256 key length.
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: key is empty", ErrInvalidKeySize)
	}

	var key []byte
	if isHex(raw) {
		decoded, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKeyEncoding, err)
		}
		key = decoded
	} else {
		decoded, err := decodeBase64(raw)
		if err != nil {
			return nil, err
		}
		key = decoded
	}

	if len(key) != KeySize {
		return nil, fmt.Errorf("%w, got %d bytes", ErrInvalidKeySize, len(key))
	}
	return key, nil
}

func isHex(s string) bool {
	if len(s)%2 != 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}

func decodeBase64(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	for _, enc := range encodings {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, ErrInvalidKeyEncoding
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w, got %d bytes", ErrInvalidKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, IVSize)
}

// Encrypt seals plaintext under key with a fresh random IV.
func Encrypt(plaintext string, key []byte) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPlaintext
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	return strings.Join([]string{
		Version,
		segment.EncodeToString(iv),
		segment.EncodeToString(tag),
		segment.EncodeToString(ct),
	}, ":"), nil
}

// Decrypt validates the payload shape, authenticates it and returns the
// plaintext. Any tampering yields ErrDecryptFailed and no plaintext.
func Decrypt(payload string, key []byte) (string, error) {
	parts := strings.Split(strings.TrimSpace(payload), ":")
	if len(parts) != 4 {
		return "", fmt.Errorf("%w: expected 4 segments, got %d", ErrMalformedPayload, len(parts))
	}
	if parts[0] != Version {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedVersion, parts[0])
	}

	iv, err := segment.DecodeString(parts[1])
	if err != nil || len(iv) != IVSize {
		return "", fmt.Errorf("%w: iv must be %d bytes", ErrMalformedPayload, IVSize)
	}
	tag, err := segment.DecodeString(parts[2])
	if err != nil || len(tag) != TagSize {
		return "", fmt.Errorf("%w: auth tag must be %d bytes", ErrMalformedPayload, TagSize)
	}
	ct, err := segment.DecodeString(parts[3])
	if err != nil || len(ct) == 0 {
		return "", fmt.Errorf("%w: ciphertext is empty or not base64url", ErrMalformedPayload)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plain, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	if len(plain) == 0 {
		return "", ErrEmptyPlaintext
	}
	return string(plain), nil
}

// Cipher binds a parsed key so callers do not pass raw key bytes around.
type Cipher struct {
	key []byte
}

// NewCipher parses raw with ParseKey.
func NewCipher(raw string) (*Cipher, error) {
	key, err := ParseKey(raw)
	if err != nil {
		return nil, err
	}
	return &Cipher{key: key}, nil
}

// NewCipherFromKey copies a 32-byte key.
func NewCipherFromKey(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w, got %d bytes", ErrInvalidKeySize, len(key))
	}
	return &Cipher{key: append([]byte(nil), key...)}, nil
}

func (c *Cipher) Encrypt(plaintext string) (string, error) {
	return Encrypt(plaintext, c.key)
}

func (c *Cipher) Decrypt(payload string) (string, error) {
	return Decrypt(payload, c.key)
}
