package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

const (
	challengeIDSize = 16
	maxTokenBytes   = 1024
)

// NewChallengeID returns 16 random bytes as unpadded base64url.
func NewChallengeID() (string, error) {
	var id [challengeIDSize]byte
	if _, err := rand.Read(id[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(id[:]), nil
}

// NewToken returns byteLength random bytes as unpadded base64url.
func NewToken(byteLength int) (string, error) {
	if byteLength <= 0 || byteLength > maxTokenBytes {
		return "", errors.New("invalid token length")
	}
	raw := make([]byte, byteLength)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
