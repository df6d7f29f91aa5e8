package totp

import (
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Alphabet is the RFC 4648 base32 alphabet used for TOTP secrets.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// ErrInvalidBase32 is returned when a secret contains characters outside [Alphabet].
var ErrInvalidBase32 = errors.New("invalid base32 secret")

var rawEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// EncodeBase32 encodes b as unpadded RFC 4648 base32.
func EncodeBase32(b []byte) string {
	return rawEncoding.EncodeToString(b)
}

// DecodeBase32 decodes a secret as typed by a user or stored by an app:
// whitespace and trailing padding are ignored and lowercase is accepted.
func DecodeBase32(secret string) ([]byte, error) {
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, secret)
	cleaned := strings.ToUpper(strings.TrimRight(stripped, "="))

	// Trailing bits that do not fill a whole byte are dropped, as authenticator
	// apps do for secrets whose length is not a multiple of eight characters.
	out := make([]byte, 0, len(cleaned)*5/8)
	var buffer uint32
	var bits uint
	for i := 0; i < len(cleaned); i++ {
		idx := strings.IndexByte(Alphabet, cleaned[i])
		if idx < 0 {
			return nil, fmt.Errorf("%w: unexpected character %q at position %d", ErrInvalidBase32, cleaned[i], i)
		}
		buffer = buffer<<5 | uint32(idx)
		bits += 5
		if bits >= 8 {
			bits -= 8
			out = append(out, byte(buffer>>bits))
			buffer &= 1<<bits - 1
		}
	}
	return out, nil
}
