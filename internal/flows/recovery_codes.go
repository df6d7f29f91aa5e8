package flows

import (
	"crypto/rand"
	"crypto/sha256"
	"math/big"
	"strings"
)

// RecoveryCodeAlphabet leaves out I, O, 0 and 1 so codes survive being read aloud.
const RecoveryCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewRecoveryCodes returns count display-formatted codes and their hashes
// bound to userID, in matching order.
func NewRecoveryCodes(userID string, count, length int, randomIndex func(int) (int, error)) ([]string, [][32]byte, error) {
	codes := make([]string, 0, count)
	hashes := make([][32]byte, 0, count)
	for i := 0; i < count; i++ {
		raw, err := NewRecoveryCode(length, randomIndex)
		if err != nil {
			return nil, nil, err
		}
		codes = append(codes, FormatRecoveryCode(raw))
		hashes = append(hashes, RecoveryCodeHash(userID, raw))
	}
	return codes, hashes, nil
}

func NewRecoveryCode(length int, randomIndex func(int) (int, error)) (string, error) {
	if randomIndex == nil {
		randomIndex = cryptoRandomIndex
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := randomIndex(len(RecoveryCodeAlphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(RecoveryCodeAlphabet[n])
	}
	return b.String(), nil
}

// FormatRecoveryCode splits codes of eight or more characters in half with a dash.
func FormatRecoveryCode(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

func CanonicalizeRecoveryCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// RecoveryCodeHash is sha256(userID || 0x00 || canonical code).
func RecoveryCodeHash(userID, canonicalCode string) [32]byte {
	data := make([]byte, 0, len(userID)+1+len(canonicalCode))
	data = append(data, userID...)
	data = append(data, 0)
	data = append(data, canonicalCode...)
	return sha256.Sum256(data)
}

func cryptoRandomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
