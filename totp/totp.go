package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"strings"
	"time"
)

// Algorithm names the HMAC hash used by HOTP.
type Algorithm string

const (
	SHA1   Algorithm = "SHA1"
	SHA256 Algorithm = "SHA256"
	SHA512 Algorithm = "SHA512"
)

const (
	DefaultSecretBytes   = 20
	DefaultDigits        = 6
	DefaultPeriodSeconds = 30
	DefaultSkewSteps     = 1
	DefaultAlgorithm     = SHA1

	minSecretBytes = 10
	maxSecretBytes = 128
	minDigits      = 6
	maxDigits      = 10
	minPeriod      = 1
	maxPeriod      = 300
	maxSkewSteps   = 10
)

var (
	// ErrInvalidParameter is wrapped by every option validation failure.
	ErrInvalidParameter = errors.New("invalid totp parameter")
	// ErrUnsupportedAlgorithm is returned for hash names other than SHA1, SHA256 and SHA512.
	ErrUnsupportedAlgorithm = errors.New("unsupported totp algorithm")
)

// Options tunes code generation and verification. The zero value means
// "now, 6 digits, 30 second period, SHA1, no counter offset, skew of 1 step".
type Options struct {
	// TimestampMs is the Unix time in milliseconds. Nil uses the current time.
	TimestampMs   *int64
	Digits        int
	PeriodSeconds int
	Algorithm     Algorithm
	// CounterOffset shifts the derived counter; used only by GenerateCode.
	CounterOffset int64
	// SkewSteps is the number of periods accepted on each side of the
	// current one; used only by VerifyCode. Nil means DefaultSkewSteps.
	SkewSteps *int
}

// Result is the outcome of VerifyCode. StepOffset is nil unless Valid.
type Result struct {
	Valid      bool
	StepOffset *int
}

// At returns a pointer to t expressed as Unix milliseconds, for Options.TimestampMs.
func At(t time.Time) *int64 {
	ms := t.UnixMilli()
	return &ms
}

// Skew returns a pointer to n, for Options.SkewSteps.
func Skew(n int) *int {
	return &n
}

type resolved struct {
	timestampMs int64
	digits      int
	period      int64
	alg         Algorithm
	skew        int
}

func (o Options) resolve() (resolved, error) {
	r := resolved{
		digits: o.Digits,
		period: int64(o.PeriodSeconds),
		alg:    Algorithm(strings.ToUpper(string(o.Algorithm))),
		skew:   DefaultSkewSteps,
	}
	if o.TimestampMs != nil {
		r.timestampMs = *o.TimestampMs
	} else {
		r.timestampMs = time.Now().UnixMilli()
	}
	if r.digits == 0 {
		r.digits = DefaultDigits
	}
	if r.period == 0 {
		r.period = DefaultPeriodSeconds
	}
	if r.alg == "" {
		r.alg = DefaultAlgorithm
	}
	if o.SkewSteps != nil {
		r.skew = *o.SkewSteps
	}

	if r.timestampMs < 0 {
		return r, paramErr("timestampMs must be >= 0, got %d", r.timestampMs)
	}
	if r.digits < minDigits || r.digits > maxDigits {
		return r, paramErr("digits must be in [%d,%d], got %d", minDigits, maxDigits, r.digits)
	}
	if r.period < minPeriod || r.period > maxPeriod {
		return r, paramErr("periodSeconds must be in [%d,%d], got %d", minPeriod, maxPeriod, r.period)
	}
	if r.skew < 0 || r.skew > maxSkewSteps {
		return r, paramErr("skewSteps must be in [0,%d], got %d", maxSkewSteps, r.skew)
	}
	if _, err := hmacFunc(r.alg); err != nil {
		return r, err
	}
	return r, nil
}

func (r resolved) baseCounter() int64 {
	return r.timestampMs / 1000 / r.period
}

// ParamError describes a rejected option. It matches [ErrInvalidParameter]
// under errors.Is.
type ParamError struct {
	Msg string
}

func (e *ParamError) Error() string {
	return ErrInvalidParameter.Error() + ": " + e.Msg
}

func (e *ParamError) Unwrap() error {
	return ErrInvalidParameter
}

func paramErr(format string, args ...any) error {
	return &ParamError{Msg: fmt.Sprintf(format, args...)}
}

// GenerateSecret returns byteLength random bytes encoded as unpadded base32.
func GenerateSecret(byteLength int) (string, error) {
	if byteLength < minSecretBytes || byteLength > maxSecretBytes {
		return "", paramErr("secret byte length must be in [%d,%d], got %d", minSecretBytes, maxSecretBytes, byteLength)
	}
	raw := make([]byte, byteLength)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return EncodeBase32(raw), nil
}

// GenerateCode derives the code for the period containing opts.TimestampMs,
// shifted by opts.CounterOffset periods.
func GenerateCode(secret string, opts Options) (string, error) {
	r, err := opts.resolve()
	if err != nil {
		return "", err
	}
	key, err := DecodeBase32(secret)
	if err != nil {
		return "", err
	}
	counter := r.baseCounter() + opts.CounterOffset
	if counter < 0 {
		return "", paramErr("counter must be >= 0, got %d", counter)
	}
	return HOTP(key, uint64(counter), r.digits, r.alg)
}

// VerifyCode checks code against every counter in [base-skew, base+skew],
// earliest first, and reports the step offset of the first match.
//
// Malformed codes (non-numeric or of the wrong length) are a normal invalid
// result, not an error. Errors are reserved for invalid options or secrets.
func VerifyCode(secret, code string, opts Options) (Result, error) {
	r, err := opts.resolve()
	if err != nil {
		return Result{}, err
	}

	trimmed := strings.TrimSpace(code)
	if len(trimmed) != r.digits || !isNumeric(trimmed) {
		return Result{}, nil
	}

	key, err := DecodeBase32(secret)
	if err != nil {
		return Result{}, err
	}

	base := r.baseCounter()
	for step := -r.skew; step <= r.skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		expected, err := HOTP(key, uint64(counter), r.digits, r.alg)
		if err != nil {
			return Result{}, err
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(trimmed)) == 1 {
			offset := step
			return Result{Valid: true, StepOffset: &offset}, nil
		}
	}
	return Result{}, nil
}

// CounterAt returns the TOTP counter for the period containing t.
func CounterAt(t time.Time, periodSeconds int) int64 {
	if periodSeconds <= 0 {
		periodSeconds = DefaultPeriodSeconds
	}
	return t.UnixMilli() / 1000 / int64(periodSeconds)
}

// HOTP computes the RFC 4226 code for key and counter.
func HOTP(key []byte, counter uint64, digits int, alg Algorithm) (string, error) {
	if digits < minDigits || digits > maxDigits {
		return "", paramErr("digits must be in [%d,%d], got %d", minDigits, maxDigits, digits)
	}
	hf, err := hmacFunc(alg)
	if err != nil {
		return "", err
	}

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(hf, key)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := uint64(sum[offset]&0x7f)<<24 |
		uint64(sum[offset+1])<<16 |
		uint64(sum[offset+2])<<8 |
		uint64(sum[offset+3])

	mod := uint64(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

func hmacFunc(alg Algorithm) (func() hash.Hash, error) {
	switch Algorithm(strings.ToUpper(string(alg))) {
	case "", SHA1:
		return sha1.New, nil
	case SHA256:
		return sha256.New, nil
	case SHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
