package atlasauth

import "errors"

// Repository contract errors. Implementations of UserRepository,
// LinkedIdentityRepository and TwoFactorRepository report these.
var (
	// ErrNotFound is returned by repository lookups that match nothing.
	ErrNotFound = errors.New("not found")
	// ErrUserExists is returned by CreateUser when the email is taken.
	ErrUserExists = errors.New("user already exists")
)

var (
	ErrEngineNotReady         = errors.New("engine not initialized")
	ErrUserStoreUnavailable   = errors.New("user store unavailable")
	ErrRateLimiterUnavailable = errors.New("rate limiter unavailable")
	// ErrEmailNotVerified matches a *DenialError with DenialEmailNotVerified.
	ErrEmailNotVerified = errors.New("email not verified")
	ErrUserNotFound     = errors.New("user not found")
)

// Two-factor management errors.
var (
	ErrTwoFactorDisabled       = errors.New("two-factor disabled by configuration")
	ErrTwoFactorUnavailable    = errors.New("two-factor backend unavailable")
	ErrTwoFactorNotEnabled     = errors.New("two-factor not enabled")
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor already enabled")
	ErrTwoFactorNotConfigured  = errors.New("two-factor setup not started")
	ErrTwoFactorRateLimited    = errors.New("two-factor attempts rate limited")
	ErrTOTPInvalid             = errors.New("invalid totp code")
	ErrRecoveryCodeInvalid     = errors.New("invalid recovery code")
	ErrPasswordInvalid         = errors.New("invalid password")
	ErrConfirmationMismatch    = errors.New("confirmation phrase mismatch")
	ErrUnsupportedFactor       = errors.New("unsupported second factor")
)

// Sign-in challenge errors.
var (
	ErrChallengeInvalid          = errors.New("sign-in challenge invalid")
	ErrChallengeExpired          = errors.New("sign-in challenge expired")
	ErrChallengeAttemptsExceeded = errors.New("sign-in challenge attempts exceeded")
	ErrChallengeReplay           = errors.New("sign-in challenge already redeemed")
	ErrChallengeUnavailable      = errors.New("sign-in challenge backend unavailable")
)

// DenialReason names why an otherwise valid credential was refused.
type DenialReason string

const (
	DenialEmailNotVerified DenialReason = "email_not_verified"
)

// DenialError is the only authorization failure AuthorizeCredentials reports
// as an error. Use errors.Is(err, ErrEmailNotVerified) or errors.As.
type DenialError struct {
	Reason DenialReason
}

func (e *DenialError) Error() string {
	return "credentials denied: " + string(e.Reason)
}

func (e *DenialError) Is(target error) bool {
	return target == ErrEmailNotVerified && e.Reason == DenialEmailNotVerified
}
