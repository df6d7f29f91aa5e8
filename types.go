package atlasauth

import (
	"context"
	"time"
)

// Role is the coarse authorization level stored on an account.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// UserAccount is the persisted account record. An account with a nil
// EmailVerifiedAt or a non-nil DeletedAt never authenticates.
type UserAccount struct {
	ID              string
	Email           string
	PasswordHash    string
	EmailVerifiedAt *time.Time
	DeletedAt       *time.Time
	DisplayName     string
	Role            Role
}

// LinkedIdentity ties an external provider account to a local user.
// (Provider, ProviderAccountID) is globally unique.
type LinkedIdentity struct {
	UserID            string
	Provider          string
	ProviderAccountID string
	AccessToken       string
	RefreshToken      string
	IDToken           string
	TokenType         string
	Scope             string
	ExpiresAt         *time.Time
}

// LinkOutcome reports what CreateLinkedIdentity did.
type LinkOutcome int

const (
	// LinkCreated means the row was inserted by this call.
	LinkCreated LinkOutcome = iota
	// LinkConflict means (Provider, ProviderAccountID) already existed and
	// nothing was written.
	LinkConflict
)

func (o LinkOutcome) String() string {
	switch o {
	case LinkCreated:
		return "created"
	case LinkConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// TwoFactorRecord is the per-user TOTP state. EncryptedSecret is an envelope
// payload; a record with a secret and Enabled=false is a pending setup.
type TwoFactorRecord struct {
	UserID          string
	EncryptedSecret string
	Enabled         bool
	LastUsedCounter int64
}

// RecoveryCodeRecord stores SHA-256(userID || 0x00 || canonical code).
type RecoveryCodeRecord struct {
	Hash [32]byte
}

// Challenge is a pending second-factor sign-in.
type Challenge struct {
	UserID    string
	ExpiresAt time.Time
	Attempts  int
}

// UserRepository is the account store. Lookups that match nothing return
// ErrNotFound; CreateUser returns ErrUserExists when the email is taken.
type UserRepository interface {
	FindUserByEmail(ctx context.Context, email string) (UserAccount, error)
	FindUserByID(ctx context.Context, userID string) (UserAccount, error)
	// CreateUser assigns the ID when user.ID is empty.
	CreateUser(ctx context.Context, user UserAccount) (UserAccount, error)
	MarkEmailVerified(ctx context.Context, userID string, at time.Time) error
}

// PasswordHashUpdater is implemented by user repositories that accept
// rehashed passwords after a successful sign-in.
type PasswordHashUpdater interface {
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error
}

// LinkedIdentityRepository stores provider links. CreateLinkedIdentity must
// report a duplicate (Provider, ProviderAccountID) as LinkConflict with a nil
// error; errors are reserved for an unreachable store.
type LinkedIdentityRepository interface {
	FindLinkedIdentity(ctx context.Context, provider, providerAccountID string) (LinkedIdentity, error)
	CreateLinkedIdentity(ctx context.Context, identity LinkedIdentity) (LinkOutcome, error)
}

// TwoFactorRepository stores TOTP state and recovery code hashes.
type TwoFactorRepository interface {
	GetTwoFactor(ctx context.Context, userID string) (TwoFactorRecord, error)
	// SavePendingSecret stores a secret with Enabled=false and
	// LastUsedCounter=0. It must not overwrite an enabled record and returns
	// ErrTwoFactorAlreadyEnabled instead.
	SavePendingSecret(ctx context.Context, userID, encryptedSecret string) error
	EnableTwoFactor(ctx context.Context, userID string) error
	// DisableTwoFactor removes the secret and every recovery code.
	DisableTwoFactor(ctx context.Context, userID string) error
	// UpdateLastUsedCounter stores counter only if it is greater than the
	// stored value and reports whether it did.
	UpdateLastUsedCounter(ctx context.Context, userID string, counter int64) (bool, error)
	ReplaceRecoveryCodes(ctx context.Context, userID string, codes []RecoveryCodeRecord) error
	// ConsumeRecoveryCode deletes a matching unused code and reports whether
	// this call removed it.
	ConsumeRecoveryCode(ctx context.Context, userID string, hash [32]byte) (bool, error)
	CountRecoveryCodes(ctx context.Context, userID string) (int, error)
}

// TokenGenerator returns URL-safe random tokens of byteLength random bytes.
type TokenGenerator interface {
	GenerateToken(byteLength int) (string, error)
}

// ChallengeStore keeps pending sign-in challenges. Get and RecordFailure
// return ErrChallengeInvalid for unknown ids and ErrChallengeExpired past
// ExpiresAt. Delete reports whether this call removed the record.
type ChallengeStore interface {
	Save(ctx context.Context, challengeID string, challenge Challenge, ttl time.Duration) error
	Get(ctx context.Context, challengeID string) (Challenge, error)
	RecordFailure(ctx context.Context, challengeID string, maxAttempts int) (exceeded bool, err error)
	Delete(ctx context.Context, challengeID string) (bool, error)
}

// CredentialsRequest is one email and password sign-in attempt. RateLimitKey
// is usually the client IP or the email; Now defaults to the engine clock.
type CredentialsRequest struct {
	Email        string
	Password     string
	RateLimitKey string
	Now          time.Time
}

// AuthorizedUser is handed to the session layer after a successful sign-in.
type AuthorizedUser struct {
	ID              string
	Email           string
	EmailVerifiedAt *time.Time
	Name            string
}

// OAuthSignInInput is the identity asserted by a provider after its callback.
type OAuthSignInInput struct {
	ProviderAccountID string
	Email             string
	EmailVerified     bool
	Name              string
	AccessToken       string
	RefreshToken      string
	IDToken           string
	TokenType         string
	Scope             string
	ExpiresAt         *time.Time
	Now               time.Time
}

// OAuthDenialReason explains an unsuccessful OAuth reconciliation.
type OAuthDenialReason string

const (
	OAuthMissingProviderAccountID OAuthDenialReason = "missing_provider_account_id"
	OAuthMissingEmail             OAuthDenialReason = "missing_email"
	OAuthEmailNotVerified         OAuthDenialReason = "email_not_verified"
	OAuthDeletedUser              OAuthDenialReason = "deleted_user"
	OAuthAccountConflict          OAuthDenialReason = "account_conflict"
)

// OAuthAuthorizedUser is the resolved local account of an OAuth sign-in.
type OAuthAuthorizedUser struct {
	ID              string
	Email           string
	EmailVerifiedAt *time.Time
	Name            string
	IsAdmin         bool
}

// OAuthSignInResult carries either User (OK=true) or Reason.
type OAuthSignInResult struct {
	OK     bool
	User   *OAuthAuthorizedUser
	Reason OAuthDenialReason
}

// Factor selects the second factor presented to CompleteSignIn.
type Factor string

const (
	FactorTOTP         Factor = "totp"
	FactorRecoveryCode Factor = "recovery_code"
)

// SignInResult is either an authorized User or, when two-factor is enabled,
// a ChallengeToken to redeem with CompleteSignIn. A nil *SignInResult with a
// nil error means the credentials were refused.
type SignInResult struct {
	User              *AuthorizedUser
	RequiresTwoFactor bool
	ChallengeToken    string
}

// TwoFactorSetup holds the plaintext secret and its otpauth:// URI. It is
// shown once; only the encrypted secret is stored.
type TwoFactorSetup struct {
	Secret string
	URI    string
}

// DisableTwoFactorRequest carries the proofs required to turn two-factor off.
type DisableTwoFactorRequest struct {
	UserID       string
	Password     string
	Code         string
	Confirmation string
}
