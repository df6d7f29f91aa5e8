package atlasauth

import (
	"context"
	"errors"
	"time"

	internalflows "github.com/MrEthical07/atlasauth/internal/flows"
	"github.com/MrEthical07/atlasauth/password"
)

// maxPasswordBytes is bcrypt's input limit. The validator's max counts runes,
// so the byte length is checked separately.
const maxPasswordBytes = 72

// credentialSchema is the shape a sign-in request must have before any
// lookup happens.
type credentialSchema struct {
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required,min=8,max=72"`
}

// AuthorizeCredentials checks an email and password.
//
// Every refusal returns (nil, nil): unknown email, wrong password, malformed
// input, rate limiting and deleted accounts are indistinguishable. A correct
// password on an unverified account returns a *DenialError matching
// ErrEmailNotVerified. Other errors mean a backend could not be reached.
func (e *Engine) AuthorizeCredentials(ctx context.Context, req CredentialsRequest) (*AuthorizedUser, error) {
	user, err := internalflows.RunAuthorizeCredentials(ctx, internalflows.CredentialInput{
		Email:        req.Email,
		Password:     req.Password,
		RateLimitKey: req.RateLimitKey,
		Now:          req.Now,
	}, e.credentialFlowDeps())
	if err != nil {
		if errors.Is(err, ErrEmailNotVerified) {
			return nil, &DenialError{Reason: DenialEmailNotVerified}
		}
		return nil, err
	}
	if user == nil {
		return nil, nil
	}
	return toAuthorizedUser(*user), nil
}

// SignIn runs AuthorizeCredentials and, when the user has two-factor
// enabled, opens a challenge instead of returning the user.
//
// A nil result with a nil error means the credentials were refused.
func (e *Engine) SignIn(ctx context.Context, req CredentialsRequest) (*SignInResult, error) {
	user, err := internalflows.RunAuthorizeCredentials(ctx, internalflows.CredentialInput{
		Email:        req.Email,
		Password:     req.Password,
		RateLimitKey: req.RateLimitKey,
		Now:          req.Now,
	}, e.credentialFlowDeps())
	if err != nil {
		if errors.Is(err, ErrEmailNotVerified) {
			return nil, &DenialError{Reason: DenialEmailNotVerified}
		}
		return nil, err
	}
	if user == nil {
		return nil, nil
	}
	if e == nil || !e.config.TwoFactor.Enabled {
		return &SignInResult{User: toAuthorizedUser(*user)}, nil
	}

	outcome, err := internalflows.RunSignIn(ctx, *user, e.twoFactorFlowDeps())
	if err != nil {
		return nil, err
	}
	if outcome.RequiresTwoFactor {
		return &SignInResult{RequiresTwoFactor: true, ChallengeToken: outcome.ChallengeToken}, nil
	}
	return &SignInResult{User: toAuthorizedUser(*outcome.User)}, nil
}

func (e *Engine) validateCredentials(email, pw string) error {
	if e == nil || e.validate == nil {
		return ErrEngineNotReady
	}
	if len(pw) > maxPasswordBytes {
		return password.ErrPasswordTooLong
	}
	return e.validate.Struct(credentialSchema{Email: email, Password: pw})
}

func (e *Engine) credentialFlowDeps() internalflows.CredentialDeps {
	deps := internalflows.CredentialDeps{
		IsNotFound: isNotFound,
		ObserveVerify: func(id int, d time.Duration) {
			e.metricObserve(MetricID(id), d)
		},
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Metrics: internalflows.CredentialMetrics{
			Success:          int(MetricSignInSuccess),
			Failure:          int(MetricSignInFailure),
			RateLimited:      int(MetricSignInRateLimited),
			EmailNotVerified: int(MetricSignInEmailNotVerified),
			PasswordVerify:   int(MetricPasswordVerifyLatency),
		},
		Events: internalflows.CredentialEvents{
			Success:     auditEventSignInSuccess,
			Failure:     auditEventSignInFailure,
			RateLimited: auditEventSignInRateLimited,
		},
		Errors: internalflows.CredentialErrors{
			EngineNotReady:         ErrEngineNotReady,
			EmailNotVerified:       ErrEmailNotVerified,
			UserStoreUnavailable:   ErrUserStoreUnavailable,
			RateLimiterUnavailable: ErrRateLimiterUnavailable,
		},
	}
	if e == nil {
		return deps
	}

	deps.Now = e.now
	deps.ValidateInput = e.validateCredentials
	if e.users != nil {
		deps.FindUserByEmail = func(ctx context.Context, email string) (internalflows.CredentialUser, error) {
			user, err := e.users.FindUserByEmail(ctx, email)
			if err != nil {
				return internalflows.CredentialUser{}, err
			}
			return toFlowUser(user), nil
		}
	}
	if e.passwords != nil {
		deps.VerifyPassword = e.passwords.Verify
	}
	if e.signInLimiter != nil {
		deps.IsLimited = e.signInLimiter.IsLimited
		deps.RecordFailure = e.signInLimiter.RecordFailure
		deps.Clear = e.signInLimiter.Clear
	}
	if updater, ok := e.users.(PasswordHashUpdater); ok && e.config.Password.UpgradeOnLogin {
		deps.AfterSuccess = func(ctx context.Context, user internalflows.CredentialUser, plain string) {
			e.upgradePasswordHash(ctx, updater, user, plain)
		}
	}

	return deps
}

// upgradePasswordHash rehashes with the active algorithm. Failures leave the
// old hash in place; it still verifies.
func (e *Engine) upgradePasswordHash(ctx context.Context, updater PasswordHashUpdater, user internalflows.CredentialUser, plain string) {
	stale, err := e.passwords.NeedsRehash(user.PasswordHash)
	if err != nil || !stale {
		return
	}
	hash, err := e.passwords.Hash(plain)
	if err != nil {
		return
	}
	if err := updater.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return
	}
	e.metricInc(MetricPasswordRehashed)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func toFlowUser(user UserAccount) internalflows.CredentialUser {
	return internalflows.CredentialUser{
		ID:              user.ID,
		Email:           user.Email,
		PasswordHash:    user.PasswordHash,
		DisplayName:     user.DisplayName,
		Role:            string(user.Role),
		EmailVerifiedAt: user.EmailVerifiedAt,
		DeletedAt:       user.DeletedAt,
	}
}

func fromFlowUser(user internalflows.CredentialUser) UserAccount {
	return UserAccount{
		ID:              user.ID,
		Email:           user.Email,
		PasswordHash:    user.PasswordHash,
		DisplayName:     user.DisplayName,
		Role:            Role(user.Role),
		EmailVerifiedAt: user.EmailVerifiedAt,
		DeletedAt:       user.DeletedAt,
	}
}

func toAuthorizedUser(user internalflows.CredentialUser) *AuthorizedUser {
	return &AuthorizedUser{
		ID:              user.ID,
		Email:           user.Email,
		EmailVerifiedAt: user.EmailVerifiedAt,
		Name:            user.DisplayName,
	}
}
