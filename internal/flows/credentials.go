package flows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/atlasauth/policy"
	"github.com/MrEthical07/atlasauth/ratelimit"
)

// CredentialUser is the flow-local account model used by credential and
// two-factor flows.
type CredentialUser struct {
	ID              string
	Email           string
	PasswordHash    string
	DisplayName     string
	Role            string
	EmailVerifiedAt *time.Time
	DeletedAt       *time.Time
}

func (u CredentialUser) account() policy.Account {
	return policy.Account{EmailVerifiedAt: u.EmailVerifiedAt, DeletedAt: u.DeletedAt}
}

// CredentialInput is one primary sign-in attempt.
type CredentialInput struct {
	Email        string
	Password     string
	RateLimitKey string
	Now          time.Time
}

type CredentialMetrics struct {
	Success          int
	Failure          int
	RateLimited      int
	EmailNotVerified int
	PasswordVerify   int
}

type CredentialEvents struct {
	Success     string
	Failure     string
	RateLimited string
}

type CredentialErrors struct {
	EngineNotReady         error
	EmailNotVerified       error
	UserStoreUnavailable   error
	RateLimiterUnavailable error
}

// CredentialDeps captures primary sign-in dependencies.
type CredentialDeps struct {
	Now func() time.Time

	ValidateInput   func(email, password string) error
	FindUserByEmail func(context.Context, string) (CredentialUser, error)
	IsNotFound      func(error) bool

	VerifyPassword func(plain, hash string) (bool, error)
	ObserveVerify  func(int, time.Duration)

	IsLimited     func(context.Context, string, time.Time) (bool, error)
	RecordFailure func(context.Context, string, time.Time) error
	Clear         func(context.Context, string) error

	// AfterSuccess runs once the account is authorized; failures are ignored.
	AfterSuccess func(context.Context, CredentialUser, string)

	MetricInc func(int)
	EmitAudit EmitAuditFunc

	Metrics CredentialMetrics
	Events  CredentialEvents
	Errors  CredentialErrors
}

func normalizeCredentialDeps(deps *CredentialDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.IsNotFound == nil {
		deps.IsNotFound = matchNone
	}
	if deps.ObserveVerify == nil {
		deps.ObserveVerify = func(int, time.Duration) {}
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetricInc
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopEmitAudit
	}
}

// RunAuthorizeCredentials checks an email and password pair.
//
// Every authorization failure returns (nil, nil) after recording a failure
// against the rate-limit key, so callers cannot tell an unknown email from a
// wrong password. The single exception is a correct password on an account
// whose email is not verified yet, which returns Errors.EmailNotVerified.
// Errors are otherwise reserved for unreachable backends.
func RunAuthorizeCredentials(ctx context.Context, in CredentialInput, deps CredentialDeps) (*CredentialUser, error) {
	normalizeCredentialDeps(&deps)

	if deps.ValidateInput == nil ||
		deps.FindUserByEmail == nil ||
		deps.VerifyPassword == nil ||
		deps.IsLimited == nil ||
		deps.RecordFailure == nil ||
		deps.Clear == nil {
		return nil, deps.Errors.EngineNotReady
	}

	now := in.Now
	if now.IsZero() {
		now = deps.Now()
	}
	key := ratelimit.NormalizeKey(in.RateLimitKey)

	limited, err := deps.IsLimited(ctx, key, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.RateLimiterUnavailable, err)
	}
	if limited {
		deps.MetricInc(deps.Metrics.RateLimited)
		deps.EmitAudit(ctx, deps.Events.RateLimited, false, "", nil, func() map[string]string {
			return map[string]string{"key": key}
		})
		return nil, nil
	}

	deny := func(userID, reason string) (*CredentialUser, error) {
		if err := deps.RecordFailure(ctx, key, now); err != nil {
			return nil, fmt.Errorf("%w: %v", deps.Errors.RateLimiterUnavailable, err)
		}
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, userID, nil, func() map[string]string {
			return map[string]string{"key": key, "reason": reason}
		})
		return nil, nil
	}

	if err := deps.ValidateInput(in.Email, in.Password); err != nil {
		return deny("", "invalid_input")
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	user, err := deps.FindUserByEmail(ctx, email)
	if err != nil {
		if deps.IsNotFound(err) {
			return deny("", "user_not_found")
		}
		return nil, fmt.Errorf("%w: %v", deps.Errors.UserStoreUnavailable, err)
	}

	started := time.Now()
	ok, err := deps.VerifyPassword(in.Password, user.PasswordHash)
	deps.ObserveVerify(deps.Metrics.PasswordVerify, time.Since(started))
	if err != nil || !ok {
		return deny(user.ID, "password_mismatch")
	}

	if !policy.CanLogin(user.account()) {
		if user.DeletedAt == nil {
			if err := deps.RecordFailure(ctx, key, now); err != nil {
				return nil, fmt.Errorf("%w: %v", deps.Errors.RateLimiterUnavailable, err)
			}
			deps.MetricInc(deps.Metrics.EmailNotVerified)
			deps.EmitAudit(ctx, deps.Events.Failure, false, user.ID, deps.Errors.EmailNotVerified, func() map[string]string {
				return map[string]string{"key": key, "reason": "email_not_verified"}
			})
			return nil, deps.Errors.EmailNotVerified
		}
		return deny(user.ID, "account_deleted")
	}

	if err := deps.Clear(ctx, key); err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.RateLimiterUnavailable, err)
	}
	if deps.AfterSuccess != nil {
		deps.AfterSuccess(ctx, user, in.Password)
	}

	deps.MetricInc(deps.Metrics.Success)
	deps.EmitAudit(ctx, deps.Events.Success, true, user.ID, nil, nil)
	return &user, nil
}
