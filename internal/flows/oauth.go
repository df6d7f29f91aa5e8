package flows

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// OAuth denial reasons, mirrored by the root package.
const (
	OAuthMissingProviderAccountID = "missing_provider_account_id"
	OAuthMissingEmail             = "missing_email"
	OAuthEmailNotVerified         = "email_not_verified"
	OAuthDeletedUser              = "deleted_user"
	OAuthAccountConflict          = "account_conflict"

	minDisplayNameLen  = 2
	placeholderTokenSz = 32
)

// OAuthLink is the flow-local linked identity record.
type OAuthLink struct {
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

// OAuthInput is the provider assertion handed over after the OAuth callback.
type OAuthInput struct {
	Provider          string
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

// OAuthResult is either a resolved user or a denial reason.
type OAuthResult struct {
	User   *CredentialUser
	Reason string
}

type OAuthMetrics struct {
	Success     int
	Denied      int
	UserCreated int
	Linked      int
	Conflict    int
}

type OAuthEvents struct {
	Success     string
	Denied      string
	UserCreated string
	Linked      string
}

type OAuthErrors struct {
	EngineNotReady       error
	UserStoreUnavailable error
}

// OAuthDeps captures OAuth reconciliation dependencies.
type OAuthDeps struct {
	DefaultDisplayName string
	PlaceholderBytes   int

	Now func() time.Time

	FindLink        func(ctx context.Context, provider, providerAccountID string) (OAuthLink, error)
	CreateLink      func(context.Context, OAuthLink) (created bool, err error)
	FindUserByID    func(context.Context, string) (CredentialUser, error)
	FindUserByEmail func(context.Context, string) (CredentialUser, error)
	CreateUser      func(context.Context, CredentialUser) (CredentialUser, error)
	MarkVerified    func(ctx context.Context, userID string, at time.Time) error
	IsNotFound      func(error) bool
	IsUserExists    func(error) bool

	GenerateToken func(int) (string, error)
	HashPassword  func(string) (string, error)

	MetricInc func(int)
	EmitAudit EmitAuditFunc

	Metrics OAuthMetrics
	Events  OAuthEvents
	Errors  OAuthErrors
}

func normalizeOAuthDeps(deps *OAuthDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.DefaultDisplayName == "" {
		deps.DefaultDisplayName = "Atlas User"
	}
	if deps.PlaceholderBytes <= 0 {
		deps.PlaceholderBytes = placeholderTokenSz
	}
	if deps.IsNotFound == nil {
		deps.IsNotFound = matchNone
	}
	if deps.IsUserExists == nil {
		deps.IsUserExists = matchNone
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetricInc
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopEmitAudit
	}
}

// RunResolveOAuthSignIn maps a provider identity onto a local account,
// creating the account and the link when needed.
//
// Policy denials come back as OAuthResult.Reason with a nil error. Errors are
// returned only when a store could not be reached.
func RunResolveOAuthSignIn(ctx context.Context, in OAuthInput, deps OAuthDeps) (OAuthResult, error) {
	normalizeOAuthDeps(&deps)

	if deps.FindLink == nil ||
		deps.CreateLink == nil ||
		deps.FindUserByID == nil ||
		deps.FindUserByEmail == nil ||
		deps.CreateUser == nil ||
		deps.MarkVerified == nil ||
		deps.GenerateToken == nil ||
		deps.HashPassword == nil {
		return OAuthResult{}, deps.Errors.EngineNotReady
	}

	now := in.Now
	if now.IsZero() {
		now = deps.Now()
	}
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	providerAccountID := strings.TrimSpace(in.ProviderAccountID)

	deny := func(userID, reason string) (OAuthResult, error) {
		deps.MetricInc(deps.Metrics.Denied)
		deps.EmitAudit(ctx, deps.Events.Denied, false, userID, nil, func() map[string]string {
			return map[string]string{"provider": provider, "reason": reason}
		})
		return OAuthResult{Reason: reason}, nil
	}
	unavailable := func(err error) (OAuthResult, error) {
		return OAuthResult{}, fmt.Errorf("%w: %v", deps.Errors.UserStoreUnavailable, err)
	}

	if providerAccountID == "" {
		return deny("", OAuthMissingProviderAccountID)
	}

	link, err := deps.FindLink(ctx, provider, providerAccountID)
	switch {
	case err == nil:
		owner, err := deps.FindUserByID(ctx, link.UserID)
		if err != nil {
			if deps.IsNotFound(err) {
				return deny(link.UserID, OAuthDeletedUser)
			}
			return unavailable(err)
		}
		if owner.DeletedAt != nil {
			return deny(owner.ID, OAuthDeletedUser)
		}
		if owner.EmailVerifiedAt == nil || owner.EmailVerifiedAt.IsZero() {
			return deny(owner.ID, OAuthEmailNotVerified)
		}
		return succeed(ctx, owner, provider, deps), nil
	case !deps.IsNotFound(err):
		return unavailable(err)
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" {
		return deny("", OAuthMissingEmail)
	}
	if !in.EmailVerified {
		return deny("", OAuthEmailNotVerified)
	}

	user, err := deps.FindUserByEmail(ctx, email)
	switch {
	case err == nil:
	case deps.IsNotFound(err):
		user, err = createOAuthUser(ctx, email, in.Name, now, deps)
		if err != nil {
			if !deps.IsUserExists(err) {
				return unavailable(err)
			}
			// Lost a race on the email; continue with whoever won it.
			user, err = deps.FindUserByEmail(ctx, email)
			if err != nil {
				return unavailable(err)
			}
		}
	default:
		return unavailable(err)
	}

	if user.DeletedAt != nil {
		return deny(user.ID, OAuthDeletedUser)
	}
	if user.EmailVerifiedAt == nil || user.EmailVerifiedAt.IsZero() {
		if err := deps.MarkVerified(ctx, user.ID, now); err != nil {
			return unavailable(err)
		}
		stamped := now
		user.EmailVerifiedAt = &stamped
	}

	created, err := deps.CreateLink(ctx, OAuthLink{
		UserID:            user.ID,
		Provider:          provider,
		ProviderAccountID: providerAccountID,
		AccessToken:       in.AccessToken,
		RefreshToken:      in.RefreshToken,
		IDToken:           in.IDToken,
		TokenType:         in.TokenType,
		Scope:             in.Scope,
		ExpiresAt:         in.ExpiresAt,
	})
	if err != nil {
		return unavailable(err)
	}
	if !created {
		deps.MetricInc(deps.Metrics.Conflict)
		existing, err := deps.FindLink(ctx, provider, providerAccountID)
		if err != nil {
			if deps.IsNotFound(err) {
				return deny(user.ID, OAuthAccountConflict)
			}
			return unavailable(err)
		}
		if existing.UserID != user.ID {
			return deny(user.ID, OAuthAccountConflict)
		}
	} else {
		deps.MetricInc(deps.Metrics.Linked)
		deps.EmitAudit(ctx, deps.Events.Linked, true, user.ID, nil, func() map[string]string {
			return map[string]string{"provider": provider}
		})
	}

	return succeed(ctx, user, provider, deps), nil
}

func succeed(ctx context.Context, user CredentialUser, provider string, deps OAuthDeps) OAuthResult {
	deps.MetricInc(deps.Metrics.Success)
	deps.EmitAudit(ctx, deps.Events.Success, true, user.ID, nil, func() map[string]string {
		return map[string]string{"provider": provider}
	})
	return OAuthResult{User: &user}
}

func createOAuthUser(ctx context.Context, email, name string, now time.Time, deps OAuthDeps) (CredentialUser, error) {
	token, err := deps.GenerateToken(deps.PlaceholderBytes)
	if err != nil {
		return CredentialUser{}, err
	}
	hash, err := deps.HashPassword(token)
	if err != nil {
		return CredentialUser{}, err
	}

	verified := now
	user, err := deps.CreateUser(ctx, CredentialUser{
		Email:           email,
		PasswordHash:    hash,
		DisplayName:     DisplayNameFor(name, email, deps.DefaultDisplayName),
		EmailVerifiedAt: &verified,
	})
	if err != nil {
		return CredentialUser{}, err
	}

	deps.MetricInc(deps.Metrics.UserCreated)
	deps.EmitAudit(ctx, deps.Events.UserCreated, true, user.ID, nil, nil)
	return user, nil
}

// DisplayNameFor picks the provider name, then the email local part, then
// fallback, taking the first that trims to at least two characters.
func DisplayNameFor(name, email, fallback string) string {
	if trimmed := strings.TrimSpace(name); len([]rune(trimmed)) >= minDisplayNameLen {
		return trimmed
	}
	local := email
	if at := strings.IndexByte(email, '@'); at >= 0 {
		local = email[:at]
	}
	if trimmed := strings.TrimSpace(local); len([]rune(trimmed)) >= minDisplayNameLen {
		return trimmed
	}
	return fallback
}
