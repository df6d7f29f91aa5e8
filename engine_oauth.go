package atlasauth

import (
	"context"
	"errors"

	internalflows "github.com/MrEthical07/atlasauth/internal/flows"
)

// ProviderGoogle is the provider name recorded on Google links.
const ProviderGoogle = "google"

// ResolveGoogleOAuthSignIn reconciles a Google identity with a local account.
func (e *Engine) ResolveGoogleOAuthSignIn(ctx context.Context, in OAuthSignInInput) (OAuthSignInResult, error) {
	return e.ResolveOAuthSignIn(ctx, ProviderGoogle, in)
}

// ResolveOAuthSignIn maps a provider identity onto a local account.
//
// An existing link wins. Otherwise a verified provider email is matched
// against local accounts, creating one with a random placeholder password
// when none exists, and the link is recorded. Policy denials are reported in
// the result with a nil error.
func (e *Engine) ResolveOAuthSignIn(ctx context.Context, provider string, in OAuthSignInInput) (OAuthSignInResult, error) {
	result, err := internalflows.RunResolveOAuthSignIn(ctx, internalflows.OAuthInput{
		Provider:          provider,
		ProviderAccountID: in.ProviderAccountID,
		Email:             in.Email,
		EmailVerified:     in.EmailVerified,
		Name:              in.Name,
		AccessToken:       in.AccessToken,
		RefreshToken:      in.RefreshToken,
		IDToken:           in.IDToken,
		TokenType:         in.TokenType,
		Scope:             in.Scope,
		ExpiresAt:         in.ExpiresAt,
		Now:               in.Now,
	}, e.oauthFlowDeps())
	if err != nil {
		return OAuthSignInResult{}, err
	}
	if result.User == nil {
		return OAuthSignInResult{Reason: OAuthDenialReason(result.Reason)}, nil
	}

	user := result.User
	return OAuthSignInResult{
		OK: true,
		User: &OAuthAuthorizedUser{
			ID:              user.ID,
			Email:           user.Email,
			EmailVerifiedAt: user.EmailVerifiedAt,
			Name:            user.DisplayName,
			IsAdmin:         Role(user.Role) == RoleAdmin,
		},
	}, nil
}

func (e *Engine) oauthFlowDeps() internalflows.OAuthDeps {
	deps := internalflows.OAuthDeps{
		IsNotFound: isNotFound,
		IsUserExists: func(err error) bool {
			return errors.Is(err, ErrUserExists)
		},
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Metrics: internalflows.OAuthMetrics{
			Success:     int(MetricOAuthSuccess),
			Denied:      int(MetricOAuthDenied),
			UserCreated: int(MetricOAuthUserCreated),
			Linked:      int(MetricOAuthLinked),
			Conflict:    int(MetricOAuthLinkConflict),
		},
		Events: internalflows.OAuthEvents{
			Success:     auditEventOAuthSuccess,
			Denied:      auditEventOAuthDenied,
			UserCreated: auditEventOAuthUserCreated,
			Linked:      auditEventOAuthLinked,
		},
		Errors: internalflows.OAuthErrors{
			EngineNotReady:       ErrEngineNotReady,
			UserStoreUnavailable: ErrUserStoreUnavailable,
		},
	}
	if e == nil {
		return deps
	}

	deps.DefaultDisplayName = e.config.OAuth.DefaultDisplayName
	deps.PlaceholderBytes = e.config.OAuth.PlaceholderTokenBytes
	deps.Now = e.now

	if e.identities != nil {
		deps.FindLink = func(ctx context.Context, provider, providerAccountID string) (internalflows.OAuthLink, error) {
			link, err := e.identities.FindLinkedIdentity(ctx, provider, providerAccountID)
			if err != nil {
				return internalflows.OAuthLink{}, err
			}
			return internalflows.OAuthLink{
				UserID:            link.UserID,
				Provider:          link.Provider,
				ProviderAccountID: link.ProviderAccountID,
			}, nil
		}
		deps.CreateLink = func(ctx context.Context, link internalflows.OAuthLink) (bool, error) {
			outcome, err := e.identities.CreateLinkedIdentity(ctx, LinkedIdentity{
				UserID:            link.UserID,
				Provider:          link.Provider,
				ProviderAccountID: link.ProviderAccountID,
				AccessToken:       link.AccessToken,
				RefreshToken:      link.RefreshToken,
				IDToken:           link.IDToken,
				TokenType:         link.TokenType,
				Scope:             link.Scope,
				ExpiresAt:         link.ExpiresAt,
			})
			if err != nil {
				return false, err
			}
			return outcome == LinkCreated, nil
		}
	}
	if e.users != nil {
		deps.FindUserByID = e.findFlowUserByID
		deps.FindUserByEmail = func(ctx context.Context, email string) (internalflows.CredentialUser, error) {
			user, err := e.users.FindUserByEmail(ctx, email)
			if err != nil {
				return internalflows.CredentialUser{}, err
			}
			return toFlowUser(user), nil
		}
		deps.CreateUser = func(ctx context.Context, user internalflows.CredentialUser) (internalflows.CredentialUser, error) {
			account := fromFlowUser(user)
			account.Role = RoleUser
			created, err := e.users.CreateUser(ctx, account)
			if err != nil {
				return internalflows.CredentialUser{}, err
			}
			return toFlowUser(created), nil
		}
		deps.MarkVerified = e.users.MarkEmailVerified
	}
	if e.tokens != nil {
		deps.GenerateToken = e.tokens.GenerateToken
	}
	if e.passwords != nil {
		deps.HashPassword = e.passwords.Hash
	}

	return deps
}

func (e *Engine) findFlowUserByID(ctx context.Context, userID string) (internalflows.CredentialUser, error) {
	user, err := e.users.FindUserByID(ctx, userID)
	if err != nil {
		return internalflows.CredentialUser{}, err
	}
	return toFlowUser(user), nil
}
