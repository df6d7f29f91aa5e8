package atlasauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/atlasauth/internal/audit"
)

const (
	auditEventSignInSuccess             = "signin_success"
	auditEventSignInFailure             = "signin_failure"
	auditEventSignInRateLimited         = "signin_rate_limited"
	auditEventOAuthSuccess              = "oauth_success"
	auditEventOAuthDenied               = "oauth_denied"
	auditEventOAuthUserCreated          = "oauth_user_created"
	auditEventOAuthLinked               = "oauth_identity_linked"
	auditEventChallengeIssued           = "challenge_issued"
	auditEventChallengeSuccess          = "challenge_success"
	auditEventChallengeFailure          = "challenge_failure"
	auditEventChallengeAttemptsExceeded = "challenge_attempts_exceeded"
	auditEventTwoFactorSetupRequested   = "two_factor_setup_requested"
	auditEventTwoFactorEnabled          = "two_factor_enabled"
	auditEventTwoFactorDisabled         = "two_factor_disabled"
	auditEventTwoFactorFailure          = "two_factor_failure"
	auditEventRecoveryCodesGenerated    = "recovery_codes_generated"
	auditEventRecoveryCodeUsed          = "recovery_code_used"
)

// AuditErrorCode is the stable value written to AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrEmailNotVerified     AuditErrorCode = "email_not_verified"
	auditErrRateLimited          AuditErrorCode = "rate_limited"
	auditErrUserNotFound         AuditErrorCode = "user_not_found"
	auditErrTOTPInvalid          AuditErrorCode = "totp_invalid"
	auditErrRecoveryCodeInvalid  AuditErrorCode = "recovery_code_invalid"
	auditErrPasswordInvalid      AuditErrorCode = "password_invalid"
	auditErrConfirmationMismatch AuditErrorCode = "confirmation_mismatch"
	auditErrTwoFactorState       AuditErrorCode = "two_factor_state"
	auditErrChallengeInvalid     AuditErrorCode = "challenge_invalid"
	auditErrChallengeExpired     AuditErrorCode = "challenge_expired"
	auditErrChallengeAttempts    AuditErrorCode = "challenge_attempts_exceeded"
	auditErrChallengeReplay      AuditErrorCode = "challenge_replay"
	auditErrUnsupportedFactor    AuditErrorCode = "unsupported_factor"
	auditErrUnavailable          AuditErrorCode = "backend_unavailable"
	auditErrInternal             AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := audit.Event{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrEmailNotVerified):
		return auditErrEmailNotVerified
	case errors.Is(err, ErrTwoFactorRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrTOTPInvalid):
		return auditErrTOTPInvalid
	case errors.Is(err, ErrRecoveryCodeInvalid):
		return auditErrRecoveryCodeInvalid
	case errors.Is(err, ErrPasswordInvalid):
		return auditErrPasswordInvalid
	case errors.Is(err, ErrConfirmationMismatch):
		return auditErrConfirmationMismatch
	case errors.Is(err, ErrTwoFactorDisabled),
		errors.Is(err, ErrTwoFactorNotEnabled),
		errors.Is(err, ErrTwoFactorAlreadyEnabled),
		errors.Is(err, ErrTwoFactorNotConfigured):
		return auditErrTwoFactorState
	case errors.Is(err, ErrChallengeInvalid):
		return auditErrChallengeInvalid
	case errors.Is(err, ErrChallengeExpired):
		return auditErrChallengeExpired
	case errors.Is(err, ErrChallengeAttemptsExceeded):
		return auditErrChallengeAttempts
	case errors.Is(err, ErrChallengeReplay):
		return auditErrChallengeReplay
	case errors.Is(err, ErrUnsupportedFactor):
		return auditErrUnsupportedFactor
	case errors.Is(err, ErrUserStoreUnavailable),
		errors.Is(err, ErrRateLimiterUnavailable),
		errors.Is(err, ErrTwoFactorUnavailable),
		errors.Is(err, ErrChallengeUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
