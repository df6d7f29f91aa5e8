package atlasauth

import (
	"context"
	"time"

	"github.com/MrEthical07/atlasauth/internal"
	internalflows "github.com/MrEthical07/atlasauth/internal/flows"
	"github.com/MrEthical07/atlasauth/totp"
)

// CompleteSignIn redeems a challenge token from SignIn with a TOTP code or a
// recovery code.
//
// Each wrong code spends one attempt on the challenge; when attempts run out
// the challenge is destroyed and ErrChallengeAttemptsExceeded is returned. A
// challenge is redeemable exactly once: a concurrent second redemption gets
// ErrChallengeReplay.
func (e *Engine) CompleteSignIn(ctx context.Context, challengeToken, code string, factor Factor) (*AuthorizedUser, error) {
	if err := e.requireTwoFactor(); err != nil {
		return nil, err
	}
	user, err := internalflows.RunCompleteSignIn(ctx, challengeToken, code, string(factor), e.twoFactorFlowDeps())
	if err != nil {
		return nil, err
	}
	return toAuthorizedUser(*user), nil
}

// BeginTwoFactorSetup generates a secret for userID and stores it, encrypted,
// as pending. Two-factor stays off until ConfirmTwoFactorSetup succeeds.
func (e *Engine) BeginTwoFactorSetup(ctx context.Context, userID string) (*TwoFactorSetup, error) {
	if err := e.requireTwoFactor(); err != nil {
		return nil, err
	}
	setup, err := internalflows.RunBeginTwoFactorSetup(ctx, userID, e.twoFactorFlowDeps())
	if err != nil {
		return nil, err
	}
	return &TwoFactorSetup{Secret: setup.Secret, URI: setup.URI}, nil
}

// ConfirmTwoFactorSetup checks code against the pending secret, enables
// two-factor and returns the first set of recovery codes.
func (e *Engine) ConfirmTwoFactorSetup(ctx context.Context, userID, code string) ([]string, error) {
	if err := e.requireTwoFactor(); err != nil {
		return nil, err
	}
	return internalflows.RunConfirmTwoFactorSetup(ctx, userID, code, e.twoFactorFlowDeps())
}

// DisableTwoFactor turns two-factor off. The current password, a valid TOTP
// code and the configured confirmation phrase are all required.
func (e *Engine) DisableTwoFactor(ctx context.Context, req DisableTwoFactorRequest) error {
	if err := e.requireTwoFactor(); err != nil {
		return err
	}
	return internalflows.RunDisableTwoFactor(ctx, internalflows.DisableInput{
		UserID:       req.UserID,
		Password:     req.Password,
		Code:         req.Code,
		Confirmation: req.Confirmation,
	}, e.twoFactorFlowDeps())
}

// RegenerateRecoveryCodes replaces every recovery code of userID. Old codes
// stop working immediately.
func (e *Engine) RegenerateRecoveryCodes(ctx context.Context, userID, code string) ([]string, error) {
	if err := e.requireTwoFactor(); err != nil {
		return nil, err
	}
	return internalflows.RunRegenerateRecoveryCodes(ctx, userID, code, e.twoFactorFlowDeps())
}

func (e *Engine) RecoveryCodeCount(ctx context.Context, userID string) (int, error) {
	if err := e.requireTwoFactor(); err != nil {
		return 0, err
	}
	return internalflows.RunRecoveryCodeCount(ctx, userID, e.twoFactorFlowDeps())
}

func (e *Engine) requireTwoFactor() error {
	if e == nil {
		return ErrEngineNotReady
	}
	if !e.config.TwoFactor.Enabled {
		return ErrTwoFactorDisabled
	}
	return nil
}

// verifyTOTP returns whether code matches and, if so, the absolute counter
// of the matching period.
func (e *Engine) verifyTOTP(secret, code string, now time.Time) (bool, int64, error) {
	cfg := e.config.TOTP
	result, err := totp.VerifyCode(secret, code, totp.Options{
		TimestampMs:   totp.At(now),
		Digits:        cfg.Digits,
		PeriodSeconds: cfg.PeriodSeconds,
		Algorithm:     totp.Algorithm(cfg.Algorithm),
		SkewSteps:     totp.Skew(cfg.SkewSteps),
	})
	if err != nil {
		return false, 0, err
	}
	if !result.Valid || result.StepOffset == nil {
		return false, 0, nil
	}
	return true, totp.CounterAt(now, cfg.PeriodSeconds) + int64(*result.StepOffset), nil
}

func (e *Engine) twoFactorFlowDeps() internalflows.TwoFactorDeps {
	deps := internalflows.TwoFactorDeps{
		IsNotFound:        isNotFound,
		MapChallengeError: challengeFlowError,
		NewChallengeID:    internal.NewChallengeID,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Metrics: internalflows.TwoFactorMetrics{
			ChallengeIssued:     int(MetricChallengeIssued),
			ChallengeSuccess:    int(MetricChallengeSuccess),
			ChallengeFailure:    int(MetricChallengeFailure),
			ChallengeReplay:     int(MetricChallengeReplay),
			TOTPFailure:         int(MetricTOTPFailure),
			RecoveryCodeUsed:    int(MetricRecoveryCodeUsed),
			RecoveryCodeFailed:  int(MetricRecoveryCodeFailed),
			RecoveryCodesIssued: int(MetricRecoveryCodesIssued),
			Enabled:             int(MetricTwoFactorEnabled),
			Disabled:            int(MetricTwoFactorDisabled),
			RateLimited:         int(MetricTwoFactorRateLimited),
		},
		Events: internalflows.TwoFactorEvents{
			ChallengeIssued:           auditEventChallengeIssued,
			ChallengeSuccess:          auditEventChallengeSuccess,
			ChallengeFailure:          auditEventChallengeFailure,
			ChallengeAttemptsExceeded: auditEventChallengeAttemptsExceeded,
			SetupRequested:            auditEventTwoFactorSetupRequested,
			Enabled:                   auditEventTwoFactorEnabled,
			Disabled:                  auditEventTwoFactorDisabled,
			RecoveryCodesGenerated:    auditEventRecoveryCodesGenerated,
			RecoveryCodeUsed:          auditEventRecoveryCodeUsed,
			Failure:                   auditEventTwoFactorFailure,
		},
		Errors: internalflows.TwoFactorErrors{
			EngineNotReady:            ErrEngineNotReady,
			UserNotFound:              ErrUserNotFound,
			Unavailable:               ErrTwoFactorUnavailable,
			NotEnabled:                ErrTwoFactorNotEnabled,
			AlreadyEnabled:            ErrTwoFactorAlreadyEnabled,
			NotConfigured:             ErrTwoFactorNotConfigured,
			CodeInvalid:               ErrTOTPInvalid,
			RecoveryCodeInvalid:       ErrRecoveryCodeInvalid,
			PasswordInvalid:           ErrPasswordInvalid,
			ConfirmationMismatch:      ErrConfirmationMismatch,
			RateLimited:               ErrTwoFactorRateLimited,
			UnsupportedFactor:         ErrUnsupportedFactor,
			ChallengeInvalid:          ErrChallengeInvalid,
			ChallengeAttemptsExceeded: ErrChallengeAttemptsExceeded,
			ChallengeReplay:           ErrChallengeReplay,
		},
	}
	if e == nil {
		return deps
	}

	cfg := e.config
	deps.ChallengeTTL = cfg.TwoFactor.ChallengeTTL
	deps.ChallengeMaxAttempts = cfg.TwoFactor.ChallengeMaxAttempts
	deps.RecoveryCodeCount = cfg.TwoFactor.RecoveryCodeCount
	deps.RecoveryCodeLength = cfg.TwoFactor.RecoveryCodeLength
	deps.DisableConfirmation = cfg.TwoFactor.DisableConfirmation
	deps.EnforceReplayProtection = cfg.TwoFactor.EnforceReplayProtection
	deps.Now = e.now

	if e.users != nil {
		deps.FindUserByID = e.findFlowUserByID
	}
	if e.passwords != nil {
		deps.VerifyPassword = e.passwords.Verify
	}

	if repo := e.twoFactor; repo != nil {
		deps.GetTwoFactor = func(ctx context.Context, userID string) (internalflows.TwoFactorRecord, error) {
			record, err := repo.GetTwoFactor(ctx, userID)
			if err != nil {
				return internalflows.TwoFactorRecord{}, err
			}
			return internalflows.TwoFactorRecord{
				EncryptedSecret: record.EncryptedSecret,
				Enabled:         record.Enabled,
				LastUsedCounter: record.LastUsedCounter,
			}, nil
		}
		deps.SavePendingSecret = repo.SavePendingSecret
		deps.EnableTwoFactor = repo.EnableTwoFactor
		deps.DisableTwoFactor = repo.DisableTwoFactor
		deps.UpdateLastUsedCounter = repo.UpdateLastUsedCounter
		deps.ReplaceRecoveryCodes = func(ctx context.Context, userID string, hashes [][32]byte) error {
			records := make([]RecoveryCodeRecord, len(hashes))
			for i, h := range hashes {
				records[i] = RecoveryCodeRecord{Hash: h}
			}
			return repo.ReplaceRecoveryCodes(ctx, userID, records)
		}
		deps.ConsumeRecoveryCode = repo.ConsumeRecoveryCode
		deps.CountRecoveryCodes = repo.CountRecoveryCodes
	}

	deps.GenerateSecret = func() (string, error) {
		return totp.GenerateSecret(cfg.TOTP.SecretBytes)
	}
	deps.BuildURI = func(secret, account string) (string, error) {
		return totp.BuildOtpauthURI(totp.URIOptions{
			Secret:        secret,
			Issuer:        cfg.TOTP.Issuer,
			AccountName:   account,
			Digits:        cfg.TOTP.Digits,
			PeriodSeconds: cfg.TOTP.PeriodSeconds,
			Algorithm:     totp.Algorithm(cfg.TOTP.Algorithm),
		})
	}
	deps.VerifyCode = e.verifyTOTP

	if e.cipher != nil {
		deps.Encrypt = e.cipher.Encrypt
		deps.Decrypt = e.cipher.Decrypt
	}

	if store := e.challenges; store != nil {
		deps.SaveChallenge = func(ctx context.Context, id string, c internalflows.ChallengeRecord, ttl time.Duration) error {
			return store.Save(ctx, id, Challenge{UserID: c.UserID, ExpiresAt: c.ExpiresAt, Attempts: c.Attempts}, ttl)
		}
		deps.GetChallenge = func(ctx context.Context, id string) (internalflows.ChallengeRecord, error) {
			c, err := store.Get(ctx, id)
			if err != nil {
				return internalflows.ChallengeRecord{}, err
			}
			return internalflows.ChallengeRecord{UserID: c.UserID, ExpiresAt: c.ExpiresAt, Attempts: c.Attempts}, nil
		}
		deps.RecordChallengeFailure = store.RecordFailure
		deps.DeleteChallenge = store.Delete
	}

	if jm := e.jwtManager; jm != nil {
		deps.IssueChallengeToken = jm.IssueChallenge
		deps.ParseChallengeToken = func(token string) (string, string, error) {
			claims, err := jm.ParseChallenge(token)
			if err != nil {
				return "", "", err
			}
			return claims.UID, claims.CID, nil
		}
	}

	if e.managementLimiter != nil {
		deps.IsLimited = e.managementLimiter.IsLimited
		deps.RecordFailure = e.managementLimiter.RecordFailure
		deps.Clear = e.managementLimiter.Clear
	}

	return deps
}
