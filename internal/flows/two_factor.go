package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/atlasauth/policy"
)

// Second factors accepted by RunCompleteSignIn.
const (
	FactorTOTP         = "totp"
	FactorRecoveryCode = "recovery_code"
)

// TwoFactorRecord is the flow-local two-factor state of one user.
type TwoFactorRecord struct {
	EncryptedSecret string
	Enabled         bool
	LastUsedCounter int64
}

// ChallengeRecord is the server-side half of a pending sign-in challenge.
type ChallengeRecord struct {
	UserID    string
	ExpiresAt time.Time
	Attempts  int
}

// SignInOutcome is the result of a primary sign-in once two-factor state is known.
type SignInOutcome struct {
	User              *CredentialUser
	RequiresTwoFactor bool
	ChallengeToken    string
}

type TwoFactorSetup struct {
	Secret string
	URI    string
}

type TwoFactorMetrics struct {
	ChallengeIssued     int
	ChallengeSuccess    int
	ChallengeFailure    int
	ChallengeReplay     int
	TOTPFailure         int
	RecoveryCodeUsed    int
	RecoveryCodeFailed  int
	RecoveryCodesIssued int
	Enabled             int
	Disabled            int
	RateLimited         int
}

type TwoFactorEvents struct {
	ChallengeIssued           string
	ChallengeSuccess          string
	ChallengeFailure          string
	ChallengeAttemptsExceeded string
	SetupRequested            string
	Enabled                   string
	Disabled                  string
	RecoveryCodesGenerated    string
	RecoveryCodeUsed          string
	Failure                   string
}

type TwoFactorErrors struct {
	EngineNotReady            error
	UserNotFound              error
	Unavailable               error
	NotEnabled                error
	AlreadyEnabled            error
	NotConfigured             error
	CodeInvalid               error
	RecoveryCodeInvalid       error
	PasswordInvalid           error
	ConfirmationMismatch      error
	RateLimited               error
	UnsupportedFactor         error
	ChallengeInvalid          error
	ChallengeAttemptsExceeded error
	ChallengeReplay           error
}

// TwoFactorDeps captures step-up and two-factor management dependencies.
type TwoFactorDeps struct {
	ChallengeTTL            time.Duration
	ChallengeMaxAttempts    int
	RecoveryCodeCount       int
	RecoveryCodeLength      int
	DisableConfirmation     string
	EnforceReplayProtection bool

	Now func() time.Time

	FindUserByID   func(context.Context, string) (CredentialUser, error)
	IsNotFound     func(error) bool
	VerifyPassword func(plain, hash string) (bool, error)

	GetTwoFactor          func(context.Context, string) (TwoFactorRecord, error)
	SavePendingSecret     func(ctx context.Context, userID, encryptedSecret string) error
	EnableTwoFactor       func(context.Context, string) error
	DisableTwoFactor      func(context.Context, string) error
	UpdateLastUsedCounter func(ctx context.Context, userID string, counter int64) (bool, error)
	ReplaceRecoveryCodes  func(context.Context, string, [][32]byte) error
	ConsumeRecoveryCode   func(context.Context, string, [32]byte) (bool, error)
	CountRecoveryCodes    func(context.Context, string) (int, error)

	GenerateSecret func() (string, error)
	BuildURI       func(secret, account string) (string, error)
	VerifyCode     func(secret, code string, now time.Time) (bool, int64, error)
	Encrypt        func(string) (string, error)
	Decrypt        func(string) (string, error)

	NewChallengeID         func() (string, error)
	SaveChallenge          func(context.Context, string, ChallengeRecord, time.Duration) error
	GetChallenge           func(context.Context, string) (ChallengeRecord, error)
	RecordChallengeFailure func(ctx context.Context, challengeID string, maxAttempts int) (bool, error)
	DeleteChallenge        func(context.Context, string) (bool, error)
	MapChallengeError      func(error) error
	IssueChallengeToken    func(userID, challengeID string) (string, error)
	ParseChallengeToken    func(string) (userID, challengeID string, err error)

	IsLimited     func(context.Context, string, time.Time) (bool, error)
	RecordFailure func(context.Context, string, time.Time) error
	Clear         func(context.Context, string) error

	RandomIndex func(int) (int, error)

	MetricInc func(int)
	EmitAudit EmitAuditFunc

	Metrics TwoFactorMetrics
	Events  TwoFactorEvents
	Errors  TwoFactorErrors
}

func normalizeTwoFactorDeps(deps *TwoFactorDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.IsNotFound == nil {
		deps.IsNotFound = matchNone
	}
	if deps.MapChallengeError == nil {
		deps.MapChallengeError = func(error) error { return deps.Errors.Unavailable }
	}
	if deps.RandomIndex == nil {
		deps.RandomIndex = cryptoRandomIndex
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetricInc
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopEmitAudit
	}
}

func (d TwoFactorDeps) unavailable(err error) error {
	return fmt.Errorf("%w: %v", d.Errors.Unavailable, err)
}

func managementKey(userID string) string {
	return "2fa:" + userID
}

// RunSignIn decides whether an authorized user needs a second factor and,
// if so, opens a challenge and returns its token instead of the user.
func RunSignIn(ctx context.Context, user CredentialUser, deps TwoFactorDeps) (*SignInOutcome, error) {
	normalizeTwoFactorDeps(&deps)

	if deps.GetTwoFactor == nil ||
		deps.NewChallengeID == nil ||
		deps.SaveChallenge == nil ||
		deps.DeleteChallenge == nil ||
		deps.IssueChallengeToken == nil {
		return nil, deps.Errors.EngineNotReady
	}

	record, err := deps.GetTwoFactor(ctx, user.ID)
	if err != nil {
		if deps.IsNotFound(err) {
			return &SignInOutcome{User: &user}, nil
		}
		return nil, deps.unavailable(err)
	}
	if !record.Enabled {
		return &SignInOutcome{User: &user}, nil
	}

	challengeID, err := deps.NewChallengeID()
	if err != nil {
		return nil, deps.unavailable(err)
	}
	now := deps.Now()
	challenge := ChallengeRecord{UserID: user.ID, ExpiresAt: now.Add(deps.ChallengeTTL)}
	if err := deps.SaveChallenge(ctx, challengeID, challenge, deps.ChallengeTTL); err != nil {
		return nil, deps.MapChallengeError(err)
	}

	token, err := deps.IssueChallengeToken(user.ID, challengeID)
	if err != nil {
		_, _ = deps.DeleteChallenge(ctx, challengeID)
		return nil, deps.unavailable(err)
	}

	deps.MetricInc(deps.Metrics.ChallengeIssued)
	deps.EmitAudit(ctx, deps.Events.ChallengeIssued, true, user.ID, nil, nil)
	return &SignInOutcome{RequiresTwoFactor: true, ChallengeToken: token}, nil
}

// RunCompleteSignIn redeems a challenge token with a TOTP or recovery code.
//
// A failed factor spends one challenge attempt; the challenge is destroyed
// once attempts run out. A redeemed challenge is deleted, and only the caller
// that wins the delete gets the user back.
func RunCompleteSignIn(ctx context.Context, challengeToken, code, factor string, deps TwoFactorDeps) (*CredentialUser, error) {
	normalizeTwoFactorDeps(&deps)

	if deps.ParseChallengeToken == nil ||
		deps.GetChallenge == nil ||
		deps.RecordChallengeFailure == nil ||
		deps.DeleteChallenge == nil ||
		deps.FindUserByID == nil ||
		deps.GetTwoFactor == nil ||
		deps.ConsumeRecoveryCode == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if factor != FactorTOTP && factor != FactorRecoveryCode {
		return nil, deps.Errors.UnsupportedFactor
	}

	userID, challengeID, err := deps.ParseChallengeToken(challengeToken)
	if err != nil {
		deps.MetricInc(deps.Metrics.ChallengeFailure)
		deps.EmitAudit(ctx, deps.Events.ChallengeFailure, false, "", deps.Errors.ChallengeInvalid, nil)
		return nil, deps.Errors.ChallengeInvalid
	}

	challenge, err := deps.GetChallenge(ctx, challengeID)
	if err != nil {
		mapped := deps.MapChallengeError(err)
		deps.MetricInc(deps.Metrics.ChallengeFailure)
		deps.EmitAudit(ctx, deps.Events.ChallengeFailure, false, userID, mapped, nil)
		return nil, mapped
	}
	if challenge.UserID != userID {
		deps.MetricInc(deps.Metrics.ChallengeFailure)
		deps.EmitAudit(ctx, deps.Events.ChallengeFailure, false, userID, deps.Errors.ChallengeInvalid, nil)
		return nil, deps.Errors.ChallengeInvalid
	}

	abandon := func() (*CredentialUser, error) {
		_, _ = deps.DeleteChallenge(ctx, challengeID)
		deps.MetricInc(deps.Metrics.ChallengeFailure)
		deps.EmitAudit(ctx, deps.Events.ChallengeFailure, false, userID, deps.Errors.ChallengeInvalid, nil)
		return nil, deps.Errors.ChallengeInvalid
	}

	user, err := deps.FindUserByID(ctx, userID)
	if err != nil {
		if deps.IsNotFound(err) {
			return abandon()
		}
		return nil, deps.unavailable(err)
	}
	if !policy.CanLogin(user.account()) {
		return abandon()
	}

	record, err := deps.GetTwoFactor(ctx, userID)
	if err != nil {
		if deps.IsNotFound(err) {
			return abandon()
		}
		return nil, deps.unavailable(err)
	}
	if !record.Enabled || record.EncryptedSecret == "" {
		return abandon()
	}

	var cause error
	switch factor {
	case FactorTOTP:
		cause = verifyTOTP(ctx, userID, record, code, deps)
		if cause != nil {
			deps.MetricInc(deps.Metrics.TOTPFailure)
		}
	case FactorRecoveryCode:
		cause = consumeRecoveryCode(ctx, userID, code, deps)
	}
	if cause != nil {
		if cause != deps.Errors.CodeInvalid && cause != deps.Errors.RecoveryCodeInvalid {
			return nil, cause
		}
		return failChallenge(ctx, userID, challengeID, cause, deps)
	}

	deleted, err := deps.DeleteChallenge(ctx, challengeID)
	if err != nil {
		return nil, deps.MapChallengeError(err)
	}
	if !deleted {
		deps.MetricInc(deps.Metrics.ChallengeReplay)
		deps.EmitAudit(ctx, deps.Events.ChallengeFailure, false, userID, deps.Errors.ChallengeReplay, nil)
		return nil, deps.Errors.ChallengeReplay
	}

	deps.MetricInc(deps.Metrics.ChallengeSuccess)
	deps.EmitAudit(ctx, deps.Events.ChallengeSuccess, true, userID, nil, func() map[string]string {
		return map[string]string{"factor": factor}
	})
	return &user, nil
}

func failChallenge(ctx context.Context, userID, challengeID string, cause error, deps TwoFactorDeps) (*CredentialUser, error) {
	deps.MetricInc(deps.Metrics.ChallengeFailure)

	exceeded, err := deps.RecordChallengeFailure(ctx, challengeID, deps.ChallengeMaxAttempts)
	if err != nil {
		mapped := deps.MapChallengeError(err)
		deps.EmitAudit(ctx, deps.Events.ChallengeFailure, false, userID, mapped, nil)
		return nil, mapped
	}
	if exceeded {
		deps.EmitAudit(ctx, deps.Events.ChallengeAttemptsExceeded, false, userID, deps.Errors.ChallengeAttemptsExceeded, nil)
		return nil, deps.Errors.ChallengeAttemptsExceeded
	}

	deps.EmitAudit(ctx, deps.Events.ChallengeFailure, false, userID, cause, nil)
	return nil, cause
}

// verifyTOTP returns nil, Errors.CodeInvalid, or a wrapped Errors.Unavailable.
func verifyTOTP(ctx context.Context, userID string, record TwoFactorRecord, code string, deps TwoFactorDeps) error {
	if deps.Decrypt == nil || deps.VerifyCode == nil || deps.UpdateLastUsedCounter == nil {
		return deps.Errors.EngineNotReady
	}

	secret, err := deps.Decrypt(record.EncryptedSecret)
	if err != nil {
		return deps.unavailable(err)
	}
	ok, counter, err := deps.VerifyCode(secret, code, deps.Now())
	if err != nil {
		return deps.unavailable(err)
	}
	if !ok {
		return deps.Errors.CodeInvalid
	}

	if deps.EnforceReplayProtection {
		if counter <= record.LastUsedCounter {
			return deps.Errors.CodeInvalid
		}
		advanced, err := deps.UpdateLastUsedCounter(ctx, userID, counter)
		if err != nil {
			return deps.unavailable(err)
		}
		if !advanced {
			return deps.Errors.CodeInvalid
		}
	}
	return nil
}

func consumeRecoveryCode(ctx context.Context, userID, code string, deps TwoFactorDeps) error {
	canonical := CanonicalizeRecoveryCode(code)
	if canonical == "" {
		deps.MetricInc(deps.Metrics.RecoveryCodeFailed)
		return deps.Errors.RecoveryCodeInvalid
	}

	ok, err := deps.ConsumeRecoveryCode(ctx, userID, RecoveryCodeHash(userID, canonical))
	if err != nil {
		return deps.unavailable(err)
	}
	if !ok {
		deps.MetricInc(deps.Metrics.RecoveryCodeFailed)
		return deps.Errors.RecoveryCodeInvalid
	}

	deps.MetricInc(deps.Metrics.RecoveryCodeUsed)
	deps.EmitAudit(ctx, deps.Events.RecoveryCodeUsed, true, userID, nil, nil)
	return nil
}

// RunBeginTwoFactorSetup stores a fresh encrypted secret as pending and
// returns it with its provisioning URI. Two-factor stays off until confirmed.
func RunBeginTwoFactorSetup(ctx context.Context, userID string, deps TwoFactorDeps) (*TwoFactorSetup, error) {
	normalizeTwoFactorDeps(&deps)

	if deps.GenerateSecret == nil || deps.BuildURI == nil || deps.Encrypt == nil || deps.SavePendingSecret == nil {
		return nil, deps.Errors.EngineNotReady
	}

	user, err := loadEligibleUser(ctx, userID, deps)
	if err != nil {
		return nil, err
	}

	record, err := deps.GetTwoFactor(ctx, user.ID)
	switch {
	case err == nil:
		if record.Enabled {
			return nil, deps.Errors.AlreadyEnabled
		}
	case !deps.IsNotFound(err):
		return nil, deps.unavailable(err)
	}

	secret, err := deps.GenerateSecret()
	if err != nil {
		return nil, deps.unavailable(err)
	}
	uri, err := deps.BuildURI(secret, user.Email)
	if err != nil {
		return nil, deps.unavailable(err)
	}
	encrypted, err := deps.Encrypt(secret)
	if err != nil {
		return nil, deps.unavailable(err)
	}
	if err := deps.SavePendingSecret(ctx, user.ID, encrypted); err != nil {
		// Enabled by a concurrent confirm after the check above.
		if errors.Is(err, deps.Errors.AlreadyEnabled) {
			return nil, deps.Errors.AlreadyEnabled
		}
		return nil, deps.unavailable(err)
	}

	deps.EmitAudit(ctx, deps.Events.SetupRequested, true, user.ID, nil, nil)
	return &TwoFactorSetup{Secret: secret, URI: uri}, nil
}

// RunConfirmTwoFactorSetup proves possession of the pending secret, issues
// the first recovery codes and turns two-factor on.
func RunConfirmTwoFactorSetup(ctx context.Context, userID, code string, deps TwoFactorDeps) ([]string, error) {
	normalizeTwoFactorDeps(&deps)

	if deps.EnableTwoFactor == nil || deps.ReplaceRecoveryCodes == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if err := checkManagementLimit(ctx, userID, deps); err != nil {
		return nil, err
	}

	user, err := loadEligibleUser(ctx, userID, deps)
	if err != nil {
		return nil, err
	}
	record, err := deps.GetTwoFactor(ctx, user.ID)
	if err != nil {
		if deps.IsNotFound(err) {
			return nil, deps.Errors.NotConfigured
		}
		return nil, deps.unavailable(err)
	}
	if record.Enabled {
		return nil, deps.Errors.AlreadyEnabled
	}
	if record.EncryptedSecret == "" {
		return nil, deps.Errors.NotConfigured
	}

	if err := verifyTOTP(ctx, user.ID, record, code, deps); err != nil {
		return nil, managementFailure(ctx, user.ID, err, deps)
	}

	codes, err := storeRecoveryCodes(ctx, user.ID, deps)
	if err != nil {
		return nil, err
	}
	if err := deps.EnableTwoFactor(ctx, user.ID); err != nil {
		// Codes must not outlive a setup that never turned on.
		_ = deps.ReplaceRecoveryCodes(ctx, user.ID, nil)
		return nil, deps.unavailable(err)
	}
	recoveryCodesIssued(ctx, user.ID, deps)
	_ = deps.Clear(ctx, managementKey(user.ID))

	deps.MetricInc(deps.Metrics.Enabled)
	deps.EmitAudit(ctx, deps.Events.Enabled, true, user.ID, nil, nil)
	return codes, nil
}

// DisableInput carries the three proofs required to turn two-factor off.
type DisableInput struct {
	UserID       string
	Password     string
	Code         string
	Confirmation string
}

// RunDisableTwoFactor turns two-factor off only when the current password,
// a valid TOTP code and the exact confirmation phrase are all presented.
func RunDisableTwoFactor(ctx context.Context, in DisableInput, deps TwoFactorDeps) error {
	normalizeTwoFactorDeps(&deps)

	if deps.DisableTwoFactor == nil || deps.VerifyPassword == nil {
		return deps.Errors.EngineNotReady
	}
	if err := checkManagementLimit(ctx, in.UserID, deps); err != nil {
		return err
	}

	user, err := loadEligibleUser(ctx, in.UserID, deps)
	if err != nil {
		return err
	}
	record, err := loadEnabledRecord(ctx, user.ID, deps)
	if err != nil {
		return err
	}

	if deps.DisableConfirmation == "" || in.Confirmation != deps.DisableConfirmation {
		return managementFailure(ctx, user.ID, deps.Errors.ConfirmationMismatch, deps)
	}
	ok, err := deps.VerifyPassword(in.Password, user.PasswordHash)
	if err != nil || !ok {
		return managementFailure(ctx, user.ID, deps.Errors.PasswordInvalid, deps)
	}
	if err := verifyTOTP(ctx, user.ID, record, in.Code, deps); err != nil {
		return managementFailure(ctx, user.ID, err, deps)
	}

	if err := deps.DisableTwoFactor(ctx, user.ID); err != nil {
		return deps.unavailable(err)
	}
	_ = deps.Clear(ctx, managementKey(user.ID))

	deps.MetricInc(deps.Metrics.Disabled)
	deps.EmitAudit(ctx, deps.Events.Disabled, true, user.ID, nil, nil)
	return nil
}

// RunRegenerateRecoveryCodes replaces every recovery code after a valid TOTP code.
func RunRegenerateRecoveryCodes(ctx context.Context, userID, code string, deps TwoFactorDeps) ([]string, error) {
	normalizeTwoFactorDeps(&deps)

	if deps.ReplaceRecoveryCodes == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if err := checkManagementLimit(ctx, userID, deps); err != nil {
		return nil, err
	}

	user, err := loadEligibleUser(ctx, userID, deps)
	if err != nil {
		return nil, err
	}
	record, err := loadEnabledRecord(ctx, user.ID, deps)
	if err != nil {
		return nil, err
	}
	if err := verifyTOTP(ctx, user.ID, record, code, deps); err != nil {
		return nil, managementFailure(ctx, user.ID, err, deps)
	}

	codes, err := issueRecoveryCodes(ctx, user.ID, deps)
	if err != nil {
		return nil, err
	}
	_ = deps.Clear(ctx, managementKey(user.ID))
	return codes, nil
}

// RunRecoveryCodeCount reports how many unused recovery codes remain.
func RunRecoveryCodeCount(ctx context.Context, userID string, deps TwoFactorDeps) (int, error) {
	normalizeTwoFactorDeps(&deps)

	if deps.CountRecoveryCodes == nil {
		return 0, deps.Errors.EngineNotReady
	}
	if userID == "" {
		return 0, deps.Errors.UserNotFound
	}
	n, err := deps.CountRecoveryCodes(ctx, userID)
	if err != nil {
		return 0, deps.unavailable(err)
	}
	return n, nil
}

func loadEligibleUser(ctx context.Context, userID string, deps TwoFactorDeps) (CredentialUser, error) {
	if deps.FindUserByID == nil || deps.GetTwoFactor == nil {
		return CredentialUser{}, deps.Errors.EngineNotReady
	}
	if userID == "" {
		return CredentialUser{}, deps.Errors.UserNotFound
	}
	user, err := deps.FindUserByID(ctx, userID)
	if err != nil {
		if deps.IsNotFound(err) {
			return CredentialUser{}, deps.Errors.UserNotFound
		}
		return CredentialUser{}, deps.unavailable(err)
	}
	if !policy.CanLogin(user.account()) {
		return CredentialUser{}, deps.Errors.UserNotFound
	}
	return user, nil
}

func loadEnabledRecord(ctx context.Context, userID string, deps TwoFactorDeps) (TwoFactorRecord, error) {
	record, err := deps.GetTwoFactor(ctx, userID)
	if err != nil {
		if deps.IsNotFound(err) {
			return TwoFactorRecord{}, deps.Errors.NotEnabled
		}
		return TwoFactorRecord{}, deps.unavailable(err)
	}
	if !record.Enabled || record.EncryptedSecret == "" {
		return TwoFactorRecord{}, deps.Errors.NotEnabled
	}
	return record, nil
}

func issueRecoveryCodes(ctx context.Context, userID string, deps TwoFactorDeps) ([]string, error) {
	codes, err := storeRecoveryCodes(ctx, userID, deps)
	if err != nil {
		return nil, err
	}
	recoveryCodesIssued(ctx, userID, deps)
	return codes, nil
}

// storeRecoveryCodes replaces the user's codes with a fresh set and returns
// the plaintext codes.
func storeRecoveryCodes(ctx context.Context, userID string, deps TwoFactorDeps) ([]string, error) {
	if deps.RecoveryCodeCount <= 0 || deps.RecoveryCodeLength <= 0 {
		return nil, deps.Errors.EngineNotReady
	}
	codes, hashes, err := NewRecoveryCodes(userID, deps.RecoveryCodeCount, deps.RecoveryCodeLength, deps.RandomIndex)
	if err != nil {
		return nil, deps.unavailable(err)
	}
	if err := deps.ReplaceRecoveryCodes(ctx, userID, hashes); err != nil {
		return nil, deps.unavailable(err)
	}
	return codes, nil
}

func recoveryCodesIssued(ctx context.Context, userID string, deps TwoFactorDeps) {
	deps.MetricInc(deps.Metrics.RecoveryCodesIssued)
	deps.EmitAudit(ctx, deps.Events.RecoveryCodesGenerated, true, userID, nil, nil)
}

func checkManagementLimit(ctx context.Context, userID string, deps TwoFactorDeps) error {
	if deps.IsLimited == nil || deps.RecordFailure == nil || deps.Clear == nil {
		return deps.Errors.EngineNotReady
	}
	limited, err := deps.IsLimited(ctx, managementKey(userID), deps.Now())
	if err != nil {
		return deps.unavailable(err)
	}
	if limited {
		deps.MetricInc(deps.Metrics.RateLimited)
		deps.EmitAudit(ctx, deps.Events.Failure, false, userID, deps.Errors.RateLimited, nil)
		return deps.Errors.RateLimited
	}
	return nil
}

// managementFailure counts a failed proof against the user's management
// budget. Backend errors pass through uncounted.
func managementFailure(ctx context.Context, userID string, cause error, deps TwoFactorDeps) error {
	switch cause {
	case deps.Errors.CodeInvalid, deps.Errors.PasswordInvalid, deps.Errors.ConfirmationMismatch:
	default:
		return cause
	}
	if cause == deps.Errors.CodeInvalid {
		deps.MetricInc(deps.Metrics.TOTPFailure)
	}
	if err := deps.RecordFailure(ctx, managementKey(userID), deps.Now()); err != nil {
		return deps.unavailable(err)
	}
	deps.EmitAudit(ctx, deps.Events.Failure, false, userID, cause, nil)
	return cause
}
