package internaldefs

import "github.com/MrEthical07/atlasauth"

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   atlasauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   atlasauth.MetricID
	Name string
	Help string
}

// BucketCount is the number of histogram buckets, the last one unbounded.
const BucketCount = len(atlasauth.HistogramBounds) + 1

var CounterDefs = []CounterDef{
	{ID: atlasauth.MetricSignInSuccess, Name: "atlasauth_signin_success_total", Help: "Successful credential sign-ins."},
	{ID: atlasauth.MetricSignInFailure, Name: "atlasauth_signin_failure_total", Help: "Refused credential sign-ins."},
	{ID: atlasauth.MetricSignInRateLimited, Name: "atlasauth_signin_rate_limited_total", Help: "Sign-ins refused by the rate limiter."},
	{ID: atlasauth.MetricSignInEmailNotVerified, Name: "atlasauth_signin_email_not_verified_total", Help: "Correct passwords on unverified accounts."},
	{ID: atlasauth.MetricPasswordRehashed, Name: "atlasauth_password_rehashed_total", Help: "Password hashes upgraded after sign-in."},
	{ID: atlasauth.MetricOAuthSuccess, Name: "atlasauth_oauth_success_total", Help: "Resolved OAuth sign-ins."},
	{ID: atlasauth.MetricOAuthDenied, Name: "atlasauth_oauth_denied_total", Help: "Denied OAuth sign-ins."},
	{ID: atlasauth.MetricOAuthUserCreated, Name: "atlasauth_oauth_user_created_total", Help: "Accounts created from OAuth sign-ins."},
	{ID: atlasauth.MetricOAuthLinked, Name: "atlasauth_oauth_linked_total", Help: "Provider identities linked."},
	{ID: atlasauth.MetricOAuthLinkConflict, Name: "atlasauth_oauth_link_conflict_total", Help: "Link inserts that hit an existing link."},
	{ID: atlasauth.MetricChallengeIssued, Name: "atlasauth_challenge_issued_total", Help: "Two-factor sign-in challenges issued."},
	{ID: atlasauth.MetricChallengeSuccess, Name: "atlasauth_challenge_success_total", Help: "Challenges redeemed."},
	{ID: atlasauth.MetricChallengeFailure, Name: "atlasauth_challenge_failure_total", Help: "Failed challenge redemptions."},
	{ID: atlasauth.MetricChallengeReplay, Name: "atlasauth_challenge_replay_total", Help: "Challenge redemptions lost to a concurrent redemption."},
	{ID: atlasauth.MetricTOTPFailure, Name: "atlasauth_totp_failure_total", Help: "Rejected TOTP codes."},
	{ID: atlasauth.MetricRecoveryCodeUsed, Name: "atlasauth_recovery_code_used_total", Help: "Recovery codes consumed."},
	{ID: atlasauth.MetricRecoveryCodeFailed, Name: "atlasauth_recovery_code_failed_total", Help: "Rejected recovery codes."},
	{ID: atlasauth.MetricRecoveryCodesIssued, Name: "atlasauth_recovery_codes_issued_total", Help: "Recovery code sets issued."},
	{ID: atlasauth.MetricTwoFactorEnabled, Name: "atlasauth_two_factor_enabled_total", Help: "Two-factor enrollments."},
	{ID: atlasauth.MetricTwoFactorDisabled, Name: "atlasauth_two_factor_disabled_total", Help: "Two-factor removals."},
	{ID: atlasauth.MetricTwoFactorRateLimited, Name: "atlasauth_two_factor_rate_limited_total", Help: "Two-factor management calls refused by the rate limiter."},
}

var HistogramDefs = []HistogramDef{
	{ID: atlasauth.MetricPasswordVerifyLatency, Name: "atlasauth_password_verify_seconds", Help: "Password verification latency."},
}

// AuditDroppedName is the counter exported for atlasauth.Engine.AuditDropped.
const (
	AuditDroppedName = "atlasauth_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."
)

// UpperBounds returns the finite bucket bounds in seconds.
func UpperBounds() []float64 {
	out := make([]float64, len(atlasauth.HistogramBounds))
	for i, d := range atlasauth.HistogramBounds {
		out[i] = d.Seconds()
	}
	return out
}

// NormalizeBuckets pads or truncates raw to BucketCount entries.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
