// Package atlasauth is the authentication core of Atlas: email and password
// sign-in, OAuth account reconciliation and TOTP two-factor step-up.
//
// The package owns no schema. Callers supply a [UserRepository], and
// optionally a [LinkedIdentityRepository] and [TwoFactorRepository]; the
// store/postgres and store/memory packages provide ready implementations.
// Sessions and cookies belong to the caller too: the engine returns an
// [AuthorizedUser] and stops there.
//
// # Flow
//
//	res, err := engine.SignIn(ctx, atlasauth.CredentialsRequest{...})
//	// res == nil, err == nil: refused. Show a generic error.
//	// res.RequiresTwoFactor: prompt for a code, then
//	user, err := engine.CompleteSignIn(ctx, res.ChallengeToken, code, atlasauth.FactorTOTP)
//
// # Architecture boundaries
//
// atlasauth exposes [Engine], [Builder], [Config] and value types. Flow
// orchestration, challenge encoding and audit dispatch live under internal/.
// The leaf packages (totp, envelope, password, ratelimit, policy, jwt) import
// nothing from this package and are usable on their own.
//
// Engine methods are safe for concurrent use after [Builder.Build].
package atlasauth
