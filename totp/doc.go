// Package totp implements HOTP (RFC 4226) and TOTP (RFC 6238) code generation
// and verification, base32 secret handling and otpauth:// provisioning URIs.
//
// # Architecture boundaries
//
// The package is pure computation: no storage, no clock beyond time.Now when a
// timestamp is not supplied, and no shared state. Encrypting secrets at rest is
// the job of the envelope package; replay protection is the caller's job.
//
// # Parameter validation
//
// Every option is validated before any HMAC is computed. Out-of-range values
// return an error wrapping [ErrInvalidParameter]; nothing is clamped.
//
// # What this package must NOT do
//
//   - Log or retain secrets or codes.
//   - Compare codes with anything but a constant-time comparison.
//   - Import any other atlasauth package.
package totp
