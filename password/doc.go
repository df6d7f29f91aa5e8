// Package password hashes and verifies user passwords.
//
// # Algorithms
//
// [Bcrypt] is the default hasher, at cost 12. [Argon2] produces PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Multi] verifies hashes from either algorithm by prefix, so a deployment can
// switch algorithms without invalidating stored hashes. [Multi.NeedsRehash]
// reports hashes the active hasher would not have produced, so callers can
// re-hash after the next successful sign-in.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Enforce password policy; length rules belong to the credential schema.
//   - Import any other atlasauth package.
package password
