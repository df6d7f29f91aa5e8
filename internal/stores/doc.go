// Package stores persists short-lived second-factor challenges.
//
// # Design
//
// The Redis store keeps each challenge as a versioned, binary-encoded record
// with a TTL. RecordFailure uses a WATCH/MULTI optimistic transaction with a
// bounded retry on contention. Delete reports whether the caller removed the
// record, which makes a challenge redeemable exactly once. The memory store
// offers the same contract behind a mutex.
//
// # What this package must NOT do
//
//   - Import atlasauth or any sibling internal package.
//   - Decide whether a second factor is valid; flows own that decision.
package stores
