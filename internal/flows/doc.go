// Package flows contains the orchestration behind every Engine sign-in and
// two-factor operation.
//
// Each Run* function takes a typed dependency struct of plain functions and
// returns a result without side effects beyond those functions. The Engine
// builds the dependency structs from its repositories, hashers, limiters and
// challenge store, so flows can be tested against in-memory fakes.
//
// # Ordering
//
// Credential checks run in a fixed order: rate limit, input validation, user
// lookup, password verification, account policy. Cheaper checks short-circuit
// before the expensive or revealing ones.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import the root atlasauth package.
//   - Perform I/O directly; all I/O goes through dependency functions.
package flows
