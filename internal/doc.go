// Package internal contains helpers private to atlasauth.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher and Sink implementations)
//   - flows: orchestration for every Engine operation
//   - stores: Redis and in-memory challenge stores
//
// # What this package must NOT do
//
//   - Export types that appear in the public atlasauth API.
package internal
