// Package audit implements async event dispatching for security-relevant operations.
//
// # Components
//
//   - [Sink]: interface for event consumers. [ChannelSink] and [SlogSink] ship
//     here; [NewJSONSink] is a SlogSink over slog's JSON handler.
//   - [Dispatcher]: buffered async relay that either drops or blocks when full.
//   - [Event]: structured audit record with timestamp, type, user, IP and metadata.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. The Engine and the flow
// functions decide which events to emit.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import atlasauth or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
