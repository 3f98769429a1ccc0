// Package audit relays flow outcome events to pluggable sinks without
// blocking the request path.
//
// # Components
//
//   - [Event]: one operation outcome (principal, flow kind, step, outcome, wait).
//   - [Sink]: consumer interface with channel, JSON-lines, slog and no-op implementations.
//   - [Dispatcher]: buffered single-goroutine relay, drop-if-full or block-if-full.
//
// # Architecture boundaries
//
// The engine decides which events exist; this package only buffers and delivers them.
//
// # What this package must NOT do
//
//   - Filter events based on flow semantics.
//   - Import goVerify or any sibling internal package.
package audit
