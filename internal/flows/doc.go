// Package flows compiles ordered step lists into immutable state machines.
//
// A [Machine] answers "what comes next" and "may the caller go back" for one
// flow kind. It holds no per-principal state; the engine keeps the current
// step on the flow instance and asks the machine for transitions.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goVerify (to avoid import cycles).
//   - Perform I/O.
package flows
