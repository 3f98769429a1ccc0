// Package middleware holds the HTTP adapters that sit in front of the flow
// API: request context propagation, per-IP rate limiting, request logging,
// panic recovery and completion-ticket guards.
//
// # Guards
//
//   - [RequireTicket] verifies a bearer completion ticket and injects its
//     claims into the request context.
//   - [RequireTicketKind] additionally pins the flow kind that minted it,
//     for example a login ticket in front of two-factor enrollment.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into context values. It never
// talks to the engine's stores and never makes flow decisions; those stay
// in goVerify.Engine.
package middleware
