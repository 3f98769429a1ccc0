// Package goVerify runs attempt-limited verification flows: login, email
// verification, password reset and two-factor setup.
//
// Each flow kind is described by a [FlowPolicy]: an ordered list of steps,
// an attempt cap, a lockout window and a resend cooldown. The [Engine]
// keeps three pieces of state per (principal, kind) key: the attempt
// ledger, the resend cooldowns, and the active flow instance. State lives
// in memory, Redis or Postgres depending on how the [Builder] is set up.
//
// Engine methods are safe for concurrent use. Mutating calls on the same
// key are serialized, so N concurrent failed submissions record exactly N
// failures and can never slip past the lockout threshold.
//
// # Collaborators
//
// Codes and credentials are never checked here. A [CodeValidator] decides
// whether a submitted value is correct, a [CodeIssuer] generates and
// delivers codes, and an optional [CompletionHandler] commits the effect of
// a finished flow. Collaborator errors surface as TransientUpstream and do
// not consume attempts.
//
// # Time
//
// Deadlines are stored as absolute instants and compared against the
// injected clock on every read. Backend TTLs only reclaim space; an expired
// lockout ends on time even if its record is still present.
package goVerify
