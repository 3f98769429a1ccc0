// Package ticket signs completion tickets: short-lived JWTs stating that a
// principal finished a verification flow.
//
// The subject is the principal; the custom claims carry the flow kind, the
// flow instance id and the terminal step. A session layer that trusts the
// signer's key can accept a ticket in place of re-running the flow.
package ticket
