// Package httpapi exposes the flow engine over JSON/HTTP.
//
// # Endpoints
//
//	GET  /flows/{kind}          status
//	POST /flows/{kind}/begin
//	POST /flows/{kind}/submit
//	POST /flows/{kind}/resend
//	POST /flows/{kind}/back
//	POST /flows/{kind}/abort
//
// The principal comes from a verified completion ticket when one is
// present, otherwise from the request body (or the principal query
// parameter for status). When a ticket verifier is configured, two-factor
// setup requires a login ticket.
//
// # Error mapping
//
//	locked               423 + Retry-After
//	cooldown_active      429 + Retry-After
//	invalid_input        400
//	invalid_code         401
//	invalid_credentials  401
//	attempts_exhausted   409
//	transient_upstream   503
//	unknown kind/flow    404
package httpapi
