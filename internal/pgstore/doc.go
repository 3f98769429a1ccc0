// Package pgstore backs the attempt ledger, resend cooldowns and flow
// instances with PostgreSQL through a pgx pool.
//
// The schema ships as embedded golang-migrate migrations; call [Migrate]
// before constructing any store. Ledger mutations take a row lock inside a
// transaction and reuse the transitions from internal/limiters, so a
// Postgres deployment counts and locks exactly like the memory and Redis
// backends. Deadlines are stored as timestamps and compared against the
// caller's clock, never the database clock.
package pgstore
