// Package validators provides ready-made collaborators for the engine:
// Argon2 credential checks backed by a user table, and fixed development
// codes for environments without real delivery.
package validators
