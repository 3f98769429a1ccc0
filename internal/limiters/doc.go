// Package limiters holds the attempt ledger and the resend cooldown table.
//
// # Components
//
//   - [Ledger]: per (principal, flow kind) failure count and lockout deadline.
//   - [Cooldowns]: per (principal, flow kind, channel) resend deadline.
//
// Both come in an in-process flavour ([MemoryLedger], [MemoryCooldowns]) and a
// Redis flavour ([RedisLedger], [RedisCooldowns]). The pure transitions
// [ApplyFailure] and [ApplySuccess] define the rules; the Redis Lua scripts
// mirror them so every backend agrees.
//
// Deadlines are stored values compared against a caller-supplied now. Key
// TTLs exist only for cleanup.
//
// # What this package must NOT do
//
//   - Import goVerify or any sibling internal package.
//   - Make flow decisions beyond counting; the engine decides consequences.
package limiters
