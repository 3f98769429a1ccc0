// Package stores persists in-flight flow instances.
//
// # Design
//
// [MemoryInstanceStore] expires entries lazily against the caller's clock.
// [RedisInstanceStore] stores a versioned binary record ([EncodeInstance])
// under a TTL key. Both keep at most one instance per (principal, kind).
//
// # Architecture boundaries
//
// This package owns persistence of instances only. Attempt counting and
// cooldowns live in internal/limiters; transitions live in internal/flows.
//
// # What this package must NOT do
//
//   - Import goVerify or any sibling internal package.
//   - Decide when an instance is created, resumed or superseded.
package stores
