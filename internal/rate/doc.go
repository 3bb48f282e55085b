// Package rate provides the reset-on-expiry window counter shared by every
// verification endpoint, plus the stores that hold its records.
//
// # Window semantics
//
// Each identifier owns a record {count, windowStart}. A call made after
// windowStart+window resets the record to count=1 and is allowed. Otherwise a
// call is denied once count has reached the budget; denied calls leave the
// counter unchanged. The window is fixed from the first admitted call, not
// sliding per request.
//
// # Stores
//
//   - [MemoryStore]: process-local map guarded by a mutex, with a background
//     sweep evicting stale windows.
//   - [RedisStore]: shared across replicas; one Lua script per admit.
//
// # What this package must NOT do
//
//   - Implement endpoint policies (those live in internal/limiters).
//   - Be imported outside the goVerify module.
package rate
