// Package stores provides the Redis-backed verification token store used when
// the storefront runs without a relational token table, or shares state
// between replicas through Redis.
//
// # Design
//
// Each (subject, purpose) pair owns exactly one key holding a versioned,
// binary-encoded record, so issuing a token is a single SET and the
// single-active-token rule holds without coordination. Mutations are Lua
// scripts that first check the record still carries the expected token id,
// which keeps a late write from touching a replacement token. Keys outlive
// ExpiresAt by a retention period so lookups can still report expiry.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for token records. It
// does NOT generate codes, compare them, enforce rate limits, or make
// authentication decisions; those belong to internal/flows.
//
// # What this package must NOT do
//
//   - Import goVerify or any sibling internal package other than internal/token.
//   - Log plaintext codes.
package stores
