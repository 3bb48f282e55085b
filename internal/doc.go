// Package internal contains helper utilities that are private to goVerify:
// numeric code generation, random secrets, and the link token codec.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - config: server configuration loading (YAML + environment)
//   - flows: issue, verify, and reconcile orchestrators
//   - httpapi: gin handlers for the verification endpoints
//   - janitor: periodic purge of expired tokens
//   - limiters: per-endpoint verification budgets
//   - logging: zap logger construction
//   - rate: reset-on-expiry window counter and its stores
//   - stores: Redis-backed token store
//   - token: the generic verification token and its Store contract
//
// # What this package must NOT do
//
//   - Export types that appear in the public goVerify API.
//   - Be imported by any package outside the goVerify module.
package internal
