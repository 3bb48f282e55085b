// Package limiters binds the storefront's verification endpoints to budgets
// enforced by internal/rate.
//
// # Budgets
//
//   - login code request: 10 per 15 minutes per email
//   - second-factor request: 5 per 15 minutes per user
//   - second-factor verify: 5 per 15 minutes per user
//   - email-ownership request: 3 per 60 minutes per email
//
// [VerificationLimiter] is nil-safe: calling any method on a nil receiver returns nil.
//
// # What this package must NOT do
//
//   - Import goVerify or any sibling internal package except internal/rate.
//   - Touch token storage; a denied request never reaches the token store.
package limiters
