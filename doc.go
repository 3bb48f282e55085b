// Package goVerify is the identity verification core of a storefront
// backend: passwordless login codes, an opt-in email second factor, email
// ownership confirmation, per-endpoint rate limiting, and a credential
// reconciler that turns a password or a verified code into a session.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Verification tokens
//
// Every code is a [VerificationToken] tagged with a [Purpose]. At most one
// token is active per subject and purpose; issuing replaces it. Verification
// checks existence, expiry, the attempt budget and then the code, in that
// order. Expired and exhausted tokens are deleted. A mismatch costs one
// attempt.
//
// # Credential reconciliation
//
// [Engine.Authorize] accepts one secret and tries, in order, the password, a
// verified second-factor code, a verified email-ownership code, and a
// verified login code (only for accounts with a verified email and no second
// factor). Token proofs must be younger than their configured window and are
// consumed on success.
//
// # Architecture boundaries
//
// goVerify is the public surface. Flow orchestration, token encoding, rate
// windows and audit dispatch live under internal/ and do not import this
// package. The repository, notify and middleware packages are adapters
// around [Engine].
package goVerify
