// Package flows contains the pure-function orchestrators behind every
// verification operation of the Engine.
//
//   - [RunIssue]: replace the token for (subject, purpose), then notify.
//   - [RunVerify]: existence, expiry, attempt budget, equality, in that order.
//   - [RunReconcile]: walk an ordered [Proof] chain and report the first match.
//
// Each function accepts a typed dependency struct and has no side effects
// beyond those dependencies, so flows are tested with in-memory fakes and the
// Engine stays thin.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the token store, notifier, audit, and
// metrics. They do NOT own any of these resources; ownership stays with the
// Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goVerify (to avoid import cycles).
//   - Perform I/O directly; all I/O is mediated through dependencies.
package flows
