// Package jwt mints and verifies the bearer tokens handed out once the
// credential reconciler accepts a proof.
package jwt
