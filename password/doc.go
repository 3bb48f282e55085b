// Package password hashes and verifies customer passwords.
//
// Two schemes are supported:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//	$2a$<cost>$<salt+hash>                               (bcrypt)
//
// [Multi] writes new hashes with one primary scheme and verifies either, so
// accounts migrated from the storefront's bcrypt era still log in.
// NeedsUpgrade reports hashes worth re-writing on the next successful login.
//
// This package owns hashing only. When a password is required at all is
// decided by the credential reconciler.
package password
