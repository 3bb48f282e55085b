// Package repository is the relational adapter for goVerify: a gorm-backed
// [goVerify.UserStore] over the storefront users table and a
// [goVerify.TokenStore] over verification_tokens.
//
// Single-active-token is enforced by a unique index on (subject_key,
// purpose) and a one-statement upsert. Postgres is the production target;
// sqlite is supported for local runs and tests.
package repository
