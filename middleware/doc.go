// Package middleware holds the gin middleware around goVerify.Engine.
//
// # Guards
//
//   - [RequireSession] verifies the bearer session token without touching storage.
//   - [RequireStrict] additionally loads the user so deleted accounts are rejected.
//   - [OptionalSession] attaches the principal when a valid token is present.
//
// Guards delegate every decision to Engine.ParseSession; this package never
// parses JWTs itself.
//
// # Request plumbing
//
// [RequestID], [ClientIP], [AccessLog] and [SecurityHeaders] carry request
// metadata into the engine context and zap access logs.
package middleware
