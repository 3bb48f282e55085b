// Package token defines the generic verification token shared by the login
// code, second-factor, and email-ownership flows, together with the Store
// contract every persistence backend implements.
//
// # What this package must NOT do
//
//   - Import goVerify or any persistence driver.
//   - Generate codes or decide verification outcomes (see internal/flows).
package token
