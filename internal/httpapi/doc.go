// Package httpapi is the JSON HTTP surface of the verification core.
// Handlers translate requests into Engine calls and errors into
// {error, reason} bodies using goVerify.HTTPStatus.
package httpapi
