// Package middleware exposes the HTTP request gate built on
// [authbridge.Engine].
//
// [Gate] walks an ordered list of [PathRule] values; a bypassed path passes
// straight through. Any other request must carry an
// "Authorization: Bearer <token>" header whose token validates and whose
// subject still resolves to an active account. The resolved principal is
// available to handlers through [PrincipalFromContext].
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. Token checks,
// directory lookups, metrics and audit all stay behind the [Authenticator]
// interface.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly.
//   - Access Redis or the user directory.
//   - Distinguish failure causes in the response body.
package middleware
