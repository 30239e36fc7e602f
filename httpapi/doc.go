// Package httpapi is the JSON HTTP surface of authbridge: sign-in, refresh,
// sign-out, account migration, external sign-in and TOTP enrollment, plus
// health and metrics endpoints.
//
// Refresh tokens travel only in an HttpOnly cookie; access tokens are returned
// in response bodies and presented back as bearer tokens. Every authentication
// failure produces the same 401 body.
//
// # Architecture boundaries
//
// Handlers decode and validate requests, call [Service], and translate errors
// into status codes. No authentication decision is made here.
package httpapi
