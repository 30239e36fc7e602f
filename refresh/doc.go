// Package refresh mints and validates opaque refresh-token identifiers.
//
// # Token format
//
// A refresh token is a random (version 4) UUID in canonical lowercase 8-4-4-4-12
// form. Callers must check [ValidFormat] before using a presented value as a store
// key: a token that is not canonical is rejected without any lookup.
//
// # Architecture boundaries
//
// This package owns generation and structural validation. Binding a token to an
// identity and IP, rotation and eviction live in the session store and Engine.
//
// # What this package must NOT do
//
//   - Access Redis or any I/O.
//   - Import authbridge, jwt, or session.
package refresh
