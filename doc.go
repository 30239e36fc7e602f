// Package authbridge provides the authentication core of a CRUD backend: HS512
// JWT access tokens, IP-bound refresh-token rotation in Redis, a TOTP engine,
// and the state machine that moves legacy PBKDF2 accounts onto an external
// identity provider.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authbridge is the public surface. It exposes [Engine], [Builder], [Config],
// the [UserDirectory] and [IdentityProvider] ports, and value types ([User],
// [LoginResult], [MigrationOutcome], [Principal]). Flow orchestration, rate
// limiting, pending TOTP state, and audit dispatch live under internal/.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its public API.
//   - Speak HTTP. Transport lives in httpapi and middleware.
//   - Import any sub-package that re-imports authbridge (no import cycles).
package authbridge
