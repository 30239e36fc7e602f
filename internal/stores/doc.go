// Package stores provides Redis-backed, short-lived record stores for
// authentication flows that need state between two requests.
//
// # Design
//
// Each store persists a versioned, binary-encoded record in Redis with a TTL.
// Mutations that read before writing (Consume, RecordFailure) use WATCH/MULTI
// optimistic transactions. Secret comparisons use constant-time compare.
//
// # Architecture boundaries
//
// This package owns persistence for transient records. It does NOT generate
// secrets or verify codes; those belong to internal/flows and the totp package.
//
// # What this package must NOT do
//
//   - Import authbridge or any sibling internal package.
//   - Log or expose plaintext secrets.
package stores
