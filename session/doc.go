// Package session provides the Redis-backed refresh-session store.
//
// # Keys
//
// Each remembered session occupies two keys with the same TTL:
//
//	{<prefix>}:rt:<refresh token>    -> binary Record {identity, client IP, created at}
//	{<prefix>}:ident:<identity>      -> refresh token (reverse index)
//
// The braces are a Redis Cluster hash tag. Save, revoke and consume touch both
// keys in one MULTI or script, which cluster mode only allows within a slot.
//
// The reverse index lets a new remembered login evict the identity's previous
// session. Evict-then-save spans two keys and is not transactional: under two
// near-simultaneous remembered logins for the same identity the last write wins,
// and the loser's forward record survives only until its TTL or next rotation.
//
// # Architecture boundaries
//
// This package owns the [Store] and the [Record] encoding. It does NOT mint
// tokens, look up users, or decide when a session should be created.
//
// # What this package must NOT do
//
//   - Import authbridge or jwt (no upward imports).
//   - Trust a presented token before [refresh.ValidFormat] accepts it.
package session
