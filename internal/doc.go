// Package internal groups the engine's private building blocks.
//
// # Sub-packages
//
//   - audit: buffered event dispatch (Dispatcher and Sink implementations)
//   - flows: function-typed orchestrators behind every Engine operation
//   - limiters: TOTP code failure limiter
//   - metrics: lock-free counters and the validation latency histogram
//   - rate: Redis-backed login and refresh throttling
//   - stores: pending TOTP enrollment records
//
// # What this package must NOT do
//
//   - Export types that appear in the public authbridge API.
//   - Be imported by any package outside the authbridge module.
package internal
