// Package limiters holds Redis counters for checks that sit outside the
// login/refresh limiter in internal/rate.
//
// # Limiters
//
//   - [TOTPLimiter]: per-identity failure counter for codes checked against
//     an enabled secret (verify and disable).
//
// All limiters are nil-safe: calling any method on a nil receiver returns nil.
//
// # Architecture boundaries
//
// Each limiter owns its own Redis key namespace under the configured prefix
// and its own error types. Thresholds come from Config structs supplied at
// construction time.
//
// # What this package must NOT do
//
//   - Import authbridge or any sibling internal package.
//   - Make policy decisions beyond counting. Flow functions decide consequences.
package limiters
