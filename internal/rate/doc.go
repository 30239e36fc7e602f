// Package rate provides Redis-backed fixed-window counters that throttle login
// and refresh attempts.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - <prefix>:rl:id:   login per identity (lowercased email)
//   - <prefix>:rl:ip:   login per client IP
//   - <prefix>:rl:rf:   refresh per client IP
//
// # What this package must NOT do
//
//   - Decide which outcomes count as failures. The Engine calls IncrementLogin.
//   - Be imported outside the authbridge module.
package rate
