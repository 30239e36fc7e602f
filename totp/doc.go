// Package totp implements RFC 6238 time-based one-time passwords on top of the
// RFC 4226 HOTP truncation, with no third-party verification dependency.
//
// Codes are always six digits over a 30-second step using HMAC-SHA1, the profile
// every mainstream authenticator app accepts.
//
// # What this package must NOT do
//
//   - Persist secrets. Setup, commit and disable are Engine concerns.
//   - Import any other authbridge package.
package totp
