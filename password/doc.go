// Package password verifies and produces legacy PBKDF2-SHA256 password hashes.
//
// # Output format
//
// Hashes use the Django-compatible four-segment format:
//
//	pbkdf2_sha256$<iterations>$<salt>$<base64 hash>
//
// The salt segment is stored as text and its bytes are fed to PBKDF2 as-is. The
// hash segment is standard base64 of a 32-byte derived key.
//
// # Architecture boundaries
//
// This package owns encoding and verification only. Deciding whether a user still has
// a legacy credential, and clearing it after migration, is the Engine's job.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other authbridge package.
//   - Log plaintext passwords or stored hash segments.
package password
