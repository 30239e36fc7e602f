// Package jwt issues and validates HS512-signed access tokens.
//
// Key material is decoded once in [NewManager] and never recomputed per call.
// Validation failures are classified into exactly one of [ErrExpiredToken],
// [ErrInvalidToken] or [ErrUnexpectedToken] so callers can branch with errors.Is
// while still answering clients with a uniform response.
package jwt
