package jwt

import "github.com/MrEthical07/authbridge/refresh"

// NewRefreshToken mints an opaque refresh token id.
func NewRefreshToken() (string, error) {
	return refresh.New()
}

// ValidRefreshTokenFormat reports whether token has the canonical refresh id shape.
func ValidRefreshTokenFormat(token string) bool {
	return refresh.ValidFormat(token)
}
