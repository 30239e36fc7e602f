package refresh

import (
	"github.com/google/uuid"
)

const canonicalLength = 36

// New returns a fresh refresh token.
func New() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ValidFormat reports whether token has the exact canonical shape produced by New.
func ValidFormat(token string) bool {
	if len(token) != canonicalLength {
		return false
	}
	id, err := uuid.Parse(token)
	if err != nil {
		return false
	}
	if id.Version() != 4 || id.Variant() != uuid.RFC4122 {
		return false
	}
	return id.String() == token
}
