package password

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// Algorithm is the tag written as the first hash segment.
	Algorithm = "pbkdf2_sha256"
	// DefaultIterations matches the legacy system's work factor.
	DefaultIterations = 600000
	// MaxIterations caps the work factor a stored hash may ask for.
	MaxIterations = 10 * DefaultIterations

	saltBytes     = 16
	keyLength     = 32
	minIterations = 1
)

var (
	// ErrMalformedHash is reported (to logs only) when a stored hash cannot be parsed.
	ErrMalformedHash = errors.New("malformed legacy password hash")
	// ErrUnsupportedAlgorithm is reported when the algorithm tag is not pbkdf2_sha256.
	ErrUnsupportedAlgorithm = errors.New("unsupported legacy password algorithm")
)

// Config controls the legacy hasher. Zero Iterations means DefaultIterations.
type Config struct {
	Iterations int
}

// Legacy encodes and verifies pbkdf2_sha256 hashes.
//
// Legacy is immutable after construction and safe for concurrent use.
type Legacy struct {
	iterations int
	logger     zerolog.Logger
}

// NewLegacy validates cfg and returns a verifier that logs parse failures to logger.
func NewLegacy(cfg Config, logger zerolog.Logger) (*Legacy, error) {
	if cfg.Iterations == 0 {
		cfg.Iterations = DefaultIterations
	}
	if cfg.Iterations < minIterations {
		return nil, errors.New("legacy password iterations must be positive")
	}
	if cfg.Iterations > MaxIterations {
		return nil, fmt.Errorf("legacy password iterations must not exceed %d", MaxIterations)
	}
	return &Legacy{
		iterations: cfg.Iterations,
		logger:     logger.With().Str("component", "legacy_password").Logger(),
	}, nil
}

// Iterations returns the work factor used by Encode.
func (l *Legacy) Iterations() int {
	return l.iterations
}

// Encode derives a fresh hash of raw with a random 16-byte salt.
func (l *Legacy) Encode(raw string) (string, error) {
	salt := make([]byte, saltBytes)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	saltText := base64.RawURLEncoding.EncodeToString(salt)

	key := derive(raw, saltText, l.iterations)
	return fmt.Sprintf("%s$%d$%s$%s", Algorithm, l.iterations, saltText, base64.StdEncoding.EncodeToString(key)), nil
}

// Matches reports whether raw re-derives to the hash stored in encoded.
//
// Matches never returns an error: any parse or format problem is logged and
// reported as a mismatch. The final comparison runs in constant time.
func (l *Legacy) Matches(raw, encoded string) bool {
	parsed, err := parse(encoded)
	if err != nil {
		l.logger.Warn().Err(err).Msg("legacy password hash rejected")
		return false
	}

	key := derive(raw, parsed.salt, parsed.iterations)
	return subtle.ConstantTimeCompare(key, parsed.hash) == 1
}

type parsedHash struct {
	iterations int
	salt       string
	hash       []byte
}

func parse(encoded string) (parsedHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 {
		return parsedHash{}, fmt.Errorf("%w: expected 4 segments, got %d", ErrMalformedHash, len(parts))
	}
	if parts[0] != Algorithm {
		return parsedHash{}, ErrUnsupportedAlgorithm
	}

	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations < minIterations {
		return parsedHash{}, fmt.Errorf("%w: invalid iteration count", ErrMalformedHash)
	}
	if iterations > MaxIterations {
		return parsedHash{}, fmt.Errorf("%w: iteration count %d above %d", ErrMalformedHash, iterations, MaxIterations)
	}
	if parts[2] == "" {
		return parsedHash{}, fmt.Errorf("%w: empty salt", ErrMalformedHash)
	}

	hash, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return parsedHash{}, fmt.Errorf("%w: hash is not base64", ErrMalformedHash)
	}
	if len(hash) == 0 {
		return parsedHash{}, fmt.Errorf("%w: empty hash", ErrMalformedHash)
	}

	return parsedHash{
		iterations: iterations,
		salt:       parts[2],
		hash:       hash,
	}, nil
}

func derive(raw, salt string, iterations int) []byte {
	return pbkdf2.Key([]byte(raw), []byte(salt), iterations, keyLength, sha256.New)
}
