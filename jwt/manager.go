package jwt

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// minKeyBytes is the HS512 minimum: a key shorter than the hash output weakens the MAC.
const minKeyBytes = 64

var (
	// ErrExpiredToken is the EXPIRED_TOKEN category.
	ErrExpiredToken = errors.New("token expired")
	// ErrInvalidToken is the INVALID_TOKEN category: malformed, bad signature,
	// unsupported algorithm, undecodable or empty input.
	ErrInvalidToken = errors.New("invalid token")
	// ErrUnexpectedToken is the UNEXPECTED category for anything else.
	ErrUnexpectedToken = errors.New("unexpected token validation failure")
)

// Category names a validation failure class for logs and audit metadata.
type Category string

const (
	CategoryNone       Category = ""
	CategoryExpired    Category = "EXPIRED_TOKEN"
	CategoryInvalid    Category = "INVALID_TOKEN"
	CategoryUnexpected Category = "UNEXPECTED"
)

// CategoryOf maps an error returned by this package to its category.
func CategoryOf(err error) Category {
	switch {
	case err == nil:
		return CategoryNone
	case errors.Is(err, ErrExpiredToken):
		return CategoryExpired
	case errors.Is(err, ErrInvalidToken):
		return CategoryInvalid
	default:
		return CategoryUnexpected
	}
}

// Config holds token settings. Secret is the base64-encoded HMAC key.
type Config struct {
	AccessTTL time.Duration
	Secret    string
	Issuer    string
	Leeway    time.Duration
	Now       func() time.Time
}

// Subject is the identity an access token is minted for.
type Subject struct {
	Email       string
	Username    string
	Authorities []string
}

// AccessClaims is the token payload. sub carries the email.
type AccessClaims struct {
	Username    string   `json:"username"`
	Authorities []string `json:"authorities"`
	jwt.RegisteredClaims
}

// Manager signs and verifies access tokens. It is immutable after NewManager.
type Manager struct {
	ttl    time.Duration
	key    []byte
	issuer string
	now    func() time.Time
	parser *jwt.Parser
}

// NewManager validates cfg and decodes the signing key.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	key, err := decodeKey(cfg.Secret)
	if err != nil {
		return nil, err
	}
	if len(key) < minKeyBytes {
		return nil, fmt.Errorf("hs512 requires at least %d key bytes, got %d", minKeyBytes, len(key))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(cfg.Now),
	}
	if cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(cfg.Leeway))
	}
	if cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(cfg.Issuer))
	}

	return &Manager{
		ttl:    cfg.AccessTTL,
		key:    key,
		issuer: cfg.Issuer,
		now:    cfg.Now,
		parser: jwt.NewParser(options...),
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (m *Manager) AccessTTL() time.Duration {
	return m.ttl
}

// CreateAccessToken signs a token for sub with exp = iat + AccessTTL.
func (m *Manager) CreateAccessToken(sub Subject) (string, error) {
	if strings.TrimSpace(sub.Email) == "" {
		return "", errors.New("access token subject is empty")
	}

	issuedAt := m.now().Truncate(time.Second)
	authorities := sub.Authorities
	if authorities == nil {
		authorities = []string{}
	}
	claims := AccessClaims{
		Username:    sub.Username,
		Authorities: authorities,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.Email,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(m.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	return token.SignedString(m.key)
}

// ParseToken verifies signature and expiry and returns the claims. Errors are
// wrapped in exactly one of the package categories.
func (m *Manager) ParseToken(tokenStr string) (*AccessClaims, error) {
	if strings.TrimSpace(tokenStr) == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	token, err := m.parser.ParseWithClaims(tokenStr, &AccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS512.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return m.key, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, jwt.ErrTokenInvalidClaims)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, jwt.ErrTokenRequiredClaimMissing)
	}
	return claims, nil
}

// ValidateToken returns the subject (email) of a valid token.
func (m *Manager) ValidateToken(tokenStr string) (string, error) {
	claims, err := m.ParseToken(tokenStr)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpiredToken, err)
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing),
		errors.Is(err, jwt.ErrTokenInvalidClaims),
		errors.Is(err, jwt.ErrInvalidKey),
		errors.Is(err, jwt.ErrInvalidKeyType),
		errors.Is(err, jwt.ErrHashUnavailable):
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	default:
		return fmt.Errorf("%w: %v", ErrUnexpectedToken, err)
	}
}

func decodeKey(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("hs512 requires a signing secret")
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if key, err := enc.DecodeString(secret); err == nil {
			return key, nil
		}
	}
	return nil, errors.New("signing secret is not valid base64")
}
