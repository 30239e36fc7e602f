package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// Digits is the length of every generated code.
	Digits = 6
	// StepSeconds is the RFC 6238 time step.
	StepSeconds = 30

	secretBytes = 20
	defaultSkew = 1
)

var (
	// ErrInvalidSecret is returned when a secret is empty or not Base32.
	ErrInvalidSecret = errors.New("invalid totp secret")
	// ErrInvalidTime is returned for timestamps before the Unix epoch.
	ErrInvalidTime = errors.New("invalid totp time")
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Config tunes verification. Skew is the number of steps accepted on each side
// of the current one; zero means one step.
type Config struct {
	Skew int
	Now  func() time.Time
}

// Engine generates and verifies codes. It holds no mutable state and is safe
// for unlimited concurrent use.
type Engine struct {
	skew int
	now  func() time.Time
}

// New returns an Engine with defaults applied.
func New(cfg Config) *Engine {
	if cfg.Skew <= 0 {
		cfg.Skew = defaultSkew
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{skew: cfg.Skew, now: cfg.Now}
}

// GenerateSecretKey returns 160 random bits encoded as unpadded Base32.
func (e *Engine) GenerateSecretKey() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return secretEncoding.EncodeToString(raw), nil
}

// GenerateTOTP returns the six-digit code for secret at timeMillis.
func (e *Engine) GenerateTOTP(secret string, timeMillis int64) (string, error) {
	if timeMillis < 0 {
		return "", ErrInvalidTime
	}
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	return hotpCode(key, timeStep(timeMillis), Digits), nil
}

// VerifyTOTP checks code against the current time.
func (e *Engine) VerifyTOTP(secret, code string) bool {
	return e.VerifyTOTPAt(secret, code, e.now())
}

// VerifyTOTPAt checks code against the step containing at and its neighbours
// within the configured skew. Malformed secrets and codes never verify.
func (e *Engine) VerifyTOTPAt(secret, code string, at time.Time) bool {
	_, ok := e.match(secret, code, at)
	return ok
}

// MatchStep is VerifyTOTPAt that also reports which step matched, for callers
// that track replay.
func (e *Engine) MatchStep(secret, code string, at time.Time) (int64, bool) {
	return e.match(secret, code, at)
}

func (e *Engine) match(secret, code string, at time.Time) (int64, bool) {
	code = strings.TrimSpace(code)
	if len(code) != Digits || !isNumeric(code) {
		return 0, false
	}
	key, err := decodeSecret(secret)
	if err != nil {
		return 0, false
	}

	base := timeStep(at.UnixMilli())
	for offset := -e.skew; offset <= e.skew; offset++ {
		step := base + int64(offset)
		if step < 0 {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hotpCode(key, step, Digits)), []byte(code)) == 1 {
			return step, true
		}
	}
	return 0, false
}

// GenerateTOTPURI builds the otpauth:// provisioning URI consumed by
// authenticator apps.
func (e *Engine) GenerateTOTPURI(secret, account, issuer string) string {
	label := url.PathEscape(issuer + ":" + account)
	return "otpauth://totp/" + label +
		"?secret=" + queryEscape(secret) +
		"&issuer=" + queryEscape(issuer)
}

func timeStep(timeMillis int64) int64 {
	return timeMillis / 1000 / StepSeconds
}

func decodeSecret(secret string) ([]byte, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
	normalized = strings.TrimRight(normalized, "=")
	if normalized == "" {
		return nil, ErrInvalidSecret
	}
	key, err := secretEncoding.DecodeString(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return key, nil
}

func hotpCode(key []byte, counter int64, digits int) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, key)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", digits, bin%mod)
}

func queryEscape(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
}

func isNumeric(v string) bool {
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return true
}
