package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultTOTPMaxAttempts = 5
	defaultTOTPCooldown    = time.Minute
	defaultTOTPStepTTL     = 90 * time.Second
)

// claimStepScript records step as the newest accepted one unless an equal or
// later step is already recorded.
var claimStepScript = redis.NewScript(`
local last = redis.call('GET', KEYS[1])
if last and tonumber(last) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

var (
	// ErrTOTPRateLimited is returned once an identity has used up its code attempts.
	ErrTOTPRateLimited = errors.New("totp rate limited")
	// ErrTOTPUnavailable wraps Redis failures.
	ErrTOTPUnavailable = errors.New("totp limiter unavailable")
)

// TOTPLimiterConfig holds thresholds for committed-secret code checks.
type TOTPLimiterConfig struct {
	Prefix      string
	MaxAttempts int
	Cooldown    time.Duration
	// StepTTL bounds how long the last accepted step is remembered. It must
	// cover the verification window on both sides of now.
	StepTTL time.Duration
}

// TOTPLimiter counts failed codes against an enabled secret, per identity.
type TOTPLimiter struct {
	redis       redis.UniversalClient
	prefix      string
	maxAttempts int64
	cooldown    time.Duration
	stepTTL     time.Duration
}

// NewTOTPLimiter creates a TOTP code limiter. Zero-value fields in cfg
// fall back to 5 attempts per minute.
func NewTOTPLimiter(redisClient redis.UniversalClient, cfg TOTPLimiterConfig) *TOTPLimiter {
	max := cfg.MaxAttempts
	if max <= 0 {
		max = defaultTOTPMaxAttempts
	}
	cd := cfg.Cooldown
	if cd <= 0 {
		cd = defaultTOTPCooldown
	}
	stepTTL := cfg.StepTTL
	if stepTTL <= 0 {
		stepTTL = defaultTOTPStepTTL
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "ab"
	}
	return &TOTPLimiter{redis: redisClient, prefix: prefix, maxAttempts: int64(max), cooldown: cd, stepTTL: stepTTL}
}

func (l *TOTPLimiter) key(identity string) string {
	return l.prefix + ":rl:totp:" + identity
}

func (l *TOTPLimiter) stepKey(identity string) string {
	return l.prefix + ":totp:step:" + identity
}

// ClaimStep marks step as used for identity. It reports false when step, or a
// later one, was already accepted, so each code works once.
func (l *TOTPLimiter) ClaimStep(ctx context.Context, identity string, step int64) (bool, error) {
	if l == nil {
		return true, nil
	}
	n, err := claimStepScript.Run(ctx, l.redis, []string{l.stepKey(identity)}, step, l.stepTTL.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTOTPUnavailable, err)
	}
	return n == 1, nil
}

// Check returns ErrTOTPRateLimited when identity has no attempts left.
func (l *TOTPLimiter) Check(ctx context.Context, identity string) error {
	if l == nil {
		return nil
	}
	count, err := l.redis.Get(ctx, l.key(identity)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrTOTPUnavailable, err)
	}
	if count >= l.maxAttempts {
		return ErrTOTPRateLimited
	}
	return nil
}

// RecordFailure counts one bad code. The window starts at the first failure.
func (l *TOTPLimiter) RecordFailure(ctx context.Context, identity string) error {
	if l == nil {
		return nil
	}
	count, err := l.redis.Incr(ctx, l.key(identity)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTOTPUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, l.key(identity), l.cooldown).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrTOTPUnavailable, err)
		}
	}
	if count >= l.maxAttempts {
		return ErrTOTPRateLimited
	}
	return nil
}

// Reset clears the failure counter after a good code.
func (l *TOTPLimiter) Reset(ctx context.Context, identity string) error {
	if l == nil {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(identity)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTOTPUnavailable, err)
	}
	return nil
}
