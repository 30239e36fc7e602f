package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authbridge/refresh"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrRedisUnavailable wraps transport failures from Redis.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrInvalidFormat is returned before any lookup when a token is not canonical.
	ErrInvalidFormat = errors.New("refresh token format invalid")
	// ErrSessionNotFound is returned when no live record exists for a token.
	ErrSessionNotFound = errors.New("refresh session not found")
	// ErrIPMismatch is returned when the presenting IP differs from the bound IP.
	ErrIPMismatch = errors.New("refresh session ip mismatch")
	// ErrSessionCorrupt is returned when a stored record cannot be decoded.
	ErrSessionCorrupt = errors.New("refresh session corrupt")
)

// revokeScript deletes the forward key and clears the reverse index only when it
// still points at the revoked token, so a newer session is never unindexed.
const revokeScript = `
local existed = redis.call("DEL", KEYS[1])
if redis.call("GET", KEYS[2]) == ARGV[1] then
  redis.call("DEL", KEYS[2])
end
return existed
`

var revokeLua = redis.NewScript(revokeScript)

// Store persists refresh sessions in Redis.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewStore creates a session [Store] backed by the given Redis client.
// prefix sets the Redis key namespace. Keys carry prefix as a "{prefix}" hash
// tag so the multi-key scripts stay in one slot on Redis Cluster; every
// session of a store therefore lives on a single shard.
func NewStore(redis redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "ab"
	}
	return &Store{
		redis:  redis,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *Store) key(token string) string {
	return "{" + s.prefix + "}:rt:" + token
}

func (s *Store) identityKey(identity string) string {
	return "{" + s.prefix + "}:ident:" + identity
}

// SaveSession binds token to identity and clientIP for ttl and indexes it under
// the identity.
//
//	Performance: one MULTI/EXEC with two SETs.
func (s *Store) SaveSession(ctx context.Context, token, identity, clientIP string, ttl time.Duration) error {
	if !refresh.ValidFormat(token) {
		return ErrInvalidFormat
	}
	if identity == "" {
		return errors.New("session identity is empty")
	}
	if ttl <= 0 {
		return errors.New("session ttl must be positive")
	}

	data, err := Encode(&Record{
		Identity:  identity,
		ClientIP:  clientIP,
		CreatedAt: s.now().Unix(),
	})
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(token), data, ttl)
		pipe.Set(ctx, s.identityKey(identity), token, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get returns the record stored for token.
func (s *Store) Get(ctx context.Context, token string) (*Record, error) {
	if !refresh.ValidFormat(token) {
		return nil, ErrInvalidFormat
	}

	data, err := s.redis.Get(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	rec, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	return rec, nil
}

// ValidateSession returns the identity bound to token when the session exists
// and clientIP equals the IP it was issued to.
func (s *Store) ValidateSession(ctx context.Context, token, clientIP string) (string, error) {
	rec, err := s.Get(ctx, token)
	if err != nil {
		return "", err
	}
	if rec.ClientIP != clientIP {
		return "", ErrIPMismatch
	}
	return rec.Identity, nil
}

// RevokeSession deletes the session for token. Unknown, expired and malformed
// tokens are a no-op.
func (s *Store) RevokeSession(ctx context.Context, token string) error {
	rec, err := s.Get(ctx, token)
	if err != nil {
		if errors.Is(err, ErrInvalidFormat) || errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		if errors.Is(err, ErrSessionCorrupt) {
			if delErr := s.redis.Del(ctx, s.key(token)).Err(); delErr != nil {
				return fmt.Errorf("%w: %v", ErrRedisUnavailable, delErr)
			}
			return nil
		}
		return err
	}
	return s.revoke(ctx, token, rec.Identity)
}

func (s *Store) revoke(ctx context.Context, token, identity string) error {
	_, err := s.ConsumeSession(ctx, token, identity)
	return err
}

// ConsumeSession deletes the session for token, owned by identity, and reports
// whether this call removed it. Of several concurrent calls for one token,
// exactly one observes true.
func (s *Store) ConsumeSession(ctx context.Context, token, identity string) (bool, error) {
	keys := []string{s.key(token), s.identityKey(identity)}
	n, err := revokeLua.Run(ctx, s.redis, keys, token).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

// CurrentSession returns the token indexed for identity, or "" when none.
func (s *Store) CurrentSession(ctx context.Context, identity string) (string, error) {
	token, err := s.redis.Get(ctx, s.identityKey(identity)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return token, nil
}

// EvictPriorSession revokes the session currently indexed for identity and
// returns the evicted token ("" when there was none).
//
// ATOMICITY NOTE: read-index, delete and the caller's subsequent SaveSession are
// separate commands. Two concurrent remembered logins for one identity resolve as
// last-write-wins on the index.
func (s *Store) EvictPriorSession(ctx context.Context, identity string) (string, error) {
	token, err := s.CurrentSession(ctx, identity)
	if err != nil || token == "" {
		return "", err
	}
	if err := s.revoke(ctx, token, identity); err != nil {
		return "", err
	}
	return token, nil
}

// Ping reports Redis round-trip latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
