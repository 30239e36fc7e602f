package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	totpSetupRecordVersion1 = 1
)

var (
	ErrTOTPSetupNotFound = errors.New("totp setup not found")
	ErrTOTPSetupExpired  = errors.New("totp setup expired")
	ErrTOTPSetupBackend  = errors.New("totp setup backend unavailable")
	ErrTOTPSetupCorrupt  = errors.New("totp setup record corrupt")
)

// TOTPSetup is a pending, not yet committed TOTP secret.
type TOTPSetup struct {
	Secret    string
	ExpiresAt int64
	Attempts  uint16
}

// TOTPSetupStore keeps one pending setup per identity. Starting a new setup
// replaces the previous one.
type TOTPSetupStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewTOTPSetupStore(redisClient redis.UniversalClient, prefix string) *TOTPSetupStore {
	if prefix == "" {
		prefix = "ab"
	}
	return &TOTPSetupStore{
		redis:  redisClient,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *TOTPSetupStore) key(identity string) string {
	return s.prefix + ":totp:pending:" + strings.ToLower(strings.TrimSpace(identity))
}

// Save stores secret as the pending setup for identity.
func (s *TOTPSetupStore) Save(ctx context.Context, identity, secret string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: non-positive ttl", ErrTOTPSetupBackend)
	}
	record := &TOTPSetup{
		Secret:    secret,
		ExpiresAt: s.now().Add(ttl).Unix(),
	}
	encoded, err := encodeTOTPSetup(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(identity), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTOTPSetupBackend, err)
	}
	return nil
}

func (s *TOTPSetupStore) Get(ctx context.Context, identity string) (*TOTPSetup, error) {
	data, err := s.redis.Get(ctx, s.key(identity)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTOTPSetupNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrTOTPSetupBackend, err)
	}

	record, err := decodeTOTPSetup(data)
	if err != nil {
		return nil, err
	}
	if s.now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(identity)).Result()
		return nil, ErrTOTPSetupExpired
	}
	return record, nil
}

// Consume deletes the pending setup only when it still holds secret, so a
// confirm racing a fresh Begin cannot drop the newer secret.
func (s *TOTPSetupStore) Consume(ctx context.Context, identity, secret string) (bool, error) {
	key := s.key(identity)
	var consumed bool
	err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		record, err := decodeTOTPSetup(data)
		if err != nil {
			return err
		}
		if subtle.ConstantTimeCompare([]byte(record.Secret), []byte(secret)) != 1 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		if err == nil {
			consumed = true
		}
		return err
	}, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		if errors.Is(err, ErrTOTPSetupCorrupt) {
			return false, err
		}
		return false, fmt.Errorf("%w: %v", ErrTOTPSetupBackend, err)
	}
	return consumed, nil
}

// Delete drops any pending setup for identity and reports whether one existed.
func (s *TOTPSetupStore) Delete(ctx context.Context, identity string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(identity)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTOTPSetupBackend, err)
	}
	return n > 0, nil
}

// RecordFailure bumps the attempt counter and drops the pending setup once
// maxAttempts is reached. It reports whether the budget is exhausted.
func (s *TOTPSetupStore) RecordFailure(ctx context.Context, identity string, maxAttempts int) (bool, error) {
	const maxRetries = 4
	key := s.key(identity)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeTOTPSetup(data)
			if err != nil {
				return err
			}

			ttl := time.Unix(record.ExpiresAt, 0).Sub(s.now())
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrTOTPSetupExpired
			}

			record.Attempts++
			if maxAttempts > 0 && int(record.Attempts) >= maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			updated, err := encodeTOTPSetup(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrTOTPSetupNotFound
			}
			if errors.Is(err, ErrTOTPSetupExpired) || errors.Is(err, ErrTOTPSetupCorrupt) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrTOTPSetupBackend, err)
		}
		return exceeded, nil
	}

	return false, ErrTOTPSetupBackend
}

func encodeTOTPSetup(record *TOTPSetup) ([]byte, error) {
	if len(record.Secret) > 255 {
		return nil, errors.New("totp secret length exceeded")
	}

	var buf bytes.Buffer
	buf.WriteByte(totpSetupRecordVersion1)
	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	buf.WriteByte(uint8(len(record.Secret)))
	buf.WriteString(record.Secret)
	return buf.Bytes(), nil
}

func decodeTOTPSetup(data []byte) (*TOTPSetup, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil || version != totpSetupRecordVersion1 {
		return nil, ErrTOTPSetupCorrupt
	}

	record := &TOTPSetup{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, ErrTOTPSetupCorrupt
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, ErrTOTPSetupCorrupt
	}
	n, err := reader.ReadByte()
	if err != nil {
		return nil, ErrTOTPSetupCorrupt
	}
	secret := make([]byte, n)
	if _, err := io.ReadFull(reader, secret); err != nil {
		return nil, ErrTOTPSetupCorrupt
	}
	if reader.Len() != 0 {
		return nil, ErrTOTPSetupCorrupt
	}
	record.Secret = string(secret)
	return record, nil
}
