package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-auth/internal/shared"
)

const resetTokenBytes = 32

// ResetTokens issues and redeems single-use password reset tokens.
type ResetTokens interface {
	Issue(ctx context.Context, userID int64) (string, error)
	// Consume returns shared.ErrInvalidToken for unknown, expired or reused tokens.
	Consume(ctx context.Context, raw string) (int64, error)
}

// RedisResetTokens keeps reset tokens in Redis. Only a digest of the token
// is stored; the key expires after ttl.
type RedisResetTokens struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisResetTokens constructs the store.
func NewRedisResetTokens(client redis.Cmdable, prefix string, ttl time.Duration) *RedisResetTokens {
	if prefix == "" {
		prefix = "auth:reset"
	}
	return &RedisResetTokens{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisResetTokens) Issue(ctx context.Context, userID int64) (string, error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: reset token entropy: %w", err)
	}
	raw := hex.EncodeToString(buf)
	if err := s.client.Set(ctx, s.key(raw), userID, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("auth: store reset token: %w", err)
	}
	return raw, nil
}

func (s *RedisResetTokens) Consume(ctx context.Context, raw string) (int64, error) {
	if raw == "" {
		return 0, shared.ErrInvalidToken
	}
	val, err := s.client.GetDel(ctx, s.key(raw)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, shared.ErrInvalidToken
		}
		return 0, fmt.Errorf("auth: consume reset token: %w", err)
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("auth: corrupt reset token value: %w", err)
	}
	return id, nil
}

func (s *RedisResetTokens) key(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return s.prefix + ":" + hex.EncodeToString(sum[:])
}
