package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "session:"

// SessionManager issues and verifies ephemeral guest session tokens.
// Tokens live in redis with the same TTL as guest drawings, so a session
// outlives every drawing it owns.
type SessionManager struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSessionManager(rdb *redis.Client, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = GuestTTL
	}
	return &SessionManager{rdb: rdb, ttl: ttl}
}

// Issue creates a fresh guest token and registers it.
func (m *SessionManager) Issue(ctx context.Context) (string, error) {
	token := "guest_" + uuid.New().String()
	if err := m.rdb.Set(ctx, sessionKeyPrefix+token, 1, m.ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// Verify reports whether the token is a known, unexpired guest session.
// A successful verification refreshes the TTL.
func (m *SessionManager) Verify(ctx context.Context, token string) (bool, error) {
	if !strings.HasPrefix(token, "guest_") {
		return false, nil
	}
	ok, err := m.rdb.Expire(ctx, sessionKeyPrefix+token, m.ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}
