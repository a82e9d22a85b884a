package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// CooldownStore implements ports.RecalcCooldown using Redis SET NX.
// Acquiring the cooldown marks the user for the window's duration; cascades
// that reach the same user before the key expires are suppressed. Keeping the
// window in Redis makes the suppression hold across instances.
type CooldownStore struct {
	client *goredis.Client
	prefix string
	window time.Duration
}

// NewCooldownStore creates a Redis-backed recalculation cooldown with the
// given suppression window.
func NewCooldownStore(client *goredis.Client, window time.Duration) *CooldownStore {
	return &CooldownStore{
		client: client,
		prefix: "recalc:cooldown:",
		window: window,
	}
}

// TryAcquire atomically claims the cooldown for a user. Returns true when the
// user was not inside the window and may be recalculated now; false means a
// recalculation already ran recently and this pass must skip the user.
func (s *CooldownStore) TryAcquire(ctx context.Context, userID uuid.UUID) (bool, error) {
	key := s.prefix + userID.String()
	result, err := s.client.SetArgs(ctx, key, 1, goredis.SetArgs{
		Mode: "NX",
		TTL:  s.window,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			// Key already exists — user is inside the suppression window
			return false, nil
		}
		return false, fmt.Errorf("redis cooldown acquire: %w", err)
	}
	return result == "OK", nil
}

// Release drops the user's suppression window early. Used when a pass that
// claimed the window failed before completing.
func (s *CooldownStore) Release(ctx context.Context, userID uuid.UUID) error {
	if err := s.client.Del(ctx, s.prefix+userID.String()).Err(); err != nil {
		return fmt.Errorf("redis cooldown release: %w", err)
	}
	return nil
}
