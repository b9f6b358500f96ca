package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("slot lock not acquired")
)

// Locker guards the critical sections that claim or release availability
// slots. WithSlotLocks takes one key per slot involved: a booking locks the
// target slot, a reschedule approval locks both the held and the requested
// slot so that no interleaving can observe one claimed without the other.
type Locker interface {
	WithSlotLocks(ctx context.Context, fn func(ctx context.Context) error, slotIDs ...uuid.UUID) error
}

type redisSlotLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSlotLocker creates a locker backed by one Redis key per slot.
func NewSlotLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisSlotLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisSlotLocker) WithSlotLocks(ctx context.Context, fn func(ctx context.Context) error, slotIDs ...uuid.UUID) error {
	// Acquire in sorted key order so two operations touching the same pair
	// of slots cannot deadlock each other.
	keys := make([]string, 0, len(slotIDs))
	for _, id := range slotIDs {
		keys = append(keys, fmt.Sprintf("lock:slot:%s", id.String()))
	}
	sort.Strings(keys)

	token := uuid.NewString()

	var held []string
	defer func() {
		for _, key := range held {
			_ = l.release(ctx, key, token)
		}
	}()

	for _, key := range keys {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire slot lock: %w", err)
		}
		if !ok {
			return ErrLockNotAcquired
		}
		held = append(held, key)
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisSlotLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release slot lock: %w", err)
	}
	return nil
}
