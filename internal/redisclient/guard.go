package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrGuardHeld = errors.New("overlap guard held by another run")

// OverlapGuard suppresses duplicate work across concurrent runs: sweep
// invocations firing on overlapping schedules, and booking attempts on
// the same slot. It is strictly best-effort: every guarded operation must
// remain correct when the guard is unavailable or skipped, because the
// store's conditional updates and unique indexes are the real
// serialization points.
type OverlapGuard interface {
	// WithGuard runs fn if the named guard key could be claimed. If another
	// run holds the key it returns ErrGuardHeld without calling fn.
	WithGuard(ctx context.Context, name string, fn func(ctx context.Context) error) error

	// ClaimEvent returns true the first time an external event id is seen
	// within the dedup window, false on replays.
	ClaimEvent(ctx context.Context, eventID string, window time.Duration) (bool, error)
}

type redisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewOverlapGuard(client *redis.Client, ttl time.Duration) OverlapGuard {
	return &redisGuard{
		client: client,
		ttl:    ttl,
	}
}

func (g *redisGuard) WithGuard(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("guard:%s", name)
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire overlap guard: %w", err)
	}
	if !ok {
		return ErrGuardHeld
	}

	defer func() {
		_ = g.release(ctx, key, token)
	}()

	return fn(ctx)
}

func (g *redisGuard) ClaimEvent(ctx context.Context, eventID string, window time.Duration) (bool, error) {
	key := fmt.Sprintf("dedup:event:%s", eventID)

	ok, err := g.client.SetNX(ctx, key, "1", window).Result()
	if err != nil {
		return false, fmt.Errorf("claim event: %w", err)
	}
	return ok, nil
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (g *redisGuard) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, g.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release overlap guard: %w", err)
	}
	return nil
}

// NoopGuard never blocks and never dedups. Used where redis is not wired,
// e.g. tests exercising the lockless path.
type NoopGuard struct{}

func (NoopGuard) WithGuard(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (NoopGuard) ClaimEvent(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}
