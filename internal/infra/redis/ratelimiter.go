package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ureca/billing-notifier/internal/ratelimit"
)

const (
	defaultSendsPerSec int64 = 100
	waitStep                 = 10 * time.Millisecond
	waitStepMax              = 50 * time.Millisecond
)

// Fixed one-second windows keyed by channel and epoch second. INCR and
// EXPIRE run atomically so concurrent workers across all pods share one
// counter per window.
var admitScript = goredis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
  redis.call("EXPIRE", KEYS[1], 1)
end
if hits > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter throttles gateway sends per channel across every worker
// in the deployment.
type RedisRateLimiter struct {
	client      *goredis.Client
	sendsPerSec int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, sendsPerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, int64(sendsPerSec), time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	sendsPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if sendsPerSec <= 0 {
		sendsPerSec = defaultSendsPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client:      client,
		sendsPerSec: sendsPerSec,
		now:         nowFn,
		sleep:       sleepFn,
	}, nil
}

// Allow reports whether one more send fits into the current window for the
// channel. Windows never carry unused budget forward.
func (r *RedisRateLimiter) Allow(ctx context.Context, channel string) (bool, error) {
	if r == nil || r.client == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	ch := strings.ToLower(strings.TrimSpace(channel))
	if ch == "" {
		return false, fmt.Errorf("channel is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key := fmt.Sprintf("ratelimit:%s:%d", ch, r.now().UTC().Unix())
	admitted, err := admitScript.Run(ctx, r.client, []string{key}, r.sendsPerSec).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	return admitted == 1, nil
}

// Wait blocks until the channel admits a send or ctx expires. The caller
// runs this under the per-send timeout, so a saturated channel fails the
// send as transient rather than stalling the batch.
func (r *RedisRateLimiter) Wait(ctx context.Context, channel string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	pause := waitStep
	for {
		admitted, err := r.Allow(ctx, channel)
		if err != nil {
			return err
		}
		if admitted {
			return nil
		}

		if err := r.sleep(ctx, pause); err != nil {
			return err
		}
		if pause += waitStep; pause > waitStepMax {
			pause = waitStepMax
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
