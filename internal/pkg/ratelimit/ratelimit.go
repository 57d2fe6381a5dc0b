// Package ratelimit 提供基于 Redis 的分布式令牌桶。
//
// 同一个桶在多个进程之间共享：API 按客户端 IP 对登录/注册做非阻塞判定，
// 提醒 worker 在发信前阻塞等待令牌，保证整体发信速率不超过 SMTP 配额。
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"preptracker/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimitTimeout 表示在 ctx 结束前未能拿到令牌。
var ErrRateLimitTimeout = errors.New("rate limit wait timeout")

const (
	defaultKey   = "preptracker:ratelimit:default"
	minRetryWait = 25 * time.Millisecond
	maxJitter    = 10 * time.Millisecond
)

// 桶状态保存在 hash 的 level/at 两个字段里，单位分别为令牌和毫秒。
// 返回 {是否放行, 还需等待的毫秒数}。
var takeScript = redis.NewScript(`
local rate  = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now   = tonumber(ARGV[3])

local state = redis.call("HMGET", KEYS[1], "level", "at")
local level = tonumber(state[1]) or burst
local at    = tonumber(state[2]) or now

if now > at then
  level = math.min(burst, level + (now - at) * rate / 1000)
end

local granted = 0
local wait = 0
if level >= 1 then
  level = level - 1
  granted = 1
else
  wait = math.ceil((1 - level) * 1000 / rate)
end

redis.call("HSET", KEYS[1], "level", tostring(level), "at", tostring(now))
redis.call("PEXPIRE", KEYS[1], math.ceil(burst * 2000 / rate))
return {granted, wait}
`)

// RateLimiter 是共享在 Redis 中的令牌桶。
type RateLimiter struct {
	rdb    *redis.Client
	logger *slog.Logger
	key    string
	rate   float64
	burst  float64
}

// NewRedisRateLimiter 创建令牌桶，rate 为每秒补充的令牌数，burst 为桶容量。
// 任一参数 <=0 时视为不限流。
func NewRedisRateLimiter(rdb *redis.Client, logger *slog.Logger, key string, rate, burst float64) *RateLimiter {
	if key == "" {
		key = defaultKey
	}
	return &RateLimiter{rdb: rdb, logger: logger, key: key, rate: rate, burst: burst}
}

func (r *RateLimiter) disabled() bool {
	return r == nil || r.rate <= 0 || r.burst <= 0
}

// Acquire 阻塞直到从共享桶拿到一个令牌。
func (r *RateLimiter) Acquire(ctx context.Context) error {
	if r.disabled() {
		return nil
	}

	start := time.Now()
	defer func() {
		metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
	}()

	for attempt := 1; ; attempt++ {
		granted, wait, err := r.take(ctx, r.key)
		if err != nil {
			return err
		}
		if granted {
			return nil
		}
		if wait < minRetryWait {
			wait = minRetryWait
		}
		wait += time.Duration(rand.Int63n(int64(maxJitter)))

		if r.logger != nil && attempt == 1 {
			r.logger.Debug("waiting for rate limit token",
				slog.String("key", r.key),
				slog.Duration("wait", wait))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			metrics.RateLimitTimeoutTotal.Inc()
			return ErrRateLimitTimeout
		case <-timer.C:
		}
	}
}

// Allow 对 id 自己的桶做一次非阻塞判定，拒绝时返回建议的重试等待时间。
func (r *RateLimiter) Allow(ctx context.Context, id string) (bool, time.Duration, error) {
	if r.disabled() {
		return true, 0, nil
	}
	return r.take(ctx, r.key+":"+id)
}

func (r *RateLimiter) take(ctx context.Context, key string) (bool, time.Duration, error) {
	reply, err := takeScript.Run(ctx, r.rdb, []string{key}, r.rate, r.burst, time.Now().UnixMilli()).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit take %s: %w", key, err)
	}
	if len(reply) != 2 {
		return false, 0, fmt.Errorf("ratelimit take %s: unexpected reply %v", key, reply)
	}
	return reply[0] == 1, time.Duration(reply[1]) * time.Millisecond, nil
}
