package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/phitk/render/pkg/response"
)

// RateLimiter counts requests per user in fixed redis windows. Without redis
// it falls back to an in-process token bucket per user.
type RateLimiter struct {
	redis *redis.Client

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{redis: redisClient, local: make(map[string]*rate.Limiter)}
}

// Limit creates a rate limiting middleware. maxRequests <= 0 disables it.
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if maxRequests <= 0 {
			return c.Next()
		}
		id := GetUserID(c)
		if id == "" || id == AnonymousUser {
			id = c.IP()
		}
		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, id)

		if rl.redis == nil {
			return rl.limitLocal(c, key, maxRequests, window)
		}

		ctx := context.Background()
		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			// Redis down: let the request through
			return c.Next()
		}

		if count == 1 {
			rl.redis.Expire(ctx, key, window)
		}

		if count > int64(maxRequests) {
			ttl, _ := rl.redis.TTL(ctx, key).Result()
			c.Set("Retry-After", fmt.Sprintf("%d", int(ttl.Seconds())))
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", maxRequests))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", maxRequests-int(count)))

		return c.Next()
	}
}

func (rl *RateLimiter) limitLocal(c *fiber.Ctx, key string, maxRequests int, window time.Duration) error {
	rl.mu.Lock()
	l, ok := rl.local[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(window/time.Duration(maxRequests)), maxRequests)
		rl.local[key] = l
	}
	rl.mu.Unlock()

	r := l.Reserve()
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		c.Set("Retry-After", fmt.Sprintf("%d", int(delay.Seconds()+0.5)))
		return response.RateLimited(c)
	}
	c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", maxRequests))
	c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", int(l.Tokens())))
	return c.Next()
}

// SubmitLimit limits job submissions per hour
func (rl *RateLimiter) SubmitLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("submit", maxPerHour, time.Hour)
}
