package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"golang.org/x/time/rate"

	"musicbox/internal/config"
	"musicbox/internal/utils"
)

// NewRateLimiter limits every client IP to GeneralLimit requests per GeneralWindow.
func NewRateLimiter(cfg config.RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        cfg.GeneralLimit,
		Expiration: cfg.GeneralWindow,
		LimitReached: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(cfg.GeneralWindow.Seconds())))
			return utils.SendError(c, fiber.StatusTooManyRequests, "rate_limited", "Too many requests. Please try again later.")
		},
	})
}

// UploadLimiter is a per-IP token bucket for upload endpoints.
type UploadLimiter struct {
	mu       sync.Mutex
	limiters map[string]*visitor
	every    rate.Limit
	burst    int
	ttl      time.Duration
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewUploadLimiter allows perMinute uploads per IP with the given burst.
func NewUploadLimiter(perMinute, burst int) *UploadLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &UploadLimiter{
		limiters: make(map[string]*visitor),
		every:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
		ttl:      10 * time.Minute,
		now:      time.Now,
	}
}

// Allow reports whether key may upload now.
func (u *UploadLimiter) Allow(key string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	now := u.now()
	for k, v := range u.limiters {
		if now.Sub(v.lastSeen) > u.ttl {
			delete(u.limiters, k)
		}
	}

	v, ok := u.limiters[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(u.every, u.burst)}
		u.limiters[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// Handler rejects over-limit uploads with 429.
func (u *UploadLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !u.Allow(c.IP()) {
			return utils.SendError(c, fiber.StatusTooManyRequests, "rate_limited", "Too many uploads. Please slow down.")
		}
		return c.Next()
	}
}
