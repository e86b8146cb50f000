package health

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"musicbox/internal/metrics"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDown     = "down"
	StatusDisabled = "disabled"
)

// slowThreshold marks a dependency degraded when its probe is slower.
const slowThreshold = 500 * time.Millisecond

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status  string           `json:"status"`
	DB      DependencyStatus `json:"db"`
	Redis   DependencyStatus `json:"redis"`
	Storage string           `json:"storage"`
}

// DependencyStatus represents the status of a dependency
type DependencyStatus struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Pinger is satisfied by database.DatabaseManager.
type Pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// Checker probes the record store and, when configured, Redis.
type Checker struct {
	db      Pinger
	redis   *redis.Client
	storage string
	timeout time.Duration
}

// NewChecker builds a checker. redisClient may be nil when Redis is off.
func NewChecker(db Pinger, redisClient *redis.Client, storageBackend string) *Checker {
	return &Checker{db: db, redis: redisClient, storage: storageBackend, timeout: 2 * time.Second}
}

// Check runs every probe.
func (h *Checker) Check(ctx context.Context) HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	resp := HealthResponse{
		DB:      h.checkDB(ctx),
		Redis:   h.checkRedis(ctx),
		Storage: h.storage,
	}

	switch {
	case resp.DB.Status == StatusDown || resp.Redis.Status == StatusDown:
		resp.Status = StatusDown
	case resp.DB.Status == StatusDegraded || resp.Redis.Status == StatusDegraded:
		resp.Status = StatusDegraded
	default:
		resp.Status = StatusOK
	}
	return resp
}

func (h *Checker) checkDB(ctx context.Context) DependencyStatus {
	latency, err := h.db.Ping(ctx)
	st := classify(latency, err)
	record("db", st)
	return st
}

func (h *Checker) checkRedis(ctx context.Context) DependencyStatus {
	if h.redis == nil {
		return DependencyStatus{Status: StatusDisabled}
	}
	start := time.Now()
	err := h.redis.Ping(ctx).Err()
	st := classify(time.Since(start), err)
	record("redis", st)
	return st
}

func classify(latency time.Duration, err error) DependencyStatus {
	st := DependencyStatus{Status: StatusOK, LatencyMs: latency.Milliseconds()}
	switch {
	case err != nil:
		st.Status = StatusDown
		st.Error = err.Error()
	case latency > slowThreshold:
		st.Status = StatusDegraded
	}
	return st
}

func record(dep string, st DependencyStatus) {
	v := 0.0
	if st.Status != StatusDown {
		v = 1
	}
	metrics.HealthStatus.WithLabelValues(dep).Set(v)
}

// RegisterHealthRoutes registers the health check routes
func (h *Checker) RegisterHealthRoutes(app *fiber.App) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		resp := h.Check(c.UserContext())

		if resp.Status == StatusOK {
			c.Status(fiber.StatusOK)
		} else {
			c.Status(fiber.StatusServiceUnavailable)
		}
		c.Set("Cache-Control", "no-store")
		return c.JSON(resp)
	})
}
