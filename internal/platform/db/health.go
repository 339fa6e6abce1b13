package db

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// HealthCheck pings one backing service (postgres, redis, object store).
type HealthCheck func(ctx context.Context) error

// ComponentStatus is the outcome of one HealthCheck.
type ComponentStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// RunChecks runs every check with a shared deadline, sorted by name.
func RunChecks(ctx context.Context, checks map[string]HealthCheck) ([]ComponentStatus, bool) {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	ok := true
	out := make([]ComponentStatus, 0, len(names))
	for _, name := range names {
		st := ComponentStatus{Name: name, Healthy: true}
		if err := checks[name](ctx); err != nil {
			st.Healthy = false
			st.Error = err.Error()
			ok = false
		}
		out = append(out, st)
	}
	return out, ok
}

// HealthHandler reports pool statistics plus every extra component check.
func HealthHandler(pool *pgxpool.Pool, extra map[string]HealthCheck) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		checks := map[string]HealthCheck{"postgres": pool.Ping}
		for name, chk := range extra {
			checks[name] = chk
		}
		components, ok := RunChecks(ctx, checks)
		stats := GetPoolStats(pool)

		status, code := "healthy", http.StatusOK
		if !ok {
			status, code = "unhealthy", http.StatusServiceUnavailable
			stats.Healthy = false
		}
		return c.JSON(code, map[string]interface{}{
			"status":     status,
			"pool":       stats,
			"components": components,
		})
	}
}
