package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is the connection-pool snapshot included in the db health
// payload.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// HealthResponse is the body of GET /health/db.
type HealthResponse struct {
	Service string     `json:"service"`
	Status  string     `json:"status"`
	Error   string     `json:"error,omitempty"`
	Pool    *PoolStats `json:"pool"`
}

func snapshotPool(pool *pgxpool.Pool) *PoolStats {
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

// HealthHandler reports database reachability plus a pool snapshot. The
// scheduler treats anything but 200 as a signal to stop triggering
// pipeline jobs.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		resp := HealthResponse{Service: "kitflow", Status: "healthy", Pool: snapshotPool(pool)}
		if err := pool.Ping(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			resp.Pool.Healthy = false
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
		return c.JSON(http.StatusOK, resp)
	}
}
