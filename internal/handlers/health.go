package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ruralpay/ledger/internal/services"
)

type HealthHandler struct {
	db    *sql.DB
	redis *redis.Client
}

// NewHealthHandler accepts nil dependencies; a nil db or redis is reported
// as "disabled".
func NewHealthHandler(db *sql.DB, redisClient *redis.Client) *HealthHandler {
	return &HealthHandler{db: db, redis: redisClient}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"database": "disabled", "redis": "disabled"}
	status := http.StatusOK

	if h.db != nil {
		checks["database"] = "ok"
		if err := h.db.PingContext(ctx); err != nil {
			checks["database"] = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}
	if h.redis != nil {
		checks["redis"] = "ok"
		if err := h.redis.Ping(ctx).Err(); err != nil {
			// Redis only backs grants and job status; the ledger keeps working.
			checks["redis"] = "degraded"
		}
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}
	services.SendJSON(w, status, map[string]any{"status": overall, "checks": checks})
}
