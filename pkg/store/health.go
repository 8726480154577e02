package store

import (
	"context"
	"database/sql"
	"time"
)

// Pinger is satisfied by the downstream dependencies Health can report on
// (statuscache.Cache, blobstore.Store). Declared here rather than imported
// so store never depends on either package.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus reports database pool health plus the reachability of named
// downstream dependencies (Redis status cache, S3 blob store) that gate
// readiness alongside Postgres.
type HealthStatus struct {
	Status          string            `json:"status"`
	ResponseTime    int64             `json:"response_time_ms"`
	OpenConnections int               `json:"open_connections"`
	InUse           int               `json:"in_use"`
	Idle            int               `json:"idle"`
	WaitCount       int64             `json:"wait_count"`
	WaitDuration    int64             `json:"wait_duration_ms"`
	MaxOpenConns    int               `json:"max_open_conns"`
	Dependencies    map[string]string `json:"dependencies,omitempty"`
}

// Health checks database connectivity and connection pool statistics, then
// pings every dependency in deps. A dependency failure degrades Status
// without overriding a database failure.
func Health(ctx context.Context, db *sql.DB, deps map[string]Pinger) (*HealthStatus, error) {
	start := time.Now()

	if err := db.PingContext(ctx); err != nil {
		return &HealthStatus{
			Status:       "unhealthy",
			ResponseTime: time.Since(start).Milliseconds(),
		}, err
	}

	stats := db.Stats()
	hs := &HealthStatus{
		Status:          "healthy",
		ResponseTime:    time.Since(start).Milliseconds(),
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		WaitCount:       stats.WaitCount,
		WaitDuration:    stats.WaitDuration.Milliseconds(),
		MaxOpenConns:    stats.MaxOpenConnections,
	}

	if len(deps) == 0 {
		return hs, nil
	}

	hs.Dependencies = make(map[string]string, len(deps))
	for name, p := range deps {
		if err := p.Ping(ctx); err != nil {
			hs.Status = "degraded"
			hs.Dependencies[name] = err.Error()
			continue
		}
		hs.Dependencies[name] = "ok"
	}

	return hs, nil
}
