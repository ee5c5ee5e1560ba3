package api

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/nerrad567/gray-logic-flyport/internal/bridges/flyport"
)

// healthCheckTimeout bounds each dependency check of the health endpoint.
const healthCheckTimeout = 2 * time.Second

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string                `json:"timestamp"`
	Version       string                `json:"version"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	Runtime       RuntimeMetrics        `json:"runtime"`
	WebSocket     WSMetrics             `json:"websocket"`
	Bridge        flyport.BridgeMetrics `json:"bridge"`
	Database      *DatabaseMetrics      `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version"`
	Bridge       string            `json:"bridge"`
	Reason       string            `json:"reason,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// handleHealth reports "ok" when the bridge is healthy and every
// dependency answers, "degraded" otherwise. An unhealthy bridge answers 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	bm := s.bridge.GetMetrics()

	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Bridge:  string(bm.Status),
		Reason:  bm.Reason,
	}
	if bm.Status != flyport.HealthHealthy {
		resp.Status = "degraded"
	}

	if len(s.checks) > 0 {
		resp.Dependencies = make(map[string]string, len(s.checks))
		names := make([]string, 0, len(s.checks))
		for name := range s.checks {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := s.checks[name].HealthCheck(ctx)
			cancel()
			if err != nil {
				resp.Dependencies[name] = err.Error()
				resp.Status = "degraded"
				continue
			}
			resp.Dependencies[name] = "ok"
		}
	}

	status := http.StatusOK
	if bm.Status == flyport.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// handleMetrics returns runtime, bridge and database metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Bridge: s.bridge.GetMetrics(),
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
