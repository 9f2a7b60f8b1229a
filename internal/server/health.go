package server

import (
	"context"
	"net/http"
	"time"

	"file-drop/internal/storage"
)

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

type ComponentStatus string

const (
	ComponentStatusUp       ComponentStatus = "up"
	ComponentStatusDown     ComponentStatus = "down"
	ComponentStatusDegraded ComponentStatus = "degraded"
)

// Pinger is anything that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// breakerReporter is satisfied by *storage.Breaker.
type breakerReporter interface {
	Stats() storage.BreakerStats
}

type Health struct {
	Status      HealthStatus               `json:"status"`
	Timestamp   time.Time                  `json:"timestamp"`
	Version     string                     `json:"version,omitempty"`
	Environment map[string]bool            `json:"environment"`
	Components  map[string]ComponentHealth `json:"components"`
}

type ComponentHealth struct {
	Status    ComponentStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	LatencyMs float64         `json:"latency_ms"`
	Details   any             `json:"details,omitempty"`
}

// HealthChecker pings the backing stores. Redis is optional; when it is set
// and down the service reports degraded, since only sweep coordination
// depends on it.
type HealthChecker struct {
	Metadata Pinger
	Blobs    Pinger
	Redis    Pinger
	// Environment holds presence flags for required settings, e.g.
	// "bucketConfigured". Values never include the settings themselves.
	Environment map[string]bool
	Version     string
	Timeout     time.Duration
}

func (h *HealthChecker) Check(ctx context.Context) Health {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	health := Health{
		Timestamp:   time.Now().UTC(),
		Version:     h.Version,
		Environment: h.Environment,
		Components:  make(map[string]ComponentHealth, 3),
	}
	if health.Environment == nil {
		health.Environment = map[string]bool{}
	}

	health.Components["metadata"] = ping(ctx, h.Metadata, timeout)

	blobs := ping(ctx, h.Blobs, timeout)
	if br, ok := h.Blobs.(breakerReporter); ok {
		stats := br.Stats()
		blobs.Details = stats
		if blobs.Status == ComponentStatusUp && stats.State != storage.StateClosed.String() {
			blobs.Status = ComponentStatusDegraded
			blobs.Message = "circuit breaker " + stats.State
		}
	}
	health.Components["blob_store"] = blobs

	if h.Redis != nil {
		health.Components["redis"] = ping(ctx, h.Redis, timeout)
	}

	health.Status = overall(health.Components)
	return health
}

func ping(ctx context.Context, p Pinger, timeout time.Duration) ComponentHealth {
	if p == nil {
		return ComponentHealth{Status: ComponentStatusDown, Message: "not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := p.Ping(ctx)
	latency := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		return ComponentHealth{Status: ComponentStatusDown, Message: err.Error(), LatencyMs: latency}
	}
	return ComponentHealth{Status: ComponentStatusUp, LatencyMs: latency}
}

// overall is unhealthy when a required store is down and degraded when
// anything else is not up.
func overall(components map[string]ComponentHealth) HealthStatus {
	status := HealthStatusHealthy
	for name, c := range components {
		switch {
		case c.Status == ComponentStatusUp:
		case c.Status == ComponentStatusDown && name != "redis":
			return HealthStatusUnhealthy
		default:
			status = HealthStatusDegraded
		}
	}
	return status
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, Health{
			Status:      HealthStatusHealthy,
			Timestamp:   time.Now().UTC(),
			Version:     s.cfg.Version,
			Environment: map[string]bool{},
			Components:  map[string]ComponentHealth{},
		})
		return
	}

	health := s.health.Check(r.Context())
	status := http.StatusOK
	if health.Status == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleReady reports ready once the metadata store answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if c := ping(r.Context(), s.health.Metadata, 2*time.Second); c.Status != ComponentStatusUp {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "not_ready",
				"message": "metadata store unavailable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
