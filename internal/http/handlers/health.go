// Package handlers provides the HTTP API handlers for framecast.
package handlers

import (
	"context"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/framecast/internal/session"
	"github.com/jmylchreest/framecast/internal/telemetry"
)

// SessionStats is the part of the session manager the health check reads.
type SessionStats interface {
	Stats() session.Stats
}

// HostStats provides the latest host sample.
type HostStats interface {
	Stats() telemetry.HostStats
}

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	version   string
	startTime time.Time
	session   SessionStats
	host      HostStats
}

// NewHealthHandler creates a new health handler. host may be nil.
func NewHealthHandler(version string, sess SessionStats, host HostStats) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
		session:   sess,
		host:      host,
	}
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// HealthResponse describes service health.
type HealthResponse struct {
	Status        string         `json:"status"`
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	Uptime        string         `json:"uptime"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	SessionID     string         `json:"session_id"`
	Windows       int            `json:"windows"`
	WindowStates  map[string]int `json:"window_states"`
	Generation    uint64         `json:"capability_generation"`
	CPU           CPUInfo        `json:"cpu"`
}

// CPUInfo is the host CPU view.
type CPUInfo struct {
	Cores         int     `json:"cores"`
	UsagePercent  float64 `json:"usage_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	SampledAt     string  `json:"sampled_at,omitempty"`
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns service health, window counts by state and host load",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service. A service with
// degraded windows is still healthy but reports "degraded".
func (h *HealthHandler) GetHealth(_ context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)
	stats := h.session.Stats()

	status := "healthy"
	if stats.ByState["degraded"] > 0 {
		status = "degraded"
	}

	cpu := CPUInfo{Cores: runtime.NumCPU()}
	if h.host != nil {
		hs := h.host.Stats()
		cpu.UsagePercent = hs.CPUPercent
		cpu.MemoryPercent = hs.MemoryPercent
		if hs.CPUCores > 0 {
			cpu.Cores = hs.CPUCores
		}
		if !hs.SampledAt.IsZero() {
			cpu.SampledAt = hs.SampledAt.UTC().Format(time.RFC3339)
		}
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:        status,
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			SessionID:     stats.SessionID,
			Windows:       stats.Windows,
			WindowStates:  stats.ByState,
			Generation:    stats.Generation,
			CPU:           cpu,
		},
	}, nil
}
