package telemetry

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// DefaultCPUSampleInterval is how often the host sampler polls.
const DefaultCPUSampleInterval = 2 * time.Second

// CPUSource reports host CPU utilization in percent.
type CPUSource interface {
	CPUPercent() float64
}

// StaticCPU is a CPUSource with a fixed value.
type StaticCPU float64

// CPUPercent implements CPUSource.
func (s StaticCPU) CPUPercent() float64 { return float64(s) }

// HostStats is a point-in-time view of host load.
type HostStats struct {
	CPUPercent    float64   `json:"cpu_percent"`
	CPUCores      int       `json:"cpu_cores"`
	MemoryPercent float64   `json:"memory_percent"`
	SampledAt     time.Time `json:"sampled_at,omitzero"`
}

// HostSampler polls host CPU and memory usage in the background. Readers
// get the last sample without blocking.
type HostSampler struct {
	interval time.Duration
	logger   *slog.Logger

	cpuBits  atomic.Uint64 // math.Float64bits of the last CPU percent
	memBits  atomic.Uint64
	cores    atomic.Int64
	sampled  atomic.Int64 // unix nanos
	onSample func(HostStats)
}

// NewHostSampler creates a sampler polling every interval.
func NewHostSampler(interval time.Duration, logger *slog.Logger) *HostSampler {
	if interval <= 0 {
		interval = DefaultCPUSampleInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HostSampler{
		interval: interval,
		logger:   logger.With(slog.String("component", "host_sampler")),
	}
}

// OnSample registers a callback invoked after every successful sample.
// Must be called before Run.
func (h *HostSampler) OnSample(fn func(HostStats)) {
	h.onSample = fn
}

// Run samples until ctx is done.
func (h *HostSampler) Run(ctx context.Context) error {
	if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
		h.cores.Store(int64(cores))
	}

	h.Sample(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.Sample(ctx)
		}
	}
}

// Sample takes one measurement. CPU usage is measured since the previous call.
func (h *HostSampler) Sample(ctx context.Context) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil || len(percents) == 0 {
		if err != nil && ctx.Err() == nil {
			h.logger.Debug("cpu sample failed", slog.String("error", err.Error()))
		}
		return
	}
	h.cpuBits.Store(math.Float64bits(percents[0]))

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		h.memBits.Store(math.Float64bits(vm.UsedPercent))
	}
	h.sampled.Store(time.Now().UnixNano())

	if h.onSample != nil {
		h.onSample(h.Stats())
	}
}

// CPUPercent implements CPUSource.
func (h *HostSampler) CPUPercent() float64 {
	return math.Float64frombits(h.cpuBits.Load())
}

// Stats returns the last sample.
func (h *HostSampler) Stats() HostStats {
	stats := HostStats{
		CPUPercent:    h.CPUPercent(),
		CPUCores:      int(h.cores.Load()),
		MemoryPercent: math.Float64frombits(h.memBits.Load()),
	}
	if ns := h.sampled.Load(); ns > 0 {
		stats.SampledAt = time.Unix(0, ns)
	}
	return stats
}
