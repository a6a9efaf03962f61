package telemetry

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultEncodeWindow is the default number of frames kept for averaging.
const DefaultEncodeWindow = 30

type encodeSample struct {
	duration time.Duration
	bytes    int
}

// EncodeSnapshot summarizes recent encode activity.
type EncodeSnapshot struct {
	Frames       uint64        `json:"frames"`
	TotalBytes   uint64        `json:"total_bytes"`
	Errors       uint64        `json:"errors"`
	Dropped      uint64        `json:"dropped"`
	MeanDuration time.Duration `json:"mean_duration"`
	MeanBytes    float64       `json:"mean_bytes"`
	LastDuration time.Duration `json:"last_duration"`
	LastBytes    int           `json:"last_bytes"`
}

// EncodeStats tracks per-frame encode cost over a sliding window plus
// lifetime counters.
type EncodeStats struct {
	frames     atomic.Uint64
	totalBytes atomic.Uint64
	errors     atomic.Uint64
	dropped    atomic.Uint64

	mu         sync.RWMutex
	samples    []encodeSample
	windowSize int
}

// NewEncodeStats creates encode statistics averaging over windowSize frames.
func NewEncodeStats(windowSize int) *EncodeStats {
	if windowSize <= 0 {
		windowSize = DefaultEncodeWindow
	}
	return &EncodeStats{
		samples:    make([]encodeSample, 0, windowSize),
		windowSize: windowSize,
	}
}

// Record adds one encoded frame.
func (s *EncodeStats) Record(d time.Duration, outputBytes int) {
	s.frames.Add(1)
	if outputBytes > 0 {
		s.totalBytes.Add(uint64(outputBytes))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples = append(s.samples, encodeSample{duration: d, bytes: outputBytes})
	if len(s.samples) > s.windowSize {
		s.samples = s.samples[len(s.samples)-s.windowSize:]
	}
}

// RecordError counts a failed encode.
func (s *EncodeStats) RecordError() {
	s.errors.Add(1)
}

// RecordDropped counts a frame that was not encoded.
func (s *EncodeStats) RecordDropped() {
	s.dropped.Add(1)
}

// Reset clears the sliding window, e.g. after a pipeline switch. Lifetime
// counters are kept.
func (s *EncodeStats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = s.samples[:0]
}

// Snapshot returns the current statistics.
func (s *EncodeStats) Snapshot() EncodeSnapshot {
	snap := EncodeSnapshot{
		Frames:     s.frames.Load(),
		TotalBytes: s.totalBytes.Load(),
		Errors:     s.errors.Load(),
		Dropped:    s.dropped.Load(),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.samples) == 0 {
		return snap
	}

	var (
		dSum time.Duration
		bSum int
	)
	for _, sample := range s.samples {
		dSum += sample.duration
		bSum += sample.bytes
	}
	n := len(s.samples)
	snap.MeanDuration = dSum / time.Duration(n)
	snap.MeanBytes = float64(bSum) / float64(n)
	snap.LastDuration = s.samples[n-1].duration
	snap.LastBytes = s.samples[n-1].bytes
	return snap
}
