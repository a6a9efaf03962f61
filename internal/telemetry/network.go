// Package telemetry collects the measurements the adaptive controller feeds
// back into pipeline selection: encode statistics, client network reports
// and host CPU load.
package telemetry

import (
	"sync"
	"time"
)

// DefaultNetworkWindow is the default number of reports kept for averaging.
const DefaultNetworkWindow = 8

// NetworkReport is one feedback report from the network collaborator.
type NetworkReport struct {
	// Bandwidth is the available client bandwidth in bytes per second. 0 = unknown.
	Bandwidth uint64        `json:"bandwidth"`
	RTT       time.Duration `json:"rtt"`
	// LossRatio is the fraction of packets lost, in [0,1].
	LossRatio  float64   `json:"loss_ratio"`
	ReceivedAt time.Time `json:"received_at"`
}

// NetworkSnapshot is the smoothed view of recent reports.
type NetworkSnapshot struct {
	Bandwidth      uint64        `json:"bandwidth"`
	BandwidthKnown bool          `json:"bandwidth_known"`
	RTT            time.Duration `json:"rtt"`
	LossRatio      float64       `json:"loss_ratio"`
	Samples        int           `json:"samples"`
	LastReport     time.Time     `json:"last_report,omitzero"`
}

// NetworkEstimator keeps a sliding window of network reports and exposes
// their rolling averages.
type NetworkEstimator struct {
	mu         sync.RWMutex
	reports    []NetworkReport
	windowSize int
}

// NewNetworkEstimator creates an estimator averaging over windowSize reports.
func NewNetworkEstimator(windowSize int) *NetworkEstimator {
	if windowSize <= 0 {
		windowSize = DefaultNetworkWindow
	}
	return &NetworkEstimator{
		reports:    make([]NetworkReport, 0, windowSize),
		windowSize: windowSize,
	}
}

// Add records a report, evicting the oldest once the window is full.
func (e *NetworkEstimator) Add(r NetworkReport) {
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = time.Now()
	}
	if r.LossRatio < 0 {
		r.LossRatio = 0
	}
	if r.LossRatio > 1 {
		r.LossRatio = 1
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.reports = append(e.reports, r)
	if len(e.reports) > e.windowSize {
		e.reports = e.reports[len(e.reports)-e.windowSize:]
	}
}

// Snapshot returns rolling averages. Bandwidth averages only reports that
// carried a bandwidth value. Loss uses the most recent report so a burst of
// loss is acted on without waiting for the window to fill.
func (e *NetworkEstimator) Snapshot() NetworkSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.reports) == 0 {
		return NetworkSnapshot{}
	}

	var (
		bwSum   uint64
		bwCount uint64
		rttSum  time.Duration
	)
	for _, r := range e.reports {
		if r.Bandwidth > 0 {
			bwSum += r.Bandwidth
			bwCount++
		}
		rttSum += r.RTT
	}

	last := e.reports[len(e.reports)-1]
	snap := NetworkSnapshot{
		RTT:        rttSum / time.Duration(len(e.reports)),
		LossRatio:  last.LossRatio,
		Samples:    len(e.reports),
		LastReport: last.ReceivedAt,
	}
	if bwCount > 0 {
		snap.Bandwidth = bwSum / bwCount
		snap.BandwidthKnown = true
	}
	return snap
}

// History returns the bandwidth of each report in the window, oldest first.
func (e *NetworkEstimator) History() []uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.reports) == 0 {
		return nil
	}
	out := make([]uint64, len(e.reports))
	for i, r := range e.reports {
		out[i] = r.Bandwidth
	}
	return out
}

// Reset drops every report.
func (e *NetworkEstimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reports = e.reports[:0]
}

// WindowSize returns the configured window size.
func (e *NetworkEstimator) WindowSize() int {
	return e.windowSize
}
