package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Selection outcomes.
const (
	SelectionOK         = "ok"
	SelectionNoFeasible = "no_feasible"
	SelectionInvalid    = "invalid"
)

// Labels stay low-cardinality: no window ids.
var (
	// SelectionsTotal counts selector calls by outcome.
	SelectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framecast_selections_total",
		Help: "Total number of pipeline selections, by outcome.",
	}, []string{"outcome"})

	// SelectionCandidates tracks the size of ranked candidate lists.
	SelectionCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "framecast_selection_candidates",
		Help:    "Number of ranked candidates per successful selection.",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
	})

	// ReselectionsTotal counts controller reselections by trigger reason and result.
	ReselectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framecast_reselections_total",
		Help: "Total number of pipeline reselections, by reason and result.",
	}, []string{"reason", "result"})

	// WindowState tracks how many windows are in each controller state.
	WindowState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "framecast_window_state",
		Help: "Current number of windows per controller state.",
	}, []string{"state"})

	// FramesEncodedTotal counts frames handed to the executor, by encoder.
	FramesEncodedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framecast_frames_encoded_total",
		Help: "Total number of frames encoded, by encoder.",
	}, []string{"encoder"})

	// FramesDroppedTotal counts frames dropped by stalled windows.
	FramesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framecast_frames_dropped_total",
		Help: "Total number of frames dropped because no pipeline was available.",
	})

	// EncodeErrorsTotal counts executor encode failures.
	EncodeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framecast_encode_errors_total",
		Help: "Total number of frame encode errors reported by the executor.",
	})

	// EncodeDuration observes per-frame encode durations.
	EncodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "framecast_encode_duration_seconds",
		Help:    "Per-frame encode duration in seconds.",
		Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.02, 0.04, 0.08, 0.16, 0.32},
	})

	// CapabilityGeneration exposes the current capability catalog generation.
	CapabilityGeneration = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "framecast_capability_generation",
		Help: "Current capability catalog generation.",
	})

	// HostCPUPercent exposes the latest host CPU sample.
	HostCPUPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "framecast_host_cpu_percent",
		Help: "Latest sampled host CPU utilization in percent.",
	})

	// APIRequestsTotal counts status API requests by route pattern and status class.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framecast_api_requests_total",
		Help: "Total number of status API requests, by route and status class.",
	}, []string{"method", "route", "code"})

	// APIPanicsTotal counts handler panics recovered by the status API.
	APIPanicsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framecast_api_panics_total",
		Help: "Total number of recovered status API handler panics, by route.",
	}, []string{"route"})
)

// RecordSelection records one selector call.
func RecordSelection(outcome string, candidates int) {
	SelectionsTotal.WithLabelValues(outcome).Inc()
	if outcome == SelectionOK {
		SelectionCandidates.Observe(float64(candidates))
	}
}

// RecordReselection records one controller reselection.
func RecordReselection(reason, result string) {
	ReselectionsTotal.WithLabelValues(reason, result).Inc()
}

// RecordStateChange moves one window between state gauges. An empty from
// registers a new window; an empty to removes one.
func RecordStateChange(from, to string) {
	if from != "" {
		WindowState.WithLabelValues(from).Dec()
	}
	if to != "" {
		WindowState.WithLabelValues(to).Inc()
	}
}

// RecordEncode records one encoded frame.
func RecordEncode(encoder string, d time.Duration) {
	FramesEncodedTotal.WithLabelValues(encoder).Inc()
	EncodeDuration.Observe(d.Seconds())
}

// RecordEncodeError increments the encode error counter.
func RecordEncodeError() {
	EncodeErrorsTotal.Inc()
}

// RecordFrameDropped increments the dropped frame counter.
func RecordFrameDropped() {
	FramesDroppedTotal.Inc()
}

// RecordCapabilityGeneration sets the catalog generation gauge.
func RecordCapabilityGeneration(gen uint64) {
	CapabilityGeneration.Set(float64(gen))
}

// RecordHostCPU sets the host CPU gauge.
func RecordHostCPU(percent float64) {
	HostCPUPercent.Set(percent)
}

// RecordAPIRequest counts one status API request. route must be the matched
// pattern, never the raw path.
func RecordAPIRequest(method, route string, status int) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status/100)+"xx").Inc()
}

// RecordAPIPanic counts one recovered handler panic.
func RecordAPIPanic(route string) {
	APIPanicsTotal.WithLabelValues(route).Inc()
}
