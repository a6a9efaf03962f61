// Package controller runs the per-window adaptive state machine: it commits
// a pipeline on the first frame, watches encode and network telemetry, and
// reselects when the budget drifts or the capability catalog changes.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/jmylchreest/framecast/internal/capability"
	"github.com/jmylchreest/framecast/internal/observability"
	"github.com/jmylchreest/framecast/internal/scoring"
	"github.com/jmylchreest/framecast/internal/selector"
	"github.com/jmylchreest/framecast/internal/telemetry"
)

// ErrClosed is returned when posting to a controller that has stopped.
var ErrClosed = errors.New("controller closed")

// Config tunes one window's controller.
type Config struct {
	QueueSize        int
	SustainFrames    int
	HysteresisBand   float64
	FrameInterval    time.Duration
	PressureStep     float64
	MinQuality       int
	MinSpeed         int
	ReselectInterval time.Duration
	LossThreshold    float64
	CPUHighWatermark float64
	// MinBandwidth floors the bandwidth estimate in bytes per second.
	MinBandwidth  uint64
	EncodeWindow  int
	NetworkWindow int
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize:        64,
		SustainFrames:    5,
		HysteresisBand:   0.2,
		FrameInterval:    40 * time.Millisecond,
		PressureStep:     0.25,
		ReselectInterval: 500 * time.Millisecond,
		LossThreshold:    0.05,
		CPUHighWatermark: 90,
		MinBandwidth:     64 * 1024,
		EncodeWindow:     telemetry.DefaultEncodeWindow,
		NetworkWindow:    telemetry.DefaultNetworkWindow,
	}
}

// PipelineSelector ranks candidate pipelines for a frame.
type PipelineSelector interface {
	Select(format capability.PixelFormat, dims capability.Dimensions, c selector.Constraints) ([]selector.Ranked, error)
}

// Deps are the collaborators of a controller. Source, Selector and Executor
// are required.
type Deps struct {
	Source   selector.SnapshotSource
	Selector PipelineSelector
	Executor Executor
	Observer Observer
	CPU      telemetry.CPUSource
	Logger   *slog.Logger
}

// Status is the externally visible state of a window.
type Status struct {
	WindowID     string                    `json:"window_id"`
	State        State                     `json:"state"`
	Pipeline     string                    `json:"pipeline"`
	Candidate    selector.Candidate        `json:"-"`
	Quality      float64                   `json:"quality"`
	Speed        float64                   `json:"speed"`
	Format       capability.PixelFormat    `json:"format,omitempty"`
	Dimensions   capability.Dimensions     `json:"dimensions"`
	VideoMode    bool                      `json:"video_mode"`
	Pressure     float64                   `json:"pressure"`
	Generation   uint64                    `json:"generation"`
	Reselections uint64                    `json:"reselections"`
	LastReason   Reason                    `json:"last_reason,omitempty"`
	LastResult   Result                    `json:"last_result,omitempty"`
	LastReselect time.Time                 `json:"last_reselect,omitzero"`
	Encode       telemetry.EncodeSnapshot  `json:"encode"`
	Network      telemetry.NetworkSnapshot `json:"network"`
}

// Controller owns one window. All fields below mu are touched only by the
// Run goroutine.
type Controller struct {
	id       string
	cfg      Config
	source   selector.SnapshotSource
	selector PipelineSelector
	exec     Executor
	obs      Observer
	cpu      telemetry.CPUSource
	logger   *slog.Logger

	events  chan Event
	done    chan struct{}
	running atomic.Bool

	state      State
	current    selector.Ranked
	format     capability.PixelFormat
	dims       capability.Dimensions
	seenFrame  bool
	videoMode  bool
	generation uint64
	hyst       *hysteresis
	press      pressure
	pending    Reason
	limiter    *rate.Limiter
	network    *telemetry.NetworkEstimator
	encode     *telemetry.EncodeStats

	reselections uint64
	lastReason   Reason
	lastResult   Result
	lastReselect time.Time

	mu     sync.RWMutex
	status Status
}

// New creates a controller for windowID. Call Run to start it.
func New(windowID string, cfg Config, deps Deps) (*Controller, error) {
	if windowID == "" {
		return nil, errors.New("window id is required")
	}
	if deps.Source == nil || deps.Selector == nil || deps.Executor == nil {
		return nil, errors.New("controller requires a snapshot source, selector and executor")
	}
	if deps.Observer == nil {
		deps.Observer = Observers(nil)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultConfig().FrameInterval
	}

	limit := rate.Inf
	if cfg.ReselectInterval > 0 {
		limit = rate.Every(cfg.ReselectInterval)
	}

	c := &Controller{
		id:        windowID,
		cfg:       cfg,
		source:    deps.Source,
		selector:  deps.Selector,
		exec:      deps.Executor,
		obs:       deps.Observer,
		cpu:       deps.CPU,
		logger:    observability.WithWindow(observability.WithComponent(deps.Logger, "controller"), windowID),
		events:    make(chan Event, cfg.QueueSize),
		done:      make(chan struct{}),
		videoMode: true,
		hyst:      newHysteresis(cfg.SustainFrames),
		press:     pressure{step: cfg.PressureStep},
		limiter:   rate.NewLimiter(limit, 1),
		network:   telemetry.NewNetworkEstimator(cfg.NetworkWindow),
		encode:    telemetry.NewEncodeStats(cfg.EncodeWindow),
	}
	c.publish()
	return c, nil
}

// ID returns the window id.
func (c *Controller) ID() string { return c.id }

// Done is closed once Run has returned.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Post queues an event, blocking while the queue is full.
func (c *Controller) Post(ctx context.Context, ev Event) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPost queues an event without blocking and reports whether it was queued.
func (c *Controller) TryPost(ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

// Run consumes events until ctx is cancelled. It returns nil on cancellation.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("controller %s already running", c.id)
	}
	defer close(c.done)
	defer c.setState(StateClosed)

	c.logger.Debug("controller started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("controller stopped")
			return nil
		case ev := <-c.events:
			// select picks randomly among ready cases, so a queued event can
			// win over cancellation.
			if ctx.Err() != nil {
				c.logger.Debug("controller stopped", slog.Int("discarded_events", len(c.events)+1))
				return nil
			}
			c.handle(ctx, ev)
			c.publish()
		}
	}
}

// Status returns a copy of the window status.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Controller) handle(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case FrameEvent:
		c.handleFrame(ctx, e.Frame)
	case ResizeEvent:
		c.handleResize(ctx, e.Dimensions)
	case NetworkEvent:
		c.network.Add(e.Report)
	case CapabilityEvent:
		if c.seenFrame && e.Generation != c.generation {
			c.reselect(ctx, ReasonCapabilityChange)
		}
	case VideoModeEvent:
		c.handleVideoMode(ctx, e.Enabled)
	default:
		c.logger.Warn("unknown controller event", slog.String("type", fmt.Sprintf("%T", ev)))
	}
}

func (c *Controller) handleFrame(ctx context.Context, f Frame) {
	if !f.Dimensions.Valid() {
		c.logger.Warn("dropping frame with invalid dimensions", slog.String("dimensions", f.Dimensions.String()))
		c.drop()
		return
	}

	if !c.seenFrame {
		c.seenFrame = true
		c.format = f.Format
		c.dims = f.Dimensions
		c.reselect(ctx, ReasonInitial)
	} else if reason, ok := c.frameChange(f); ok {
		c.reselect(ctx, reason)
	} else {
		c.reselectPending(ctx)
	}

	if c.current.IsZero() {
		c.drop()
		return
	}

	res, err := c.exec.Encode(ctx, c.id, f)
	if err != nil {
		c.encode.RecordError()
		observability.RecordEncodeError()
		c.logger.Warn("encode failed",
			slog.String("pipeline", c.current.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	c.encode.Record(res.Duration, res.OutputBytes)
	observability.RecordEncode(c.current.EncoderName(), res.Duration)

	if c.state != StateActive {
		return
	}
	drift := c.budget().Classify(Sample{
		Duration:    res.Duration,
		OutputBytes: res.OutputBytes,
		Network:     c.network.Snapshot(),
		CPUPercent:  c.cpuPercent(),
	})
	if dir, fired := c.hyst.observe(drift); fired && c.press.apply(dir) {
		c.pending = ReasonTelemetryOver
		if dir == DriftUnder {
			c.pending = ReasonTelemetryUnder
		}
		c.reselectPending(ctx)
	}
}

// frameChange detects format, dimension and catalog changes on a frame and
// records the new values.
func (c *Controller) frameChange(f Frame) (Reason, bool) {
	switch {
	case f.Format != c.format:
		c.format = f.Format
		c.dims = f.Dimensions
		return ReasonFormatChange, true
	case f.Dimensions != c.dims:
		c.dims = f.Dimensions
		return ReasonDimensionChange, true
	case c.source.Snapshot().Generation != c.generation:
		return ReasonCapabilityChange, true
	}
	return "", false
}

func (c *Controller) handleResize(ctx context.Context, dims capability.Dimensions) {
	if !dims.Valid() || dims == c.dims {
		return
	}
	c.dims = dims
	if c.seenFrame {
		c.reselect(ctx, ReasonDimensionChange)
	}
}

func (c *Controller) handleVideoMode(ctx context.Context, enabled bool) {
	if enabled == c.videoMode {
		return
	}
	c.videoMode = enabled
	if c.seenFrame && c.state == StateActive {
		c.reselect(ctx, ReasonVideoMode)
	}
}

// reselectPending runs a telemetry reselection if one is waiting and the
// rate limiter allows it. Degraded windows ignore telemetry.
func (c *Controller) reselectPending(ctx context.Context) {
	if c.pending == "" || c.state != StateActive {
		return
	}
	if !c.limiter.Allow() {
		return
	}
	reason := c.pending
	c.pending = ""
	c.reselect(ctx, reason)
}

func (c *Controller) reselect(ctx context.Context, reason Reason) {
	prev := c.current
	prevState := c.state
	c.setState(StateReselecting)
	c.generation = c.source.Snapshot().Generation
	c.hyst.reset()
	if reason != ReasonTelemetryOver && reason != ReasonTelemetryUnder {
		c.pending = ""
	}

	ranked, err := c.selector.Select(c.format, c.dims, c.constraints())
	if err == nil && len(ranked) == 0 {
		err = fmt.Errorf("%w: empty ranking", selector.ErrNoFeasiblePipeline)
	}
	if errors.Is(err, selector.ErrNoFeasiblePipeline) {
		c.degrade(ctx, reason, err)
		return
	}
	if err != nil {
		c.report(reason, ResultFailed, prev, prev, err)
		c.settle(prevState)
		return
	}

	best := ranked[0]
	if !prev.IsZero() && best.Key() == prev.Key() {
		c.current = best
		c.report(reason, ResultUnchanged, prev, best, nil)
		c.setState(StateActive)
		return
	}

	if err := c.exec.Commit(ctx, c.id, best.Candidate); err != nil {
		c.report(reason, ResultFailed, prev, best, err)
		c.settle(prevState)
		return
	}
	c.current = best
	c.encode.Reset()
	c.report(reason, ResultCommitted, prev, best, nil)
	c.setState(StateActive)
}

// settle returns to the state before a failed reselection. The previous
// pipeline stays committed; a window without one is degraded.
func (c *Controller) settle(prev State) {
	if c.current.IsZero() || prev == StateDegraded {
		c.setState(StateDegraded)
		return
	}
	c.setState(StateActive)
}

// degrade commits the catalog's fallback encoder for the window's format,
// or stalls the window when there is none.
func (c *Controller) degrade(ctx context.Context, reason Reason, cause error) {
	prev := c.current
	snap := c.source.Snapshot()

	enc, ok := snap.FallbackEncoder(c.format)
	if !ok || !enc.Fits(c.dims) {
		c.current = selector.Ranked{}
		c.report(reason, ResultStalled, prev, c.current, cause)
		c.enterDegraded(cause)
		return
	}

	fallback := selector.Candidate{Format: c.format, Encoder: enc, Scale: scoring.Identity}
	score := scoring.ScoreCandidate(c.format, nil, enc, scoring.Identity, c.cfg.MinQuality, c.cfg.MinSpeed)
	ranked := selector.Ranked{
		Candidate:   fallback,
		Quality:     score.Quality,
		Speed:       score.Speed,
		MeetsFloors: score.MeetsFloors,
	}

	if prev.IsZero() || prev.Key() != fallback.Key() {
		if err := c.exec.Commit(ctx, c.id, fallback); err != nil {
			c.current = selector.Ranked{}
			c.report(reason, ResultStalled, prev, c.current, errors.Join(cause, err))
			c.enterDegraded(err)
			return
		}
		c.encode.Reset()
	}
	c.current = ranked
	c.report(reason, ResultFallback, prev, ranked, cause)
	c.enterDegraded(cause)
}

func (c *Controller) enterDegraded(cause error) {
	c.pending = ""
	c.setState(StateDegraded)
	c.logger.Warn("window degraded",
		slog.String("format", c.format.String()),
		slog.String("dimensions", c.dims.String()),
		slog.String("pipeline", c.current.String()),
		slog.String("error", cause.Error()),
	)
}

func (c *Controller) drop() {
	c.encode.RecordDropped()
	observability.RecordFrameDropped()
}

// constraints derives selection constraints from pressure and video mode.
func (c *Controller) constraints() selector.Constraints {
	cons := c.press.constraints(c.cfg.MinQuality, c.cfg.MinSpeed)
	if !c.videoMode {
		cons.IdentityOnly = true
		cons.TargetQuality = 100
		cons.TargetSpeed = 0
	}
	return cons
}

// budget is the per-frame cost the window can afford.
func (c *Controller) budget() Budget {
	b := Budget{
		Duration:         c.cfg.FrameInterval,
		Band:             c.cfg.HysteresisBand,
		LossThreshold:    c.cfg.LossThreshold,
		CPUHighWatermark: c.cfg.CPUHighWatermark,
	}
	if net := c.network.Snapshot(); net.BandwidthKnown {
		bw := max(net.Bandwidth, c.cfg.MinBandwidth)
		b.Bytes = float64(bw) * c.cfg.FrameInterval.Seconds()
	}
	return b
}

func (c *Controller) cpuPercent() float64 {
	if c.cpu == nil {
		return 0
	}
	return c.cpu.CPUPercent()
}

func (c *Controller) setState(to State) {
	if to == c.state {
		return
	}
	from := c.state
	c.state = to
	c.obs.OnStateChange(c.id, from, to)
	c.publish()
}

func (c *Controller) report(reason Reason, result Result, old, next selector.Ranked, err error) {
	now := time.Now()
	c.reselections++
	c.lastReason = reason
	c.lastResult = result
	c.lastReselect = now

	ev := ReselectionEvent{
		ID:       ulid.Make(),
		WindowID: c.id,
		Reason:   reason,
		Result:   result,
		Old:      old.Candidate,
		New:      next.Candidate,
		OldName:  old.String(),
		NewName:  next.String(),
		Quality:  next.Quality,
		Speed:    next.Speed,
		Pressure: c.press.value,
		At:       now,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	c.obs.OnReselect(ev)
}

func (c *Controller) publish() {
	st := Status{
		WindowID:     c.id,
		State:        c.state,
		Pipeline:     c.current.String(),
		Candidate:    c.current.Candidate,
		Quality:      c.current.Quality,
		Speed:        c.current.Speed,
		Format:       c.format,
		Dimensions:   c.dims,
		VideoMode:    c.videoMode,
		Pressure:     c.press.value,
		Generation:   c.generation,
		Reselections: c.reselections,
		LastReason:   c.lastReason,
		LastResult:   c.lastResult,
		LastReselect: c.lastReselect,
		Encode:       c.encode.Snapshot(),
		Network:      c.network.Snapshot(),
	}
	c.mu.Lock()
	c.status = st
	c.mu.Unlock()
}
