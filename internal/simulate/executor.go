// Package simulate drives the selection engine without real capture or
// codecs: a synthetic frame source, an executor whose encode cost follows
// the committed pipeline's ratings, and a scenario runner.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/jmylchreest/framecast/internal/controller"
	"github.com/jmylchreest/framecast/internal/observability"
	"github.com/jmylchreest/framecast/internal/selector"
)

// ErrNoPipeline is returned by Encode for a window with nothing committed.
var ErrNoPipeline = errors.New("no pipeline committed")

// CostModel turns pipeline ratings into encode time and output size.
type CostModel struct {
	// NanosPerPixel is the encode cost of one pixel for an encoder rated
	// speed 50. Faster encoders scale it down linearly.
	NanosPerPixel float64 `yaml:"nanos_per_pixel"`
	// CscShare is the cost of a conversion relative to an encode of the
	// same speed rating.
	CscShare float64 `yaml:"csc_share"`
	// CompressionRatio is the output size of a quality 100 encode relative
	// to the raw encoder input.
	CompressionRatio float64 `yaml:"compression_ratio"`
	// LosslessFactor multiplies the output size of lossless encoders.
	LosslessFactor float64 `yaml:"lossless_factor"`
	// Jitter is the relative spread applied to each encode, e.g. 0.1 = ±10%.
	Jitter float64 `yaml:"jitter"`
}

// DefaultCostModel returns a model in which a 1080p x264-class encode
// takes about 17ms on an unloaded host.
func DefaultCostModel() CostModel {
	return CostModel{
		NanosPerPixel:    10,
		CscShare:         0.25,
		CompressionRatio: 0.08,
		LosslessFactor:   3,
		Jitter:           0.05,
	}
}

type committed struct {
	candidate selector.Candidate
	load      float64
}

// Executor is a controller.Executor that computes encode cost instead of
// encoding. Load multiplies the cost of every encode of a window and
// stands in for host contention.
type Executor struct {
	model    CostModel
	realtime bool
	logger   *slog.Logger

	mu      sync.Mutex
	rng     *rand.Rand
	windows map[string]*committed
	// failNext makes the next N commits fail.
	failNext int
}

// NewExecutor creates a simulated executor. seed 0 uses the current time.
func NewExecutor(model CostModel, seed int64, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Executor{
		model:   model,
		logger:  observability.WithComponent(logger, "simulate"),
		rng:     rand.New(rand.NewSource(seed)),
		windows: make(map[string]*committed),
	}
}

// WithRealtime makes Encode sleep for the simulated duration.
func (e *Executor) WithRealtime(realtime bool) *Executor {
	e.realtime = realtime
	return e
}

// SetLoad sets the cost multiplier for a window. Values below 1 make
// encodes cheaper.
func (e *Executor) SetLoad(windowID string, load float64) {
	if load <= 0 {
		load = 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.windows[windowID]
	if !ok {
		w = &committed{}
		e.windows[windowID] = w
	}
	w.load = load
}

// FailCommits makes the next n commits return an error.
func (e *Executor) FailCommits(n int) {
	e.mu.Lock()
	e.failNext = n
	e.mu.Unlock()
}

// Committed returns the pipeline committed for a window.
func (e *Executor) Committed(windowID string) (selector.Candidate, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.windows[windowID]
	if !ok || w.candidate.IsZero() {
		return selector.Candidate{}, false
	}
	return w.candidate, true
}

// Commit implements controller.Executor.
func (e *Executor) Commit(_ context.Context, windowID string, c selector.Candidate) error {
	if c.IsZero() {
		return fmt.Errorf("committing window %s: empty pipeline", windowID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failNext > 0 {
		e.failNext--
		return fmt.Errorf("committing window %s: simulated failure", windowID)
	}
	w, ok := e.windows[windowID]
	if !ok {
		w = &committed{load: 1}
		e.windows[windowID] = w
	}
	if w.load == 0 {
		w.load = 1
	}
	w.candidate = c

	e.logger.Debug("pipeline committed",
		slog.String("window_id", windowID),
		slog.String("pipeline", c.String()),
	)
	return nil
}

// Encode implements controller.Executor.
func (e *Executor) Encode(ctx context.Context, windowID string, f controller.Frame) (controller.EncodeResult, error) {
	e.mu.Lock()
	w, ok := e.windows[windowID]
	if !ok || w.candidate.IsZero() {
		e.mu.Unlock()
		return controller.EncodeResult{}, fmt.Errorf("encoding window %s: %w", windowID, ErrNoPipeline)
	}
	res := e.model.cost(w.candidate, f, w.load, e.rng)
	e.mu.Unlock()

	if e.realtime && res.Duration > 0 {
		t := time.NewTimer(res.Duration)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return controller.EncodeResult{}, ctx.Err()
		case <-t.C:
		}
	}
	return res, nil
}

// Forget drops the state of a window.
func (e *Executor) Forget(windowID string) {
	e.mu.Lock()
	delete(e.windows, windowID)
	e.mu.Unlock()
}

// cost estimates one encode of f through c. rng may be nil for no jitter.
func (m CostModel) cost(c selector.Candidate, f controller.Frame, load float64, rng *rand.Rand) controller.EncodeResult {
	if load <= 0 {
		load = 1
	}
	captured := float64(f.Dimensions.Pixels())
	encoded := float64(c.Scale.Apply(f.Dimensions).Pixels())

	ns := encoded * m.NanosPerPixel * speedFactor(c.Encoder.Speed)
	if c.Csc != nil {
		ns += captured * m.NanosPerPixel * m.CscShare * speedFactor(c.Csc.Speed)
	}
	ns *= load
	if rng != nil && m.Jitter > 0 {
		ns *= 1 + m.Jitter*(2*rng.Float64()-1)
	}

	size := encoded * c.Format.Info().BytesPerPixel * m.CompressionRatio * float64(c.Encoder.Quality+10) / 110
	if c.Encoder.HasLosslessMode && c.Format.Info().QualityCeiling == 100 {
		size *= m.LosslessFactor
	}

	return controller.EncodeResult{
		Duration:    time.Duration(math.Max(ns, 0)),
		OutputBytes: int(math.Ceil(size)),
	}
}

// speedFactor maps a 0-100 speed rating to a cost multiplier, 1 at speed 50.
func speedFactor(speed int) float64 {
	return float64(101-speed) / 51
}

var _ controller.Executor = (*Executor)(nil)
