package simulate

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/framecast/internal/capability"
	"github.com/jmylchreest/framecast/internal/controller"
	"github.com/jmylchreest/framecast/internal/observability"
	"github.com/jmylchreest/framecast/internal/session"
	"github.com/jmylchreest/framecast/internal/telemetry"
)

// Recorder is a controller.Observer that keeps every reselection.
type Recorder struct {
	mu     sync.Mutex
	events map[string][]controller.ReselectionEvent
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{events: make(map[string][]controller.ReselectionEvent)}
}

// OnReselect implements controller.Observer.
func (r *Recorder) OnReselect(ev controller.ReselectionEvent) {
	r.mu.Lock()
	r.events[ev.WindowID] = append(r.events[ev.WindowID], ev)
	r.mu.Unlock()
}

// OnStateChange implements controller.Observer.
func (r *Recorder) OnStateChange(string, controller.State, controller.State) {}

// Events returns the reselections of a window in order.
func (r *Recorder) Events(windowID string) []controller.ReselectionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events[windowID])
}

// Forget drops the reselections of a window.
func (r *Recorder) Forget(windowID string) {
	r.mu.Lock()
	delete(r.events, windowID)
	r.mu.Unlock()
}

// WindowReport is the outcome of one simulated window.
type WindowReport struct {
	ID           string                        `json:"id"`
	Submitted    int                           `json:"submitted"`
	Elapsed      time.Duration                 `json:"elapsed"`
	Status       controller.Status             `json:"status"`
	Reselections []controller.ReselectionEvent `json:"reselections"`
}

// Report is the outcome of a scenario.
type Report struct {
	Scenario string         `json:"scenario"`
	Elapsed  time.Duration  `json:"elapsed"`
	Windows  []WindowReport `json:"windows"`
}

// Runner plays scenarios against a session manager. The manager must have
// been built with the runner's executor and an observer chain that
// includes the recorder.
type Runner struct {
	manager  *session.Manager
	exec     *Executor
	recorder *Recorder
	logger   *slog.Logger

	// SettleTimeout bounds the wait for a window to finish its queue.
	SettleTimeout time.Duration
}

// NewRunner creates a scenario runner.
func NewRunner(manager *session.Manager, exec *Executor, recorder *Recorder, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		manager:       manager,
		exec:          exec,
		recorder:      recorder,
		logger:        observability.WithComponent(logger, "simulate"),
		SettleTimeout: 10 * time.Second,
	}
}

// Run plays every window of the scenario concurrently and closes the
// windows when done.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Report, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	r.logger.Info("scenario started",
		slog.String("scenario", sc.Name),
		slog.Int("windows", len(sc.Windows)),
		slog.Bool("realtime", sc.Realtime),
	)

	reports := make([]WindowReport, len(sc.Windows))
	g, gctx := errgroup.WithContext(ctx)
	for i, w := range sc.Windows {
		g.Go(func() error {
			rep, err := r.runWindow(gctx, sc, w)
			if err != nil {
				return fmt.Errorf("window %s: %w", w.ID, err)
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortFunc(reports, func(a, b WindowReport) int { return strings.Compare(a.ID, b.ID) })
	report := &Report{Scenario: sc.Name, Elapsed: time.Since(start), Windows: reports}
	r.logger.Info("scenario finished",
		slog.String("scenario", sc.Name),
		slog.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

func (r *Runner) runWindow(ctx context.Context, sc *Scenario, w WindowScenario) (WindowReport, error) {
	r.recorder.Forget(w.ID)
	id, err := r.manager.OpenWindow(w.ID)
	if err != nil {
		return WindowReport{}, err
	}
	defer func() {
		if err := r.manager.CloseWindow(id); err != nil {
			r.logger.Warn("closing simulated window", slog.String("window_id", id), slog.String("error", err.Error()))
		}
		r.exec.Forget(id)
	}()

	start := time.Now()
	src := NewSource(w.Format, dimsOf(w), sc.FrameInterval)

	var tick <-chan time.Time
	if sc.Realtime {
		ticker := time.NewTicker(sc.FrameInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for n := range w.Frames {
		for _, st := range w.stepsAt(n) {
			if err := r.apply(ctx, id, src, st); err != nil {
				return WindowReport{}, err
			}
		}
		if err := r.manager.SubmitFrame(ctx, id, src.Next()); err != nil {
			return WindowReport{}, fmt.Errorf("submitting frame %d: %w", n, err)
		}
		if tick != nil {
			select {
			case <-ctx.Done():
				return WindowReport{}, ctx.Err()
			case <-tick:
			}
		}
	}

	status, err := r.settle(ctx, id, uint64(src.Captured()))
	if err != nil {
		return WindowReport{}, err
	}
	return WindowReport{
		ID:           id,
		Submitted:    src.Captured(),
		Elapsed:      time.Since(start),
		Status:       status,
		Reselections: r.recorder.Events(id),
	}, nil
}

func (r *Runner) apply(ctx context.Context, id string, src *Source, st Step) error {
	if st.Load > 0 {
		r.exec.SetLoad(id, st.Load)
	}
	if st.Format != "" {
		src.SetFormat(st.Format)
	}
	if st.Resize != nil {
		src.Resize(*st.Resize)
		if err := r.manager.ResizeWindow(ctx, id, *st.Resize); err != nil {
			return fmt.Errorf("resizing: %w", err)
		}
	}
	if st.Network != nil {
		report := telemetry.NetworkReport{
			Bandwidth: uint64(st.Network.Bandwidth.Bytes()),
			RTT:       st.Network.RTT,
			LossRatio: st.Network.Loss,
		}
		if err := r.manager.ReportNetwork(ctx, id, report); err != nil {
			return fmt.Errorf("reporting network: %w", err)
		}
	}
	if st.VideoMode != nil {
		if err := r.manager.SetVideoMode(ctx, id, *st.VideoMode); err != nil {
			return fmt.Errorf("setting video mode: %w", err)
		}
	}
	return nil
}

// settle waits until every submitted frame has been encoded, failed or
// dropped.
func (r *Runner) settle(ctx context.Context, id string, submitted uint64) (controller.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, r.SettleTimeout)
	defer cancel()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		status, err := r.manager.Window(id)
		if err != nil {
			return controller.Status{}, err
		}
		enc := status.Encode
		if enc.Frames+enc.Errors+enc.Dropped >= submitted {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return status, fmt.Errorf("waiting for %d frames to settle: %w", submitted, ctx.Err())
		case <-ticker.C:
		}
	}
}

func dimsOf(w WindowScenario) capability.Dimensions {
	return capability.Dimensions{Width: w.Width, Height: w.Height}
}
