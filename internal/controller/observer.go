package controller

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/framecast/internal/observability"
	"github.com/jmylchreest/framecast/internal/selector"
)

// Executor applies committed pipelines and encodes frames. It is the
// boundary to the CSC and encoder implementations.
type Executor interface {
	// Commit switches the window to a new pipeline. It is called between
	// frames, never while an Encode for the window is in progress.
	Commit(ctx context.Context, windowID string, c selector.Candidate) error
	// Encode encodes one frame on the committed pipeline.
	Encode(ctx context.Context, windowID string, f Frame) (EncodeResult, error)
}

// EncodeResult is what an encode cost.
type EncodeResult struct {
	Duration    time.Duration
	OutputBytes int
}

// ReselectionEvent describes one reselection for observers.
type ReselectionEvent struct {
	ID       ulid.ULID          `json:"id"`
	WindowID string             `json:"window_id"`
	Reason   Reason             `json:"reason"`
	Result   Result             `json:"result"`
	Old      selector.Candidate `json:"-"`
	New      selector.Candidate `json:"-"`
	OldName  string             `json:"old"`
	NewName  string             `json:"new"`
	Quality  float64            `json:"quality"`
	Speed    float64            `json:"speed"`
	Pressure float64            `json:"pressure"`
	Error    string             `json:"error,omitempty"`
	At       time.Time          `json:"at"`
}

// Observer is notified of reselections and state changes. Calls are made
// from the window's goroutine and must not block.
type Observer interface {
	OnReselect(ev ReselectionEvent)
	OnStateChange(windowID string, from, to State)
}

// Observers fans out to several observers in order.
type Observers []Observer

// OnReselect implements Observer.
func (o Observers) OnReselect(ev ReselectionEvent) {
	for _, obs := range o {
		obs.OnReselect(ev)
	}
}

// OnStateChange implements Observer.
func (o Observers) OnStateChange(windowID string, from, to State) {
	for _, obs := range o {
		obs.OnStateChange(windowID, from, to)
	}
}

// LogObserver logs reselections and state changes.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver creates a logging observer.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: observability.WithComponent(logger, "reselection")}
}

// OnReselect implements Observer.
func (l *LogObserver) OnReselect(ev ReselectionEvent) {
	attrs := []any{
		slog.String("event_id", ev.ID.String()),
		slog.String("window_id", ev.WindowID),
		slog.String("reason", string(ev.Reason)),
		slog.String("result", string(ev.Result)),
		slog.String("old", ev.OldName),
		slog.String("new", ev.NewName),
		slog.Float64("quality", ev.Quality),
		slog.Float64("speed", ev.Speed),
		slog.Float64("pressure", ev.Pressure),
	}
	switch ev.Result {
	case ResultFailed, ResultStalled:
		if ev.Error != "" {
			attrs = append(attrs, slog.String("error", ev.Error))
		}
		l.logger.Warn("pipeline reselection", attrs...)
	case ResultUnchanged:
		l.logger.Debug("pipeline reselection", attrs...)
	default:
		l.logger.Info("pipeline reselection", attrs...)
	}
}

// OnStateChange implements Observer.
func (l *LogObserver) OnStateChange(windowID string, from, to State) {
	level := slog.LevelDebug
	if to == StateDegraded {
		level = slog.LevelWarn
	}
	l.logger.Log(context.Background(), level, "window state changed",
		slog.String("window_id", windowID),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
}

// MetricsObserver records reselections and window states in prometheus.
// Uninitialized and closed windows are not counted in the state gauge.
type MetricsObserver struct{}

// OnReselect implements Observer.
func (MetricsObserver) OnReselect(ev ReselectionEvent) {
	observability.RecordReselection(string(ev.Reason), string(ev.Result))
}

// OnStateChange implements Observer.
func (MetricsObserver) OnStateChange(_ string, from, to State) {
	var fromLabel, toLabel string
	if from != StateUninitialized && from != StateClosed {
		fromLabel = from.String()
	}
	if to != StateUninitialized && to != StateClosed {
		toLabel = to.String()
	}
	observability.RecordStateChange(fromLabel, toLabel)
}

var (
	_ Observer = Observers(nil)
	_ Observer = (*LogObserver)(nil)
	_ Observer = MetricsObserver{}
)
