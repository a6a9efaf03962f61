// Package session owns the capability registry, the pipeline selector and one
// adaptive controller goroutine per captured window.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/framecast/internal/capability"
	"github.com/jmylchreest/framecast/internal/controller"
	"github.com/jmylchreest/framecast/internal/observability"
	"github.com/jmylchreest/framecast/internal/selector"
	"github.com/jmylchreest/framecast/internal/telemetry"
)

// ErrWindowNotFound is returned when a window id is unknown.
var ErrWindowNotFound = errors.New("window not found")

// ErrWindowExists is returned when opening a window id twice.
var ErrWindowExists = errors.New("window already exists")

// ErrManagerClosed is returned when using a closed manager.
var ErrManagerClosed = errors.New("session manager closed")

// Config holds configuration for the session manager.
type Config struct {
	// Controller is applied to every window.
	Controller controller.Config
	// CloseTimeout bounds how long closing a window waits for its goroutine.
	CloseTimeout time.Duration
	// MaxWindows caps concurrent windows. 0 = unlimited.
	MaxWindows int
	// SubscriptionBuffer is the capability change buffer for the fan-out.
	SubscriptionBuffer int
}

// DefaultConfig returns sensible defaults for the session manager.
func DefaultConfig() Config {
	return Config{
		Controller:         controller.DefaultConfig(),
		CloseTimeout:       2 * time.Second,
		SubscriptionBuffer: 16,
	}
}

// Deps are the collaborators shared by every window.
type Deps struct {
	Registry *capability.Registry
	Selector *selector.Selector
	Executor controller.Executor
	Observer controller.Observer
	CPU      telemetry.CPUSource
	Logger   *slog.Logger
}

type window struct {
	ctrl     *controller.Controller
	cancel   context.CancelFunc
	openedAt time.Time
}

// Manager manages the windows of one capture session.
type Manager struct {
	id       uuid.UUID
	config   Config
	deps     Deps
	logger   *slog.Logger
	openedAt time.Time

	mu      sync.RWMutex
	windows map[string]*window
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a session manager. Registry, Selector and Executor are
// required.
func NewManager(config Config, deps Deps) (*Manager, error) {
	if deps.Registry == nil || deps.Selector == nil || deps.Executor == nil {
		return nil, errors.New("session manager requires a registry, selector and executor")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if config.CloseTimeout <= 0 {
		config.CloseTimeout = DefaultConfig().CloseTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New()
	return &Manager{
		id:       id,
		config:   config,
		deps:     deps,
		logger:   deps.Logger.With(slog.String("component", "session"), slog.String("session_id", id.String())),
		openedAt: time.Now(),
		windows:  make(map[string]*window),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// ID returns the session id.
func (m *Manager) ID() uuid.UUID { return m.id }

// Registry returns the capability registry shared by all windows.
func (m *Manager) Registry() *capability.Registry { return m.deps.Registry }

// Selector returns the shared pipeline selector.
func (m *Manager) Selector() *selector.Selector { return m.deps.Selector }

// Run forwards capability changes to every window until ctx is cancelled.
// Notifications use TryPost: a window whose queue is full still notices the
// new generation on its next frame.
func (m *Manager) Run(ctx context.Context) error {
	changes, unsubscribe := m.deps.Registry.Subscribe(m.config.SubscriptionBuffer)
	defer unsubscribe()

	observability.RecordCapabilityGeneration(m.deps.Registry.Generation())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.ctx.Done():
			return nil
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			observability.RecordCapabilityGeneration(change.Generation)
			m.broadcast(controller.CapabilityEvent{Generation: change.Generation})
		}
	}
}

func (m *Manager) broadcast(ev controller.Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, w := range m.windows {
		if !w.ctrl.TryPost(ev) {
			m.logger.Debug("window queue full, capability notification skipped", slog.String("window_id", id))
		}
	}
}

// OpenWindow starts a controller for a new window. An empty id gets a
// generated one. It returns the window id.
func (m *Manager) OpenWindow(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", ErrManagerClosed
	}
	if _, exists := m.windows[id]; exists {
		return "", fmt.Errorf("%w: %s", ErrWindowExists, id)
	}
	if m.config.MaxWindows > 0 && len(m.windows) >= m.config.MaxWindows {
		return "", fmt.Errorf("maximum windows reached (%d)", m.config.MaxWindows)
	}

	ctrl, err := controller.New(id, m.config.Controller, controller.Deps{
		Source:   m.deps.Registry,
		Selector: m.deps.Selector,
		Executor: m.deps.Executor,
		Observer: m.deps.Observer,
		CPU:      m.deps.CPU,
		Logger:   m.deps.Logger,
	})
	if err != nil {
		return "", fmt.Errorf("creating controller: %w", err)
	}

	ctx, cancel := context.WithCancel(m.ctx)
	m.windows[id] = &window{ctrl: ctrl, cancel: cancel, openedAt: time.Now()}

	go func() {
		if err := ctrl.Run(ctx); err != nil {
			m.logger.Error("window controller failed", slog.String("window_id", id), slog.String("error", err.Error()))
		}
	}()

	m.logger.Info("window opened", slog.String("window_id", id))
	return id, nil
}

func (m *Manager) lookup(id string) (*window, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	w, ok := m.windows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWindowNotFound, id)
	}
	return w, nil
}

func (m *Manager) post(ctx context.Context, id string, ev controller.Event) error {
	w, err := m.lookup(id)
	if err != nil {
		return err
	}
	if err := w.ctrl.Post(ctx, ev); err != nil {
		if errors.Is(err, controller.ErrClosed) {
			return fmt.Errorf("%w: %s", ErrWindowNotFound, id)
		}
		return err
	}
	return nil
}

// SubmitFrame queues a captured frame, blocking while the window is behind.
func (m *Manager) SubmitFrame(ctx context.Context, id string, f controller.Frame) error {
	if f.CapturedAt.IsZero() {
		f.CapturedAt = time.Now()
	}
	return m.post(ctx, id, controller.FrameEvent{Frame: f})
}

// ResizeWindow announces new window dimensions ahead of the next frame.
func (m *Manager) ResizeWindow(ctx context.Context, id string, dims capability.Dimensions) error {
	if !dims.Valid() {
		return fmt.Errorf("invalid window dimensions %s", dims)
	}
	return m.post(ctx, id, controller.ResizeEvent{Dimensions: dims})
}

// ReportNetwork delivers a network feedback report for a window.
func (m *Manager) ReportNetwork(ctx context.Context, id string, r telemetry.NetworkReport) error {
	return m.post(ctx, id, controller.NetworkEvent{Report: r})
}

// SetVideoMode switches adaptive video handling for a window.
func (m *Manager) SetVideoMode(ctx context.Context, id string, enabled bool) error {
	return m.post(ctx, id, controller.VideoModeEvent{Enabled: enabled})
}

// Window returns the status of one window.
func (m *Manager) Window(id string) (controller.Status, error) {
	w, err := m.lookup(id)
	if err != nil {
		return controller.Status{}, err
	}
	return w.ctrl.Status(), nil
}

// Windows returns the status of every window ordered by id.
func (m *Manager) Windows() []controller.Status {
	m.mu.RLock()
	out := make([]controller.Status, 0, len(m.windows))
	for _, w := range m.windows {
		out = append(out, w.ctrl.Status())
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b controller.Status) int {
		return strings.Compare(a.WindowID, b.WindowID)
	})
	return out
}

// CloseWindow stops a window's controller and waits up to CloseTimeout for
// it. A controller that does not stop in time is abandoned.
func (m *Manager) CloseWindow(id string) error {
	m.mu.Lock()
	w, ok := m.windows[id]
	if ok {
		delete(m.windows, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrWindowNotFound, id)
	}
	m.stop(id, w)
	m.logger.Info("window closed", slog.String("window_id", id), slog.Duration("open_for", time.Since(w.openedAt)))
	return nil
}

func (m *Manager) stop(id string, w *window) {
	w.cancel()
	timer := time.NewTimer(m.config.CloseTimeout)
	defer timer.Stop()
	select {
	case <-w.ctrl.Done():
	case <-timer.C:
		m.logger.Warn("window controller did not stop in time, abandoning",
			slog.String("window_id", id),
			slog.Duration("timeout", m.config.CloseTimeout),
		)
	}
}

// Close stops every window and the capability fan-out.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	windows := m.windows
	m.windows = make(map[string]*window)
	m.mu.Unlock()

	var g errgroup.Group
	for id, w := range windows {
		g.Go(func() error {
			m.stop(id, w)
			return nil
		})
	}
	err := g.Wait()
	m.cancel()

	m.logger.Info("session closed",
		slog.Int("windows", len(windows)),
		slog.Duration("uptime", time.Since(m.openedAt)),
	)
	return err
}

// Stats summarizes the session.
type Stats struct {
	SessionID  string              `json:"session_id"`
	Uptime     time.Duration       `json:"uptime"`
	Windows    int                 `json:"windows"`
	ByState    map[string]int      `json:"by_state"`
	Generation uint64              `json:"generation"`
	Cache      selector.CacheStats `json:"cache"`
}

// Stats returns a summary of the session.
func (m *Manager) Stats() Stats {
	windows := m.Windows()
	byState := make(map[string]int)
	for _, st := range windows {
		byState[st.State.String()]++
	}
	return Stats{
		SessionID:  m.id.String(),
		Uptime:     time.Since(m.openedAt),
		Windows:    len(windows),
		ByState:    byState,
		Generation: m.deps.Registry.Generation(),
		Cache:      m.deps.Selector.CacheStats(),
	}
}
