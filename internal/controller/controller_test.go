package controller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jmylchreest/framecast/internal/capability"
	"github.com/jmylchreest/framecast/internal/observability"
	"github.com/jmylchreest/framecast/internal/scoring"
	"github.com/jmylchreest/framecast/internal/selector"
	"github.com/jmylchreest/framecast/internal/telemetry"
)

var hd = capability.Dimensions{Width: 1920, Height: 1080}

type fakeExecutor struct {
	mu        sync.Mutex
	commits   []selector.Candidate
	encodes   []string
	duration  time.Duration
	bytes     int
	commitErr error
	encodeErr error
}

func (f *fakeExecutor) Commit(_ context.Context, _ string, c selector.Candidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	f.commits = append(f.commits, c)
	return nil
}

func (f *fakeExecutor) Encode(_ context.Context, _ string, _ Frame) (EncodeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.encodeErr != nil {
		return EncodeResult{}, f.encodeErr
	}
	name := ""
	if n := len(f.commits); n > 0 {
		name = f.commits[n-1].EncoderName()
	}
	f.encodes = append(f.encodes, name)
	return EncodeResult{Duration: f.duration, OutputBytes: f.bytes}, nil
}

func (f *fakeExecutor) setDuration(d time.Duration) {
	f.mu.Lock()
	f.duration = d
	f.mu.Unlock()
}

func (f *fakeExecutor) commitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commits)
}

func (f *fakeExecutor) encodeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.encodes)
}

type recordingObserver struct {
	mu          sync.Mutex
	reselects   []ReselectionEvent
	transitions []State
}

func (r *recordingObserver) OnReselect(ev ReselectionEvent) {
	r.mu.Lock()
	r.reselects = append(r.reselects, ev)
	r.mu.Unlock()
}

func (r *recordingObserver) OnStateChange(_ string, _, to State) {
	r.mu.Lock()
	r.transitions = append(r.transitions, to)
	r.mu.Unlock()
}

func (r *recordingObserver) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.transitions...)
}

func (r *recordingObserver) last() ReselectionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reselects[len(r.reselects)-1]
}

func testRegistry(t *testing.T, encoders ...*capability.EncoderSpec) *capability.Registry {
	t.Helper()
	r := capability.NewRegistry(observability.NewDiscardLogger())
	if len(encoders) == 0 {
		encoders = []*capability.EncoderSpec{
			{Name: "x264", InputFormats: []capability.PixelFormat{capability.FormatYUV420P}, Quality: 60, Speed: 60},
			{Name: "png", InputFormats: []capability.PixelFormat{capability.FormatBGRA}, Quality: 100, Speed: 10, HasLosslessMode: true},
		}
	}
	_, err := r.Replace(&capability.Catalog{
		Csc: []*capability.CscSpec{{
			Name:          "sws",
			InputFormats:  []capability.PixelFormat{capability.FormatBGRA},
			OutputFormats: []capability.PixelFormat{capability.FormatYUV420P},
			Quality:       90,
			Speed:         60,
			CanScale:      true,
		}},
		Encoders: encoders,
	})
	require.NoError(t, err)
	return r
}

type harness struct {
	ctrl *Controller
	reg  *capability.Registry
	exec *fakeExecutor
	obs  *recordingObserver
}

func newHarness(t *testing.T, cfg Config, reg *capability.Registry) *harness {
	t.Helper()
	if reg == nil {
		reg = testRegistry(t)
	}
	h := &harness{
		reg:  reg,
		exec: &fakeExecutor{duration: cfg.FrameInterval, bytes: 1000},
		obs:  &recordingObserver{},
	}
	ctrl, err := New("win-1", cfg, Deps{
		Source:   reg,
		Selector: selector.New(reg, selector.DefaultConfig(), observability.NewDiscardLogger()),
		Executor: h.exec,
		Observer: h.obs,
		Logger:   observability.NewDiscardLogger(),
	})
	require.NoError(t, err)
	h.ctrl = ctrl
	return h
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ReselectInterval = 0
	return cfg
}

func (h *harness) frame(t *testing.T, dims capability.Dimensions) {
	t.Helper()
	h.ctrl.handle(context.Background(), FrameEvent{Frame: Frame{Format: capability.FormatBGRA, Dimensions: dims}})
	h.ctrl.publish()
}

func (h *harness) send(ev Event) {
	h.ctrl.handle(context.Background(), ev)
	h.ctrl.publish()
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New("", DefaultConfig(), Deps{})
	require.Error(t, err)

	_, err = New("w", DefaultConfig(), Deps{})
	require.Error(t, err)
}

func TestController_FirstFrameCommits(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	assert.Equal(t, StateUninitialized, h.ctrl.Status().State)

	h.frame(t, hd)

	st := h.ctrl.Status()
	assert.Equal(t, StateActive, st.State)
	assert.Equal(t, 1, h.exec.commitCount())
	assert.Equal(t, 1, h.exec.encodeCount())
	assert.Equal(t, uint64(1), st.Reselections)
	assert.Equal(t, ReasonInitial, st.LastReason)
	assert.Equal(t, ResultCommitted, st.LastResult)
	assert.Equal(t, h.reg.Generation(), st.Generation)
	assert.NotEqual(t, "none", st.Pipeline)
	assert.Equal(t, []State{StateReselecting, StateActive}, h.obs.states())

	ev := h.obs.last()
	assert.Equal(t, "win-1", ev.WindowID)
	assert.Equal(t, "none", ev.OldName)
	assert.Equal(t, st.Pipeline, ev.NewName)
	assert.NotZero(t, ev.ID.Time())
}

func TestController_SingleOutlierDoesNotReselect(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.frame(t, hd)

	h.exec.setDuration(200 * time.Millisecond)
	h.frame(t, hd)
	h.exec.setDuration(40 * time.Millisecond)
	for range 10 {
		h.frame(t, hd)
	}

	st := h.ctrl.Status()
	assert.Equal(t, uint64(1), st.Reselections)
	assert.Zero(t, st.Pressure)
}

func TestController_SustainedDriftReselects(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.frame(t, hd)

	h.exec.setDuration(200 * time.Millisecond)
	for range 4 {
		h.frame(t, hd)
	}
	assert.Equal(t, uint64(1), h.ctrl.Status().Reselections)

	h.frame(t, hd)
	st := h.ctrl.Status()
	assert.Equal(t, uint64(2), st.Reselections)
	assert.Equal(t, ReasonTelemetryOver, st.LastReason)
	assert.InDelta(t, 0.25, st.Pressure, 1e-9)
	assert.Equal(t, StateActive, st.State)
}

func TestController_HeadroomLowersPressure(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.frame(t, hd)

	h.exec.setDuration(time.Millisecond)
	for range 5 {
		h.frame(t, hd)
	}
	st := h.ctrl.Status()
	assert.Equal(t, ReasonTelemetryUnder, st.LastReason)
	assert.InDelta(t, -0.25, st.Pressure, 1e-9)
}

func TestController_NetworkLossDrivesOverBudget(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.frame(t, hd)

	h.send(NetworkEvent{Report: telemetry.NetworkReport{Bandwidth: 10_000_000, LossRatio: 0.5}})
	for range 5 {
		h.frame(t, hd)
	}
	st := h.ctrl.Status()
	assert.Equal(t, ReasonTelemetryOver, st.LastReason)
	assert.Equal(t, 1, st.Network.Samples)
}

func TestController_ReselectionIsRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.ReselectInterval = time.Hour
	h := newHarness(t, cfg, nil)
	h.frame(t, hd)

	h.exec.setDuration(200 * time.Millisecond)
	for range 5 {
		h.frame(t, hd)
	}
	assert.Equal(t, uint64(2), h.ctrl.Status().Reselections)

	for range 5 {
		h.frame(t, hd)
	}
	st := h.ctrl.Status()
	assert.Equal(t, uint64(2), st.Reselections, "second telemetry trigger waits for the limiter")
	assert.InDelta(t, 0.5, st.Pressure, 1e-9)
	assert.Equal(t, ReasonTelemetryOver, h.ctrl.pending)
}

func TestController_PressureAtBoundDoesNotReselect(t *testing.T) {
	cfg := testConfig()
	cfg.PressureStep = 1
	h := newHarness(t, cfg, nil)
	h.frame(t, hd)

	h.exec.setDuration(200 * time.Millisecond)
	for range 10 {
		h.frame(t, hd)
	}
	st := h.ctrl.Status()
	assert.InDelta(t, 1.0, st.Pressure, 1e-9)
	assert.Equal(t, uint64(2), st.Reselections)
}

func TestController_UnchangedResultSkipsCommit(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.frame(t, hd)
	require.Equal(t, 1, h.exec.commitCount())

	gen, err := h.reg.RegisterEncoder(&capability.EncoderSpec{
		Name:         "nvenc",
		InputFormats: []capability.PixelFormat{capability.FormatNV12},
		Quality:      50,
		Speed:        95,
	})
	require.NoError(t, err)
	h.send(CapabilityEvent{Generation: gen})

	st := h.ctrl.Status()
	assert.Equal(t, 1, h.exec.commitCount())
	assert.Equal(t, ReasonCapabilityChange, st.LastReason)
	assert.Equal(t, ResultUnchanged, st.LastResult)
	assert.Equal(t, gen, st.Generation)
	assert.Equal(t, StateActive, st.State)
}

func TestController_CapabilityChangeDetectedOnFrame(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.frame(t, hd)

	_, err := h.reg.RemoveEncoder("x264")
	require.NoError(t, err)
	h.frame(t, hd)

	st := h.ctrl.Status()
	assert.Equal(t, ReasonCapabilityChange, st.LastReason)
	assert.Equal(t, ResultCommitted, st.LastResult)
	assert.Contains(t, st.Pipeline, "png")
}

func TestController_DegradesAndRevives(t *testing.T) {
	png := &capability.EncoderSpec{Name: "png", InputFormats: []capability.PixelFormat{capability.FormatBGRA}, Quality: 100, Speed: 10}
	h := newHarness(t, testConfig(), testRegistry(t, png))
	h.frame(t, hd)
	require.Equal(t, StateActive, h.ctrl.Status().State)

	_, err := h.reg.RemoveEncoder("png")
	require.NoError(t, err)
	h.frame(t, hd)
	h.frame(t, hd)

	st := h.ctrl.Status()
	assert.Equal(t, StateDegraded, st.State)
	assert.Equal(t, ResultStalled, st.LastResult)
	assert.Equal(t, "none", st.Pipeline)
	assert.Equal(t, uint64(2), st.Encode.Dropped)
	assert.Equal(t, 1, h.exec.encodeCount())
	assert.Contains(t, h.obs.states(), StateDegraded)

	// Telemetry and video mode do not retry against an unchanged catalog.
	h.send(VideoModeEvent{Enabled: false})
	h.frame(t, hd)
	assert.Equal(t, uint64(2), h.ctrl.Status().Reselections)

	_, err = h.reg.RegisterEncoder(png)
	require.NoError(t, err)
	h.frame(t, hd)

	st = h.ctrl.Status()
	assert.Equal(t, StateActive, st.State)
	assert.Equal(t, ResultCommitted, st.LastResult)
	assert.Equal(t, 2, h.exec.encodeCount())
}

func TestController_DegradesToFallbackEncoder(t *testing.T) {
	reg := testRegistry(t,
		&capability.EncoderSpec{Name: "png", InputFormats: []capability.PixelFormat{capability.FormatBGRA}, Quality: 100, Speed: 10},
		&capability.EncoderSpec{Name: "raw", InputFormats: []capability.PixelFormat{capability.FormatBGRA}, Quality: 30, Speed: 100, Fallback: true},
	)
	h := newHarness(t, testConfig(), reg)
	h.frame(t, hd)

	_, err := reg.RemoveEncoder("png")
	require.NoError(t, err)
	h.frame(t, hd)

	st := h.ctrl.Status()
	assert.Equal(t, StateDegraded, st.State)
	assert.Equal(t, ResultFallback, st.LastResult)
	assert.True(t, strings.HasPrefix(st.Pipeline, "BGRA->raw"), st.Pipeline)
	assert.Zero(t, st.Encode.Dropped)
	assert.Equal(t, "raw", h.exec.encodes[len(h.exec.encodes)-1])
}

func TestController_DimensionChange(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.frame(t, hd)

	h.send(ResizeEvent{Dimensions: capability.Dimensions{Width: 1280, Height: 720}})
	st := h.ctrl.Status()
	assert.Equal(t, ReasonDimensionChange, st.LastReason)
	assert.Equal(t, capability.Dimensions{Width: 1280, Height: 720}, st.Dimensions)

	// A frame at the announced size is not another change.
	h.frame(t, capability.Dimensions{Width: 1280, Height: 720})
	assert.Equal(t, uint64(2), h.ctrl.Status().Reselections)

	h.frame(t, hd)
	assert.Equal(t, uint64(3), h.ctrl.Status().Reselections)
	assert.Equal(t, ReasonDimensionChange, h.ctrl.Status().LastReason)
}

func TestController_FormatChange(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.frame(t, hd)

	h.send(FrameEvent{Frame: Frame{Format: capability.FormatYUV420P, Dimensions: hd}})
	st := h.ctrl.Status()
	assert.Equal(t, ReasonFormatChange, st.LastReason)
	assert.Equal(t, capability.FormatYUV420P, st.Format)
	assert.Contains(t, st.Pipeline, "x264")
}

func TestController_VideoModeRestrictsScaling(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.frame(t, hd)
	assert.True(t, h.ctrl.Status().VideoMode)

	h.send(VideoModeEvent{Enabled: false})
	st := h.ctrl.Status()
	assert.False(t, st.VideoMode)
	assert.Equal(t, ReasonVideoMode, st.LastReason)
	assert.True(t, st.Candidate.Scale.IsIdentity())

	h.send(VideoModeEvent{Enabled: false})
	assert.Equal(t, st.Reselections, h.ctrl.Status().Reselections, "repeating the mode is a no-op")
}

func TestController_VideoModeOffKeepsSpeedFloor(t *testing.T) {
	cfg := testConfig()
	cfg.MinSpeed = 40
	h := newHarness(t, cfg, nil)
	h.frame(t, hd)

	h.send(VideoModeEvent{Enabled: false})
	st := h.ctrl.Status()
	require.Equal(t, StateActive, st.State)
	assert.True(t, st.Candidate.Scale.IsIdentity())

	// Quality-only preference would favour png, whose intrinsic speed is 7.
	assert.Equal(t, "x264", st.Candidate.EncoderName())
	speed := scoring.IntrinsicSpeed(st.Candidate.Format, st.Candidate.Csc, st.Candidate.Encoder)
	assert.Greater(t, speed, 40.0)
	assert.NotEqual(t, "png", h.exec.encodes[len(h.exec.encodes)-1])
}

func TestController_ResizeBeyondEncoderBoundsDegrades(t *testing.T) {
	// The only encoder tops out at 1920x1080 and no conversion path reaches
	// it, so nothing can downscale a larger window.
	png := &capability.EncoderSpec{
		Name:          "png",
		InputFormats:  []capability.PixelFormat{capability.FormatBGRA},
		Quality:       100,
		Speed:         10,
		MaxDimensions: hd,
	}
	h := newHarness(t, testConfig(), testRegistry(t, png))
	h.frame(t, hd)
	require.Equal(t, StateActive, h.ctrl.Status().State)
	require.Equal(t, 1, h.exec.encodeCount())

	qhd := capability.Dimensions{Width: 2560, Height: 1440}
	h.send(ResizeEvent{Dimensions: qhd})

	st := h.ctrl.Status()
	assert.Equal(t, StateDegraded, st.State)
	assert.Equal(t, ReasonDimensionChange, st.LastReason)
	assert.Equal(t, ResultStalled, st.LastResult)
	assert.Equal(t, "none", st.Pipeline)
	assert.Equal(t, qhd, st.Dimensions)
	assert.Contains(t, h.obs.last().Error, "no feasible pipeline")

	h.frame(t, qhd)
	assert.Equal(t, uint64(1), h.ctrl.Status().Encode.Dropped)
	assert.Equal(t, 1, h.exec.encodeCount(), "a stalled window does not encode")

	// Shrinking back inside the bounds revives the window.
	h.send(ResizeEvent{Dimensions: hd})
	st = h.ctrl.Status()
	assert.Equal(t, StateActive, st.State)
	assert.Equal(t, ResultCommitted, st.LastResult)
	assert.Equal(t, []State{StateReselecting, StateActive, StateReselecting, StateDegraded, StateReselecting, StateActive}, h.obs.states())
}

func TestController_EncodeErrorKeepsState(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.exec.encodeErr = errors.New("boom")
	h.frame(t, hd)

	st := h.ctrl.Status()
	assert.Equal(t, StateActive, st.State)
	assert.Equal(t, uint64(1), st.Encode.Errors)
}

func TestController_CommitFailure(t *testing.T) {
	t.Run("without_previous_pipeline", func(t *testing.T) {
		h := newHarness(t, testConfig(), nil)
		h.exec.commitErr = errors.New("device busy")
		h.frame(t, hd)

		st := h.ctrl.Status()
		assert.Equal(t, StateDegraded, st.State)
		assert.Equal(t, ResultFailed, st.LastResult)
		assert.Equal(t, "device busy", h.obs.last().Error)
		assert.Equal(t, uint64(1), st.Encode.Dropped)
	})

	t.Run("keeps_previous_pipeline", func(t *testing.T) {
		h := newHarness(t, testConfig(), nil)
		h.frame(t, hd)
		before := h.ctrl.Status().Pipeline

		h.exec.commitErr = errors.New("device busy")
		h.send(VideoModeEvent{Enabled: false})

		st := h.ctrl.Status()
		assert.Equal(t, StateActive, st.State)
		assert.Equal(t, ResultFailed, st.LastResult)
		assert.Equal(t, before, st.Pipeline)
	})
}

func TestController_InvalidFrameDropped(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.frame(t, capability.Dimensions{})

	st := h.ctrl.Status()
	assert.Equal(t, StateUninitialized, st.State)
	assert.Equal(t, uint64(1), st.Encode.Dropped)
	assert.Zero(t, h.exec.commitCount())
}

func TestController_Run(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(t, testConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- h.ctrl.Run(ctx) }()

	for range 3 {
		require.NoError(t, h.ctrl.Post(ctx, FrameEvent{Frame: Frame{Format: capability.FormatBGRA, Dimensions: hd}}))
	}
	require.Eventually(t, func() bool {
		return h.ctrl.Status().Encode.Frames == 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateActive, h.ctrl.Status().State)

	assert.Error(t, h.ctrl.Run(ctx), "second Run is rejected")

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not stop")
	}
	<-h.ctrl.Done()

	assert.Equal(t, StateClosed, h.ctrl.Status().State)
	assert.ErrorIs(t, h.ctrl.Post(context.Background(), ResizeEvent{Dimensions: hd}), ErrClosed)
	assert.False(t, h.ctrl.TryPost(ResizeEvent{Dimensions: hd}))
	states := h.obs.states()
	assert.Equal(t, StateClosed, states[len(states)-1])
}

func TestController_RunStopsBeforeQueuedEvents(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := testConfig()
	cfg.QueueSize = 8
	h := newHarness(t, cfg, nil)
	for range 8 {
		require.True(t, h.ctrl.TryPost(FrameEvent{Frame: Frame{Format: capability.FormatBGRA, Dimensions: hd}}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.ctrl.Run(ctx))
	<-h.ctrl.Done()

	st := h.ctrl.Status()
	assert.Equal(t, StateClosed, st.State)
	assert.Zero(t, h.exec.commitCount())
	assert.Zero(t, h.exec.encodeCount())
	assert.Zero(t, st.Reselections)
}

func TestController_TryPostFullQueue(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	h := newHarness(t, cfg, nil)

	assert.True(t, h.ctrl.TryPost(CapabilityEvent{Generation: 1}))
	assert.False(t, h.ctrl.TryPost(CapabilityEvent{Generation: 2}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.ctrl.Post(ctx, CapabilityEvent{Generation: 3}), context.DeadlineExceeded)
}
