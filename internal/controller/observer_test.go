package controller

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/framecast/internal/config"
	"github.com/jmylchreest/framecast/internal/observability"
)

func TestObservers_FanOut(t *testing.T) {
	a, b := &recordingObserver{}, &recordingObserver{}
	obs := Observers{a, b}

	obs.OnReselect(ReselectionEvent{Reason: ReasonInitial})
	obs.OnStateChange("w", StateUninitialized, StateActive)

	for _, r := range []*recordingObserver{a, b} {
		assert.Len(t, r.reselects, 1)
		assert.Equal(t, []State{StateActive}, r.states())
	}
}

func TestLogObserver(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	obs := NewLogObserver(logger)

	obs.OnReselect(ReselectionEvent{
		ID:       ulid.Make(),
		WindowID: "w1",
		Reason:   ReasonCapabilityChange,
		Result:   ResultStalled,
		OldName:  "BGRA->png",
		NewName:  "none",
		Error:    errors.New("no feasible pipeline").Error(),
		At:       time.Now(),
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "reselection", entry["component"])
	assert.Equal(t, "w1", entry["window_id"])
	assert.Equal(t, "capability_change", entry["reason"])
	assert.Equal(t, "no feasible pipeline", entry["error"])

	buf.Reset()
	obs.OnStateChange("w1", StateActive, StateDegraded)
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "window state changed", entry["msg"])
	assert.Equal(t, "degraded", entry["to"])
}

func TestMetricsObserver_StateGauge(t *testing.T) {
	var obs MetricsObserver
	active := observability.WindowState.WithLabelValues("active")
	degraded := observability.WindowState.WithLabelValues("degraded")
	baseActive := testutil.ToFloat64(active)
	baseDegraded := testutil.ToFloat64(degraded)

	obs.OnStateChange("w", StateUninitialized, StateActive)
	assert.InDelta(t, baseActive+1, testutil.ToFloat64(active), 1e-9)

	obs.OnStateChange("w", StateActive, StateDegraded)
	assert.InDelta(t, baseActive, testutil.ToFloat64(active), 1e-9)
	assert.InDelta(t, baseDegraded+1, testutil.ToFloat64(degraded), 1e-9)

	obs.OnStateChange("w", StateDegraded, StateClosed)
	assert.InDelta(t, baseDegraded, testutil.ToFloat64(degraded), 1e-9)

	counter := observability.ReselectionsTotal.WithLabelValues("video_mode", "committed")
	base := testutil.ToFloat64(counter)
	obs.OnReselect(ReselectionEvent{Reason: ReasonVideoMode, Result: ResultCommitted})
	assert.InDelta(t, base+1, testutil.ToFloat64(counter), 1e-9)
}

func TestState_Text(t *testing.T) {
	for state, name := range stateNames {
		text, err := state.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, name, string(text))

		var parsed State
		require.NoError(t, parsed.UnmarshalText(text))
		assert.Equal(t, state, parsed)
	}

	var s State
	assert.Error(t, s.UnmarshalText([]byte("bogus")))
	assert.Equal(t, "state(42)", State(42).String())
}
