package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkEstimator(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		e := NewNetworkEstimator(4)
		snap := e.Snapshot()
		assert.False(t, snap.BandwidthKnown)
		assert.Zero(t, snap.Samples)
		assert.Nil(t, e.History())
	})

	t.Run("rolling_average", func(t *testing.T) {
		e := NewNetworkEstimator(3)
		e.Add(NetworkReport{Bandwidth: 100, RTT: 10 * time.Millisecond})
		e.Add(NetworkReport{Bandwidth: 200, RTT: 20 * time.Millisecond})
		e.Add(NetworkReport{Bandwidth: 300, RTT: 30 * time.Millisecond})
		e.Add(NetworkReport{Bandwidth: 400, RTT: 40 * time.Millisecond, LossRatio: 0.1})

		snap := e.Snapshot()
		assert.Equal(t, 3, snap.Samples)
		assert.True(t, snap.BandwidthKnown)
		assert.Equal(t, uint64(300), snap.Bandwidth)
		assert.Equal(t, 30*time.Millisecond, snap.RTT)
		assert.InDelta(t, 0.1, snap.LossRatio, 1e-9)
		assert.Equal(t, []uint64{200, 300, 400}, e.History())
	})

	t.Run("unknown_bandwidth_is_ignored", func(t *testing.T) {
		e := NewNetworkEstimator(4)
		e.Add(NetworkReport{Bandwidth: 1000})
		e.Add(NetworkReport{LossRatio: 0.5})
		snap := e.Snapshot()
		assert.Equal(t, uint64(1000), snap.Bandwidth)
		assert.InDelta(t, 0.5, snap.LossRatio, 1e-9)
	})

	t.Run("loss_is_clamped", func(t *testing.T) {
		e := NewNetworkEstimator(2)
		e.Add(NetworkReport{LossRatio: 3})
		assert.InDelta(t, 1.0, e.Snapshot().LossRatio, 1e-9)
	})

	t.Run("reset", func(t *testing.T) {
		e := NewNetworkEstimator(0)
		assert.Equal(t, DefaultNetworkWindow, e.WindowSize())
		e.Add(NetworkReport{Bandwidth: 1})
		e.Reset()
		assert.Zero(t, e.Snapshot().Samples)
	})
}

func TestEncodeStats(t *testing.T) {
	s := NewEncodeStats(2)

	empty := s.Snapshot()
	assert.Zero(t, empty.Frames)
	assert.Zero(t, empty.MeanDuration)

	s.Record(10*time.Millisecond, 1000)
	s.Record(20*time.Millisecond, 2000)
	s.Record(30*time.Millisecond, 3000)
	s.RecordError()
	s.RecordDropped()
	s.RecordDropped()

	snap := s.Snapshot()
	assert.Equal(t, uint64(3), snap.Frames)
	assert.Equal(t, uint64(6000), snap.TotalBytes)
	assert.Equal(t, uint64(1), snap.Errors)
	assert.Equal(t, uint64(2), snap.Dropped)
	assert.Equal(t, 25*time.Millisecond, snap.MeanDuration)
	assert.InDelta(t, 2500.0, snap.MeanBytes, 1e-9)
	assert.Equal(t, 30*time.Millisecond, snap.LastDuration)
	assert.Equal(t, 3000, snap.LastBytes)

	s.Reset()
	snap = s.Snapshot()
	assert.Equal(t, uint64(3), snap.Frames, "lifetime counters survive reset")
	assert.Zero(t, snap.MeanDuration)
}

func TestStaticCPU(t *testing.T) {
	var src CPUSource = StaticCPU(42)
	assert.InDelta(t, 42.0, src.CPUPercent(), 1e-9)
}

func TestHostSampler_Run(t *testing.T) {
	h := NewHostSampler(10*time.Millisecond, nil)
	sampled := make(chan HostStats, 16)
	h.OnSample(func(s HostStats) {
		select {
		case sampled <- s:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	select {
	case s := <-sampled:
		assert.GreaterOrEqual(t, s.CPUPercent, 0.0)
		assert.LessOrEqual(t, s.CPUPercent, 100.0)
		assert.False(t, s.SampledAt.IsZero())
	case <-time.After(5 * time.Second):
		t.Skip("host does not expose cpu statistics")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sampler did not stop")
	}
}
