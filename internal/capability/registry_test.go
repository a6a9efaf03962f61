package capability

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func mustCsc(t *testing.T, name string, in, out []PixelFormat) *CscSpec {
	t.Helper()
	s, err := NewCscSpec(name, in, out, 50, 50)
	require.NoError(t, err)
	return s
}

func mustEncoder(t *testing.T, name string, in []PixelFormat) *EncoderSpec {
	t.Helper()
	s, err := NewEncoderSpec(name, in, 50, 50, false)
	require.NoError(t, err)
	return s
}

func TestSpecValidation(t *testing.T) {
	t.Run("rejects_out_of_range_quality", func(t *testing.T) {
		_, err := NewCscSpec("c", []PixelFormat{FormatBGRA}, []PixelFormat{FormatYUV420P}, 101, 50)
		assert.ErrorIs(t, err, ErrInvalidSpec)
	})

	t.Run("rejects_negative_speed", func(t *testing.T) {
		_, err := NewEncoderSpec("e", []PixelFormat{FormatYUV420P}, 50, -1, false)
		assert.ErrorIs(t, err, ErrInvalidSpec)
	})

	t.Run("rejects_empty_formats", func(t *testing.T) {
		_, err := NewCscSpec("c", nil, []PixelFormat{FormatYUV420P}, 50, 50)
		assert.ErrorIs(t, err, ErrInvalidSpec)

		_, err = NewCscSpec("c", []PixelFormat{FormatBGRA}, nil, 50, 50)
		assert.ErrorIs(t, err, ErrInvalidSpec)

		_, err = NewEncoderSpec("e", nil, 50, 50, false)
		assert.ErrorIs(t, err, ErrInvalidSpec)
	})

	t.Run("rejects_inverted_bounds", func(t *testing.T) {
		s := &EncoderSpec{
			Name:          "e",
			InputFormats:  []PixelFormat{FormatYUV420P},
			MinDimensions: Dimensions{Width: 200, Height: 10},
			MaxDimensions: Dimensions{Width: 100, Height: 100},
		}
		assert.ErrorIs(t, s.Validate(), ErrInvalidSpec)
	})

	t.Run("rejects_non_finite_boost", func(t *testing.T) {
		for _, boost := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
			csc := mustCsc(t, "c", []PixelFormat{FormatBGRA}, []PixelFormat{FormatYUV420P})
			csc.CostScoreBoost = boost
			assert.ErrorIs(t, csc.Validate(), ErrInvalidSpec, "csc boost %v", boost)

			enc := mustEncoder(t, "e", []PixelFormat{FormatYUV420P})
			enc.CostScoreBoost = boost
			assert.ErrorIs(t, enc.Validate(), ErrInvalidSpec, "encoder boost %v", boost)
		}
	})

	t.Run("bounds_boost_magnitude", func(t *testing.T) {
		enc := mustEncoder(t, "e", []PixelFormat{FormatYUV420P})
		enc.CostScoreBoost = MaxCostScoreBoost
		assert.NoError(t, enc.Validate())
		enc.CostScoreBoost = -MaxCostScoreBoost
		assert.NoError(t, enc.Validate())

		enc.CostScoreBoost = 1e9
		assert.ErrorIs(t, enc.Validate(), ErrInvalidSpec)
		enc.CostScoreBoost = -MaxCostScoreBoost - 1
		assert.ErrorIs(t, enc.Validate(), ErrInvalidSpec)
	})

	t.Run("defaults_are_zero", func(t *testing.T) {
		s := mustCsc(t, "c", []PixelFormat{FormatBGRA}, []PixelFormat{FormatYUV420P})
		assert.Zero(t, s.CostScoreBoost)
		assert.False(t, s.CanScale)

		e := mustEncoder(t, "e", []PixelFormat{FormatYUV420P})
		assert.False(t, e.Fallback)
		assert.True(t, e.Fits(Dimensions{Width: 100000, Height: 100000}))
	})
}

func TestSpecInterface(t *testing.T) {
	enc, err := NewEncoderSpec("vp9", []PixelFormat{FormatYUV444P}, 70, 30, true)
	require.NoError(t, err)
	csc := mustCsc(t, "sws", []PixelFormat{FormatBGRA}, []PixelFormat{FormatYUV444P})

	specs := []Spec{enc, csc}
	assert.Equal(t, "vp9", specs[0].SpecName())
	assert.True(t, specs[0].Lossless())
	assert.Equal(t, 70, specs[0].QualityRating())
	assert.Equal(t, 30, specs[0].SpeedRating())
	assert.False(t, specs[1].Lossless())
	assert.Equal(t, []PixelFormat{FormatBGRA}, specs[1].SupportedFormats())
}

func TestRegistry_Lookups(t *testing.T) {
	r := newTestRegistry()
	_, err := r.RegisterCsc(mustCsc(t, "sws", []PixelFormat{FormatBGRA}, []PixelFormat{FormatYUV420P, FormatYUV444P}))
	require.NoError(t, err)
	_, err = r.RegisterEncoder(mustEncoder(t, "x264", []PixelFormat{FormatYUV420P}))
	require.NoError(t, err)
	_, err = r.RegisterEncoder(mustEncoder(t, "a-enc", []PixelFormat{FormatYUV420P}))
	require.NoError(t, err)

	t.Run("lists_csc_by_input", func(t *testing.T) {
		specs, err := r.ListCscSpecs(FormatBGRA)
		require.NoError(t, err)
		require.Len(t, specs, 1)
		assert.Equal(t, "sws", specs[0].Name)
	})

	t.Run("lists_encoders_sorted_by_name", func(t *testing.T) {
		specs, err := r.ListEncoderSpecs(FormatYUV420P)
		require.NoError(t, err)
		require.Len(t, specs, 2)
		assert.Equal(t, "a-enc", specs[0].Name)
		assert.Equal(t, "x264", specs[1].Name)
	})

	t.Run("known_format_without_specs_is_empty", func(t *testing.T) {
		// YUV444P is only an output of the CSC, so it is known.
		specs, err := r.ListEncoderSpecs(FormatYUV444P)
		require.NoError(t, err)
		assert.Empty(t, specs)
	})

	t.Run("unknown_format_fails", func(t *testing.T) {
		_, err := r.ListCscSpecs(FormatNV12)
		assert.ErrorIs(t, err, ErrUnknownFormat)
		_, err = r.ListEncoderSpecs(PixelFormat("P010"))
		assert.ErrorIs(t, err, ErrUnknownFormat)
	})
}

func TestRegistry_GenerationAndRemoval(t *testing.T) {
	r := newTestRegistry()
	assert.Equal(t, uint64(0), r.Generation())

	gen, err := r.RegisterEncoder(mustEncoder(t, "x264", []PixelFormat{FormatYUV420P}))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)

	before := r.Snapshot()

	gen, err = r.RemoveEncoder("x264")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), gen)

	// Old snapshot is untouched by the removal.
	assert.True(t, before.HasEncoder("x264"))
	assert.False(t, r.Snapshot().HasEncoder("x264"))

	_, err = r.RemoveEncoder("x264")
	assert.ErrorIs(t, err, ErrSpecNotFound)
	assert.Equal(t, uint64(2), r.Generation(), "failed change must not bump generation")

	_, err = r.RegisterCsc(&CscSpec{Name: "bad"})
	assert.ErrorIs(t, err, ErrInvalidSpec)
	assert.Equal(t, uint64(2), r.Generation())
}

func TestRegistry_RegisteredSpecIsCopied(t *testing.T) {
	r := newTestRegistry()
	spec := mustEncoder(t, "x264", []PixelFormat{FormatYUV420P})
	_, err := r.RegisterEncoder(spec)
	require.NoError(t, err)

	spec.Quality = 0
	spec.InputFormats[0] = FormatBGRA

	specs, err := r.ListEncoderSpecs(FormatYUV420P)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, 50, specs[0].Quality)
}

func TestRegistry_Fallback(t *testing.T) {
	r := newTestRegistry()
	fb := mustEncoder(t, "rgb", []PixelFormat{FormatBGRA})
	fb.Fallback = true
	_, err := r.RegisterEncoder(fb)
	require.NoError(t, err)

	specs, err := r.ListEncoderSpecs(FormatBGRA)
	require.NoError(t, err)
	assert.Empty(t, specs, "fallback encoders are excluded from normal enumeration")

	got, ok := r.FallbackEncoder(FormatBGRA)
	require.True(t, ok)
	assert.Equal(t, "rgb", got.Name)

	_, ok = r.FallbackEncoder(FormatYUV420P)
	assert.False(t, ok)
}

func TestRegistry_Replace(t *testing.T) {
	r := newTestRegistry()
	_, err := r.RegisterEncoder(mustEncoder(t, "old", []PixelFormat{FormatYUV420P}))
	require.NoError(t, err)

	_, err = r.Replace(DefaultCatalog())
	require.NoError(t, err)

	snap := r.Snapshot()
	assert.False(t, snap.HasEncoder("old"))
	assert.True(t, snap.HasEncoder("x264"))
	assert.True(t, snap.HasCsc("swscale"))
	assert.Contains(t, snap.Formats(), FormatBGRA)
}

func TestRegistry_Subscribe(t *testing.T) {
	r := newTestRegistry()
	ch, cancel := r.Subscribe(4)
	defer cancel()

	_, err := r.RegisterEncoder(mustEncoder(t, "x264", []PixelFormat{FormatYUV420P}))
	require.NoError(t, err)

	change := <-ch
	assert.Equal(t, ChangeRegisterEncoder, change.Kind)
	assert.Equal(t, uint64(1), change.Generation)

	cancel()
	_, ok := <-ch
	assert.False(t, ok, "cancel closes the channel")
	cancel() // idempotent
}

func TestRegistry_SubscriberNeverBlocksWriter(t *testing.T) {
	r := newTestRegistry()
	_, cancel := r.Subscribe(1)
	defer cancel()

	for i := 0; i < 10; i++ {
		_, err := r.RegisterEncoder(mustEncoder(t, "x264", []PixelFormat{FormatYUV420P}))
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(10), r.Generation())
}

func TestRegistry_ConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	r := newTestRegistry()
	catalogA := &Catalog{
		Csc:      []*CscSpec{{Name: "a-csc", InputFormats: []PixelFormat{FormatBGRA}, OutputFormats: []PixelFormat{FormatYUV420P}}},
		Encoders: []*EncoderSpec{{Name: "a-enc", InputFormats: []PixelFormat{FormatYUV420P}}},
	}
	catalogB := &Catalog{
		Csc:      []*CscSpec{{Name: "b-csc", InputFormats: []PixelFormat{FormatBGRA}, OutputFormats: []PixelFormat{FormatNV12}}},
		Encoders: []*EncoderSpec{{Name: "b-enc", InputFormats: []PixelFormat{FormatNV12}}},
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	var mismatch error
	var mu sync.Mutex

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := r.Snapshot()
				if snap.HasCsc("a-csc") != snap.HasEncoder("a-enc") || snap.HasCsc("b-csc") != snap.HasEncoder("b-enc") {
					mu.Lock()
					mismatch = errors.New("observed partially applied catalog")
					mu.Unlock()
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		c := catalogA
		if i%2 == 1 {
			c = catalogB
		}
		_, err := r.Replace(c)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	assert.NoError(t, mismatch)
}
