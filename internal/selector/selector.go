// Package selector enumerates the feasible encoding pipelines for a captured
// frame and ranks them with the scoring engine.
package selector

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/jmylchreest/framecast/internal/capability"
	"github.com/jmylchreest/framecast/internal/observability"
	"github.com/jmylchreest/framecast/internal/scoring"
)

// ErrNoFeasiblePipeline is returned when no candidate can handle the frame.
var ErrNoFeasiblePipeline = errors.New("no feasible pipeline")

// Defaults for Config.
const (
	DefaultMaxDenominator = 4
	DefaultMinScaledSize  = 64
	DefaultCacheSize      = 256
)

// Config tunes enumeration.
type Config struct {
	// MaxDenominator is the largest downscale denominator tried on either axis.
	MaxDenominator int
	// MinScaledSize is the smallest scaled width or height worth encoding.
	MinScaledSize int
	// CacheSize bounds the number of cached enumerations. 0 disables caching.
	CacheSize int
}

// DefaultConfig returns the default selector configuration.
func DefaultConfig() Config {
	return Config{
		MaxDenominator: DefaultMaxDenominator,
		MinScaledSize:  DefaultMinScaledSize,
		CacheSize:      DefaultCacheSize,
	}
}

// SnapshotSource provides the current capability catalog.
type SnapshotSource interface {
	Snapshot() *capability.Snapshot
}

// Selector builds and ranks pipeline candidates. It is safe for concurrent
// use by many windows.
type Selector struct {
	source SnapshotSource
	config Config
	logger *slog.Logger
	cache  *enumerationCache
	scales []scoring.ScaleFactor
}

// New creates a selector reading capabilities from source.
func New(source SnapshotSource, cfg Config, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxDenominator < 1 {
		cfg.MaxDenominator = DefaultMaxDenominator
	}
	if cfg.MinScaledSize < 1 {
		cfg.MinScaledSize = 1
	}
	return &Selector{
		source: source,
		config: cfg,
		logger: logger.With(slog.String("component", "selector")),
		cache:  newEnumerationCache(cfg.CacheSize),
		scales: scaleFactors(cfg.MaxDenominator),
	}
}

// scaleFactors lists (d,d), (d,d+1) and (d+1,d) up to max, identity first.
func scaleFactors(maxDenom int) []scoring.ScaleFactor {
	out := []scoring.ScaleFactor{scoring.Identity}
	for d := 1; d <= maxDenom; d++ {
		if d > 1 {
			out = append(out, scoring.ScaleFactor{DenomX: d, DenomY: d})
		}
		if d+1 <= maxDenom {
			out = append(out,
				scoring.ScaleFactor{DenomX: d, DenomY: d + 1},
				scoring.ScaleFactor{DenomX: d + 1, DenomY: d},
			)
		}
	}
	return out
}

// Select returns every feasible pipeline for a frame of the given format and
// size, best first. The ordering is deterministic for identical inputs and
// an identical catalog.
func (s *Selector) Select(format capability.PixelFormat, dims capability.Dimensions, c Constraints) ([]Ranked, error) {
	if err := c.Validate(); err != nil {
		observability.RecordSelection(observability.SelectionInvalid, 0)
		return nil, err
	}
	if !dims.Valid() {
		observability.RecordSelection(observability.SelectionInvalid, 0)
		return nil, fmt.Errorf("%w: dimensions %s", ErrInvalidConstraint, dims)
	}

	candidates := s.Enumerate(format, dims)

	maxDenom := c.MaxDenominator
	if maxDenom == 0 || maxDenom > s.config.MaxDenominator {
		maxDenom = s.config.MaxDenominator
	}
	w := scoring.PreferenceWeight(c.TargetQuality, c.TargetSpeed)

	ranked := make([]Ranked, 0, len(candidates))
	for _, cand := range candidates {
		if c.IdentityOnly && !cand.Scale.IsIdentity() {
			continue
		}
		if cand.Scale.DenomX > maxDenom || cand.Scale.DenomY > maxDenom {
			continue
		}
		// Ceilings come from the format the encoder consumes.
		score := scoring.ScoreCandidate(cand.Format, cand.Csc, cand.Encoder, cand.Scale, c.MinQuality, c.MinSpeed)
		ranked = append(ranked, Ranked{
			Candidate:   cand,
			Quality:     score.Quality,
			Speed:       score.Speed,
			Rank:        scoring.RankKey(score, w),
			MeetsFloors: score.MeetsFloors,
		})
	}

	if len(ranked) == 0 {
		observability.RecordSelection(observability.SelectionNoFeasible, 0)
		return nil, fmt.Errorf("%w: format %s at %s", ErrNoFeasiblePipeline, format, dims)
	}

	slices.SortFunc(ranked, func(a, b Ranked) int {
		switch {
		case less(&a, &b):
			return -1
		case less(&b, &a):
			return 1
		default:
			return 0
		}
	})

	observability.RecordSelection(observability.SelectionOK, len(ranked))
	return ranked, nil
}

// Best returns only the top candidate of Select.
func (s *Selector) Best(format capability.PixelFormat, dims capability.Dimensions, c Constraints) (Ranked, error) {
	ranked, err := s.Select(format, dims, c)
	if err != nil {
		return Ranked{}, err
	}
	return ranked[0], nil
}

// Enumerate returns the unscored candidate set for a frame. Results are
// cached per (format, dims) until the catalog generation changes. Callers
// must not modify the returned slice.
func (s *Selector) Enumerate(format capability.PixelFormat, dims capability.Dimensions) []Candidate {
	snap := s.source.Snapshot()
	key := cacheKey{format: format, dims: dims}

	if cached, ok := s.cache.get(key, snap.Generation); ok {
		return cached
	}

	candidates := s.enumerate(snap, format, dims)
	s.cache.put(key, snap.Generation, candidates)

	s.logger.Debug("enumerated pipelines",
		slog.String("format", string(format)),
		slog.String("dimensions", dims.String()),
		slog.Uint64("generation", snap.Generation),
		slog.Int("candidates", len(candidates)),
	)
	return candidates
}

// CacheStats returns enumeration cache counters.
func (s *Selector) CacheStats() CacheStats {
	return s.cache.stats()
}

func (s *Selector) enumerate(snap *capability.Snapshot, format capability.PixelFormat, dims capability.Dimensions) []Candidate {
	var out []Candidate

	// Direct: the encoder consumes the captured format unscaled.
	if encoders, err := snap.ListEncoderSpecs(format); err == nil {
		for _, enc := range encoders {
			if enc.Fits(dims) {
				out = append(out, Candidate{Format: format, Encoder: enc, Scale: scoring.Identity})
			}
		}
	}

	// Two-stage: CSC then encoder. An unknown format contributes nothing.
	cscs, err := snap.ListCscSpecs(format)
	if err != nil {
		return out
	}
	for _, csc := range cscs {
		if !dims.Within(csc.MinDimensions, csc.MaxDimensions) {
			continue
		}
		scales := s.scalesFor(csc, dims)
		for _, target := range csc.OutputFormats {
			encoders, err := snap.ListEncoderSpecs(target)
			if err != nil {
				continue
			}
			for _, enc := range encoders {
				for _, scale := range scales {
					if enc.Fits(scale.Apply(dims)) {
						out = append(out, Candidate{Format: target, Csc: csc, Encoder: enc, Scale: scale})
					}
				}
			}
		}
	}
	return out
}

func (s *Selector) scalesFor(csc *capability.CscSpec, dims capability.Dimensions) []scoring.ScaleFactor {
	if !csc.CanScale {
		return s.scales[:1]
	}
	out := make([]scoring.ScaleFactor, 0, len(s.scales))
	for _, scale := range s.scales {
		scaled := scale.Apply(dims)
		if scale.IsIdentity() || (scaled.Width >= s.config.MinScaledSize && scaled.Height >= s.config.MinScaledSize) {
			out = append(out, scale)
		}
	}
	return out
}
