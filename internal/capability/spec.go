package capability

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
)

// Errors returned by spec construction and registry lookups.
var (
	// ErrUnknownFormat is returned when the registry has never seen a pixel format.
	ErrUnknownFormat = errors.New("unknown pixel format")

	// ErrInvalidSpec is returned when a CSC or encoder spec fails validation.
	ErrInvalidSpec = errors.New("invalid capability spec")

	// ErrSpecNotFound is returned when removing a spec that is not registered.
	ErrSpecNotFound = errors.New("capability spec not found")
)

// MaxCostScoreBoost bounds the magnitude of a cost score boost. It stays well
// below the scoring floor penalty.
const MaxCostScoreBoost = 100.0

const (
	minRating = 0
	maxRating = 100
)

// Spec is the view of a capability shared by CSC and encoder descriptors.
// The scoring engine uses it where both are treated alike.
type Spec interface {
	SpecName() string
	QualityRating() int
	SpeedRating() int
	Lossless() bool
	SupportedFormats() []PixelFormat
	ScoreBoost() float64
}

// CscSpec describes one color-space-conversion implementation.
type CscSpec struct {
	Name          string        `json:"name" yaml:"name"`
	InputFormats  []PixelFormat `json:"input_formats" yaml:"input_formats"`
	OutputFormats []PixelFormat `json:"output_formats" yaml:"output_formats"`
	Quality       int           `json:"quality" yaml:"quality"`
	Speed         int           `json:"speed" yaml:"speed"`

	// CostScoreBoost is added to the speed score, e.g. to favour GPU paths. Default 0.
	CostScoreBoost float64 `json:"cost_score_boost,omitempty" yaml:"cost_score_boost,omitempty"`

	// CanScale marks conversions that can also downscale the frame. Default false.
	CanScale bool `json:"can_scale,omitempty" yaml:"can_scale,omitempty"`

	// MinDimensions and MaxDimensions bound the input frame size. Zero = unbounded.
	MinDimensions Dimensions `json:"min_dimensions,omitzero" yaml:"min_dimensions,omitempty"`
	MaxDimensions Dimensions `json:"max_dimensions,omitzero" yaml:"max_dimensions,omitempty"`
}

// NewCscSpec builds and validates a CSC spec. Optional fields keep their
// zero defaults and can be set on the returned value before registration.
func NewCscSpec(name string, in, out []PixelFormat, quality, speed int) (*CscSpec, error) {
	s := &CscSpec{
		Name:          name,
		InputFormats:  slices.Clone(in),
		OutputFormats: slices.Clone(out),
		Quality:       quality,
		Speed:         speed,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks names, formats, ratings, boost and bounds.
func (s *CscSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: csc name is required", ErrInvalidSpec)
	}
	if len(s.InputFormats) == 0 {
		return fmt.Errorf("%w: csc %q has no input formats", ErrInvalidSpec, s.Name)
	}
	if len(s.OutputFormats) == 0 {
		return fmt.Errorf("%w: csc %q has no output formats", ErrInvalidSpec, s.Name)
	}
	if err := validateRatings(s.Name, s.Quality, s.Speed); err != nil {
		return err
	}
	if err := validateBoost(s.Name, s.CostScoreBoost); err != nil {
		return err
	}
	return validateBounds(s.Name, s.MinDimensions, s.MaxDimensions)
}

// Accepts reports whether the CSC consumes the given format.
func (s *CscSpec) Accepts(f PixelFormat) bool {
	return slices.Contains(s.InputFormats, f)
}

// Produces reports whether the CSC can output the given format.
func (s *CscSpec) Produces(f PixelFormat) bool {
	return slices.Contains(s.OutputFormats, f)
}

// SpecName implements Spec.
func (s *CscSpec) SpecName() string { return s.Name }

// QualityRating implements Spec.
func (s *CscSpec) QualityRating() int { return s.Quality }

// SpeedRating implements Spec.
func (s *CscSpec) SpeedRating() int { return s.Speed }

// Lossless implements Spec. Conversions never offer a lossless mode.
func (s *CscSpec) Lossless() bool { return false }

// SupportedFormats implements Spec and returns the input formats.
func (s *CscSpec) SupportedFormats() []PixelFormat { return s.InputFormats }

// ScoreBoost implements Spec.
func (s *CscSpec) ScoreBoost() float64 { return s.CostScoreBoost }

// EncoderSpec describes one encoder implementation.
type EncoderSpec struct {
	Name string `json:"name" yaml:"name"`
	// Encoding is the output stream type, e.g. "h264" or "vp9".
	Encoding        string        `json:"encoding,omitempty" yaml:"encoding,omitempty"`
	InputFormats    []PixelFormat `json:"input_formats" yaml:"input_formats"`
	Quality         int           `json:"quality" yaml:"quality"`
	Speed           int           `json:"speed" yaml:"speed"`
	HasLosslessMode bool          `json:"has_lossless_mode" yaml:"has_lossless_mode"`

	// MinDimensions and MaxDimensions are inclusive bounds on the encoded
	// surface. Zero = unbounded.
	MinDimensions Dimensions `json:"min_dimensions,omitzero" yaml:"min_dimensions,omitempty"`
	MaxDimensions Dimensions `json:"max_dimensions,omitzero" yaml:"max_dimensions,omitempty"`

	// CostScoreBoost is added to the speed score. Default 0.
	CostScoreBoost float64 `json:"cost_score_boost,omitempty" yaml:"cost_score_boost,omitempty"`

	// Fallback reserves the encoder for degraded windows; it is never part of
	// normal enumeration. Default false.
	Fallback bool `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

// NewEncoderSpec builds and validates an encoder spec.
func NewEncoderSpec(name string, in []PixelFormat, quality, speed int, lossless bool) (*EncoderSpec, error) {
	s := &EncoderSpec{
		Name:            name,
		InputFormats:    slices.Clone(in),
		Quality:         quality,
		Speed:           speed,
		HasLosslessMode: lossless,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks name, formats, ratings, boost and bounds.
func (s *EncoderSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: encoder name is required", ErrInvalidSpec)
	}
	if len(s.InputFormats) == 0 {
		return fmt.Errorf("%w: encoder %q has no input formats", ErrInvalidSpec, s.Name)
	}
	if err := validateRatings(s.Name, s.Quality, s.Speed); err != nil {
		return err
	}
	if err := validateBoost(s.Name, s.CostScoreBoost); err != nil {
		return err
	}
	return validateBounds(s.Name, s.MinDimensions, s.MaxDimensions)
}

// Accepts reports whether the encoder consumes the given format.
func (s *EncoderSpec) Accepts(f PixelFormat) bool {
	return slices.Contains(s.InputFormats, f)
}

// Fits reports whether the encoder can encode a surface of the given size.
func (s *EncoderSpec) Fits(d Dimensions) bool {
	return d.Within(s.MinDimensions, s.MaxDimensions)
}

// SpecName implements Spec.
func (s *EncoderSpec) SpecName() string { return s.Name }

// QualityRating implements Spec.
func (s *EncoderSpec) QualityRating() int { return s.Quality }

// SpeedRating implements Spec.
func (s *EncoderSpec) SpeedRating() int { return s.Speed }

// Lossless implements Spec.
func (s *EncoderSpec) Lossless() bool { return s.HasLosslessMode }

// SupportedFormats implements Spec.
func (s *EncoderSpec) SupportedFormats() []PixelFormat { return s.InputFormats }

// ScoreBoost implements Spec.
func (s *EncoderSpec) ScoreBoost() float64 { return s.CostScoreBoost }

func validateRatings(name string, quality, speed int) error {
	if quality < minRating || quality > maxRating {
		return fmt.Errorf("%w: %q quality %d outside [%d,%d]", ErrInvalidSpec, name, quality, minRating, maxRating)
	}
	if speed < minRating || speed > maxRating {
		return fmt.Errorf("%w: %q speed %d outside [%d,%d]", ErrInvalidSpec, name, speed, minRating, maxRating)
	}
	return nil
}

func validateBoost(name string, boost float64) error {
	if math.IsNaN(boost) || math.IsInf(boost, 0) {
		return fmt.Errorf("%w: %q cost score boost is not finite", ErrInvalidSpec, name)
	}
	if math.Abs(boost) > MaxCostScoreBoost {
		return fmt.Errorf("%w: %q cost score boost %g outside [-%g,%g]", ErrInvalidSpec, name, boost, MaxCostScoreBoost, MaxCostScoreBoost)
	}
	return nil
}

func validateBounds(name string, minDims, maxDims Dimensions) error {
	if minDims.Width < 0 || minDims.Height < 0 || maxDims.Width < 0 || maxDims.Height < 0 {
		return fmt.Errorf("%w: %q has negative dimension bounds", ErrInvalidSpec, name)
	}
	if maxDims.Width > 0 && minDims.Width > maxDims.Width {
		return fmt.Errorf("%w: %q min width %d exceeds max width %d", ErrInvalidSpec, name, minDims.Width, maxDims.Width)
	}
	if maxDims.Height > 0 && minDims.Height > maxDims.Height {
		return fmt.Errorf("%w: %q min height %d exceeds max height %d", ErrInvalidSpec, name, minDims.Height, maxDims.Height)
	}
	return nil
}

var (
	_ Spec = (*CscSpec)(nil)
	_ Spec = (*EncoderSpec)(nil)
)
