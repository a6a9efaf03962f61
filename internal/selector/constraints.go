package selector

import (
	"errors"
	"fmt"
)

// ErrInvalidConstraint is returned when a constraint value is out of range.
// Values are never clamped.
var ErrInvalidConstraint = errors.New("invalid constraint")

// Neutral targets used when a window has no preference either way.
const (
	DefaultTargetQuality = 50
	DefaultTargetSpeed   = 50
)

// Constraints are the caller's floors and preferences for one selection.
type Constraints struct {
	// MinQuality and MinSpeed are floors in [0,100]. 0 disables the floor.
	MinQuality int `json:"min_quality"`
	MinSpeed   int `json:"min_speed"`

	// TargetQuality and TargetSpeed in [0,100] set the quality/speed trade-off.
	TargetQuality int `json:"target_quality"`
	TargetSpeed   int `json:"target_speed"`

	// MaxDenominator caps the downscale denominators. 0 uses the selector default.
	MaxDenominator int `json:"max_denominator,omitempty"`

	// IdentityOnly disables downscaling, e.g. for windows not in video mode.
	IdentityOnly bool `json:"identity_only,omitempty"`
}

// DefaultConstraints returns constraints with no floors and neutral targets.
func DefaultConstraints() Constraints {
	return Constraints{
		TargetQuality: DefaultTargetQuality,
		TargetSpeed:   DefaultTargetSpeed,
	}
}

// Validate checks every value lies in its allowed range.
func (c Constraints) Validate() error {
	var errs []error
	check := func(name string, v int) {
		if v < 0 || v > 100 {
			errs = append(errs, fmt.Errorf("%w: %s %d outside [0,100]", ErrInvalidConstraint, name, v))
		}
	}
	check("min_quality", c.MinQuality)
	check("min_speed", c.MinSpeed)
	check("target_quality", c.TargetQuality)
	check("target_speed", c.TargetSpeed)
	if c.MaxDenominator < 0 {
		errs = append(errs, fmt.Errorf("%w: max_denominator %d is negative", ErrInvalidConstraint, c.MaxDenominator))
	}
	return errors.Join(errs...)
}
