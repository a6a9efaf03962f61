package scoring

import (
	"fmt"

	"github.com/jmylchreest/framecast/internal/capability"
)

// ScaleFactor downscales a frame by dividing its width by DenomX and its
// height by DenomY before encoding. (1,1) is the identity.
type ScaleFactor struct {
	DenomX int `json:"denom_x"`
	DenomY int `json:"denom_y"`
}

// Identity is the no-downscale factor.
var Identity = ScaleFactor{DenomX: 1, DenomY: 1}

// Valid reports whether both denominators are positive.
func (s ScaleFactor) Valid() bool {
	return s.DenomX > 0 && s.DenomY > 0
}

// IsIdentity reports whether s leaves the frame unscaled.
func (s ScaleFactor) IsIdentity() bool {
	return s.DenomX == 1 && s.DenomY == 1
}

// Area returns DenomX*DenomY, the factor by which the surface shrinks.
func (s ScaleFactor) Area() int {
	return s.DenomX * s.DenomY
}

// Apply returns the encoded surface size for a frame of size d.
func (s ScaleFactor) Apply(d capability.Dimensions) capability.Dimensions {
	if !s.Valid() {
		return d
	}
	return capability.Dimensions{Width: d.Width / s.DenomX, Height: d.Height / s.DenomY}
}

// String renders the factor as "1/x:1/y".
func (s ScaleFactor) String() string {
	return fmt.Sprintf("1/%d:1/%d", s.DenomX, s.DenomY)
}
