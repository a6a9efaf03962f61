// Package capability holds the catalog of color-space-conversion (CSC) and
// encoder implementations available to the pipeline selector.
//
// Specs are immutable once registered. The Registry publishes a new snapshot
// for every capability change so readers never observe a partial update.
package capability

import (
	"fmt"
	"strings"
)

// PixelFormat identifies a planar or packed pixel layout, e.g. "BGRA" or "YUV420P".
type PixelFormat string

// Well-known pixel formats.
const (
	FormatBGRA    PixelFormat = "BGRA"
	FormatBGRX    PixelFormat = "BGRX"
	FormatRGBA    PixelFormat = "RGBA"
	FormatRGBX    PixelFormat = "RGBX"
	FormatXRGB    PixelFormat = "XRGB"
	FormatARGB    PixelFormat = "ARGB"
	FormatRGB     PixelFormat = "RGB"
	FormatBGR     PixelFormat = "BGR"
	FormatR210    PixelFormat = "r210"
	FormatGBRP    PixelFormat = "GBRP"
	FormatYUV444P PixelFormat = "YUV444P"
	FormatYUV422P PixelFormat = "YUV422P"
	FormatYUV420P PixelFormat = "YUV420P"
	FormatNV12    PixelFormat = "NV12"
)

const (
	unknownQualityCeiling = 50
	unknownSpeedCeiling   = 50
)

// FormatInfo describes the static properties of a pixel format.
type FormatInfo struct {
	// Packed is true when all components are interleaved in a single plane.
	Packed bool
	// ChromaDivX and ChromaDivY are the chroma subsampling divisors (1 = none).
	ChromaDivX int
	ChromaDivY int
	// BytesPerPixel is the average storage cost of one pixel.
	BytesPerPixel float64
	// QualityCeiling is the best quality score (0-100) a pipeline using this
	// format can reach.
	QualityCeiling int
	// SpeedCeiling rates how cheap the format is to convert and encode (0-100).
	SpeedCeiling int
}

// Subsampled reports whether the format drops chroma resolution.
func (i FormatInfo) Subsampled() bool {
	return i.ChromaDivX > 1 || i.ChromaDivY > 1
}

var knownFormats = map[PixelFormat]FormatInfo{
	FormatBGRA:    {Packed: true, ChromaDivX: 1, ChromaDivY: 1, BytesPerPixel: 4, QualityCeiling: 100, SpeedCeiling: 70},
	FormatBGRX:    {Packed: true, ChromaDivX: 1, ChromaDivY: 1, BytesPerPixel: 4, QualityCeiling: 100, SpeedCeiling: 70},
	FormatRGBA:    {Packed: true, ChromaDivX: 1, ChromaDivY: 1, BytesPerPixel: 4, QualityCeiling: 100, SpeedCeiling: 70},
	FormatRGBX:    {Packed: true, ChromaDivX: 1, ChromaDivY: 1, BytesPerPixel: 4, QualityCeiling: 100, SpeedCeiling: 70},
	FormatXRGB:    {Packed: true, ChromaDivX: 1, ChromaDivY: 1, BytesPerPixel: 4, QualityCeiling: 100, SpeedCeiling: 70},
	FormatARGB:    {Packed: true, ChromaDivX: 1, ChromaDivY: 1, BytesPerPixel: 4, QualityCeiling: 100, SpeedCeiling: 70},
	FormatR210:    {Packed: true, ChromaDivX: 1, ChromaDivY: 1, BytesPerPixel: 4, QualityCeiling: 100, SpeedCeiling: 70},
	FormatRGB:     {Packed: true, ChromaDivX: 1, ChromaDivY: 1, BytesPerPixel: 3, QualityCeiling: 100, SpeedCeiling: 80},
	FormatBGR:     {Packed: true, ChromaDivX: 1, ChromaDivY: 1, BytesPerPixel: 3, QualityCeiling: 100, SpeedCeiling: 80},
	FormatGBRP:    {ChromaDivX: 1, ChromaDivY: 1, BytesPerPixel: 3, QualityCeiling: 100, SpeedCeiling: 80},
	FormatYUV444P: {ChromaDivX: 1, ChromaDivY: 1, BytesPerPixel: 3, QualityCeiling: 100, SpeedCeiling: 80},
	FormatYUV422P: {ChromaDivX: 2, ChromaDivY: 1, BytesPerPixel: 2, QualityCeiling: 80, SpeedCeiling: 90},
	FormatYUV420P: {ChromaDivX: 2, ChromaDivY: 2, BytesPerPixel: 1.5, QualityCeiling: 60, SpeedCeiling: 100},
	FormatNV12:    {ChromaDivX: 2, ChromaDivY: 2, BytesPerPixel: 1.5, QualityCeiling: 60, SpeedCeiling: 100},
}

// Info returns the static description of the format. Unknown formats get
// neutral ceilings.
func (f PixelFormat) Info() FormatInfo {
	if info, ok := knownFormats[f]; ok {
		return info
	}
	return FormatInfo{
		ChromaDivX:     1,
		ChromaDivY:     1,
		BytesPerPixel:  4,
		QualityCeiling: unknownQualityCeiling,
		SpeedCeiling:   unknownSpeedCeiling,
	}
}

// Known reports whether the format has a built-in description.
func (f PixelFormat) Known() bool {
	_, ok := knownFormats[f]
	return ok
}

// QualityCeiling is shorthand for Info().QualityCeiling.
func (f PixelFormat) QualityCeiling() int {
	return f.Info().QualityCeiling
}

// SpeedCeiling is shorthand for Info().SpeedCeiling.
func (f PixelFormat) SpeedCeiling() int {
	return f.Info().SpeedCeiling
}

// String implements fmt.Stringer.
func (f PixelFormat) String() string {
	return string(f)
}

// ParsePixelFormat normalizes a format name. Known formats are matched
// case-insensitively; anything else is returned trimmed as-is.
func ParsePixelFormat(s string) (PixelFormat, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty pixel format")
	}
	for f := range knownFormats {
		if strings.EqualFold(string(f), s) {
			return f, nil
		}
	}
	return PixelFormat(s), nil
}

// Dimensions is a width/height pair in pixels.
type Dimensions struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// IsZero reports whether both axes are unset.
func (d Dimensions) IsZero() bool {
	return d.Width == 0 && d.Height == 0
}

// Valid reports whether both axes are positive.
func (d Dimensions) Valid() bool {
	return d.Width > 0 && d.Height > 0
}

// Pixels returns the surface area.
func (d Dimensions) Pixels() int {
	return d.Width * d.Height
}

// String renders the dimensions as WxH.
func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// Within reports whether d lies inside the inclusive [minDims, maxDims]
// bounds. A zero bound (or a zero axis in a bound) is unbounded.
func (d Dimensions) Within(minDims, maxDims Dimensions) bool {
	if minDims.Width > 0 && d.Width < minDims.Width {
		return false
	}
	if minDims.Height > 0 && d.Height < minDims.Height {
		return false
	}
	if maxDims.Width > 0 && d.Width > maxDims.Width {
		return false
	}
	if maxDims.Height > 0 && d.Height > maxDims.Height {
		return false
	}
	return true
}
