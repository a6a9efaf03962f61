package simulate

import (
	"time"

	"github.com/jmylchreest/framecast/internal/capability"
	"github.com/jmylchreest/framecast/internal/controller"
)

// Source produces synthetic captured frames for one window. Frames carry
// no pixel data.
type Source struct {
	format   capability.PixelFormat
	dims     capability.Dimensions
	interval time.Duration
	start    time.Time
	seq      int
}

// NewSource creates a source capturing format at dims. Frame timestamps
// advance by interval from the moment the source is created.
func NewSource(format capability.PixelFormat, dims capability.Dimensions, interval time.Duration) *Source {
	return &Source{
		format:   format,
		dims:     dims,
		interval: interval,
		start:    time.Now(),
	}
}

// Resize changes the size of subsequent frames.
func (s *Source) Resize(d capability.Dimensions) { s.dims = d }

// SetFormat changes the pixel format of subsequent frames.
func (s *Source) SetFormat(f capability.PixelFormat) { s.format = f }

// Dimensions returns the current capture size.
func (s *Source) Dimensions() capability.Dimensions { return s.dims }

// Captured returns the number of frames produced so far.
func (s *Source) Captured() int { return s.seq }

// Next returns the next frame.
func (s *Source) Next() controller.Frame {
	f := controller.Frame{
		Format:     s.format,
		Dimensions: s.dims,
		CapturedAt: s.start.Add(time.Duration(s.seq) * s.interval),
	}
	s.seq++
	return f
}
