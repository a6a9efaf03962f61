package controller

import (
	"time"

	"github.com/jmylchreest/framecast/internal/capability"
	"github.com/jmylchreest/framecast/internal/telemetry"
)

// Frame is one captured pixel buffer.
type Frame struct {
	Format     capability.PixelFormat
	Dimensions capability.Dimensions
	Data       []byte
	CapturedAt time.Time
}

// Event is a message consumed by a controller's own goroutine. Events for
// one window are handled strictly in posting order.
type Event interface {
	event()
}

// FrameEvent delivers a captured frame.
type FrameEvent struct {
	Frame Frame
}

// ResizeEvent reports new window dimensions ahead of the next frame.
type ResizeEvent struct {
	Dimensions capability.Dimensions
}

// NetworkEvent delivers a network feedback report.
type NetworkEvent struct {
	Report telemetry.NetworkReport
}

// CapabilityEvent reports that the capability catalog changed.
type CapabilityEvent struct {
	Generation uint64
}

// VideoModeEvent switches adaptive video handling on or off for the window.
type VideoModeEvent struct {
	Enabled bool
}

func (FrameEvent) event()      {}
func (ResizeEvent) event()     {}
func (NetworkEvent) event()    {}
func (CapabilityEvent) event() {}
func (VideoModeEvent) event()  {}
