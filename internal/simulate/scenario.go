package simulate

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/framecast/internal/capability"
	"github.com/jmylchreest/framecast/internal/config"
)

// ErrInvalidScenario is returned when a scenario fails validation.
var ErrInvalidScenario = errors.New("invalid scenario")

// Scenario scripts one simulated capture session.
type Scenario struct {
	Name string `yaml:"name"`
	// FrameInterval spaces frame timestamps, and frame submission when
	// Realtime is set.
	FrameInterval time.Duration `yaml:"frame_interval"`
	Realtime      bool          `yaml:"realtime"`
	// Seed makes encode jitter reproducible. 0 = time based.
	Seed    int64            `yaml:"seed"`
	Cost    *CostModel       `yaml:"cost,omitempty"`
	Windows []WindowScenario `yaml:"windows"`
}

// WindowScenario scripts one window.
type WindowScenario struct {
	ID     string                 `yaml:"id"`
	Format capability.PixelFormat `yaml:"format"`
	Width  int                    `yaml:"width"`
	Height int                    `yaml:"height"`
	Frames int                    `yaml:"frames"`
	Steps  []Step                 `yaml:"steps,omitempty"`
}

// Step changes the simulated conditions of a window before frame At is
// captured. Unset fields leave conditions alone.
type Step struct {
	At        int                    `yaml:"at"`
	Resize    *capability.Dimensions `yaml:"resize,omitempty"`
	Format    capability.PixelFormat `yaml:"format,omitempty"`
	Network   *NetworkStep           `yaml:"network,omitempty"`
	Load      float64                `yaml:"load,omitempty"`
	VideoMode *bool                  `yaml:"video_mode,omitempty"`
}

// NetworkStep is a network feedback report. Bandwidth accepts sizes like
// "2MiB" and means bytes per second.
type NetworkStep struct {
	Bandwidth config.ByteSize `yaml:"bandwidth"`
	RTT       time.Duration   `yaml:"rtt"`
	Loss      float64         `yaml:"loss"`
}

// ParseScenario decodes and validates a YAML scenario. Unknown fields are
// rejected.
func ParseScenario(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decoding scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// LoadScenario reads and parses a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario %s: %w", path, err)
	}
	return ParseScenario(data)
}

// Validate checks the scenario and fills in defaults.
func (s *Scenario) Validate() error {
	if s.FrameInterval < 0 {
		return fmt.Errorf("%w: negative frame_interval", ErrInvalidScenario)
	}
	if s.FrameInterval == 0 {
		s.FrameInterval = 40 * time.Millisecond
	}
	if len(s.Windows) == 0 {
		return fmt.Errorf("%w: no windows", ErrInvalidScenario)
	}

	var errs []error
	seen := make(map[string]bool, len(s.Windows))
	for i := range s.Windows {
		w := &s.Windows[i]
		if w.ID == "" {
			w.ID = fmt.Sprintf("window-%d", i+1)
		}
		if seen[w.ID] {
			errs = append(errs, fmt.Errorf("%w: duplicate window %q", ErrInvalidScenario, w.ID))
		}
		seen[w.ID] = true

		if w.Format == "" {
			w.Format = capability.FormatBGRA
		}
		if w.Width <= 0 || w.Height <= 0 {
			errs = append(errs, fmt.Errorf("%w: window %q has invalid size %dx%d", ErrInvalidScenario, w.ID, w.Width, w.Height))
		}
		if w.Frames <= 0 {
			errs = append(errs, fmt.Errorf("%w: window %q needs at least one frame", ErrInvalidScenario, w.ID))
		}
		for _, st := range w.Steps {
			if st.At < 0 || st.At >= w.Frames {
				errs = append(errs, fmt.Errorf("%w: window %q step at frame %d outside [0,%d)", ErrInvalidScenario, w.ID, st.At, w.Frames))
			}
			if st.Resize != nil && !st.Resize.Valid() {
				errs = append(errs, fmt.Errorf("%w: window %q resize to %s", ErrInvalidScenario, w.ID, st.Resize))
			}
			if st.Load < 0 {
				errs = append(errs, fmt.Errorf("%w: window %q negative load", ErrInvalidScenario, w.ID))
			}
			if st.Network != nil && (st.Network.Loss < 0 || st.Network.Loss > 1) {
				errs = append(errs, fmt.Errorf("%w: window %q loss %.2f outside [0,1]", ErrInvalidScenario, w.ID, st.Network.Loss))
			}
		}
	}
	return errors.Join(errs...)
}

// stepsAt returns the steps scheduled before frame n.
func (w WindowScenario) stepsAt(n int) []Step {
	var out []Step
	for _, st := range w.Steps {
		if st.At == n {
			out = append(out, st)
		}
	}
	return out
}

// DefaultScenario is a single 1080p window that comes under CPU load,
// loses bandwidth, shrinks and finally leaves video mode.
func DefaultScenario() *Scenario {
	off := false
	return &Scenario{
		Name:          "default",
		FrameInterval: 40 * time.Millisecond,
		Seed:          1,
		Windows: []WindowScenario{{
			ID:     "terminal",
			Format: capability.FormatBGRA,
			Width:  1920,
			Height: 1080,
			Frames: 240,
			Steps: []Step{
				{At: 60, Load: 4},
				{At: 120, Network: &NetworkStep{Bandwidth: 256 * 1024, RTT: 40 * time.Millisecond, Loss: 0.08}},
				{At: 160, Resize: &capability.Dimensions{Width: 1280, Height: 720}, Load: 1},
				{At: 200, VideoMode: &off},
			},
		}},
	}
}
