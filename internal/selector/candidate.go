package selector

import (
	"fmt"
	"strings"

	"github.com/jmylchreest/framecast/internal/capability"
	"github.com/jmylchreest/framecast/internal/scoring"
)

// Candidate is one feasible pipeline: an optional CSC step, an encoder and
// a scale factor.
type Candidate struct {
	// Format is what the encoder consumes: the CSC output, or the captured
	// format when there is no CSC.
	Format  capability.PixelFormat  `json:"format"`
	Csc     *capability.CscSpec     `json:"csc,omitempty"`
	Encoder *capability.EncoderSpec `json:"encoder"`
	Scale   scoring.ScaleFactor     `json:"scale"`
}

// Stages returns 1 for a direct encoder and 2 with a CSC step.
func (c Candidate) Stages() int {
	if c.Csc != nil {
		return 2
	}
	return 1
}

// CscName returns the CSC name or "" when there is none.
func (c Candidate) CscName() string {
	if c.Csc == nil {
		return ""
	}
	return c.Csc.Name
}

// EncoderName returns the encoder name or "" for the zero Candidate.
func (c Candidate) EncoderName() string {
	if c.Encoder == nil {
		return ""
	}
	return c.Encoder.Name
}

// Key identifies the candidate for equality checks. Two candidates with the
// same key drive the executor identically.
func (c Candidate) Key() string {
	return fmt.Sprintf("%s|%s|%s|%d:%d", c.CscName(), c.Format, c.EncoderName(), c.Scale.DenomX, c.Scale.DenomY)
}

// IsZero reports whether no pipeline is set.
func (c Candidate) IsZero() bool {
	return c.Encoder == nil
}

// String renders the pipeline, e.g. "swscale->YUV420P->x264@1/2:1/2".
func (c Candidate) String() string {
	if c.IsZero() {
		return "none"
	}
	var b strings.Builder
	if c.Csc != nil {
		b.WriteString(c.Csc.Name)
		b.WriteString("->")
	}
	b.WriteString(string(c.Format))
	b.WriteString("->")
	b.WriteString(c.Encoder.Name)
	if !c.Scale.IsIdentity() {
		b.WriteString("@")
		b.WriteString(c.Scale.String())
	}
	return b.String()
}

// Ranked is a scored candidate.
type Ranked struct {
	Candidate
	Quality float64 `json:"quality"`
	Speed   float64 `json:"speed"`
	// Rank is the combined sort key.
	Rank float64 `json:"rank"`
	// MeetsFloors is set when the pipeline clears both the quality and the
	// speed floor of the constraints it was ranked under.
	MeetsFloors bool `json:"meets_floors"`
}

// less orders ranked candidates: pipelines meeting both floors first, then
// higher rank, then fewer stages, then encoder name, CSC name, format and
// scale. The order is total.
func less(a, b *Ranked) bool {
	if a.MeetsFloors != b.MeetsFloors {
		return a.MeetsFloors
	}
	if a.Rank != b.Rank {
		return a.Rank > b.Rank
	}
	if a.Stages() != b.Stages() {
		return a.Stages() < b.Stages()
	}
	if an, bn := a.EncoderName(), b.EncoderName(); an != bn {
		return an < bn
	}
	if an, bn := a.CscName(), b.CscName(); an != bn {
		return an < bn
	}
	if a.Format != b.Format {
		return a.Format < b.Format
	}
	if a.Scale.DenomX != b.Scale.DenomX {
		return a.Scale.DenomX < b.Scale.DenomX
	}
	return a.Scale.DenomY < b.Scale.DenomY
}
