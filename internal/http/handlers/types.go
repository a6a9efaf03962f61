package handlers

import (
	"time"

	"github.com/jmylchreest/framecast/internal/capability"
	"github.com/jmylchreest/framecast/internal/controller"
	"github.com/jmylchreest/framecast/internal/selector"
)

// PipelineResponse describes one pipeline candidate.
type PipelineResponse struct {
	Pipeline string  `json:"pipeline" doc:"Rendered pipeline, e.g. sws->YUV420P->x264@1/2:1/2"`
	Csc      string  `json:"csc,omitempty"`
	Format   string  `json:"format" doc:"Pixel format the encoder consumes"`
	Encoder  string  `json:"encoder"`
	Scale    string  `json:"scale" doc:"Downscale factor as 1/x:1/y"`
	Quality  float64 `json:"quality"`
	Speed    float64 `json:"speed"`
	Rank     float64 `json:"rank,omitempty"`
	// MeetsFloors is only reported for ranked candidates.
	MeetsFloors *bool `json:"meets_floors,omitempty" doc:"Whether the pipeline clears both floors"`
}

func pipelineFromCandidate(c selector.Candidate, quality, speed, rank float64) PipelineResponse {
	return PipelineResponse{
		Pipeline: c.String(),
		Csc:      c.CscName(),
		Format:   c.Format.String(),
		Encoder:  c.EncoderName(),
		Scale:    c.Scale.String(),
		Quality:  quality,
		Speed:    speed,
		Rank:     rank,
	}
}

func pipelineFromRanked(r selector.Ranked) PipelineResponse {
	p := pipelineFromCandidate(r.Candidate, r.Quality, r.Speed, r.Rank)
	meets := r.MeetsFloors
	p.MeetsFloors = &meets
	return p
}

// WindowResponse is the status of one window.
type WindowResponse struct {
	ID           string            `json:"id"`
	State        string            `json:"state" enum:"uninitialized,active,reselecting,degraded,closed"`
	Pipeline     *PipelineResponse `json:"pipeline,omitempty"`
	Format       string            `json:"format,omitempty"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	VideoMode    bool              `json:"video_mode"`
	Pressure     float64           `json:"pressure" doc:"-1 favours quality, +1 favours speed"`
	Generation   uint64            `json:"capability_generation"`
	Reselections uint64            `json:"reselections"`
	LastReason   string            `json:"last_reason,omitempty"`
	LastResult   string            `json:"last_result,omitempty"`
	LastReselect *time.Time        `json:"last_reselect,omitempty"`
	Encode       EncodeStats       `json:"encode"`
	Network      NetworkStats      `json:"network"`
}

// EncodeStats summarizes encode telemetry.
type EncodeStats struct {
	Frames         uint64  `json:"frames"`
	Dropped        uint64  `json:"dropped"`
	Errors         uint64  `json:"errors"`
	TotalBytes     uint64  `json:"total_bytes"`
	MeanDurationMs float64 `json:"mean_duration_ms"`
	MeanBytes      float64 `json:"mean_bytes"`
}

// NetworkStats summarizes network feedback.
type NetworkStats struct {
	Samples        int     `json:"samples"`
	BandwidthBytes uint64  `json:"bandwidth_bytes_per_second,omitempty"`
	RTTMs          float64 `json:"rtt_ms"`
	LossRatio      float64 `json:"loss_ratio"`
}

func windowFromStatus(st controller.Status) WindowResponse {
	resp := WindowResponse{
		ID:           st.WindowID,
		State:        st.State.String(),
		Format:       st.Format.String(),
		Width:        st.Dimensions.Width,
		Height:       st.Dimensions.Height,
		VideoMode:    st.VideoMode,
		Pressure:     st.Pressure,
		Generation:   st.Generation,
		Reselections: st.Reselections,
		LastReason:   string(st.LastReason),
		LastResult:   string(st.LastResult),
		Encode: EncodeStats{
			Frames:         st.Encode.Frames,
			Dropped:        st.Encode.Dropped,
			Errors:         st.Encode.Errors,
			TotalBytes:     st.Encode.TotalBytes,
			MeanDurationMs: float64(st.Encode.MeanDuration) / float64(time.Millisecond),
			MeanBytes:      st.Encode.MeanBytes,
		},
		Network: NetworkStats{
			Samples:   st.Network.Samples,
			RTTMs:     float64(st.Network.RTT) / float64(time.Millisecond),
			LossRatio: st.Network.LossRatio,
		},
	}
	if st.Network.BandwidthKnown {
		resp.Network.BandwidthBytes = st.Network.Bandwidth
	}
	if !st.Candidate.IsZero() {
		p := pipelineFromCandidate(st.Candidate, st.Quality, st.Speed, 0)
		resp.Pipeline = &p
	}
	if !st.LastReselect.IsZero() {
		t := st.LastReselect.UTC()
		resp.LastReselect = &t
	}
	return resp
}

// CscResponse describes a CSC capability.
type CscResponse struct {
	Name           string   `json:"name"`
	InputFormats   []string `json:"input_formats"`
	OutputFormats  []string `json:"output_formats"`
	Quality        int      `json:"quality"`
	Speed          int      `json:"speed"`
	CostScoreBoost float64  `json:"cost_score_boost,omitempty"`
	CanScale       bool     `json:"can_scale"`
	MinDimensions  string   `json:"min_dimensions,omitempty"`
	MaxDimensions  string   `json:"max_dimensions,omitempty"`
}

// EncoderResponse describes an encoder capability.
type EncoderResponse struct {
	Name            string   `json:"name"`
	Encoding        string   `json:"encoding,omitempty"`
	InputFormats    []string `json:"input_formats"`
	Quality         int      `json:"quality"`
	Speed           int      `json:"speed"`
	HasLosslessMode bool     `json:"has_lossless_mode"`
	CostScoreBoost  float64  `json:"cost_score_boost,omitempty"`
	Fallback        bool     `json:"fallback,omitempty"`
	MinDimensions   string   `json:"min_dimensions,omitempty"`
	MaxDimensions   string   `json:"max_dimensions,omitempty"`
}

func formatNames(formats []capability.PixelFormat) []string {
	out := make([]string, len(formats))
	for i, f := range formats {
		out[i] = f.String()
	}
	return out
}

func boundString(d capability.Dimensions) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

func cscFromSpec(s *capability.CscSpec) CscResponse {
	return CscResponse{
		Name:           s.Name,
		InputFormats:   formatNames(s.InputFormats),
		OutputFormats:  formatNames(s.OutputFormats),
		Quality:        s.Quality,
		Speed:          s.Speed,
		CostScoreBoost: s.CostScoreBoost,
		CanScale:       s.CanScale,
		MinDimensions:  boundString(s.MinDimensions),
		MaxDimensions:  boundString(s.MaxDimensions),
	}
}

func encoderFromSpec(s *capability.EncoderSpec) EncoderResponse {
	return EncoderResponse{
		Name:            s.Name,
		Encoding:        s.Encoding,
		InputFormats:    formatNames(s.InputFormats),
		Quality:         s.Quality,
		Speed:           s.Speed,
		HasLosslessMode: s.HasLosslessMode,
		CostScoreBoost:  s.CostScoreBoost,
		Fallback:        s.Fallback,
		MinDimensions:   boundString(s.MinDimensions),
		MaxDimensions:   boundString(s.MaxDimensions),
	}
}
