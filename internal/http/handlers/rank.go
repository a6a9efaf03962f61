package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/framecast/internal/capability"
	"github.com/jmylchreest/framecast/internal/selector"
)

// Ranker ranks pipelines for a frame.
type Ranker interface {
	Select(format capability.PixelFormat, dims capability.Dimensions, c selector.Constraints) ([]selector.Ranked, error)
}

// RankHandler serves ad-hoc pipeline rankings.
type RankHandler struct {
	ranker Ranker
}

// NewRankHandler creates a rank handler.
func NewRankHandler(ranker Ranker) *RankHandler {
	return &RankHandler{ranker: ranker}
}

// RankRequest describes a frame and the caller's preferences.
type RankRequest struct {
	Format         string `json:"format" doc:"Captured pixel format, e.g. BGRA" minLength:"1"`
	Width          int    `json:"width" doc:"Frame width in pixels" minimum:"1"`
	Height         int    `json:"height" doc:"Frame height in pixels" minimum:"1"`
	MinQuality     int    `json:"min_quality,omitempty" minimum:"0" maximum:"100"`
	MinSpeed       int    `json:"min_speed,omitempty" minimum:"0" maximum:"100"`
	TargetQuality  *int   `json:"target_quality,omitempty" minimum:"0" maximum:"100" doc:"Defaults to 50"`
	TargetSpeed    *int   `json:"target_speed,omitempty" minimum:"0" maximum:"100" doc:"Defaults to 50"`
	MaxDenominator int    `json:"max_denominator,omitempty" minimum:"0"`
	IdentityOnly   bool   `json:"identity_only,omitempty"`
	Limit          int    `json:"limit,omitempty" minimum:"0" doc:"Return at most this many candidates; 0 returns all"`
}

// Constraints converts the request into selector constraints.
func (r RankRequest) Constraints() selector.Constraints {
	c := selector.DefaultConstraints()
	c.MinQuality = r.MinQuality
	c.MinSpeed = r.MinSpeed
	if r.TargetQuality != nil {
		c.TargetQuality = *r.TargetQuality
	}
	if r.TargetSpeed != nil {
		c.TargetSpeed = *r.TargetSpeed
	}
	c.MaxDenominator = r.MaxDenominator
	c.IdentityOnly = r.IdentityOnly
	return c
}

// RankInput is the input for the rank endpoint.
type RankInput struct {
	Body RankRequest
}

// RankOutput is the ranked candidate list.
type RankOutput struct {
	Body struct {
		Total      int                `json:"total"`
		Candidates []PipelineResponse `json:"candidates"`
	}
}

// Register registers the rank route with the API.
func (h *RankHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "rankPipelines",
		Method:      "POST",
		Path:        "/api/v1/rank",
		Summary:     "Rank pipelines",
		Description: "Ranks every feasible pipeline for a frame against the current catalog",
		Tags:        []string{"Selection"},
	}, h.Rank)
}

// Rank ranks the candidates for the requested frame.
func (h *RankHandler) Rank(_ context.Context, input *RankInput) (*RankOutput, error) {
	format, err := capability.ParsePixelFormat(input.Body.Format)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid format", err)
	}
	dims := capability.Dimensions{Width: input.Body.Width, Height: input.Body.Height}

	ranked, err := h.ranker.Select(format, dims, input.Body.Constraints())
	switch {
	case errors.Is(err, selector.ErrInvalidConstraint):
		return nil, huma.Error422UnprocessableEntity("invalid constraints", err)
	case errors.Is(err, selector.ErrNoFeasiblePipeline):
		return nil, huma.Error404NotFound("no feasible pipeline", err)
	case err != nil:
		return nil, huma.Error500InternalServerError("ranking failed", err)
	}

	out := &RankOutput{}
	out.Body.Total = len(ranked)
	if limit := input.Body.Limit; limit > 0 && limit < len(ranked) {
		ranked = ranked[:limit]
	}
	out.Body.Candidates = make([]PipelineResponse, 0, len(ranked))
	for _, r := range ranked {
		out.Body.Candidates = append(out.Body.Candidates, pipelineFromRanked(r))
	}
	return out, nil
}
