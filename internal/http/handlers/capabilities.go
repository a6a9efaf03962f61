package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/framecast/internal/selector"
)

// CapabilityHandler serves the capability catalog.
type CapabilityHandler struct {
	source selector.SnapshotSource
}

// NewCapabilityHandler creates a capability handler.
func NewCapabilityHandler(source selector.SnapshotSource) *CapabilityHandler {
	return &CapabilityHandler{source: source}
}

// GetCapabilitiesInput is the input for the catalog endpoint.
type GetCapabilitiesInput struct{}

// GetCapabilitiesOutput is the current catalog.
type GetCapabilitiesOutput struct {
	Body struct {
		Generation uint64            `json:"generation"`
		Formats    []string          `json:"formats"`
		Csc        []CscResponse     `json:"csc"`
		Encoders   []EncoderResponse `json:"encoders"`
	}
}

// Register registers the capability routes with the API.
func (h *CapabilityHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getCapabilities",
		Method:      "GET",
		Path:        "/api/v1/capabilities",
		Summary:     "Get capabilities",
		Description: "Returns the CSC and encoder catalog at its current generation",
		Tags:        []string{"Capabilities"},
	}, h.Get)
}

// Get returns the catalog snapshot.
func (h *CapabilityHandler) Get(_ context.Context, _ *GetCapabilitiesInput) (*GetCapabilitiesOutput, error) {
	snap := h.source.Snapshot()
	out := &GetCapabilitiesOutput{}
	out.Body.Generation = snap.Generation
	out.Body.Formats = formatNames(snap.Formats())

	cscs := snap.CscSpecs()
	out.Body.Csc = make([]CscResponse, 0, len(cscs))
	for _, s := range cscs {
		out.Body.Csc = append(out.Body.Csc, cscFromSpec(s))
	}

	encs := snap.EncoderSpecs()
	out.Body.Encoders = make([]EncoderResponse, 0, len(encs))
	for _, s := range encs {
		out.Body.Encoders = append(out.Body.Encoders, encoderFromSpec(s))
	}
	return out, nil
}
