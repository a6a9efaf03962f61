package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/framecast/internal/controller"
	"github.com/jmylchreest/framecast/internal/observability"
	"github.com/jmylchreest/framecast/internal/session"
)

// WindowService is the part of the session manager the window API uses.
type WindowService interface {
	Windows() []controller.Status
	Window(id string) (controller.Status, error)
	SetVideoMode(ctx context.Context, id string, enabled bool) error
}

// WindowHandler serves window status and control endpoints.
type WindowHandler struct {
	service WindowService
}

// NewWindowHandler creates a window handler.
func NewWindowHandler(service WindowService) *WindowHandler {
	return &WindowHandler{service: service}
}

// ListWindowsInput is the input for listing windows.
type ListWindowsInput struct{}

// ListWindowsOutput is the output for listing windows.
type ListWindowsOutput struct {
	Body struct {
		Windows []WindowResponse `json:"windows"`
	}
}

// GetWindowInput is the input for fetching one window.
type GetWindowInput struct {
	ID string `path:"id" doc:"Window ID"`
}

// GetWindowOutput is the output for fetching one window.
type GetWindowOutput struct {
	Body WindowResponse
}

// SetVideoModeInput switches a window's video mode.
type SetVideoModeInput struct {
	ID   string `path:"id" doc:"Window ID"`
	Body struct {
		Enabled bool `json:"enabled" doc:"Whether adaptive video handling (downscaling) is allowed"`
	}
}

// SetVideoModeOutput acknowledges a video mode change.
type SetVideoModeOutput struct {
	Body struct {
		ID      string `json:"id"`
		Enabled bool   `json:"enabled"`
	}
}

// Register registers the window routes with the API.
func (h *WindowHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listWindows",
		Method:      "GET",
		Path:        "/api/v1/windows",
		Summary:     "List windows",
		Description: "Returns the controller status of every open window",
		Tags:        []string{"Windows"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getWindow",
		Method:      "GET",
		Path:        "/api/v1/windows/{id}",
		Summary:     "Get window",
		Description: "Returns the controller status of one window",
		Tags:        []string{"Windows"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID:   "setWindowVideoMode",
		Method:        "PUT",
		Path:          "/api/v1/windows/{id}/video-mode",
		Summary:       "Set video mode",
		Description:   "Enables or disables adaptive video handling; the change triggers a reselection",
		Tags:          []string{"Windows"},
		DefaultStatus: 202,
	}, h.SetVideoMode)
}

// List returns all windows.
func (h *WindowHandler) List(_ context.Context, _ *ListWindowsInput) (*ListWindowsOutput, error) {
	statuses := h.service.Windows()
	out := &ListWindowsOutput{}
	out.Body.Windows = make([]WindowResponse, 0, len(statuses))
	for _, st := range statuses {
		out.Body.Windows = append(out.Body.Windows, windowFromStatus(st))
	}
	return out, nil
}

// Get returns one window.
func (h *WindowHandler) Get(_ context.Context, input *GetWindowInput) (*GetWindowOutput, error) {
	st, err := h.service.Window(input.ID)
	if err != nil {
		return nil, windowError(err)
	}
	return &GetWindowOutput{Body: windowFromStatus(st)}, nil
}

// SetVideoMode queues a video mode change for a window.
func (h *WindowHandler) SetVideoMode(ctx context.Context, input *SetVideoModeInput) (*SetVideoModeOutput, error) {
	if err := h.service.SetVideoMode(ctx, input.ID, input.Body.Enabled); err != nil {
		return nil, windowError(err)
	}
	observability.LoggerFromContext(ctx).Info("video mode change queued",
		slog.String(observability.AttrWindowID, input.ID),
		slog.Bool("enabled", input.Body.Enabled),
	)

	out := &SetVideoModeOutput{}
	out.Body.ID = input.ID
	out.Body.Enabled = input.Body.Enabled
	return out, nil
}

func windowError(err error) error {
	switch {
	case errors.Is(err, session.ErrWindowNotFound):
		return huma.Error404NotFound("window not found", err)
	case errors.Is(err, session.ErrManagerClosed):
		return huma.Error503ServiceUnavailable("session closed", err)
	default:
		return huma.Error500InternalServerError("window request failed", err)
	}
}
