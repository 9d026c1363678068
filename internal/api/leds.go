package api

import (
	"context"
	"net/http"
	"slices"

	"github.com/danielgtaylor/huma/v2"
)

// LEDState is the requested state of one status LED.
type LEDState struct {
	Enabled bool   `json:"enabled" example:"true" doc:"Switch the LED on or off"`
	Pattern string `json:"pattern,omitempty" enum:"solid,blink-slow,blink-fast,heartbeat" doc:"Pattern to show; empty keeps the current one"`
}

// LEDUpdateRequest sets one LED by name.
type LEDUpdateRequest struct {
	Name string `path:"name" example:"system" doc:"LED name as listed by GET /api/leds"`
	Body LEDState
}

// LEDUpdateResponse echoes the applied state.
type LEDUpdateResponse struct {
	Body struct {
		Name string `json:"name"`
		LEDState
	}
}

// LEDListResponse lists the LEDs of the board and the patterns they accept.
type LEDListResponse struct {
	Body struct {
		LEDs     []string `json:"leds" doc:"LED names found on this board"`
		Patterns []string `json:"patterns" doc:"Patterns the controller can show"`
	}
}

// registerLEDRoutes exposes manual LED control. The health manager sets the
// status LED again on the next level change.
func (s *Server) registerLEDRoutes() {
	ctrl := s.options.LEDController
	if ctrl == nil {
		s.logger.Debug("No LED controller, LED routes disabled")
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "list-leds",
		Method:      http.MethodGet,
		Path:        "/api/leds",
		Summary:     "List LEDs",
		Tags:        []string{"leds"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*LEDListResponse, error) {
		resp := &LEDListResponse{}
		resp.Body.LEDs = ctrl.Available()
		resp.Body.Patterns = ctrl.Patterns()
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-led",
		Method:      http.MethodPut,
		Path:        "/api/leds/{name}",
		Summary:     "Set LED",
		Description: "Switch a status LED and optionally change its pattern.",
		Tags:        []string{"leds"},
		Errors:      []int{401, 404, 422, 500},
		Security:    withAuth(),
	}, func(_ context.Context, input *LEDUpdateRequest) (*LEDUpdateResponse, error) {
		if !slices.Contains(ctrl.Available(), input.Name) {
			return nil, huma.Error404NotFound("unknown LED " + input.Name)
		}
		if err := ctrl.Set(input.Name, input.Body.Enabled, input.Body.Pattern); err != nil {
			s.logger.Warn("LED update failed", "led", input.Name, "error", err)
			return nil, huma.Error500InternalServerError("failed to set LED", err)
		}
		s.logger.Info("LED set", "led", input.Name, "enabled", input.Body.Enabled, "pattern", input.Body.Pattern)

		resp := &LEDUpdateResponse{}
		resp.Body.Name = input.Name
		resp.Body.LEDState = input.Body
		return resp, nil
	})
}
