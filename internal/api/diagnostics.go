package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (s *Server) registerDiagnosticsRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-diagnostics",
		Method:      http.MethodGet,
		Path:        "/api/diagnostics",
		Summary:     "Diagnostics",
		Description: "Full diagnostic snapshot: level, individual checks and node status",
		Tags:        []string{"health"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*DiagnosticsResponse, error) {
		return &DiagnosticsResponse{Body: s.snapshot()}, nil
	})

	if s.options.Node != nil {
		huma.Register(s.api, huma.Operation{
			OperationID: "get-session",
			Method:      http.MethodGet,
			Path:        "/api/session",
			Summary:     "Camera Session",
			Description: "Session information recorded when the camera opened and the current output policy",
			Tags:        []string{"camera"},
			Security:    withAuth(),
			Errors:      []int{401},
		}, func(_ context.Context, _ *struct{}) (*SessionResponse, error) {
			st := s.options.Node.Status()
			return &SessionResponse{Body: SessionData{
				CameraName:  s.options.Node.Config().CameraName,
				Connection:  st.Connection,
				Acquisition: st.Acquisition,
				Session:     st.Session,
				Policy:      st.Policy,
				StopReason:  st.StopReason,
			}}, nil
		})
	}

	if s.options.Channels != nil {
		huma.Register(s.api, huma.Operation{
			OperationID: "get-channels",
			Method:      http.MethodGet,
			Path:        "/api/channels",
			Summary:     "Channels",
			Description: "Subscriber and publish counters per channel",
			Tags:        []string{"camera"},
			Security:    withAuth(),
			Errors:      []int{401},
		}, func(_ context.Context, _ *struct{}) (*ChannelsResponse, error) {
			resp := &ChannelsResponse{Body: ChannelsData{Channels: s.options.Channels.Stats()}}
			if s.options.Bridge != nil {
				stats := s.options.Bridge.Stats()
				resp.Body.Bridge = &stats
			}
			return resp, nil
		})
	}
}
