package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/monocam/internal/events"
)

// HealthSnapshotEvent is sent once when an event stream connects.
type HealthSnapshotEvent struct {
	Level   string `json:"level" example:"ok" doc:"Current diagnostic level"`
	Message string `json:"message" doc:"Summary of the failing checks"`
}

// registerSSERoutes registers the native Huma SSE endpoint.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time stream of acquisition, worker, health and parameter events",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"health-snapshot":    HealthSnapshotEvent{},
		"acquisition-state":  events.AcquisitionStateEvent{},
		"session-opened":     events.SessionOpenedEvent{},
		"grab-streak":        events.GrabStreakEvent{},
		"worker-state":       events.WorkerStateEvent{},
		"health-changed":     events.HealthChangedEvent{},
		"parameters-changed": events.ParametersChangedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		stream := events.NewStream(32)
		events.Forward[events.AcquisitionStateEvent](s.eventBus, stream)
		events.Forward[events.SessionOpenedEvent](s.eventBus, stream)
		events.Forward[events.GrabStreakEvent](s.eventBus, stream)
		events.Forward[events.WorkerStateEvent](s.eventBus, stream)
		events.Forward[events.HealthChangedEvent](s.eventBus, stream)
		events.Forward[events.ParametersChangedEvent](s.eventBus, stream)
		defer s.closeStream(stream, "events")

		snap := s.snapshot()
		if err := send.Data(HealthSnapshotEvent{Level: snap.Level.String(), Message: snap.Message}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-stream.C:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}

func (s *Server) closeStream(stream *events.Stream, name string) {
	stream.Close()
	if n := stream.Dropped(); n > 0 {
		s.logger.Warn("Slow SSE client missed events", "stream", name, "dropped", n)
	}
}
