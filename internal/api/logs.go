package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/monocam/internal/events"
	"github.com/smazurov/monocam/internal/logging"
)

func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Recent Logs",
		Description: "Log entries held in the in-memory ring buffer, oldest first",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*LogsResponse, error) {
		resp := &LogsResponse{}
		resp.Body.Entries = []logging.LogEntry{}
		if buffer := logging.GetBuffer(); buffer != nil {
			resp.Body.Entries = buffer.ReadAll()
		}
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-log-level",
		Method:      http.MethodPut,
		Path:        "/api/logs/levels/{module}",
		Summary:     "Set Module Log Level",
		Description: "Change the level of one module logger at runtime",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 422},
	}, func(_ context.Context, input *LogLevelRequest) (*LogLevelResponse, error) {
		if input.Body.Level == "default" {
			logging.ResetModuleLevel(input.Module)
		} else {
			var level slog.Level
			if err := level.UnmarshalText([]byte(input.Body.Level)); err != nil {
				return nil, huma.Error400BadRequest("invalid level", err)
			}
			logging.SetModuleLevel(input.Module, level)
		}

		s.logger.Info("Log level changed", "target", input.Module, "level", input.Body.Level)
		resp := &LogLevelResponse{}
		resp.Body.Module = input.Module
		resp.Body.Level = strings.ToLower(logging.ModuleLevel(input.Module).String())
		return resp, nil
	})

	sse.Register(s.api, huma.Operation{
		OperationID: "logs-stream",
		Method:      http.MethodGet,
		Path:        "/api/logs/stream",
		Summary:     "Log Stream",
		Description: "Real-time log streaming via Server-Sent Events. Sends historical logs first, then streams new logs.",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"message": events.LogEntryEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		// Subscribe before replaying so entries logged during the replay are
		// not lost; live entries already replayed are skipped by seq.
		stream := events.NewStream(100)
		events.Forward[events.LogEntryEvent](s.eventBus, stream)
		defer s.closeStream(stream, "logs")

		var replayed int
		var lastSeq uint64
		if buffer := logging.GetBuffer(); buffer != nil {
			for _, entry := range buffer.ReadAll() {
				lastSeq = entry.Seq
				if err := send.Data(events.LogEntryEvent{
					Seq:        entry.Seq,
					Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
					Level:      entry.Level,
					Module:     entry.Module,
					Message:    entry.Message,
					Attributes: entry.Attributes,
				}); err != nil {
					return
				}
				replayed++
			}
		}
		s.logger.Debug("Log stream connected", "replayed", replayed)

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-stream.C:
				if e, ok := event.(events.LogEntryEvent); ok && e.Seq <= lastSeq {
					continue
				}
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
