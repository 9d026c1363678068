package api

import (
	"github.com/smazurov/monocam/internal/camera"
	"github.com/smazurov/monocam/internal/device"
	"github.com/smazurov/monocam/internal/diagnostics"
	"github.com/smazurov/monocam/internal/logging"
	"github.com/smazurov/monocam/internal/nats"
	"github.com/smazurov/monocam/internal/params"
	"github.com/smazurov/monocam/internal/transport"
	"github.com/smazurov/monocam/internal/version"
)

// HealthData is the body of the health endpoint.
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Diagnostic level: ok, warn or error"`
	Message string `json:"message" example:"all checks passed" doc:"Summary of the failing checks"`
}

// HealthResponse wraps HealthData.
type HealthResponse struct {
	Body HealthData
}

// VersionResponse wraps build information.
type VersionResponse struct {
	Body version.Info
}

// DiagnosticsResponse wraps a diagnostic snapshot.
type DiagnosticsResponse struct {
	Body diagnostics.Snapshot
}

// SessionData describes the open camera session.
type SessionData struct {
	CameraName  string              `json:"camera_name" example:"zed_one" doc:"Camera name used in frame ids and subjects"`
	Connection  device.ConnStatus   `json:"connection" doc:"Connection status"`
	Acquisition camera.AcqState     `json:"acquisition" doc:"Acquisition state"`
	Session     device.SessionInfo  `json:"session" doc:"Session recorded at open"`
	Policy      camera.OutputPolicy `json:"policy" doc:"Current output resolution policy"`
	StopReason  string              `json:"stop_reason,omitempty" doc:"Why acquisition stopped"`
}

// SessionResponse wraps SessionData.
type SessionResponse struct {
	Body SessionData
}

// ChannelsData lists transport and bridge counters.
type ChannelsData struct {
	Channels []transport.ChannelStats `json:"channels" doc:"Per-channel subscriber and publish counters"`
	Bridge   *nats.BridgeStats        `json:"bridge,omitempty" doc:"NATS bridge counters when the bridge is enabled"`
}

// ChannelsResponse wraps ChannelsData.
type ChannelsResponse struct {
	Body ChannelsData
}

// ParameterData is one declared parameter with its current value.
type ParameterData struct {
	params.Definition
	Value any `json:"value" doc:"Current value"`
}

// ParametersResponse lists every parameter.
type ParametersResponse struct {
	Body struct {
		Parameters []ParameterData `json:"parameters"`
	}
}

// ParametersUpdateRequest is a batch of changes applied all-or-nothing.
type ParametersUpdateRequest struct {
	Body struct {
		Changes []params.Change `json:"changes" minItems:"1" doc:"Changes to apply together"`
	}
}

// ParametersUpdateResponse reports an applied batch.
type ParametersUpdateResponse struct {
	Body struct {
		Applied bool     `json:"applied"`
		Changed []string `json:"changed"`
	}
}

// LogsResponse lists buffered log entries.
type LogsResponse struct {
	Body struct {
		Entries []logging.LogEntry `json:"entries"`
	}
}

// LogLevelRequest changes the level of one module logger.
type LogLevelRequest struct {
	Module string `path:"module" example:"video" doc:"Logger module"`
	Body   struct {
		Level string `json:"level" enum:"debug,info,warn,error,default" doc:"New level, or default to restore the configured level"`
	}
}

// LogLevelResponse reports a module level.
type LogLevelResponse struct {
	Body struct {
		Module string `json:"module"`
		Level  string `json:"level"`
	}
}
