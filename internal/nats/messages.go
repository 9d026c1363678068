package nats

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/smazurov/monocam/internal/calib"
	"github.com/smazurov/monocam/internal/params"
)

// SubjectPrefix is the root of every subject the node publishes.
const SubjectPrefix = "monocam"

// Image frame headers.
const (
	HeaderTimestamp  = "Monocam-Timestamp"
	HeaderFrameID    = "Monocam-Frame-Id"
	HeaderSequence   = "Monocam-Sequence"
	HeaderCameraInfo = "Monocam-Camera-Info"
)

// subjectToken replaces characters that NATS treats as separators or
// wildcards.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, s)
}

// SubjectChannel returns the subject a hub channel is republished on.
func SubjectChannel(camera, channel string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, subjectToken(camera), channel)
}

// SubjectHealth returns the subject diagnostic level changes are sent on.
func SubjectHealth(camera string) string {
	return fmt.Sprintf("%s.%s.health", SubjectPrefix, subjectToken(camera))
}

// SubjectParameters returns the request subject for parameter changes.
func SubjectParameters(camera string) string {
	return fmt.Sprintf("%s.%s.parameters", SubjectPrefix, subjectToken(camera))
}

// SensorMessage wraps a non-image payload sent over NATS.
type SensorMessage struct {
	Camera    string           `json:"camera"`
	Channel   string           `json:"channel"`
	Timestamp string           `json:"timestamp"`
	FrameID   string           `json:"frame_id"`
	Transform *calib.Transform `json:"transform,omitempty"`
	Data      json.RawMessage  `json:"data"`
}

// Marshal serializes the message to JSON.
func (m SensorMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// HealthMessage reports a diagnostic level change.
type HealthMessage struct {
	Camera    string `json:"camera"`
	Level     string `json:"level"`
	Previous  string `json:"previous"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Marshal serializes the message to JSON.
func (m HealthMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// ParameterRequest asks the node to apply a batch of parameter changes.
type ParameterRequest struct {
	Changes []params.Change `json:"changes"`
	Reason  string          `json:"reason,omitempty"`
}

// Marshal serializes the message to JSON.
func (m ParameterRequest) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// ParameterResult is the outcome of one change in a ParameterReply.
type ParameterResult struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

// ParameterReply answers a ParameterRequest.
type ParameterReply struct {
	Applied bool              `json:"applied"`
	Results []ParameterResult `json:"results,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// Marshal serializes the message to JSON.
func (m ParameterReply) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

func replyFrom(res params.BatchResult) ParameterReply {
	reply := ParameterReply{Applied: res.Applied}
	for _, r := range res.Results {
		pr := ParameterResult{Name: r.Name}
		if r.Err != nil {
			pr.Error = r.Err.Error()
		}
		reply.Results = append(reply.Results, pr)
	}
	return reply
}

// UnmarshalSensor deserializes a SensorMessage from JSON.
func UnmarshalSensor(data []byte) (SensorMessage, error) {
	var m SensorMessage
	err := json.Unmarshal(data, &m)
	return m, err
}

// UnmarshalHealth deserializes a HealthMessage from JSON.
func UnmarshalHealth(data []byte) (HealthMessage, error) {
	var m HealthMessage
	err := json.Unmarshal(data, &m)
	return m, err
}

// UnmarshalParameterRequest deserializes a ParameterRequest from JSON.
func UnmarshalParameterRequest(data []byte) (ParameterRequest, error) {
	var m ParameterRequest
	err := json.Unmarshal(data, &m)
	return m, err
}

// UnmarshalParameterReply deserializes a ParameterReply from JSON.
func UnmarshalParameterReply(data []byte) (ParameterReply, error) {
	var m ParameterReply
	err := json.Unmarshal(data, &m)
	return m, err
}
