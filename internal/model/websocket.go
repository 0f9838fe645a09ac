package model

import "encoding/json"

// WebSocket event names
const (
	WSEventSubscribeJob = "subscribeJob"
	WSEventJobUpdate    = "jobUpdate"
	WSEventError        = "error"
	WSEventPing         = "ping"
	WSEventPong         = "pong"
)

// WSEnvelope is the frame exchanged on the realtime channel
type WSEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEnvelope marshals data into an envelope for event.
func NewEnvelope(event string, data interface{}) ([]byte, error) {
	env := WSEnvelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}
