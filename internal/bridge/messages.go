// Package bridge implements the node's external interface surface: an
// MQTT bridge that accepts commands and publishes status/events, and a
// websocket broadcast hub that fans outbound events out to connected
// dashboard clients. Only the interface described by the controller's
// command/event contract lives here; the bridges carry no domain logic.
package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/irrignode/controller/internal/model"
)

// EventType identifies an outbound bridge message.
type EventType string

const (
	EventCircuitStarted   EventType = "circuit_started"
	EventIrrigationResult EventType = "irrigation_result"
	EventControllerState  EventType = "controller_state"
	EventStatus           EventType = "status"
)

// Envelope wraps every outbound message with its type and timestamp, the
// same shape on MQTT and websocket.
type Envelope struct {
	Type      EventType       `json:"type"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// CircuitStartedPayload is the payload for EventCircuitStarted.
type CircuitStartedPayload struct {
	CircuitID int `json:"circuit_id"`
}

// ControllerStatePayload is the payload for EventControllerState.
type ControllerStatePayload struct {
	State model.ControllerState `json:"state"`
}

func newEnvelope(t EventType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	env := Envelope{
		Type:      t,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   raw,
	}
	return json.Marshal(env)
}

// Command actions accepted on the command topic.
const (
	ActionStartAuto   = "start_auto"
	ActionStartManual = "start_manual"
	ActionStopAll     = "stop_all"
	ActionPauseAuto   = "pause_auto"
	ActionResumeAuto  = "resume_auto"
	ActionGetStatus   = "get_status"
)

// Command is one inbound bridge command. CircuitID and Liters are only
// meaningful for start_manual.
type Command struct {
	Action    string  `json:"action"`
	CircuitID int     `json:"circuit_id,omitempty"`
	Liters    float64 `json:"liters,omitempty"`
}
