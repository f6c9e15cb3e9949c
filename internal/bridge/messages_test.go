package bridge

import (
	"encoding/json"
	"testing"

	"github.com/irrignode/controller/internal/model"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	data, err := newEnvelope(EventControllerState, ControllerStatePayload{State: model.ControllerIrrigating})
	if err != nil {
		t.Fatalf("newEnvelope: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Type != EventControllerState {
		t.Errorf("type = %q, want %q", env.Type, EventControllerState)
	}
	if env.Timestamp == "" {
		t.Errorf("expected a timestamp")
	}

	var payload ControllerStatePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.State != model.ControllerIrrigating {
		t.Errorf("state = %q, want IRRIGATING", payload.State)
	}
}

func TestCommandParsing(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Command
	}{
		{
			name:    "start_manual",
			payload: `{"action":"start_manual","circuit_id":3,"liters":12.5}`,
			want:    Command{Action: ActionStartManual, CircuitID: 3, Liters: 12.5},
		},
		{
			name:    "stop_all",
			payload: `{"action":"stop_all"}`,
			want:    Command{Action: ActionStopAll},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Command
			if err := json.Unmarshal([]byte(tt.payload), &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestTopicFormatting(t *testing.T) {
	if got := formatTopic("cmd/irrigation/{node}", "node-7"); got != "cmd/irrigation/node-7" {
		t.Errorf("formatTopic = %q", got)
	}

	cfg := MQTTConfig{NodeID: "node-7"}
	cfg.applyDefaults()
	if cfg.CommandTopic != "cmd/irrigation/{node}" {
		t.Errorf("default command topic = %q", cfg.CommandTopic)
	}
	if cfg.ClientID != "irrigation-node-node-7" {
		t.Errorf("default client id = %q", cfg.ClientID)
	}
}
