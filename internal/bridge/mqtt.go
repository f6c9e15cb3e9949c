package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/irrignode/controller/internal/logging"
	"github.com/irrignode/controller/internal/model"
)

var mqttLog = logging.New("mqtt-bridge")

// ControllerAPI is the subset of the controller core's public operations
// the MQTT bridge dispatches inbound commands to. Every call returns
// quickly or is dispatched on its own goroutine; the broker callback
// thread is never blocked on a running irrigation.
type ControllerAPI interface {
	StartAutoCycle() error
	ManualIrrigate(circuitID int, liters float64) (model.IrrigationResult, error)
	StopAllIrrigation()
	PauseAuto()
	ResumeAuto()
	GetStatusMessage() model.StatusMessage
}

// MQTTConfig configures the bridge's broker connection and topics. Topic
// templates may contain a {node} placeholder substituted with NodeID.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string

	NodeID string

	CommandTopic string // default "cmd/irrigation/{node}"
	StatusTopic  string // default "status/irrigation/{node}"
	EventTopic   string // default "event/irrigation/{node}"
}

func (c *MQTTConfig) applyDefaults() {
	if c.CommandTopic == "" {
		c.CommandTopic = "cmd/irrigation/{node}"
	}
	if c.StatusTopic == "" {
		c.StatusTopic = "status/irrigation/{node}"
	}
	if c.EventTopic == "" {
		c.EventTopic = "event/irrigation/{node}"
	}
	if c.ClientID == "" {
		c.ClientID = "irrigation-node-" + c.NodeID
	}
}

// MQTTBridge subscribes to the command topic and publishes status/event
// messages, wired to the controller core's public operations.
type MQTTBridge struct {
	client mqtt.Client
	api    ControllerAPI

	commandTopic string
	statusTopic  string
	eventTopic   string
}

// NewMQTT connects to the broker and subscribes to the command topic.
func NewMQTT(cfg MQTTConfig, api ControllerAPI) (*MQTTBridge, error) {
	cfg.applyDefaults()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		mqttLog.Warnf("connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, token.Error())
	}

	b := &MQTTBridge{
		client:       client,
		api:          api,
		commandTopic: formatTopic(cfg.CommandTopic, cfg.NodeID),
		statusTopic:  formatTopic(cfg.StatusTopic, cfg.NodeID),
		eventTopic:   formatTopic(cfg.EventTopic, cfg.NodeID),
	}

	if token := client.Subscribe(b.commandTopic, 1, b.handleCommand); token.Wait() && token.Error() != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("failed to subscribe to %s: %w", b.commandTopic, token.Error())
	}
	mqttLog.Debugf("connected to %s, subscribed to %s", cfg.Broker, b.commandTopic)

	return b, nil
}

// handleCommand dispatches one inbound command. Commands return
// immediately after dispatch; completion is signalled via status and
// event topics.
func (b *MQTTBridge) handleCommand(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		mqttLog.Warnf("discarding malformed command on %s: %v", msg.Topic(), err)
		return
	}

	mqttLog.Debugf("command received: %s", cmd.Action)

	switch cmd.Action {
	case ActionStartAuto:
		go func() {
			if err := b.api.StartAutoCycle(); err != nil {
				mqttLog.Errorf("start_auto rejected: %v", err)
			}
		}()
	case ActionStartManual:
		go func() {
			if _, err := b.api.ManualIrrigate(cmd.CircuitID, cmd.Liters); err != nil {
				mqttLog.Errorf("start_manual circuit %d rejected: %v", cmd.CircuitID, err)
			}
		}()
	case ActionStopAll:
		go b.api.StopAllIrrigation()
	case ActionPauseAuto:
		b.api.PauseAuto()
	case ActionResumeAuto:
		b.api.ResumeAuto()
	case ActionGetStatus:
		b.PublishStatus()
	default:
		mqttLog.Warnf("unknown command action %q", cmd.Action)
	}
}

// PublishStatus publishes the controller-wide status message to the
// status topic.
func (b *MQTTBridge) PublishStatus() {
	b.publish(b.statusTopic, EventStatus, b.api.GetStatusMessage())
}

func (b *MQTTBridge) publish(topic string, t EventType, payload any) {
	data, err := newEnvelope(t, payload)
	if err != nil {
		mqttLog.Errorf("%v", err)
		return
	}
	token := b.client.Publish(topic, 1, false, data)
	if token.Wait() && token.Error() != nil {
		mqttLog.Errorf("failed to publish to %s: %v", topic, token.Error())
	}
}

// CircuitStarted implements controller.EventSink.
func (b *MQTTBridge) CircuitStarted(circuitID int) {
	b.publish(b.eventTopic, EventCircuitStarted, CircuitStartedPayload{CircuitID: circuitID})
}

// CircuitFinished implements controller.EventSink.
func (b *MQTTBridge) CircuitFinished(circuitID int, result model.IrrigationResult) {
	b.publish(b.eventTopic, EventIrrigationResult, result)
}

// StateChanged implements controller.EventSink. A state change also
// refreshes the retained-free status topic so dashboards that only watch
// status stay current.
func (b *MQTTBridge) StateChanged(state model.ControllerState) {
	b.publish(b.eventTopic, EventControllerState, ControllerStatePayload{State: state})
	b.PublishStatus()
}

// Close disconnects from the broker.
func (b *MQTTBridge) Close() {
	b.client.Unsubscribe(b.commandTopic)
	b.client.Disconnect(250)
	mqttLog.Debugf("disconnected")
}

func formatTopic(tmpl, nodeID string) string {
	return strings.ReplaceAll(tmpl, "{node}", nodeID)
}
