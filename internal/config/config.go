// Package config loads the node's bootstrap configuration from a single
// YAML file: read once, unmarshal into a nested struct, validate, and
// hand typed config structs to the rest of the program. Malformed input
// is a fatal bootstrap error.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/irrignode/controller/internal/model"
)

// fileConfig mirrors the on-disk YAML layout: global settings plus the
// circuit list.
type fileConfig struct {
	Global   model.GlobalConfig    `yaml:"global"`
	Circuits []model.CircuitConfig `yaml:"circuits"`
	State    stateConfig           `yaml:"state"`
	Relay    RelayConfig           `yaml:"relay"`
	Bridge   BridgeConfig          `yaml:"bridge"`
}

// stateConfig configures the state manager persists its files.
type stateConfig struct {
	Dir string `yaml:"dir"`
}

// RelayConfig selects the relay backend: "sim" (in-process, the default
// whenever driver is unset, in every environment) or "zmq" (real valves through the relay-GPIO
// daemon's ZeroMQ command socket).
type RelayConfig struct {
	Driver     string `yaml:"driver"`
	CommandURL string `yaml:"command_url"`
}

// MQTTBridgeConfig configures the MQTT command/status/event bridge.
// Disabled (the default) means the node runs headless with only the
// websocket/metrics surface.
type MQTTBridgeConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Broker       string `yaml:"broker"`
	ClientID     string `yaml:"client_id"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	NodeID       string `yaml:"node_id"`
	CommandTopic string `yaml:"command_topic"`
	StatusTopic  string `yaml:"status_topic"`
	EventTopic   string `yaml:"event_topic"`
}

// BridgeConfig is the external-interface surface: MQTT bridge plus the
// HTTP listener that serves the websocket event hub and /metrics.
type BridgeConfig struct {
	MQTT       MQTTBridgeConfig `yaml:"mqtt"`
	HTTPListen string           `yaml:"http_listen"`
}

// Config is the fully loaded, validated bootstrap configuration.
type Config struct {
	Global   model.GlobalConfig
	Circuits []model.CircuitConfig
	StateDir string
	Relay    RelayConfig
	Bridge   BridgeConfig
}

// Load reads and validates the node configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", model.ErrConfig, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config file: %v", model.ErrConfig, err)
	}

	if err := fc.Global.Validate(); err != nil {
		return nil, err
	}

	if len(fc.Circuits) == 0 {
		return nil, fmt.Errorf("%w: no circuits configured", model.ErrConfig)
	}

	seen := make(map[int]bool, len(fc.Circuits))
	for _, c := range fc.Circuits {
		if seen[c.ID] {
			return nil, fmt.Errorf("%w: duplicate circuit id %d", model.ErrConfig, c.ID)
		}
		seen[c.ID] = true
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}

	stateDir := fc.State.Dir
	if stateDir == "" {
		stateDir = "/var/lib/irrigation-node"
	}

	switch fc.Relay.Driver {
	case "", "sim":
		fc.Relay.Driver = "sim"
	case "zmq":
		if fc.Relay.CommandURL == "" {
			return nil, fmt.Errorf("%w: relay driver zmq requires command_url", model.ErrConfig)
		}
	default:
		return nil, fmt.Errorf("%w: unknown relay driver %q", model.ErrConfig, fc.Relay.Driver)
	}

	if fc.Bridge.MQTT.Enabled && fc.Bridge.MQTT.Broker == "" {
		return nil, fmt.Errorf("%w: mqtt bridge enabled but broker is not set", model.ErrConfig)
	}

	return &Config{
		Global:   fc.Global,
		Circuits: fc.Circuits,
		StateDir: stateDir,
		Relay:    fc.Relay,
		Bridge:   fc.Bridge,
	}, nil
}
