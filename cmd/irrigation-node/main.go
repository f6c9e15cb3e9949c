// Irrigation Node Controller
// Main entry point for the irrigation node service
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/irrignode/controller/internal/bridge"
	"github.com/irrignode/controller/internal/config"
	"github.com/irrignode/controller/internal/controller"
	"github.com/irrignode/controller/internal/logging"
	"github.com/irrignode/controller/internal/model"
	"github.com/irrignode/controller/internal/relay"
	"github.com/irrignode/controller/internal/weather"
)

var (
	configFile string
	rootCmd    = &cobra.Command{
		Use:   "irrigation-node",
		Short: "Irrigation Node Controller",
		Long:  "Edge controller for relay-actuated irrigation circuits. Plans, executes and records weather-adjusted irrigation runs.",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the node controller service",
		RunE:  runNode,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Irrigation Node Controller v0.1.0")
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show persisted circuit state",
		RunE:  showStatus,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/irrigation-node/node.yaml", "Configuration file path")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRelays(cfg *config.Config) (map[int]relay.Relay, error) {
	relays := make(map[int]relay.Relay, len(cfg.Circuits))
	for _, c := range cfg.Circuits {
		switch cfg.Relay.Driver {
		case "zmq":
			r, err := relay.NewZMQRelay(c.RelayPin, relay.ZMQConfig{CommandURL: cfg.Relay.CommandURL})
			if err != nil {
				return nil, fmt.Errorf("circuit %d: %w", c.ID, err)
			}
			relays[c.ID] = r
		default:
			relays[c.ID] = relay.NewSimRelay(c.RelayPin)
		}
	}
	return relays, nil
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logging.SetLevel(cfg.Global.Logging.Level)

	relays, err := buildRelays(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up relays: %w", err)
	}

	fetcher := weather.NewHTTPFetcher(cfg.Global.Weather)

	ctrl, err := controller.New(cfg.Global, cfg.Circuits, cfg.StateDir, relays, fetcher)
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}

	hub := bridge.NewHub()
	ctrl.AddEventSink(hub)

	var mqttBridge *bridge.MQTTBridge
	if cfg.Bridge.MQTT.Enabled {
		mqttBridge, err = bridge.NewMQTT(bridge.MQTTConfig{
			Broker:       cfg.Bridge.MQTT.Broker,
			ClientID:     cfg.Bridge.MQTT.ClientID,
			Username:     cfg.Bridge.MQTT.Username,
			Password:     cfg.Bridge.MQTT.Password,
			NodeID:       cfg.Bridge.MQTT.NodeID,
			CommandTopic: cfg.Bridge.MQTT.CommandTopic,
			StatusTopic:  cfg.Bridge.MQTT.StatusTopic,
			EventTopic:   cfg.Bridge.MQTT.EventTopic,
		}, ctrl)
		if err != nil {
			return fmt.Errorf("failed to start MQTT bridge: %w", err)
		}
		ctrl.AddEventSink(mqttBridge)
	}

	var httpServer *http.Server
	if cfg.Bridge.HTTPListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/ws", hub)
		mux.Handle("/metrics", promhttp.Handler())
		httpServer = &http.Server{Addr: cfg.Bridge.HTTPListen, Handler: mux}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("HTTP listener error: %v", err)
			}
		}()
	}

	log.Printf("Starting Irrigation Node Controller (%d circuits, relay driver %s)", len(cfg.Circuits), cfg.Relay.Driver)
	if err := ctrl.Start(); err != nil {
		return fmt.Errorf("failed to start controller: %w", err)
	}

	if mqttBridge != nil {
		mqttBridge.PublishStatus()
	}

	// Blocks until SIGINT/SIGTERM, then runs the controller's clean
	// shutdown (stop scheduler and workers, close valves, persist the
	// final snapshots).
	if err := ctrl.RunUntilSignal(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	if mqttBridge != nil {
		mqttBridge.Close()
	}
	hub.Close()
	if httpServer != nil {
		httpServer.Close()
	}

	log.Println("Shutdown complete")
	return nil
}

// zonesFile mirrors the documented on-disk shape of zones_state.json so
// status stays a read-only inspector: it never routes through the state
// manager, whose InitFromDisk would rewrite IRRIGATING snapshots as part
// of crash recovery.
type zonesFile struct {
	LastUpdated time.Time               `json:"last_updated"`
	Circuits    []model.CircuitSnapshot `json:"circuits"`
}

func showStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	data, err := os.ReadFile(cfg.StateDir + "/zones_state.json")
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var zf zonesFile
	if err := json.Unmarshal(data, &zf); err != nil {
		return fmt.Errorf("state file is corrupt: %w", err)
	}

	names := make(map[int]string, len(cfg.Circuits))
	for _, c := range cfg.Circuits {
		names[c.ID] = c.Name
	}

	fmt.Printf("State as of %s\n\n", zf.LastUpdated.Format(time.RFC3339))

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATE\tLAST OUTCOME\tLAST IRRIGATION\tDURATION\tVOLUME (L)")
	for _, snap := range zf.Circuits {
		lastIrrigation := "never"
		if snap.LastIrrigation != nil {
			lastIrrigation = snap.LastIrrigation.Format(time.RFC3339)
		}
		outcome := string(snap.LastOutcome)
		if outcome == "" {
			outcome = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%.1f\n",
			snap.ID, names[snap.ID], snap.CircuitState, outcome,
			lastIrrigation, snap.LastDuration, snap.LastVolume)
	}
	return w.Flush()
}
