package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-zeromq/zmq4"

	"github.com/irrignode/controller/internal/logging"
	"github.com/irrignode/controller/internal/model"
)

var zmqLog = logging.New("relay-zmq")

// ZMQConfig configures a ZMQRelay's connection to the (out-of-scope)
// relay-GPIO daemon.
type ZMQConfig struct {
	// CommandURL is the daemon's REQ/REP endpoint, e.g.
	// "ipc:///tmp/relay_command" or "tcp://127.0.0.1:5560", one socket
	// per relay pin, adapted from the Concentratord command-socket
	// pattern (one cmdSock per driver there; here, one per relay since
	// each circuit owns its relay exclusively).
	CommandURL string
}

// relayCommand is the wire request sent to the daemon.
type relayCommand struct {
	Pin   int    `json:"pin"`
	State string `json:"state"`
}

// relayResponse is the wire response the daemon returns.
type relayResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ZMQRelay commands a real valve through a relay-GPIO daemon over a
// ZeroMQ REQ socket, one request per state change.
type ZMQRelay struct {
	baseRelay
	cfg    ZMQConfig
	ctx    context.Context
	cancel context.CancelFunc
	sock   zmq4.Socket
}

// NewZMQRelay dials the daemon's command socket for one relay pin.
func NewZMQRelay(pin int, cfg ZMQConfig) (*ZMQRelay, error) {
	ctx, cancel := context.WithCancel(context.Background())

	sock := zmq4.NewReq(ctx)
	if err := sock.Dial(cfg.CommandURL); err != nil {
		cancel()
		return nil, fmt.Errorf("relay pin %d: failed to connect to %s: %w", pin, cfg.CommandURL, err)
	}

	return &ZMQRelay{
		baseRelay: newBaseRelay(pin),
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		sock:      sock,
	}, nil
}

func (r *ZMQRelay) SetState(target model.RelayState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == target {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= MinRetries; attempt++ {
		if err := r.send(target); err != nil {
			lastErr = err
			zmqLog.Warnf("pin %d: set_state(%s) attempt %d/%d failed: %v", r.pin, target, attempt, MinRetries, err)
			continue
		}
		r.state = target
		return nil
	}

	return &model.ValveHardwareError{Pin: r.pin, Target: target, Retries: MinRetries, Err: lastErr}
}

func (r *ZMQRelay) send(target model.RelayState) error {
	payload, err := json.Marshal(relayCommand{Pin: r.pin, State: string(target)})
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}

	if err := r.sock.Send(zmq4.NewMsg(payload)); err != nil {
		return fmt.Errorf("send command: %w", err)
	}

	reply, err := r.sock.Recv()
	if err != nil {
		return fmt.Errorf("receive response: %w", err)
	}

	var resp relayResponse
	if len(reply.Frames) == 0 {
		return fmt.Errorf("empty response")
	}
	if err := json.Unmarshal(reply.Frames[0], &resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("daemon rejected command: %s", resp.Error)
	}
	return nil
}

// Close force-closes the valve on a best-effort basis and tears down the
// socket. Errors are logged, never returned.
func (r *ZMQRelay) Close() {
	r.mu.Lock()
	if r.state != model.RelayClosed {
		if err := r.send(model.RelayClosed); err != nil {
			zmqLog.Errorf("pin %d: best-effort force-close failed: %v", r.pin, err)
		} else {
			r.state = model.RelayClosed
		}
	}
	r.mu.Unlock()

	r.cancel()
	if err := r.sock.Close(); err != nil {
		zmqLog.Errorf("pin %d: error closing command socket: %v", r.pin, err)
	}
}
