package bridge

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/irrignode/controller/internal/logging"
	"github.com/irrignode/controller/internal/model"
)

var wsLog = logging.New("ws-bridge")

const (
	wsWriteTimeout = 10 * time.Second

	// wsSendBuffer bounds each client's outbound queue; a client that
	// cannot drain it in time is disconnected rather than blocking the
	// broadcast path.
	wsSendBuffer = 32
)

// Hub is a websocket broadcast hub: every controller event is fanned out
// as an Envelope to each connected client. Clients only receive; inbound
// frames are read and discarded to service close/ping handling.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
	closed  bool
}

// NewHub returns an empty hub. Serve it on an HTTP route via ServeHTTP.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

// ServeHTTP upgrades the request and registers the client until its
// connection drops.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wsLog.Warnf("websocket upgrade failed: %v", err)
		return
	}

	send := make(chan []byte, wsSendBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[conn] = send
	h.mu.Unlock()

	wsLog.Debugf("client connected: %s", conn.RemoteAddr())

	go h.writeLoop(conn, send)
	h.readLoop(conn)
}

func (h *Hub) writeLoop(conn *websocket.Conn, send chan []byte) {
	for msg := range send {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.drop(conn)
			return
		}
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
}

func (h *Hub) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.drop(conn)
			return
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	send, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
	}
	h.mu.Unlock()
	if ok {
		close(send)
	}
	conn.Close()
}

func (h *Hub) broadcast(t EventType, payload any) {
	data, err := newEnvelope(t, payload)
	if err != nil {
		wsLog.Errorf("%v", err)
		return
	}

	h.mu.Lock()
	var slow []*websocket.Conn
	for conn, send := range h.clients {
		select {
		case send <- data:
		default:
			slow = append(slow, conn)
		}
	}
	h.mu.Unlock()

	for _, conn := range slow {
		wsLog.Warnf("dropping slow client %s", conn.RemoteAddr())
		h.drop(conn)
	}
}

// CircuitStarted implements controller.EventSink.
func (h *Hub) CircuitStarted(circuitID int) {
	h.broadcast(EventCircuitStarted, CircuitStartedPayload{CircuitID: circuitID})
}

// CircuitFinished implements controller.EventSink.
func (h *Hub) CircuitFinished(circuitID int, result model.IrrigationResult) {
	h.broadcast(EventIrrigationResult, result)
}

// StateChanged implements controller.EventSink.
func (h *Hub) StateChanged(state model.ControllerState) {
	h.broadcast(EventControllerState, ControllerStatePayload{State: state})
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		h.drop(conn)
	}
}
