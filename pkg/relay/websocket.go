package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/net/websocket"

	"github.com/i5heu/ouroboros-oracle/pkg/events"
)

// EventStreamMessage represents an audit event sent to WebSocket
// clients.
type EventStreamMessage struct {
	Type      string            `json:"type"`
	Seq       uint64            `json:"seq"`
	Timestamp int64             `json:"timestamp"`
	Event     string            `json:"event"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Client represents a connected WebSocket client.
type Client struct {
	conn   *websocket.Conn
	sendCh chan []byte
}

// EventStreamHub manages WebSocket connections for audit event
// streaming. A single goroutine owns the clients map; the hub itself
// is the ledger observer.
type EventStreamHub struct {
	registerCh   chan *Client
	unregisterCh chan *Client
	broadcastCh  chan EventStreamMessage
	stopCh       chan struct{}
	doneCh       chan struct{}
}

// NewEventStreamHub creates a new EventStreamHub.
func NewEventStreamHub() *EventStreamHub {
	return &EventStreamHub{
		registerCh:   make(chan *Client, 16),
		unregisterCh: make(chan *Client, 16),
		broadcastCh:  make(chan EventStreamMessage, 256),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start begins the hub's event loop.
func (h *EventStreamHub) Start() {
	go h.run()
}

// Stop shuts down the hub.
func (h *EventStreamHub) Stop() {
	close(h.stopCh)
	<-h.doneCh
}

// Notify implements events.Observer. It forwards a ledger entry to
// all connected clients.
func (h *EventStreamHub) Notify(e events.Event) {
	msg := EventStreamMessage{
		Type:      "event",
		Seq:       e.Seq,
		Timestamp: e.Timestamp.UnixMilli(),
		Event:     string(e.Type),
		Fields:    e.Fields,
	}
	select {
	case h.broadcastCh <- msg:
	default:
		// Channel full, drop message
	}
}

// run is the main event loop - single owner of clients map.
func (h *EventStreamHub) run() {
	defer close(h.doneCh)

	clients := make(map[*Client]struct{})

	for {
		select {
		case client := <-h.registerCh:
			clients[client] = struct{}{}

		case client := <-h.unregisterCh:
			if _, ok := clients[client]; ok {
				delete(clients, client)
				close(client.sendCh)
			}

		case msg := <-h.broadcastCh:
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			for client := range clients {
				select {
				case client.sendCh <- data:
				default:
					// Client too slow, skip this message for them
				}
			}

		case <-h.stopCh:
			for client := range clients {
				close(client.sendCh)
			}
			return
		}
	}
}

// handleWebSocket handles WebSocket connections for event streaming.
func (r *Relay) handleWebSocket(
	w http.ResponseWriter,
	req *http.Request,
) {
	websocket.Handler(func(conn *websocket.Conn) {
		r.serveWebSocket(conn)
	}).ServeHTTP(w, req)
}

// serveWebSocket handles a single WebSocket connection.
func (r *Relay) serveWebSocket(conn *websocket.Conn) {
	client := &Client{
		conn:   conn,
		sendCh: make(chan []byte, 64),
	}

	r.hub.registerCh <- client

	defer func() {
		r.hub.unregisterCh <- client
		_ = conn.Close()
	}()

	go r.wsWriter(client)

	// Reader loop (to detect disconnection)
	r.wsReader(client)
}

// wsWriter sends messages from the send channel to the WebSocket.
func (r *Relay) wsWriter(client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-client.sendCh:
			if !ok {
				return
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if _, err := client.conn.Write(data); err != nil {
				return
			}

		case <-ticker.C:
			// Send ping/keepalive
			_ = client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if _, err := client.conn.Write([]byte(`{"type":"ping"}`)); err != nil {
				return
			}
		}
	}
}

// wsReader reads from the WebSocket to detect disconnection.
func (r *Relay) wsReader(client *Client) {
	_ = client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))

	for {
		var msg []byte
		err := websocket.Message.Receive(client.conn, &msg)
		if err != nil {
			return
		}
		_ = client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	}
}
