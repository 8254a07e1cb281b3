package engine

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// monitorHub is the optional read-only WebSocket broadcast endpoint
// (SPEC_FULL.md's DOMAIN STACK section). It is adapted from server.go's
// Client/writePump/wsClients hub: every MODE/RESULT/ERROR push the
// connected TCP client receives is also fanned out, as JSON, to any
// number of passive monitor sockets. Monitors cannot issue commands —
// anything they send is read and discarded.
type monitorHub struct {
	log      *log.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*monitorClient]bool
}

type monitorClient struct {
	conn *websocket.Conn
	send chan any
}

func newMonitorHub(logger *log.Logger) *monitorHub {
	return &monitorHub{
		log: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[*monitorClient]bool),
	}
}

// ServeHTTP upgrades the connection and registers it as a monitor; call
// it from an http.Server mounted on e.g. "/monitor".
func (h *monitorHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Printf("monitor: upgrade failed: %v", err)
		return
	}

	client := &monitorClient{conn: conn, send: make(chan any, 16)}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	go h.writePump(client)
	go h.discardReads(client)
}

// discardReads drains and ignores anything the monitor sends (mainly
// control frames); a read error means the socket closed, which unregisters
// the client and terminates its writePump.
func (h *monitorHub) discardReads(client *monitorClient) {
	defer h.unregister(client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *monitorHub) writePump(client *monitorClient) {
	defer client.conn.Close()
	for msg := range client.send {
		if err := client.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (h *monitorHub) unregister(client *monitorClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
}

// broadcast fans msg out to every connected monitor without blocking on a
// slow one; a monitor whose send buffer is full misses this message (it
// stays registered) rather than stalling the recorder/classifier
// goroutine that produced the event.
func (h *monitorHub) broadcast(msg any) {
	if _, err := json.Marshal(msg); err != nil {
		h.log.Printf("monitor: refusing to broadcast unencodable message: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			h.log.Println("monitor: client too slow, dropping message")
		}
	}
}
