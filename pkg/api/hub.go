package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/castellanosj/warelay/pkg/logging"
	"github.com/castellanosj/warelay/pkg/storage"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendSize = 16
)

// streamEvent is the wire shape pushed to websocket clients on every
// session mutation.
type streamEvent struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId"`
	State     string    `json:"state,omitempty"`
	LastError string    `json:"lastError,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub fans storage events out to websocket clients subscribed per
// session.
type Hub struct {
	log      *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]map[*streamClient]struct{}
	closed  bool
}

type streamClient struct {
	conn *websocket.Conn
	send chan streamEvent
}

// NewHub creates an empty hub.
func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin enforcement happens in the CORS middleware.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]map[*streamClient]struct{}),
	}
}

// OnStorageEvent implements the storage observer: state changes are
// forwarded to clients watching that session. Slow clients are dropped
// rather than blocking the writer.
func (h *Hub) OnStorageEvent(event storage.Event) {
	out := streamEvent{
		Type:      string(event.Type),
		SessionID: event.SessionID,
		Timestamp: event.Timestamp,
	}
	if event.Session != nil {
		out.State = string(event.Session.State)
		out.LastError = event.Session.LastError
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients[event.SessionID] {
		select {
		case client.send <- out:
		default:
			h.dropLocked(event.SessionID, client)
		}
	}
}

// Serve upgrades the request and streams events for one session until
// the client goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}
	client := &streamClient{
		conn: conn,
		send: make(chan streamEvent, clientSendSize),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	subscribers, ok := h.clients[sessionID]
	if !ok {
		subscribers = make(map[*streamClient]struct{})
		h.clients[sessionID] = subscribers
	}
	subscribers[client] = struct{}{}
	h.mu.Unlock()

	go h.readLoop(sessionID, client)
	h.writeLoop(sessionID, client)
}

func (h *Hub) readLoop(sessionID string, client *streamClient) {
	defer h.drop(sessionID, client)
	client.conn.SetReadLimit(512)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(sessionID string, client *streamClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.drop(sessionID, client)
	}()
	for {
		select {
		case event, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) drop(sessionID string, client *streamClient) {
	h.mu.Lock()
	h.dropLocked(sessionID, client)
	h.mu.Unlock()
}

func (h *Hub) dropLocked(sessionID string, client *streamClient) {
	subscribers, ok := h.clients[sessionID]
	if !ok {
		return
	}
	if _, ok := subscribers[client]; !ok {
		return
	}
	delete(subscribers, client)
	if len(subscribers) == 0 {
		delete(h.clients, sessionID)
	}
	_ = client.conn.Close()
}

// Close disconnects every client and rejects new subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sessionID, subscribers := range h.clients {
		for client := range subscribers {
			_ = client.conn.Close()
		}
		delete(h.clients, sessionID)
	}
}
