package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/wricardo/scratchcard/game/events"
	"github.com/wricardo/scratchcard/game/service"
)

var log = logrus.WithField("pkg", "websocket")

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	sendBuffer      = 256
	broadcastBuffer = 256
)

// EventStateUpdate is sent on connect and whenever a session's state changes.
const EventStateUpdate = "state_update"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StateProvider supplies the player-facing state of a session.
type StateProvider interface {
	GetState(ctx context.Context, code string) (*service.PublicState, error)
}

// Message represents a WebSocket message
type Message struct {
	Session string               `json:"session"`
	Event   string               `json:"event,omitempty"`
	State   *service.PublicState `json:"state,omitempty"`
	Data    any                  `json:"data,omitempty"`
}

// Client represents a WebSocket client
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	session string
}

// Hub maintains the set of active clients per session and fans messages
// out to them. All access to the client map happens on the Run goroutine.
type Hub struct {
	sessions map[string]map[*Client]bool

	broadcast  chan *Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	states StateProvider
}

// NewHub creates a new WebSocket hub. states may be nil, in which case
// clients receive no initial snapshot and events are relayed without state.
func NewHub(states StateProvider) *Hub {
	return &Hub{
		sessions:   make(map[string]map[*Client]bool),
		broadcast:  make(chan *Message, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		states:     states,
	}
}

// Run starts the hub's event loop and returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for code, clients := range h.sessions {
			for client := range clients {
				close(client.send)
			}
			delete(h.sessions, code)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// ServeWS upgrades the request and attaches the connection to session code.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, code string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		session: code,
	}

	if h.states != nil {
		if state, err := h.states.GetState(r.Context(), code); err == nil {
			if data, err := json.Marshal(&Message{Session: code, Event: EventStateUpdate, State: state}); err == nil {
				client.send <- data
			}
		}
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// BroadcastToSession sends a state update to all clients in a session.
func (h *Hub) BroadcastToSession(code string, state *service.PublicState) {
	h.enqueue(&Message{
		Session: code,
		Event:   EventStateUpdate,
		State:   state,
	})
}

// BroadcastEvent sends a custom event to all clients in a session.
func (h *Hub) BroadcastEvent(code string, event string, data any) {
	h.enqueue(&Message{
		Session: code,
		Event:   event,
		Data:    data,
	})
}

func (h *Hub) enqueue(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		log.WithFields(logrus.Fields{
			"session": message.Session,
			"event":   message.Event,
		}).Warn("broadcast queue full, dropping message")
	}
}

// Listen relays bus events to connected clients until ctx is done or ch is
// closed. Every event carries the session's current public state except
// deletions, which have none.
func (h *Hub) Listen(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			message := &Message{Session: e.Code, Event: string(e.Type), Data: e}
			if h.states != nil && e.Type != events.SessionDeleted {
				state, err := h.states.GetState(ctx, e.Code)
				if err != nil {
					log.WithError(err).WithField("session", e.Code).Debug("state lookup for event failed")
				} else {
					message.State = state
				}
			}
			h.enqueue(message)
		}
	}
}

// registerClient adds a client to a session
func (h *Hub) registerClient(client *Client) {
	if h.sessions[client.session] == nil {
		h.sessions[client.session] = make(map[*Client]bool)
	}
	h.sessions[client.session][client] = true

	log.WithFields(logrus.Fields{
		"session": client.session,
		"clients": len(h.sessions[client.session]),
	}).Debug("client registered")
}

// unregisterClient removes a client from a session
func (h *Hub) unregisterClient(client *Client) {
	clients, ok := h.sessions[client.session]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)

	if len(clients) == 0 {
		delete(h.sessions, client.session)
	}

	log.WithFields(logrus.Fields{
		"session": client.session,
		"clients": len(clients),
	}).Debug("client unregistered")
}

// broadcastMessage sends a message to all clients in a session
func (h *Hub) broadcastMessage(message *Message) {
	clients, ok := h.sessions[message.Session]
	if !ok {
		return
	}

	data, err := json.Marshal(message)
	if err != nil {
		log.WithError(err).Error("failed to marshal broadcast message")
		return
	}

	for client := range clients {
		select {
		case client.send <- data:
		default:
			h.unregisterClient(client)
		}
	}
}

// readPump drains the connection so pongs and close frames are processed.
// Clients do not send commands over the socket.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithError(err).WithField("session", c.session).Warn("websocket read failed")
			}
			return
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
// Each message goes out as its own text frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
