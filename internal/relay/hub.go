package relay

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"git.uuxo.net/uuxo/file-relay/internal/metrics"
	"git.uuxo.net/uuxo/file-relay/internal/utils"
)

// Hub owns the set of connected clients and serializes every broadcast
// through a single goroutine, so all clients observe events in the same
// order.
type Hub struct {
	registry *Registry
	pipeline *Pipeline

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan Event

	done chan struct{}
	once sync.Once

	upgrader       websocket.Upgrader
	sendQueueSize  int
	readLimit      int64
	trustedProxies []string
}

// NewHub creates a hub. sendQueueSize bounds each client's outbound buffer;
// a client that falls that far behind is disconnected rather than allowed
// to stall the broadcast loop. readLimit bounds a single inbound frame.
func NewHub(registry *Registry, pipeline *Pipeline, sendQueueSize int, readLimit int64, trustedProxies []string) *Hub {
	return &Hub{
		registry:   registry,
		pipeline:   pipeline,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Event, 256),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sendQueueSize:  sendQueueSize,
		readLimit:      readLimit,
		trustedProxies: trustedProxies,
	}
}

// Run processes registrations and broadcasts until Stop is called. It must
// run in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			metrics.ActiveSessions.Set(float64(len(h.clients)))
			h.fanOut(Event{Event: "userCountUpdate", Data: len(h.clients)})
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.fanOut(Event{Event: "userCountUpdate", Data: len(h.clients)})
			}
		case ev := <-h.broadcast:
			h.fanOut(ev)
		case <-h.done:
			for c := range h.clients {
				h.drop(c)
			}
			return
		}
	}
}

// Stop terminates the hub loop and disconnects every client.
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.done) })
}

// Broadcast queues an event for delivery to every connected client.
func (h *Hub) Broadcast(ev Event) {
	select {
	case h.broadcast <- ev:
	case <-h.done:
	}
}

// fanOut delivers ev to every client, disconnecting any whose send queue
// is full. Only the hub goroutine calls this.
func (h *Hub) fanOut(ev Event) {
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			log.WithField("session", c.session.ID).Warn("client send queue full, disconnecting")
			h.drop(c)
		}
	}
}

// drop removes a client from the set and closes its send channel, which
// ends its write pump. Only the hub goroutine calls this.
func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.ActiveSessions.Set(float64(len(h.clients)))
}

// ServeWS upgrades an HTTP request to a websocket session. Connections
// beyond the session ceiling are refused with a close frame before any
// session state is created.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ip := utils.GetClientIP(r, h.trustedProxies)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	sess, err := h.registry.Connect(ip)
	if err != nil {
		metrics.SessionsRefusedTotal.Inc()
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server full")
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		conn.Close()
		return
	}

	c := &Client{
		hub:     h,
		conn:    conn,
		session: sess,
		send:    make(chan Event, h.sendQueueSize),
	}

	// The session event is queued before the client joins the broadcast
	// set, so it always precedes any broadcast the client sees.
	c.send <- Event{Event: "session", Data: SessionInfo{Hue: sess.Hue}}
	select {
	case h.register <- c:
	case <-h.done:
		h.registry.Disconnect(sess.ID)
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
