package relay

import (
	"time"

	"github.com/gorilla/websocket"

	"git.uuxo.net/uuxo/file-relay/internal/metrics"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Client couples one websocket connection to its session and its outbound
// queue. The read pump feeds the pipeline; the write pump is the only
// writer on the connection.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	session *Session
	send    chan Event
}

// readPump reads inbound messages until the connection drops. A panic
// while handling one message is contained and ends only this connection.
func (c *Client) readPump() {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("session", c.session.ID).WithField("panic", r).Error("recovered in client read loop")
		}
		c.hub.registry.Disconnect(c.session.ID)
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var in Inbound
		if err := c.conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithField("session", c.session.ID).WithError(err).Debug("websocket read error")
			}
			return
		}
		c.handle(in)
	}
}

// handle runs one message through the pipeline and acts on the outcome.
// A panic while processing is contained to this one message: the sender
// gets an error event and the connection stays up.
func (c *Client) handle(in Inbound) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("session", c.session.ID).WithField("panic", r).Error("recovered while handling message")
			c.trySend(Event{Event: "error", Data: "internal error"})
		}
	}()

	out := c.hub.pipeline.Process(c.session.ID, in)
	switch out.Status {
	case Accepted:
		metrics.MessagesRelayedTotal.Inc()
		c.hub.Broadcast(Event{Event: "message", Data: out.Message})
	case Rejected:
		metrics.MessagesRejectedTotal.Inc()
		metrics.RateLimitedTotal.Inc()
		c.trySend(Event{Event: "error", Data: out.Reason})
	case Dropped:
		metrics.MessagesDroppedTotal.WithLabelValues(out.Reason).Inc()
		log.WithFields(map[string]any{
			"session": c.session.ID,
			"reason":  out.Reason,
		}).Debug("message dropped")
	}
}

// trySend queues an event for this client only, giving up if the queue is
// full. The hub will disconnect a client that far behind anyway.
func (c *Client) trySend(ev Event) {
	defer func() {
		// The hub may close c.send concurrently.
		_ = recover()
	}()
	select {
	case c.send <- ev:
	default:
	}
}

// writePump drains the send queue onto the connection and keeps the
// connection alive with pings. It exits when the hub closes the queue.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
