// Package relay implements the realtime session layer: per-connection hue
// and identity assignment, the per-message decision pipeline, and the
// websocket hub that fans enriched messages out to every session.
package relay

import "github.com/sirupsen/logrus"

var log = logrus.New()

// SetLogger replaces the package-level logger.
func SetLogger(l *logrus.Logger) { log = l }

// Inbound is the wire form of a client message. TempID is a client-side
// correlation id: the server echoes it back untouched and never interprets,
// stores, or validates it.
type Inbound struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
	TempID  string `json:"tempId,omitempty"`
}

// Message is the enriched form broadcast to every session. It exists only
// for the duration of validate-enrich-broadcast and is never stored.
type Message struct {
	Type      string  `json:"type"`
	Content   string  `json:"content"`
	Name      string  `json:"name,omitempty"`
	FileType  string  `json:"fileType,omitempty"`
	Size      int64   `json:"size,omitempty"`
	SenderID  string  `json:"senderId"`
	Timestamp int64   `json:"timestamp"`
	Hue       float64 `json:"hue"`
	TempID    string  `json:"tempId,omitempty"`
}

// Event is the envelope for every server-to-client frame.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// SessionInfo is sent to a client right after its connection is accepted.
type SessionInfo struct {
	Hue float64 `json:"hue"`
}

// Status tags the outcome of the relay pipeline for one inbound message.
type Status int

const (
	// Accepted means the message was enriched and must be broadcast.
	Accepted Status = iota
	// Dropped means the message was silently discarded. The sender gets
	// no signal.
	Dropped
	// Rejected means the message was refused and the sender is told via
	// a targeted error event.
	Rejected
)

// Outcome is the tagged result of processing one inbound message.
type Outcome struct {
	Status  Status
	Reason  string
	Message *Message
}
