package hub

import (
	"time"

	"github.com/soar/wheelbridge/internal/bridge"
)

// WSMessage represents a WebSocket message sent from server to client.
type WSMessage struct {
	Type      string         `json:"type"`      // Message type: "status", "event", "ack"
	Seq       int64          `json:"seq"`       // Sequence number for ordering
	Timestamp int64          `json:"timestamp"` // Unix timestamp in milliseconds
	Event     string         `json:"event,omitempty"`
	Status    *bridge.Status `json:"status,omitempty"`
	Command   string         `json:"command,omitempty"` // Command being acknowledged for type "ack"
}

// NewStatusMessage creates a "status" message carrying a session snapshot.
func NewStatusMessage(seq int64, status *bridge.Status) *WSMessage {
	return &WSMessage{
		Type:      "status",
		Seq:       seq,
		Timestamp: time.Now().UnixMilli(),
		Status:    status,
	}
}

// NewEventMessage creates an "event" type message for state transitions.
func NewEventMessage(seq int64, event string, status *bridge.Status) *WSMessage {
	return &WSMessage{
		Type:      "event",
		Seq:       seq,
		Timestamp: time.Now().UnixMilli(),
		Event:     event,
		Status:    status,
	}
}

// NewAckMessage creates an "ack" confirmation for a client command.
func NewAckMessage(command string) *WSMessage {
	return &WSMessage{
		Type:      "ack",
		Timestamp: time.Now().UnixMilli(),
		Command:   command,
	}
}

// ClientMessage represents a message sent from the client to the server.
type ClientMessage struct {
	Type string `json:"type"`
}
