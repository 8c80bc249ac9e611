// Package events defines the event types carried on the devprobe EventBus.
// Every inbound datagram, outbound send and listener state change is
// published here; the console, journal, telemetry and stats are all
// subscribers.
package events

import (
	"time"

	"github.com/devprobe-project/devprobe/internal/protocol"
)

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Inbound traffic
	EventMessageReceived   EventType = "message_received"
	EventMalformedDatagram EventType = "malformed_datagram"

	// Outbound traffic
	EventMessageSent EventType = "message_sent"
	EventSendFailed  EventType = "send_failed"

	// Lifecycle
	EventListenerStopped EventType = "listener_stopped"
	EventShutdown        EventType = "shutdown"
)

// Event is a single notification on the bus.
type Event struct {
	Type    EventType
	Source  string
	Time    time.Time
	Payload interface{}
}

// ReceivedPayload accompanies EventMessageReceived.
type ReceivedPayload struct {
	From    string           `json:"from"`
	Message protocol.Message `json:"message"`
	Raw     []byte           `json:"raw"`
}

// MalformedPayload accompanies EventMalformedDatagram.
type MalformedPayload struct {
	From string                   `json:"from"`
	Raw  []byte                   `json:"raw"`
	Kind protocol.DecodeErrorKind `json:"kind"`
	Err  error                    `json:"-"`
}

// Reason returns the decode error text.
func (p MalformedPayload) Reason() string {
	if p.Err == nil {
		return string(p.Kind)
	}
	return p.Err.Error()
}

// SentPayload accompanies EventMessageSent and EventSendFailed.
type SentPayload struct {
	To   string               `json:"to"`
	Type protocol.MessageType `json:"type"`
	Raw  []byte               `json:"raw"`
	Auto bool                 `json:"auto"` // sent by the auto-reply policy
	Err  error                `json:"-"`
}

// StoppedPayload accompanies EventListenerStopped. Err is nil when the
// listener stopped because it was cancelled.
type StoppedPayload struct {
	Err error `json:"-"`
}
