// Package protocol implements the message codec for the device-control
// protocol. Messages are protobuf-encoded on the wire:
//
//	message Message    { MessageType type = 1; google.protobuf.Any data = 2; }
//	message DeviceInfo { string name = 1; string osVersion = 2;
//	                     string serialNumber = 3; string description = 4; }
//
// Only the fields the diagnostic client needs are modelled. Unknown fields
// are skipped on decode, as protobuf parsers do.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// MessageType identifies the intent of a message.
type MessageType int32

const (
	TypeUnspecified MessageType = 0 // never valid on the wire
	TypeConnect     MessageType = 1
	TypeDisconnect  MessageType = 2
	TypePing        MessageType = 3
	TypePong        MessageType = 4
	TypeGetDevInfo  MessageType = 5
	TypeDevInfo     MessageType = 6
)

// Protobuf field numbers.
const (
	fieldMessageType = 1
	fieldMessageData = 2

	fieldAnyTypeURL = 1
	fieldAnyValue   = 2

	fieldDevName        = 1
	fieldDevOSVersion   = 2
	fieldDevSerial      = 3
	fieldDevDescription = 4
)

// DeviceInfoTypeURL is the Any type URL the peer uses for DeviceInfo payloads.
const DeviceInfoTypeURL = "type.googleapis.com/pb.DeviceInfo"

// MaxDatagramSize is the receive buffer size of the reference peer.
// Larger messages may be dropped by it.
const MaxDatagramSize = 1000

var messageTypeNames = map[MessageType]string{
	TypeConnect:    "CONNECT",
	TypeDisconnect: "DISCONNECT",
	TypePing:       "PING",
	TypePong:       "PONG",
	TypeGetDevInfo: "GET_DEV_INFO",
	TypeDevInfo:    "DEV_INFO",
}

// String returns the schema name of the type, e.g. "GET_DEV_INFO".
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "MessageType(" + strconv.Itoa(int(t)) + ")"
}

// Valid reports whether t is a known, non-zero message type.
func (t MessageType) Valid() bool {
	_, ok := messageTypeNames[t]
	return ok
}

// MarshalText encodes the type by name so it renders nicely in JSON.
func (t MessageType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ParseMessageType resolves a schema name (case-insensitive) to a type.
func ParseMessageType(name string) (MessageType, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for t, n := range messageTypeNames {
		if n == upper {
			return t, nil
		}
	}
	return TypeUnspecified, fmt.Errorf("unknown message type %q", name)
}

// AllMessageTypes returns every valid message type in ascending order.
func AllMessageTypes() []MessageType {
	return []MessageType{
		TypeConnect,
		TypeDisconnect,
		TypePing,
		TypePong,
		TypeGetDevInfo,
		TypeDevInfo,
	}
}

// DeviceInfo is the payload of a DEV_INFO message.
type DeviceInfo struct {
	Name         string `json:"name"`
	OSVersion    string `json:"os_version"`
	SerialNumber string `json:"serial_number"`
	Description  string `json:"description"`
}

// Message is a decoded protocol message. A Message returned by Decode
// always has a valid Type.
type Message struct {
	Type       MessageType `json:"type"`
	DeviceInfo *DeviceInfo `json:"device_info,omitempty"`
}

// String renders the message in a compact protobuf text style, e.g.
// `type: DEV_INFO data { name: "host" }`.
func (m Message) String() string {
	var sb strings.Builder
	sb.WriteString("type: ")
	sb.WriteString(m.Type.String())

	if d := m.DeviceInfo; d != nil {
		sb.WriteString(" data {")
		writeTextField(&sb, "name", d.Name)
		writeTextField(&sb, "osVersion", d.OSVersion)
		writeTextField(&sb, "serialNumber", d.SerialNumber)
		writeTextField(&sb, "description", d.Description)
		sb.WriteString(" }")
	}
	return sb.String()
}

func writeTextField(sb *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	sb.WriteString(" ")
	sb.WriteString(name)
	sb.WriteString(": ")
	sb.WriteString(strconv.Quote(value))
}
