package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Encode serializes a message carrying only its type. The output is
// deterministic: the same type always yields the same bytes.
func Encode(t MessageType) ([]byte, error) {
	return EncodeMessage(Message{Type: t})
}

// MustEncode is like Encode but panics on an invalid type. It is meant for
// the fixed message types known at compile time.
func MustEncode(t MessageType) []byte {
	b, err := Encode(t)
	if err != nil {
		panic(err)
	}
	return b
}

// EncodeMessage serializes a full message, including a device info payload
// when present. Fields are written in field-number order.
func EncodeMessage(m Message) ([]byte, error) {
	if !m.Type.Valid() {
		return nil, fmt.Errorf("encode %s: %w", m.Type, ErrEncodeType)
	}

	b := protowire.AppendTag(nil, fieldMessageType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Type))

	if m.DeviceInfo != nil {
		b = protowire.AppendTag(b, fieldMessageData, protowire.BytesType)
		b = protowire.AppendBytes(b, buildAny(DeviceInfoTypeURL, buildDeviceInfo(m.DeviceInfo)))
	}

	return b, nil
}

// buildAny wraps a serialized message in a google.protobuf.Any.
func buildAny(typeURL string, value []byte) []byte {
	var b []byte
	b = appendStringField(b, fieldAnyTypeURL, typeURL)
	if len(value) > 0 {
		b = protowire.AppendTag(b, fieldAnyValue, protowire.BytesType)
		b = protowire.AppendBytes(b, value)
	}
	return b
}

func buildDeviceInfo(d *DeviceInfo) []byte {
	var b []byte
	b = appendStringField(b, fieldDevName, d.Name)
	b = appendStringField(b, fieldDevOSVersion, d.OSVersion)
	b = appendStringField(b, fieldDevSerial, d.SerialNumber)
	b = appendStringField(b, fieldDevDescription, d.Description)
	return b
}

// appendStringField writes a proto3 string field; empty strings are omitted.
func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}
