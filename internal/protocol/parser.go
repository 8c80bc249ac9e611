package protocol

import (
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// Decode parses a serialized Message. It never returns a partially
// populated Message: on failure the Message is zero and the error is a
// *DecodeError.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return Message{}, &DecodeError{Kind: ErrKindEmpty}
	}

	var (
		rawType    int64
		payload    []byte
		payloadOff int
		hasPayload bool
	)

	for off := 0; off < len(data); {
		num, typ, n := protowire.ConsumeTag(data[off:])
		if n < 0 {
			return Message{}, wireError(off, n)
		}
		off += n

		switch {
		case num == fieldMessageType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data[off:])
			if n < 0 {
				return Message{}, wireError(off, n)
			}
			// Negative enums arrive sign-extended to 64 bits. Later
			// occurrences win.
			rawType = int64(v)
			off += n

		case num == fieldMessageData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data[off:])
			if n < 0 {
				return Message{}, wireError(off, n)
			}
			payload, payloadOff, hasPayload = v, off, true
			off += n

		default:
			n := protowire.ConsumeFieldValue(num, typ, data[off:])
			if n < 0 {
				return Message{}, wireError(off, n)
			}
			off += n
		}
	}

	if rawType == 0 {
		return Message{}, &DecodeError{Kind: ErrKindMissingType, Offset: len(data)}
	}
	// Values wider than int32 are rejected rather than truncated.
	msg := Message{Type: MessageType(rawType)}
	if rawType < math.MinInt32 || rawType > math.MaxInt32 || !msg.Type.Valid() {
		return Message{}, &DecodeError{
			Kind:   ErrKindUnknownType,
			Offset: len(data),
			Err:    fmt.Errorf("type value %d", rawType),
		}
	}

	if hasPayload {
		info, err := parseDevicePayload(payload)
		if err != nil {
			return Message{}, &DecodeError{Kind: ErrKindBadPayload, Offset: payloadOff, Err: err}
		}
		msg.DeviceInfo = info
	}

	return msg, nil
}

// parseDevicePayload unpacks an Any. Payloads of other types are ignored
// and yield a nil DeviceInfo.
func parseDevicePayload(b []byte) (*DeviceInfo, error) {
	typeURL, value, err := parseAny(b)
	if err != nil {
		return nil, fmt.Errorf("any: %w", err)
	}
	if typeURL != DeviceInfoTypeURL {
		return nil, nil
	}

	info, err := parseDeviceInfo(value)
	if err != nil {
		return nil, fmt.Errorf("device info: %w", err)
	}
	return info, nil
}

func parseAny(b []byte) (typeURL string, value []byte, err error) {
	for off := 0; off < len(b); {
		num, typ, n := protowire.ConsumeTag(b[off:])
		if n < 0 {
			return "", nil, protowire.ParseError(n)
		}
		off += n

		switch {
		case num == fieldAnyTypeURL && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b[off:])
			if n < 0 {
				return "", nil, protowire.ParseError(n)
			}
			typeURL = s
			off += n
		case num == fieldAnyValue && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b[off:])
			if n < 0 {
				return "", nil, protowire.ParseError(n)
			}
			value = v
			off += n
		default:
			n := protowire.ConsumeFieldValue(num, typ, b[off:])
			if n < 0 {
				return "", nil, protowire.ParseError(n)
			}
			off += n
		}
	}
	return typeURL, value, nil
}

func parseDeviceInfo(b []byte) (*DeviceInfo, error) {
	info := &DeviceInfo{}
	for off := 0; off < len(b); {
		num, typ, n := protowire.ConsumeTag(b[off:])
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		off += n

		var dst *string
		switch num {
		case fieldDevName:
			dst = &info.Name
		case fieldDevOSVersion:
			dst = &info.OSVersion
		case fieldDevSerial:
			dst = &info.SerialNumber
		case fieldDevDescription:
			dst = &info.Description
		}

		if dst == nil || typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, b[off:])
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			off += n
			continue
		}

		s, n := protowire.ConsumeString(b[off:])
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		if !utf8.ValidString(s) {
			return nil, fmt.Errorf("field %d: invalid UTF-8", num)
		}
		*dst = s
		off += n
	}
	return info, nil
}

// wireError maps a negative protowire length into a DecodeError.
func wireError(off, n int) *DecodeError {
	err := protowire.ParseError(n)
	kind := ErrKindMalformed
	if errors.Is(err, io.ErrUnexpectedEOF) {
		kind = ErrKindTruncated
	}
	return &DecodeError{Kind: kind, Offset: off, Err: err}
}
