package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, typ := range AllMessageTypes() {
		t.Run(typ.String(), func(t *testing.T) {
			data, err := Encode(typ)
			require.NoError(t, err)

			msg, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, typ, msg.Type)
			assert.Nil(t, msg.DeviceInfo)
		})
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	first := MustEncode(TypeGetDevInfo)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, MustEncode(TypeGetDevInfo))
	}
	// tag 1 varint, value 5
	assert.Equal(t, []byte{0x08, 0x05}, first)
}

func TestEncodeRejectsInvalidType(t *testing.T) {
	_, err := Encode(TypeUnspecified)
	assert.ErrorIs(t, err, ErrEncodeType)

	_, err = Encode(MessageType(42))
	assert.ErrorIs(t, err, ErrEncodeType)

	assert.Panics(t, func() { MustEncode(MessageType(-1)) })
}

func TestDeviceInfoRoundTrip(t *testing.T) {
	in := Message{
		Type: TypeDevInfo,
		DeviceInfo: &DeviceInfo{
			Name:         "bench-01",
			OSVersion:    `NAME="Debian GNU/Linux"`,
			SerialNumber: "some_serial_number",
			Description:  "some_description",
		},
	}

	data, err := EncodeMessage(in)
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Contains(t, out.String(), `name: "bench-01"`)
}

func TestDecodeFailures(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		kind DecodeErrorKind
	}{
		{"empty", nil, ErrKindEmpty},
		{"truncated tag", []byte{0xff, 0xff, 0xff}, ErrKindTruncated},
		{"truncated type value", []byte{0x08}, ErrKindTruncated},
		{"truncated length prefix", []byte{0x08, 0x03, 0x12, 0x05, 0x01}, ErrKindTruncated},
		{"field number zero", []byte{0x00, 0x01}, ErrKindMalformed},
		{"unknown type", []byte{0x08, 0x63}, ErrKindUnknownType},
		{"negative type", protowire.AppendVarint([]byte{0x08}, uint64(0xffffffffffffffff)), ErrKindUnknownType},
		{"type wider than int32", protowire.AppendVarint([]byte{0x08}, 1<<32+3), ErrKindUnknownType},
		{"negative wider than int32", protowire.AppendVarint([]byte{0x08}, 0x8000000000000004), ErrKindUnknownType},
		{"type zero", []byte{0x08, 0x00}, ErrKindMissingType},
		{"only unknown fields", []byte{0x18, 0x01}, ErrKindMissingType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode(tt.data)
			require.Error(t, err)
			assert.Equal(t, Message{}, msg)

			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.kind, de.Kind)
			assert.Equal(t, tt.kind, DecodeErrorKindOf(err))
		})
	}
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	b := protowire.AppendTag(nil, 7, protowire.BytesType)
	b = protowire.AppendString(b, "future field")
	b = append(b, MustEncode(TypePing)...)

	msg, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, TypePing, msg.Type)
}

func TestDecodeBadDevicePayload(t *testing.T) {
	// Any whose DeviceInfo value is a truncated string field.
	anyBody := protowire.AppendTag(nil, fieldAnyTypeURL, protowire.BytesType)
	anyBody = protowire.AppendString(anyBody, DeviceInfoTypeURL)
	anyBody = protowire.AppendTag(anyBody, fieldAnyValue, protowire.BytesType)
	anyBody = protowire.AppendBytes(anyBody, []byte{0x0a, 0x09, 'x'})

	b := MustEncode(TypeDevInfo)
	b = protowire.AppendTag(b, fieldMessageData, protowire.BytesType)
	b = protowire.AppendBytes(b, anyBody)

	msg, err := Decode(b)
	assert.Equal(t, Message{}, msg)
	assert.Equal(t, ErrKindBadPayload, DecodeErrorKindOf(err))
}

func TestDecodeIgnoresForeignAny(t *testing.T) {
	b := MustEncode(TypeDevInfo)
	b = protowire.AppendTag(b, fieldMessageData, protowire.BytesType)
	b = protowire.AppendBytes(b, buildAny("type.googleapis.com/pb.Other", []byte{0x08, 0x01}))

	msg, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, TypeDevInfo, msg.Type)
	assert.Nil(t, msg.DeviceInfo)
}

func TestParseMessageType(t *testing.T) {
	typ, err := ParseMessageType("get_dev_info")
	require.NoError(t, err)
	assert.Equal(t, TypeGetDevInfo, typ)

	_, err = ParseMessageType("reboot")
	assert.Error(t, err)

	assert.Equal(t, "MessageType(9)", MessageType(9).String())
	assert.Equal(t, "type: PONG", Message{Type: TypePong}.String())
}

func FuzzDecode(f *testing.F) {
	for _, typ := range AllMessageTypes() {
		f.Add(MustEncode(typ))
	}
	f.Add([]byte{0xff, 0xff, 0xff})

	f.Fuzz(func(t *testing.T, data []byte) {
		msg, err := Decode(data)
		if err != nil {
			if msg != (Message{}) {
				t.Fatalf("partial message on error: %+v", msg)
			}
			return
		}
		if !msg.Type.Valid() {
			t.Fatalf("decoded invalid type %d", msg.Type)
		}
	})
}
