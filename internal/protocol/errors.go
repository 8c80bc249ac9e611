package protocol

import (
	"errors"
	"fmt"
)

// DecodeErrorKind classifies why a buffer could not be decoded.
type DecodeErrorKind string

const (
	ErrKindEmpty       DecodeErrorKind = "empty"
	ErrKindTruncated   DecodeErrorKind = "truncated"
	ErrKindMalformed   DecodeErrorKind = "malformed"
	ErrKindMissingType DecodeErrorKind = "missing_type"
	ErrKindUnknownType DecodeErrorKind = "unknown_type"
	ErrKindBadPayload  DecodeErrorKind = "bad_payload"
)

// DecodeError is returned by Decode for any buffer that is not a valid
// serialized Message.
type DecodeError struct {
	Kind   DecodeErrorKind
	Offset int // byte offset where decoding failed
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("decode %s at offset %d", e.Kind, e.Offset)
	}
	return fmt.Sprintf("decode %s at offset %d: %v", e.Kind, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ErrEncodeType is returned when encoding a message whose type is not valid.
var ErrEncodeType = errors.New("invalid message type")

// DecodeErrorKindOf extracts the kind of a decode error, or "" if err is
// not a DecodeError.
func DecodeErrorKindOf(err error) DecodeErrorKind {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
