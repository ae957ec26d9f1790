package protocol

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/rocketscienceinc/tictactoe-server/internal/apperror"
)

const (
	separator = '|'

	typeLength = 4

	// MaxLength bounds the LEN field: the body of a frame is at most 255 bytes.
	MaxLength = 255
	maxDigits = 3

	// MaxReasonLength bounds the reason carried by INVL.
	MaxReasonLength = 200

	// MaxFrameSize is the longest possible frame, header included.
	MaxFrameSize = typeLength + 1 + maxDigits + 1 + MaxLength
)

// Encode formats a frame of type t carrying fields.
func Encode(t Type, fields ...string) ([]byte, error) {
	count, ok := fieldCounts[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperror.ErrUnsupportedType, t)
	}

	if len(fields) != count {
		return nil, fmt.Errorf("%w: %s takes %d, got %d", apperror.ErrFieldCount, t, count, len(fields))
	}

	var body strings.Builder
	for _, field := range fields {
		if field == "" || strings.ContainsRune(field, separator) {
			return nil, fmt.Errorf("%w: bad field %q", apperror.ErrMalformedMessage, field)
		}

		body.WriteString(field)
		body.WriteByte(separator)
	}

	if body.Len() > MaxLength {
		return nil, fmt.Errorf("%w: %d bytes", apperror.ErrMessageTooLong, body.Len())
	}

	frame := make([]byte, 0, typeLength+maxDigits+2+body.Len())
	frame = append(frame, t...)
	frame = append(frame, separator)
	frame = strconv.AppendInt(frame, int64(body.Len()), 10)
	frame = append(frame, separator)
	frame = append(frame, body.String()...)

	return frame, nil
}

// Encode formats the message as a frame.
func (that Message) Encode() ([]byte, error) {
	return Encode(that.Type, that.Fields...)
}

// Decode parses one complete frame.
//
// Framing problems (missing bars, bad LEN, LEN disagreeing with the body, a
// body not ending in a bar) fail with ErrMalformedMessage. A well framed
// message of an unknown type fails with ErrUnsupportedType, and a known type
// with the wrong number of fields fails with ErrFieldCount.
func Decode(frame []byte) (Message, error) {
	t, length, body, err := splitHeader(frame)
	if err != nil {
		return Message{}, err
	}

	if len(body) != length {
		return Message{}, fmt.Errorf("%w: declared %d bytes, got %d", apperror.ErrMalformedMessage, length, len(body))
	}

	var fields []string
	if length > 0 {
		if body[len(body)-1] != separator {
			return Message{}, fmt.Errorf("%w: missing trailing bar", apperror.ErrMalformedMessage)
		}

		fields = strings.Split(string(body[:len(body)-1]), string(separator))
		for _, field := range fields {
			if field == "" {
				return Message{}, fmt.Errorf("%w: empty field", apperror.ErrMalformedMessage)
			}
		}
	}

	count, ok := fieldCounts[t]
	if !ok {
		return Message{}, fmt.Errorf("%w: %q", apperror.ErrUnsupportedType, t)
	}

	if len(fields) != count {
		return Message{}, fmt.Errorf("%w: %s takes %d, got %d", apperror.ErrFieldCount, t, count, len(fields))
	}

	return Message{Type: t, Fields: fields}, nil
}

// splitHeader validates TYPE|LEN| and returns the remainder of the frame.
func splitHeader(frame []byte) (Type, int, []byte, error) {
	if len(frame) < typeLength+1 || frame[typeLength] != separator {
		return "", 0, nil, fmt.Errorf("%w: bad type field", apperror.ErrMalformedMessage)
	}

	t, err := parseType(frame[:typeLength])
	if err != nil {
		return "", 0, nil, err
	}

	rest := frame[typeLength+1:]

	end := bytes.IndexByte(rest, separator)
	if end < 0 {
		return "", 0, nil, fmt.Errorf("%w: missing length terminator", apperror.ErrMalformedMessage)
	}

	length, err := parseLength(rest[:end])
	if err != nil {
		return "", 0, nil, err
	}

	return t, length, rest[end+1:], nil
}

func parseType(raw []byte) (Type, error) {
	for _, c := range raw {
		if c < 'A' || c > 'Z' {
			return "", fmt.Errorf("%w: type %q", apperror.ErrMalformedMessage, raw)
		}
	}

	return Type(raw), nil
}

func parseLength(raw []byte) (int, error) {
	if len(raw) == 0 || len(raw) > maxDigits {
		return 0, fmt.Errorf("%w: length %q", apperror.ErrMalformedMessage, raw)
	}

	for _, c := range raw {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: length %q", apperror.ErrMalformedMessage, raw)
		}
	}

	length, err := strconv.Atoi(string(raw))
	if err != nil || length > MaxLength {
		return 0, fmt.Errorf("%w: length %q", apperror.ErrMalformedMessage, raw)
	}

	return length, nil
}
