package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/rocketscienceinc/tictactoe-server/internal/apperror"
)

// Reader splits a byte stream into frames. Partial reads are buffered until a
// whole frame, as declared by its LEN field, has arrived.
type Reader struct {
	reader *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{reader: bufio.NewReaderSize(r, MaxFrameSize)}
}

// ReadFrame returns the next complete frame. A stream that ends between
// frames yields io.EOF; one that ends mid-frame yields io.ErrUnexpectedEOF.
// Input that cannot be framed yields ErrMalformedMessage.
func (that *Reader) ReadFrame() ([]byte, error) {
	header := make([]byte, typeLength+1)
	if _, err := io.ReadFull(that.reader, header); err != nil {
		return nil, err //nolint: wrapcheck // io.EOF must reach the caller untouched
	}

	if header[typeLength] != separator {
		return nil, fmt.Errorf("%w: bad type field %q", apperror.ErrMalformedMessage, header)
	}

	if _, err := parseType(header[:typeLength]); err != nil {
		return nil, err
	}

	digits := make([]byte, 0, maxDigits)
	for {
		c, err := that.reader.ReadByte()
		if err != nil {
			return nil, unexpected(err)
		}

		if c == separator {
			break
		}

		if len(digits) == maxDigits {
			return nil, fmt.Errorf("%w: length field too long", apperror.ErrMalformedMessage)
		}

		digits = append(digits, c)
	}

	length, err := parseLength(digits)
	if err != nil {
		return nil, err
	}

	body := make([]byte, length)
	if _, err = io.ReadFull(that.reader, body); err != nil {
		return nil, unexpected(err)
	}

	if length > 0 && body[length-1] != separator {
		return nil, fmt.Errorf("%w: missing trailing bar", apperror.ErrMalformedMessage)
	}

	frame := make([]byte, 0, len(header)+len(digits)+1+length)
	frame = append(frame, header...)
	frame = append(frame, digits...)
	frame = append(frame, separator)
	frame = append(frame, body...)

	return frame, nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}

	return err
}
