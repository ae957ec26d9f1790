package tcp

import (
	"fmt"
	"net"
	"time"

	"github.com/rocketscienceinc/tictactoe-server/internal/protocol"
)

// conn frames a raw TCP stream.
type conn struct {
	net.Conn

	reader       *protocol.Reader
	writeTimeout time.Duration
}

func newConn(c net.Conn, writeTimeout time.Duration) *conn {
	return &conn{
		Conn:         c,
		reader:       protocol.NewReader(c),
		writeTimeout: writeTimeout,
	}
}

func (that *conn) ReadFrame() ([]byte, error) {
	return that.reader.ReadFrame() //nolint: wrapcheck // callers match on io.EOF
}

func (that *conn) WriteFrame(frame []byte) error {
	if that.writeTimeout > 0 {
		if err := that.SetWriteDeadline(time.Now().Add(that.writeTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}

	if _, err := that.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	return nil
}
