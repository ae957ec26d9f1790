package websocket

import (
	"fmt"
	"io"
	"time"

	"github.com/gorilla/websocket"
)

// conn carries exactly one frame per text message.
type conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

func (that *conn) ReadFrame() ([]byte, error) {
	_, data, err := that.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}

		return nil, fmt.Errorf("failed to read message: %w", err)
	}

	return data, nil
}

func (that *conn) WriteFrame(frame []byte) error {
	if that.writeTimeout > 0 {
		if err := that.ws.SetWriteDeadline(time.Now().Add(that.writeTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}

	if err := that.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

func (that *conn) Close() error {
	return that.ws.Close() //nolint: wrapcheck // transport error as is
}
