package websocket

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/tictactoe-server/internal/repository"
	"github.com/rocketscienceinc/tictactoe-server/internal/usecase"
)

const ioTimeout = 2 * time.Second

func start(t *testing.T) string {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	matchmaker := usecase.NewMatchmaker(logger, repository.NewMemoryNameRepository(), repository.NewMemoryMatchRepository(0))
	server := New(logger, matchmaker, Options{WriteTimeout: time.Second, OutboxSize: 16})

	ts := httptest.NewServer(server.Handler(context.Background()))
	t.Cleanup(func() {
		server.Shutdown()
		ts.Close()
	})

	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = resp.Body.Close()
		_ = ws.Close()
	})

	return ws
}

func send(t *testing.T, ws *websocket.Conn, frame string) {
	t.Helper()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func expect(t *testing.T, ws *websocket.Conn, frame string) {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(ioTimeout)))

	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, frame, string(data))
}

func expectClosed(t *testing.T, ws *websocket.Conn) {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(ioTimeout)))

	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "timeout")
}

func TestServer_Match(t *testing.T) {
	// Given: two bridged clients
	url := start(t)
	alice := dial(t, url)
	bob := dial(t, url)

	// When: they join and Alice plays then resigns
	send(t, alice, "PLAY|6|Alice|")
	expect(t, alice, "WAIT|0|")

	send(t, bob, "PLAY|4|Bob|")
	expect(t, alice, "BEGN|6|X|Bob|")
	expect(t, bob, "BEGN|8|O|Alice|")

	send(t, alice, "MOVE|6|X|3,1|")
	expect(t, alice, "MOVD|16|X|3,1|......X..|")
	expect(t, bob, "MOVD|16|X|3,1|......X..|")

	send(t, alice, "RSGN|0|")

	// Then: the outcome arrives and both sockets are closed
	expect(t, alice, "OVER|17|L|Alice resigned|")
	expect(t, bob, "OVER|17|W|Alice resigned|")
	expectClosed(t, alice)
	expectClosed(t, bob)
}

func TestServer_OneFramePerMessage(t *testing.T) {
	url := start(t)
	ws := dial(t, url)

	t.Run("Schema error keeps the socket", func(t *testing.T) {
		send(t, ws, "MOVE|2|X|")
		expect(t, ws, "INVL|44|wrong number of fields: MOVE takes 2, got 1|")
	})

	t.Run("Two frames in one message are malformed", func(t *testing.T) {
		send(t, ws, "PLAY|6|Alice|WAIT|0|")
		expect(t, ws, "INVL|18|malformed message|")
		expectClosed(t, ws)
	})
}
