package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rocketscienceinc/tictactoe-server/internal/entity"
	"github.com/rocketscienceinc/tictactoe-server/internal/protocol"
	"github.com/rocketscienceinc/tictactoe-server/internal/session"
	"github.com/rocketscienceinc/tictactoe-server/internal/tictactoe"
)

type matchmaker interface {
	Join(ctx context.Context, player *entity.Player, peer tictactoe.Peer) (*tictactoe.Match, error)
	Leave(ctx context.Context, match *tictactoe.Match, player *entity.Player)
	Sync(ctx context.Context, match *tictactoe.Match)
}

type Options struct {
	WriteTimeout time.Duration
	OutboxSize   int
}

// Server bridges WebSocket clients onto the line protocol: every text
// message holds one frame, in both directions.
type Server struct {
	logger     *slog.Logger
	matchmaker matchmaker
	options    Options

	upgrader websocket.Upgrader
	sessions *session.Group
}

func New(logger *slog.Logger, matchmaker matchmaker, options Options) *Server {
	return &Server{
		logger:     logger.With("component", "websocket"),
		matchmaker: matchmaker,
		options:    options,

		upgrader: websocket.Upgrader{
			ReadBufferSize:  protocol.MaxFrameSize,
			WriteBufferSize: protocol.MaxFrameSize,
			CheckOrigin:     func(_ *http.Request) bool { return true },
		},
		sessions: session.NewGroup(),
	}
}

// Handler routes /ws to the bridge. Sessions live until ctx is cancelled or
// Shutdown is called.
func (that *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		that.upgradeToWebSocket(ctx, w, r)
	})

	return mux
}

// Start - starts WebSocket server and serves until ctx is cancelled.
func (that *Server) Start(ctx context.Context, port string) error {
	log := that.logger.With("method", "Start")

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           that.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to shut down http server", "error", err)
		}
	})
	defer stop()

	log.Info("accepting connections", "port", port)

	err := srv.ListenAndServe()
	that.Shutdown()

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown closes every bridged session and waits for them to end.
func (that *Server) Shutdown() {
	that.sessions.Shutdown()
}

// upgradeToWebSocket - upgrades the connection and hands it to a session.
func (that *Server) upgradeToWebSocket(ctx context.Context, writer http.ResponseWriter, req *http.Request) {
	log := that.logger.With("method", "upgradeToWebSocket")

	ws, err := that.upgrader.Upgrade(writer, req, nil)
	if err != nil {
		log.Error("failed to upgrade connection", "error", err)
		return
	}

	ws.SetReadLimit(protocol.MaxFrameSize)

	s := session.New(that.logger, &conn{ws: ws, writeTimeout: that.options.WriteTimeout}, that.matchmaker, that.options.OutboxSize)
	log.Info("WebSocket connection established", "session_id", s.ID, "remote", req.RemoteAddr)

	that.sessions.Go(ctx, s)
}
