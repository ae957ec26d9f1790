package tcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/rocketscienceinc/tictactoe-server/internal/entity"
	"github.com/rocketscienceinc/tictactoe-server/internal/session"
	"github.com/rocketscienceinc/tictactoe-server/internal/tictactoe"
)

type matchmaker interface {
	Join(ctx context.Context, player *entity.Player, peer tictactoe.Peer) (*tictactoe.Match, error)
	Leave(ctx context.Context, match *tictactoe.Match, player *entity.Player)
	Sync(ctx context.Context, match *tictactoe.Match)
}

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

type Options struct {
	WriteTimeout time.Duration
	OutboxSize   int
}

// Server accepts line-protocol clients and runs one session per connection.
type Server struct {
	logger     *slog.Logger
	matchmaker matchmaker
	options    Options

	sessions *session.Group
}

func New(logger *slog.Logger, matchmaker matchmaker, options Options) *Server {
	return &Server{
		logger:     logger.With("component", "tcp"),
		matchmaker: matchmaker,
		options:    options,

		sessions: session.NewGroup(),
	}
}

// Start - listens on port and serves until ctx is cancelled.
func (that *Server) Start(ctx context.Context, port string) error {
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	return that.Serve(ctx, listener)
}

// Serve accepts on listener until ctx is cancelled or the listener is
// closed. Other accept errors are retried with backoff. On the way out every
// live session is closed, and Serve returns once all of them have wound
// down.
func (that *Server) Serve(ctx context.Context, listener net.Listener) error {
	log := that.logger.With("method", "Serve")

	stop := context.AfterFunc(ctx, func() {
		_ = listener.Close()
	})
	defer stop()

	log.Info("accepting connections", "addr", listener.Addr().String())

	var delay time.Duration

	for {
		c, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				that.sessions.Shutdown()
				log.Info("listener closed")

				return nil
			}

			// e.g. EMFILE: keep the live sessions and try again
			delay = backoff(delay)
			log.Error("failed to accept, retrying", "error", err, "delay", delay)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}

			continue
		}

		delay = 0

		s := session.New(that.logger, newConn(c, that.options.WriteTimeout), that.matchmaker, that.options.OutboxSize)
		log.Debug("connection accepted", "session_id", s.ID, "remote", c.RemoteAddr().String())

		that.sessions.Go(ctx, s)
	}
}

// backoff doubles the accept retry delay up to maxAcceptDelay.
func backoff(delay time.Duration) time.Duration {
	if delay == 0 {
		return minAcceptDelay
	}

	return min(delay*2, maxAcceptDelay)
}
