package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/rocketscienceinc/tictactoe-server/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-server/internal/entity"
	"github.com/rocketscienceinc/tictactoe-server/internal/protocol"
	"github.com/rocketscienceinc/tictactoe-server/internal/tictactoe"
)

// Conn is a framed, bidirectional client connection.
type Conn interface {
	// ReadFrame blocks for the next complete frame.
	ReadFrame() ([]byte, error)
	// WriteFrame writes one frame. It is only ever called from one goroutine.
	WriteFrame(frame []byte) error
	Close() error
}

type matchmaker interface {
	Join(ctx context.Context, player *entity.Player, peer tictactoe.Peer) (*tictactoe.Match, error)
	Leave(ctx context.Context, match *tictactoe.Match, player *entity.Player)
	Sync(ctx context.Context, match *tictactoe.Match)
}

// Session serves one client connection from PLAY until the connection ends.
//
// The reader runs on the goroutine calling Run. Outbound frames go through a
// bounded outbox drained by a writer goroutine, so Send never blocks the
// match that calls it.
type Session struct {
	ID string

	logger     *slog.Logger
	conn       Conn
	matchmaker matchmaker

	mu      sync.Mutex
	outbox  chan []byte
	closing bool
	written chan struct{}

	// owned by the reader goroutine
	player *entity.Player
	match  *tictactoe.Match

	handlers map[protocol.Type]func(ctx context.Context, msg protocol.Message)
}

func New(logger *slog.Logger, conn Conn, matchmaker matchmaker, outboxSize int) *Session {
	id := uuid.NewString()

	session := &Session{
		ID: id,

		logger:     logger.With("component", "session", "session_id", id),
		conn:       conn,
		matchmaker: matchmaker,

		outbox:  make(chan []byte, outboxSize),
		written: make(chan struct{}),

		handlers: make(map[protocol.Type]func(context.Context, protocol.Message)),
	}

	session.handlers[protocol.Play] = session.handlePlay

	return session
}

// Run serves the connection until the client goes away, the connection is
// closed, or a frame cannot be parsed. Leaving the match happens on the way
// out, so a dropped client always counts as a disconnect.
func (that *Session) Run(ctx context.Context) {
	log := that.logger.With("method", "Run")

	go that.writeLoop()

	that.readLoop(ctx)

	// cleanup must still reach storage after the server context is cancelled
	cleanup := context.WithoutCancel(ctx)
	if that.player != nil {
		that.matchmaker.Leave(cleanup, that.match, that.player)
	}

	that.Finish()
	<-that.written

	log.Info("session closed")
}

// Send queues msg for the client. It never blocks: a client too slow to keep
// its outbox below the limit is cut off.
func (that *Session) Send(msg protocol.Message) {
	frame, err := msg.Encode()
	if err != nil {
		that.logger.Error("failed to encode message", "type", msg.Type, "error", err)
		return
	}

	that.mu.Lock()
	defer that.mu.Unlock()

	if that.closing {
		return
	}

	select {
	case that.outbox <- frame:
	default:
		that.logger.Warn("outbox full, dropping client", "type", msg.Type)
		that.closing = true
		close(that.outbox)
		_ = that.conn.Close()
	}
}

// Finish lets the writer flush what is queued and then close the connection.
func (that *Session) Finish() {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.closing {
		return
	}

	that.closing = true
	close(that.outbox)
}

// Close drops the connection without flushing. The reader then winds the
// session down.
func (that *Session) Close() error {
	return that.conn.Close() //nolint: wrapcheck // transport error as is
}

func (that *Session) readLoop(ctx context.Context) {
	log := that.logger.With("method", "readLoop")

	for {
		frame, err := that.conn.ReadFrame()
		if err != nil {
			switch {
			case errors.Is(err, apperror.ErrMalformedMessage):
				log.Warn("malformed frame", "error", err)
				that.reject(apperror.ErrMalformedMessage)
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			default:
				log.Debug("read failed", "error", err)
			}

			return
		}

		msg, err := protocol.Decode(frame)
		if errors.Is(err, apperror.ErrMalformedMessage) {
			log.Warn("malformed frame", "error", err)
			that.reject(apperror.ErrMalformedMessage)

			return
		}

		if err != nil {
			that.reject(err)
			continue
		}

		that.dispatch(ctx, msg)
	}
}

func (that *Session) writeLoop() {
	defer close(that.written)

	var failed bool
	for frame := range that.outbox {
		if failed {
			continue
		}

		if err := that.conn.WriteFrame(frame); err != nil {
			that.logger.Debug("write failed", "error", err)
			failed = true
			_ = that.conn.Close()
		}
	}

	_ = that.conn.Close()
}

func (that *Session) dispatch(ctx context.Context, msg protocol.Message) {
	if handler, ok := that.handlers[msg.Type]; ok {
		handler(ctx, msg)
		return
	}

	if that.match == nil {
		that.reject(apperror.ErrGameIsNotStarted)
		return
	}

	that.match.Handle(that.player.Role, msg)
	that.matchmaker.Sync(ctx, that.match)
}

func (that *Session) handlePlay(ctx context.Context, msg protocol.Message) {
	log := that.logger.With("method", "handlePlay")

	if that.match != nil {
		that.reject(apperror.ErrAlreadyJoined)
		return
	}

	player := &entity.Player{ID: that.ID, Name: msg.Field(0)}

	match, err := that.matchmaker.Join(ctx, player, that)
	switch {
	case errors.Is(err, apperror.ErrNameInUse), errors.Is(err, apperror.ErrInvalidName):
		log.Info("play refused", "player", player.Name, "error", err)
		that.reject(err)
		return
	case err != nil:
		log.Error("failed to join", "player", player.Name, "error", err)
		that.reject(apperror.ErrUnavailable)
		return
	}

	that.player = player
	that.match = match

	log.Info("player joined", "player", player.Name, "match_id", match.ID)
}

func (that *Session) reject(err error) {
	that.Send(protocol.Message{Type: protocol.Invalid, Fields: []string{protocol.Reason(err)}})
}
