package tictactoe

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rocketscienceinc/tictactoe-server/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-server/internal/entity"
	"github.com/rocketscienceinc/tictactoe-server/internal/protocol"
)

// Peer is the outbound half of a player's connection. Send must not block:
// the match calls it while holding its lock.
type Peer interface {
	Send(msg protocol.Message)
	// Finish flushes what was sent so far and then closes the connection.
	Finish()
}

type seat struct {
	player    *entity.Player
	peer      Peer
	connected bool
}

type handler func(from *seat, msg protocol.Message) (bool, error)

// Match is one game between two seats. Every exported method takes the
// match lock, so at most one transition runs at a time no matter how many
// sessions call in.
type Match struct {
	ID string

	logger *slog.Logger

	// observeMu orders Observe callbacks; it is never taken while mu is held.
	observeMu sync.Mutex

	mu        sync.Mutex
	board     entity.Board
	seats     [2]*seat
	turn      entity.Role
	phase     entity.Phase
	drawOffer entity.Role
	moves     int

	handlers map[protocol.Type]handler
}

// NewMatch creates a match awaiting an opponent, with player seated as X.
func NewMatch(logger *slog.Logger, id string, player *entity.Player, peer Peer) *Match {
	player.Role = entity.RoleX

	match := &Match{
		ID:     id,
		logger: logger.With("component", "match", "match_id", id),

		board: entity.NewBoard(),
		turn:  entity.RoleX,
		phase: entity.PhaseAwaitingOpponent,

		handlers: make(map[protocol.Type]handler),
	}

	match.seats[entity.RoleX.Slot()] = &seat{player: player, peer: peer, connected: true}

	match.handlers[protocol.Move] = match.handleMove
	match.handlers[protocol.Resign] = match.handleResign
	match.handlers[protocol.Draw] = match.handleDraw

	match.logger.Info("match created", "player", player.Name)

	return match
}

// Seat fills the O slot and starts the game. It fails with ErrMatchAbandoned
// when the match is no longer waiting, e.g. because X already left.
func (that *Match) Seat(player *entity.Player, peer Peer) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.phase != entity.PhaseAwaitingOpponent {
		return fmt.Errorf("%w: match %s is %s", apperror.ErrMatchAbandoned, that.ID, that.phase)
	}

	player.Role = entity.RoleO
	that.seats[entity.RoleO.Slot()] = &seat{player: player, peer: peer, connected: true}
	that.phase = entity.PhaseInProgress

	x, o := that.seatOf(entity.RoleX), that.seatOf(entity.RoleO)
	that.send(x, protocol.Begin, entity.RoleX.String(), o.player.Name)
	that.send(o, protocol.Begin, entity.RoleO.String(), x.player.Name)

	that.logger.Info("match started", "x", x.player.Name, "o", o.player.Name)

	return nil
}

// Handle applies a client message from the player holding role. Gameplay
// errors are answered with INVL to that player only and leave the state as
// it was. It reports whether this message concluded the match.
func (that *Match) Handle(role entity.Role, msg protocol.Message) bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	from := that.seatOf(role)
	if from == nil {
		return false
	}

	var err error
	switch that.phase {
	case entity.PhaseAwaitingOpponent:
		err = apperror.ErrGameIsNotStarted
	case entity.PhaseConcluded:
		err = apperror.ErrGameFinished
	case entity.PhaseInProgress:
		h, ok := that.handlers[msg.Type]
		if !ok {
			err = fmt.Errorf("%w: %s", apperror.ErrUnexpectedMessage, msg.Type)
			break
		}

		var concluded bool
		if concluded, err = h(from, msg); err == nil {
			return concluded
		}
	}

	that.logger.Debug("message rejected", "player", from.player.Name, "type", msg.Type, "error", err)
	that.reject(from, err)

	return false
}

// Disconnect handles the loss of role's connection. A waiting match is
// discarded silently; a running one is won by the opponent. It reports
// whether this call ended the match.
func (that *Match) Disconnect(role entity.Role) bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	gone := that.seatOf(role)
	if gone == nil {
		return false
	}

	gone.connected = false

	switch that.phase {
	case entity.PhaseAwaitingOpponent:
		that.phase = entity.PhaseConcluded
		that.logger.Info("match discarded", "player", gone.player.Name)
		return true
	case entity.PhaseInProgress:
		that.conclude(role.Opponent(), gone.player.Name+" disconnected")
		return true
	default:
		return false
	}
}

// Phase returns the current state-machine state.
func (that *Match) Phase() entity.Phase {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.phase
}

// Observe calls fn with a fresh snapshot. Calls for one match never overlap
// and see snapshots in the order the state changed, so fn may mirror the
// match to storage without a late call overwriting a newer state.
func (that *Match) Observe(fn func(snapshot entity.MatchSnapshot)) {
	that.observeMu.Lock()
	defer that.observeMu.Unlock()

	fn(that.Snapshot())
}

// Snapshot copies the match state.
func (that *Match) Snapshot() entity.MatchSnapshot {
	that.mu.Lock()
	defer that.mu.Unlock()

	snapshot := entity.MatchSnapshot{
		ID:            that.ID,
		Board:         that.board.String(),
		Turn:          that.turn.String(),
		Phase:         that.phase,
		Moves:         that.moves,
		DrawOfferedBy: that.drawOffer.String(),
	}

	for _, s := range that.seats {
		if s != nil {
			snapshot.Players = append(snapshot.Players, entity.PlayerSnapshot{
				ID:   s.player.ID,
				Name: s.player.Name,
				Role: s.player.Role.String(),
			})
		}
	}

	return snapshot
}

func (that *Match) handleMove(from *seat, msg protocol.Message) (bool, error) {
	role, ok := entity.ParseRole(msg.Field(0))
	if !ok || role != from.player.Role {
		return false, apperror.ErrWrongRole
	}

	if role != that.turn {
		return false, apperror.ErrNotYourTurn
	}

	index, err := entity.ParsePosition(msg.Field(1))
	if err != nil {
		return false, err //nolint: wrapcheck // already carries the position
	}

	board, err := that.board.ApplyMove(index, role)
	if err != nil {
		return false, err //nolint: wrapcheck // sentinel from the board
	}

	that.board = board
	that.turn = role.Opponent()
	that.moves++

	that.broadcast(protocol.Moved, role.String(), entity.FormatPosition(index), board.String())
	that.logger.Info("move applied", "role", role.String(), "cell", index, "board", board.String())

	switch {
	case board.CheckWin():
		that.conclude(role, from.player.Name+" won")
		return true, nil
	case board.CheckDraw():
		that.concludeDraw("the board is full")
		return true, nil
	default:
		return false, nil
	}
}

func (that *Match) handleResign(from *seat, _ protocol.Message) (bool, error) {
	that.conclude(from.player.Role.Opponent(), from.player.Name+" resigned")
	return true, nil
}

func (that *Match) handleDraw(from *seat, msg protocol.Message) (bool, error) {
	role := from.player.Role
	opponent := that.seatOf(role.Opponent())

	switch msg.Field(0) {
	case protocol.DrawSuggest:
		if that.drawOffer != entity.RoleNone {
			return false, apperror.ErrDrawPending
		}

		that.drawOffer = role
		that.send(opponent, protocol.Draw, protocol.DrawSuggest)
		that.logger.Info("draw offered", "by", from.player.Name)

		return false, nil
	case protocol.DrawAccept, protocol.DrawReject:
		if that.drawOffer == entity.RoleNone {
			return false, apperror.ErrNoDrawOffer
		}

		if that.drawOffer == role {
			return false, apperror.ErrOwnDrawOffer
		}

		that.drawOffer = entity.RoleNone

		if msg.Field(0) == protocol.DrawAccept {
			that.concludeDraw("draw agreed")
			return true, nil
		}

		that.send(opponent, protocol.Draw, protocol.DrawReject)
		that.logger.Info("draw rejected", "by", from.player.Name)

		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", apperror.ErrInvalidDraw, msg.Field(0))
	}
}

// conclude ends the match with winner taking W and the other seat L.
func (that *Match) conclude(winner entity.Role, reason string) {
	that.phase = entity.PhaseConcluded
	that.drawOffer = entity.RoleNone

	that.send(that.seatOf(winner), protocol.Over, protocol.OutcomeWin, reason)
	that.send(that.seatOf(winner.Opponent()), protocol.Over, protocol.OutcomeLoss, reason)
	that.finish()

	that.logger.Info("match concluded", "winner", winner.String(), "reason", reason)
}

func (that *Match) concludeDraw(reason string) {
	that.phase = entity.PhaseConcluded
	that.drawOffer = entity.RoleNone

	that.broadcast(protocol.Over, protocol.OutcomeDraw, reason)
	that.finish()

	that.logger.Info("match concluded", "outcome", protocol.OutcomeDraw, "reason", reason)
}

func (that *Match) finish() {
	for _, s := range that.seats {
		if s != nil && s.connected {
			s.peer.Finish()
		}
	}
}

func (that *Match) reject(to *seat, err error) {
	that.send(to, protocol.Invalid, protocol.Reason(err))
}

func (that *Match) broadcast(t protocol.Type, fields ...string) {
	for _, s := range that.seats {
		that.send(s, t, fields...)
	}
}

func (that *Match) send(to *seat, t protocol.Type, fields ...string) {
	if to == nil || !to.connected {
		return
	}

	to.peer.Send(protocol.Message{Type: t, Fields: fields})
}

func (that *Match) seatOf(role entity.Role) *seat {
	if role != entity.RoleX && role != entity.RoleO {
		return nil
	}

	return that.seats[role.Slot()]
}

// IsAbandoned reports whether err means the waiting player left before the
// match could start.
func IsAbandoned(err error) bool {
	return errors.Is(err, apperror.ErrMatchAbandoned)
}
