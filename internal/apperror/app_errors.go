package apperror

import "errors"

// Wire-level errors.
var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnsupportedType  = errors.New("unsupported message type")
	ErrFieldCount       = errors.New("wrong number of fields")
	ErrMessageTooLong   = errors.New("message too long")
)

// Gameplay errors. The text of each one is the INVL reason the offending client receives.
var (
	ErrOutOfRange        = errors.New("position out of range")
	ErrInvalidPosition   = errors.New("invalid position")
	ErrCellOccupied      = errors.New("that space is occupied")
	ErrNotYourTurn       = errors.New("not your turn")
	ErrWrongRole         = errors.New("not your role")
	ErrGameIsNotStarted  = errors.New("game not started")
	ErrGameFinished      = errors.New("game is already finished")
	ErrDrawPending       = errors.New("draw already pending")
	ErrNoDrawOffer       = errors.New("no draw offer pending")
	ErrOwnDrawOffer      = errors.New("cannot answer your own draw offer")
	ErrInvalidDraw       = errors.New("invalid draw message")
	ErrUnexpectedMessage = errors.New("unexpected message")
)

// Matchmaking errors.
var (
	ErrNameInUse      = errors.New("name already in use")
	ErrInvalidName    = errors.New("invalid name")
	ErrAlreadyJoined  = errors.New("already in a game")
	ErrMatchAbandoned = errors.New("match abandoned by waiting player")
	ErrUnavailable    = errors.New("server unavailable, try again later")
)
