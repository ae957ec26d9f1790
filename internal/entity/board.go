package entity

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rocketscienceinc/tictactoe-server/internal/apperror"
)

// Role is the mark a player places. X always moves first.
type Role byte

const (
	RoleNone Role = 0
	RoleX    Role = 'X'
	RoleO    Role = 'O'
)

// ParseRole accepts "X" or "O".
func ParseRole(raw string) (Role, bool) {
	switch raw {
	case "X":
		return RoleX, true
	case "O":
		return RoleO, true
	default:
		return RoleNone, false
	}
}

// Opponent returns the other role.
func (that Role) Opponent() Role {
	if that == RoleX {
		return RoleO
	}
	return RoleX
}

// Slot is the role's index in a match's player slots: X is 0, O is 1.
func (that Role) Slot() int {
	if that == RoleO {
		return 1
	}
	return 0
}

func (that Role) String() string {
	if that == RoleNone {
		return ""
	}
	return string(that)
}

// Cell is one square of the grid.
type Cell byte

const (
	EmptyCell Cell = '.'
	CellX     Cell = 'X'
	CellO     Cell = 'O'
)

const (
	BoardSide  = 3
	BoardCells = BoardSide * BoardSide
)

var WinCombos = [][3]int{
	{0, 1, 2},
	{3, 4, 5},
	{6, 7, 8},
	{0, 3, 6},
	{1, 4, 7},
	{2, 5, 8},
	{0, 4, 8},
	{2, 4, 6},
}

// Board is the 3x3 grid, row-major. It is a value type: ApplyMove returns a
// new board and never touches the receiver.
type Board [BoardCells]Cell

func NewBoard() Board {
	var board Board
	for i := range board {
		board[i] = EmptyCell
	}

	return board
}

// ParseBoard reads the nine-character form used by MOVD.
func ParseBoard(raw string) (Board, error) {
	var board Board
	if len(raw) != BoardCells {
		return board, fmt.Errorf("%w: board %q", apperror.ErrMalformedMessage, raw)
	}

	for i := 0; i < BoardCells; i++ {
		switch c := Cell(raw[i]); c {
		case EmptyCell, CellX, CellO:
			board[i] = c
		default:
			return board, fmt.Errorf("%w: board %q", apperror.ErrMalformedMessage, raw)
		}
	}

	return board, nil
}

// ApplyMove places role at index. It fails with ErrCellOccupied when the cell
// is taken and ErrOutOfRange when the index is off the grid; on failure the
// original board is returned.
func (that Board) ApplyMove(index int, role Role) (Board, error) {
	if index < 0 || index >= BoardCells {
		return that, fmt.Errorf("%w: cell %d", apperror.ErrOutOfRange, index)
	}

	if that[index] != EmptyCell {
		return that, apperror.ErrCellOccupied
	}

	next := that
	next[index] = Cell(role)

	return next, nil
}

// Winner returns the role owning a complete line, or RoleNone.
func (that Board) Winner() Role {
	for _, combo := range WinCombos {
		a, b, c := that[combo[0]], that[combo[1]], that[combo[2]]
		if a != EmptyCell && a == b && b == c {
			return Role(a)
		}
	}

	return RoleNone
}

// CheckWin reports whether any row, column or diagonal is complete.
func (that Board) CheckWin() bool {
	return that.Winner() != RoleNone
}

// CheckDraw reports a full board without a winning line. A full board that
// does contain a line is a win, not a draw.
func (that Board) CheckDraw() bool {
	if that.CheckWin() {
		return false
	}

	for _, cell := range that {
		if cell == EmptyCell {
			return false
		}
	}

	return true
}

func (that Board) String() string {
	return string(that[:])
}

// IndexOf maps 1-based row and column to a flat index.
func IndexOf(row, col int) (int, error) {
	if row < 1 || row > BoardSide || col < 1 || col > BoardSide {
		return 0, fmt.Errorf("%w: %d,%d", apperror.ErrOutOfRange, row, col)
	}

	return (row-1)*BoardSide + (col - 1), nil
}

// ParsePosition reads an "r,c" position into a flat index.
func ParsePosition(raw string) (int, error) {
	rowRaw, colRaw, ok := strings.Cut(raw, ",")
	if !ok {
		return 0, fmt.Errorf("%w: %q", apperror.ErrInvalidPosition, raw)
	}

	row, err := strconv.Atoi(rowRaw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", apperror.ErrInvalidPosition, raw)
	}

	col, err := strconv.Atoi(colRaw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", apperror.ErrInvalidPosition, raw)
	}

	return IndexOf(row, col)
}

// FormatPosition is the inverse of ParsePosition.
func FormatPosition(index int) string {
	return fmt.Sprintf("%d,%d", index/BoardSide+1, index%BoardSide+1)
}
