// Package protocol implements the bar-delimited wire format spoken between the
// game server and its clients: TYPE|LEN|field1|field2|...|
package protocol

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Type is the four-letter code opening every frame.
type Type string

const (
	Play    Type = "PLAY"
	Wait    Type = "WAIT"
	Begin   Type = "BEGN"
	Move    Type = "MOVE"
	Moved   Type = "MOVD"
	Invalid Type = "INVL"
	Resign  Type = "RSGN"
	Draw    Type = "DRAW"
	Over    Type = "OVER"
)

// Draw subcommands.
const (
	DrawSuggest = "S"
	DrawAccept  = "A"
	DrawReject  = "R"
)

// Outcomes carried by OVER, relative to the recipient.
const (
	OutcomeWin  = "W"
	OutcomeLoss = "L"
	OutcomeDraw = "D"
)

// fieldCounts is the schema of every known message type.
var fieldCounts = map[Type]int{
	Play:    1,
	Wait:    0,
	Begin:   2,
	Move:    2,
	Moved:   3,
	Invalid: 1,
	Resign:  0,
	Draw:    1,
	Over:    2,
}

// Message is a decoded frame. It is never mutated after construction.
type Message struct {
	Type   Type
	Fields []string
}

// Field returns the i-th field, or an empty string when it is absent.
func (that Message) Field(i int) string {
	if i < 0 || i >= len(that.Fields) {
		return ""
	}

	return that.Fields[i]
}

func (that Message) String() string {
	return fmt.Sprintf("%s%v", that.Type, that.Fields)
}

// Reason turns err into the free-text field of an INVL. Bars become slashes
// and the text is cut to MaxReasonLength bytes without splitting a rune.
func Reason(err error) string {
	reason := strings.ToValidUTF8(err.Error(), "?")
	reason = strings.ReplaceAll(reason, string(separator), "/")

	if len(reason) <= MaxReasonLength {
		return reason
	}

	cut := MaxReasonLength
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}

	return reason[:cut]
}
