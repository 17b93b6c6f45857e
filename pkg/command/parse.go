package command

import (
	"bytes"

	"github.com/itohio/vendmotor/pkg/grid"
)

// Action is the verb of a command.
type Action int

const (
	ActionUnknown Action = iota
	ActionDispense
	ActionStop
	ActionTest
	ActionReset
	ActionSendMatrix
	ActionHome
)

// Delimiter separates the action keyword from the cell.
const Delimiter = ';'

// keywords are matched exactly and case sensitively.
var keywords = [...]struct {
	word   string
	action Action
}{
	{"disp", ActionDispense},
	{"stop", ActionStop},
	{"test", ActionTest},
	{"rst", ActionReset},
	{"send", ActionSendMatrix},
	{"home", ActionHome},
}

func (a Action) String() string {
	for _, k := range keywords {
		if k.action == a {
			return k.word
		}
	}
	return "unknown"
}

// Parsed is a command split into action and optional target.
type Parsed struct {
	Action Action
	// Keyword is the action text as received, also for unknown actions.
	Keyword string
	// Row is the validated row, NoRow when absent or invalid.
	Row grid.Row
	// Col is the raw column character, NoCol when absent.
	Col grid.Col
	// RawRow is the row character as received, 0 when absent.
	RawRow byte
}

// HasRow reports whether a valid row was given.
func (p Parsed) HasRow() bool { return p.Row.Valid() }

// HasCol reports whether any column character was given.
func (p Parsed) HasCol() bool { return p.Col.Present() }

// Cell returns the targeted cell; it may be invalid.
func (p Parsed) Cell() grid.Cell { return grid.Cell{Row: p.Row, Col: p.Col} }

// Target formats the row and column exactly as received, for INVALID CELL replies.
func (p Parsed) Target() string {
	var b []byte
	if p.RawRow != 0 {
		b = append(b, p.RawRow)
	}
	if p.Col != grid.NoCol {
		b = append(b, byte(p.Col))
	}
	return string(b)
}

// Parse splits a command of the form "action;RC". ok is false when the
// delimiter is missing. Unknown keywords parse with ActionUnknown.
func Parse(text []byte) (p Parsed, ok bool) {
	i := bytes.IndexByte(text, Delimiter)
	if i < 0 {
		return Parsed{}, false
	}

	p.Keyword = string(text[:i])
	for _, k := range keywords {
		if k.word == p.Keyword {
			p.Action = k.action
			break
		}
	}

	rest := text[i+1:]
	if len(rest) > 0 {
		p.RawRow = rest[0]
		p.Row = grid.ValidateRow(rest[0])
	}
	if len(rest) > 1 {
		p.Col = grid.Col(rest[1])
	}
	return p, true
}
