package suppression

import (
	"strings"

	"github.com/inferloop/dart/pkg/table"
)

// State describes how a key component takes part in a cell's granularity.
type State uint8

const (
	// Absent marks a column that is not part of the cell's granularity.
	Absent State = iota
	// Missing is a null category in the input. It groups like any other value.
	Missing
	// Present carries a real category value.
	Present
)

// Category is one component of a cell key.
type Category struct {
	State State
	Value string
}

// CategoryOf converts an input value into a key component.
func CategoryOf(v table.Value) Category {
	if !v.Valid || v.Str == "" {
		return Category{State: Missing}
	}
	return Category{State: Present, Value: v.Str}
}

// Table renders the component as a table value. Absent and Missing are null.
func (c Category) Table() table.Value {
	if c.State != Present {
		return table.Null()
	}
	return table.S(c.Value)
}

func (c Category) String() string {
	switch c.State {
	case Present:
		return c.Value
	case Missing:
		return "<null>"
	default:
		return "*"
	}
}

// Key holds one component per organization column followed by one per
// sensitive column.
type Key []Category

// Project keeps the listed positions and marks every other position Absent.
func (k Key) Project(positions []int) Key {
	out := make(Key, len(k))
	for _, p := range positions {
		out[p] = k[p]
	}
	return out
}

// Covers reports whether none of the listed positions is Absent.
func (k Key) Covers(positions []int) bool {
	for _, p := range positions {
		if k[p].State == Absent {
			return false
		}
	}
	return true
}

// encode builds a map key over the listed positions.
func (k Key) encode(positions []int) string {
	var b strings.Builder
	for _, p := range positions {
		c := k[p]
		b.WriteByte(byte('0' + c.State))
		b.WriteString(c.Value)
		b.WriteByte(0x1f)
	}
	return b.String()
}

func (k Key) String() string {
	parts := make([]string, len(k))
	for i, c := range k {
		parts[i] = c.String()
	}
	return strings.Join(parts, " / ")
}

func compareKeys(a, b Key) int {
	for i := range a {
		if a[i].State != b[i].State {
			if a[i].State < b[i].State {
				return -1
			}
			return 1
		}
		if c := strings.Compare(a[i].Value, b[i].Value); c != 0 {
			return c
		}
	}
	return 0
}

func allPositions(width int) []int {
	out := make([]int, width)
	for i := range out {
		out[i] = i
	}
	return out
}
