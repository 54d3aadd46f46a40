package freebusy

import (
	"errors"
	"fmt"

	"freecal/internal/model"
)

var (
	// ErrDegenerateInterval is returned for intervals whose start is not
	// strictly before their end.
	ErrDegenerateInterval = errors.New("degenerate interval")
	// ErrOutOfRange is returned for intervals with a bound outside
	// [000000, 235959].
	ErrOutOfRange = errors.New("interval out of range")
)

// Interval is a half-open span of one day, [Start, End).
type Interval struct {
	Start model.TimeOfDay
	End   model.TimeOfDay
}

// FullDay is the whole day as a single interval.
var FullDay = Interval{Start: model.StartOfDay, End: model.EndOfDay}

func (iv Interval) String() string {
	return "(" + iv.Start.String() + "," + iv.End.String() + ")"
}

// Validate checks bounds and ordering.
func (iv Interval) Validate() error {
	if !iv.Start.Valid() || !iv.End.Valid() {
		return fmt.Errorf("%w: %s", ErrOutOfRange, iv)
	}
	if iv.Start >= iv.End {
		return fmt.Errorf("%w: %s", ErrDegenerateInterval, iv)
	}
	return nil
}

// Overlaps reports whether iv and other share any span. Touching intervals
// do not overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start < other.End && other.Start < iv.End
}

// subtract returns what is left of free after removing busy. The result has
// zero, one or two intervals, in ascending order, none of them empty.
func subtract(free, busy Interval) []Interval {
	if !free.Overlaps(busy) {
		return []Interval{free}
	}
	out := make([]Interval, 0, 2)
	if free.Start < busy.Start {
		out = append(out, Interval{Start: free.Start, End: busy.Start})
	}
	if busy.End < free.End {
		out = append(out, Interval{Start: busy.End, End: free.End})
	}
	return out
}
