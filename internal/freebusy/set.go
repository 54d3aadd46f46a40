package freebusy

import (
	"fmt"
	"iter"
	"slices"

	"freecal/internal/model"
)

// Set is the free time left in one day: sorted, disjoint, non-empty
// intervals inside FullDay.
//
// A Set is owned by a single session and is not safe for concurrent use.
type Set struct {
	free []Interval
}

// NewSet returns a Set where the whole day is free.
func NewSet() *Set {
	return &Set{free: []Interval{FullDay}}
}

// Fold removes busy from the set.
//
// Each free interval is classified against busy: untouched when they do not
// overlap, split when busy sits strictly inside, shrunk when busy covers only
// its head or tail, dropped when busy covers it. Boundaries equal to busy's
// are consumed, so no zero-length interval is ever kept.
//
// The replacement is built from the current intervals and swapped in once
// the whole set has been scanned. An invalid busy interval leaves the set
// unchanged.
func (s *Set) Fold(busy Interval) error {
	if err := busy.Validate(); err != nil {
		return err
	}
	next := make([]Interval, 0, len(s.free)+1)
	for _, free := range s.free {
		next = append(next, subtract(free, busy)...)
	}
	s.free = next
	return nil
}

// Len returns the number of free intervals.
func (s *Set) Len() int { return len(s.free) }

// Empty reports whether the day is fully booked.
func (s *Set) Empty() bool { return len(s.free) == 0 }

// Intervals returns a copy of the free intervals in ascending order.
func (s *Set) Intervals() []Interval {
	return slices.Clone(s.free)
}

// All yields the free intervals in ascending order.
func (s *Set) All() iter.Seq[Interval] {
	return func(yield func(Interval) bool) {
		for _, iv := range s.free {
			if !yield(iv) {
				return
			}
		}
	}
}

// FreeSeconds is the total free time in seconds.
func (s *Set) FreeSeconds() int {
	total := 0
	for _, iv := range s.free {
		total += iv.End.Seconds() - iv.Start.Seconds()
	}
	return total
}

// Check verifies the set invariants and returns the first violation.
func (s *Set) Check() error {
	for i, iv := range s.free {
		if err := iv.Validate(); err != nil {
			return fmt.Errorf("free interval %d: %w", i, err)
		}
		if i > 0 && s.free[i-1].End > iv.Start {
			return fmt.Errorf("free intervals %d and %d overlap or are unsorted: %s %s", i-1, i, s.free[i-1], iv)
		}
	}
	return nil
}

// String renders the set as "{(s,e),(s,e)}".
func (s *Set) String() string {
	out := "{"
	for i, iv := range s.free {
		if i > 0 {
			out += ","
		}
		out += iv.String()
	}
	return out + "}"
}

// Emit yields one Slot per free interval, ascending by start, carrying the
// session's date and time zone label. A fully booked day yields nothing.
// Emission does not change the set, so the sequence can be ranged over again.
func Emit(date, tzid string, s *Set) iter.Seq[model.Slot] {
	return func(yield func(model.Slot) bool) {
		for iv := range s.All() {
			slot := model.Slot{Date: date, TZID: tzid, Start: iv.Start, End: iv.End}
			if !yield(slot) {
				return
			}
		}
	}
}
