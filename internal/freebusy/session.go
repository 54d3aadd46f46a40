package freebusy

import (
	"errors"
	"fmt"
	"iter"

	appLog "freecal/internal/log"
	"freecal/internal/model"
)

// ErrDateMismatch is reported for events skipped by a StrictDate session.
var ErrDateMismatch = errors.New("event date differs from session date")

// FoldError reports one event that could not be folded.
type FoldError struct {
	// Index is the event's position in the slice given to Apply.
	Index int
	Event model.Event
	Err   error
}

func (e *FoldError) Error() string {
	return fmt.Sprintf("event %d (%s %s-%s, source %q): %v",
		e.Index, e.Event.Date, e.Event.Start, e.Event.End, e.Event.Source, e.Err)
}

func (e *FoldError) Unwrap() error { return e.Err }

// Session computes the free time of one day. It is created per request,
// folds events in the order they are given, and is discarded after its
// slots are read.
type Session struct {
	Date string
	TZID string

	// StrictDate skips events whose Date is not the session Date.
	StrictDate bool

	set    *Set
	folded int
}

// NewSession starts a session with the whole day free.
func NewSession(date, tzid string) *Session {
	return &Session{
		Date: date,
		TZID: tzid,
		set:  NewSet(),
	}
}

// Apply folds events into the session in order. Rejected events are
// returned as *FoldError values; they never stop the remaining events.
func (s *Session) Apply(events []model.Event) []error {
	var errs []error
	for i, ev := range events {
		if err := s.fold(ev); err != nil {
			appLog.Debug("event rejected", "index", i, "source", ev.Source, "date", ev.Date, "start", ev.Start, "end", ev.End, "reason", err)
			errs = append(errs, &FoldError{Index: i, Event: ev, Err: err})
			continue
		}
		s.folded++
	}
	return errs
}

func (s *Session) fold(ev model.Event) error {
	if s.StrictDate && ev.Date != s.Date {
		return fmt.Errorf("%w: %s", ErrDateMismatch, ev.Date)
	}
	return s.set.Fold(Interval{Start: ev.Start, End: ev.End})
}

// Folded returns how many events have been applied.
func (s *Session) Folded() int { return s.folded }

// Set exposes the session's free intervals.
func (s *Session) Set() *Set { return s.set }

// Slots yields the free intervals as slots of the session day.
func (s *Session) Slots() iter.Seq[model.Slot] {
	return Emit(s.Date, s.TZID, s.set)
}
