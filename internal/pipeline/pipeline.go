// Package pipeline runs one "find free time" session: load every source,
// parse its records, and fold them into a fresh day.
package pipeline

import (
	"context"
	"fmt"
	"slices"

	"freecal/internal/freebusy"
	"freecal/internal/ics"
	appLog "freecal/internal/log"
	"freecal/internal/model"
)

// Loader returns the raw payload of a source. *ics.Fetcher implements it.
type Loader interface {
	Load(ctx context.Context, src ics.Source) ([]byte, error)
}

// Request describes the day to compute and where its events come from.
type Request struct {
	Date       string
	TZID       string
	StrictDate bool
	Sources    []ics.Source
}

// SourceError reports a source that was skipped.
type SourceError struct {
	Source ics.Source
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %q: %v", e.Source.ID, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Result is the outcome of one session.
type Result struct {
	Date string
	TZID string

	Slots       []model.Slot
	FreeSeconds int

	// Events counts the records parsed across all usable sources; Folded
	// counts those applied to the day.
	Events int
	Folded int

	SourceErrors []error
	EventErrors  []error
}

// Empty reports a fully booked day. It is a valid outcome, not an error.
func (r Result) Empty() bool { return len(r.Slots) == 0 }

// Run computes the free time of req.Date. Sources that cannot be loaded or
// parsed, and events that cannot be folded, are reported in the Result and
// skipped. Run only fails for an invalid date or a cancelled context.
func Run(ctx context.Context, loader Loader, req Request) (Result, error) {
	if _, err := model.ParseDate(req.Date); err != nil {
		return Result{}, err
	}
	res := Result{Date: req.Date, TZID: req.TZID}

	var events []model.Event
	for _, src := range req.Sources {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		body, err := loader.Load(ctx, src)
		if err != nil {
			appLog.Error("source load failed", err, "id", src.ID)
			res.SourceErrors = append(res.SourceErrors, &SourceError{Source: src, Err: err})
			continue
		}
		parsed, err := ics.ParseBody(src, body)
		if err != nil {
			res.SourceErrors = append(res.SourceErrors, &SourceError{Source: src, Err: err})
			continue
		}
		events = append(events, parsed...)
	}
	res.Events = len(events)

	session := freebusy.NewSession(req.Date, req.TZID)
	session.StrictDate = req.StrictDate
	res.EventErrors = session.Apply(events)
	res.Folded = session.Folded()
	res.Slots = slices.Collect(session.Slots())
	res.FreeSeconds = session.Set().FreeSeconds()

	appLog.Info("free time computed",
		"date", req.Date,
		"timezone", req.TZID,
		"sources", len(req.Sources),
		"source_errors", len(res.SourceErrors),
		"events", res.Events,
		"rejected", len(res.EventErrors),
		"free_slots", len(res.Slots),
	)
	return res, nil
}
