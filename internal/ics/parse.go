package ics

import (
	"errors"
	"fmt"
	"strings"

	appLog "freecal/internal/log"
	"freecal/internal/model"
)

// ErrMalformedRecord marks a source whose VEVENT structure cannot be turned
// into complete event records.
var ErrMalformedRecord = errors.New("malformed record")

// RecordError describes where a source broke the record structure.
type RecordError struct {
	Source string
	// Index is the position of the offending pair; len(pairs) when the
	// input ended early.
	Index    int
	Property string
	Reason   string
}

func (e *RecordError) Error() string {
	msg := fmt.Sprintf("%s at pair %d", ErrMalformedRecord, e.Index)
	if e.Source != "" {
		msg = fmt.Sprintf("%s: %s", e.Source, msg)
	}
	if e.Property != "" {
		msg += " (" + e.Property + ")"
	}
	return msg + ": " + e.Reason
}

func (e *RecordError) Unwrap() error { return ErrMalformedRecord }

type openRecord struct {
	ev       model.Event
	begin    int
	hasStart bool
	hasEnd   bool
}

// Parse turns content-line pairs into event records, in order of appearance.
//
// BEGIN:VEVENT opens a record, DTSTART and DTEND fill it, END:VEVENT closes
// it. Other components (VTIMEZONE and its STANDARD/DAYLIGHT parts, VALARM)
// are tracked so their own DTSTART lines are not mistaken for event times.
// Any other property is ignored.
//
// A structural problem fails the whole source with a *RecordError; no
// partial list is returned.
func Parse(source string, pairs []Pair) ([]model.Event, error) {
	var (
		events []model.Event
		cur    *openRecord
		nested []string
	)
	fail := func(i int, prop, reason string) ([]model.Event, error) {
		return nil, &RecordError{Source: source, Index: i, Property: prop, Reason: reason}
	}

	for i, p := range pairs {
		name, params := splitName(p.Name)
		switch name {
		case "BEGIN":
			comp := strings.ToUpper(strings.TrimSpace(p.Value))
			switch {
			case comp == "VCALENDAR":
			case comp == "VEVENT" && cur != nil:
				return fail(i, name, fmt.Sprintf("BEGIN:VEVENT while the record opened at pair %d is still open", cur.begin))
			case comp == "VEVENT" && len(nested) > 0:
				return fail(i, name, "BEGIN:VEVENT inside "+nested[len(nested)-1])
			case comp == "VEVENT":
				cur = &openRecord{begin: i, ev: model.Event{Source: source}}
			default:
				nested = append(nested, comp)
			}

		case "END":
			comp := strings.ToUpper(strings.TrimSpace(p.Value))
			switch {
			case comp == "VCALENDAR":
			case comp == "VEVENT":
				if len(nested) > 0 {
					return fail(i, name, "END:VEVENT while "+nested[len(nested)-1]+" is open")
				}
				if cur == nil {
					return fail(i, name, "END:VEVENT without an open record")
				}
				if !cur.hasStart || !cur.hasEnd {
					return fail(i, name, fmt.Sprintf("record opened at pair %d closed without %s", cur.begin, missing(cur)))
				}
				events = append(events, cur.ev)
				cur = nil
			case len(nested) > 0 && nested[len(nested)-1] == comp:
				nested = nested[:len(nested)-1]
			}

		case "DTSTART", "DTEND":
			if len(nested) > 0 {
				continue
			}
			if cur == nil {
				return fail(i, name, name+" outside of a VEVENT")
			}
			v, err := parseDateTime(p.Value, params, name == "DTEND")
			if err != nil {
				return fail(i, name, err.Error())
			}
			if name == "DTSTART" {
				cur.ev.Date = v.date
				cur.ev.Start = v.tod
				cur.ev.AllDay = v.allDay
				cur.ev.TZID = v.tzid
				cur.hasStart = true
			} else {
				cur.ev.EndDate = v.date
				cur.ev.End = v.tod
				cur.hasEnd = true
			}
		}
	}

	if cur != nil {
		return fail(len(pairs), "", fmt.Sprintf("record opened at pair %d never closed", cur.begin))
	}
	return events, nil
}

func missing(r *openRecord) string {
	switch {
	case !r.hasStart && !r.hasEnd:
		return "DTSTART and DTEND"
	case !r.hasStart:
		return "DTSTART"
	default:
		return "DTEND"
	}
}

type dateTime struct {
	date   string
	tod    model.TimeOfDay
	allDay bool
	tzid   string
}

// parseDateTime splits a DATE or DATE-TIME value at its 'T' separator.
// A trailing 'Z' only marks the value as UTC; nothing is converted.
// Date-only values stand for the whole day: start of day for DTSTART, end
// of day for DTEND.
func parseDateTime(value string, params map[string]string, isEnd bool) (dateTime, error) {
	var out dateTime
	v := strings.TrimSpace(value)
	out.tzid = params["TZID"]
	if strings.HasSuffix(v, "Z") {
		v = strings.TrimSuffix(v, "Z")
		if out.tzid == "" {
			out.tzid = "UTC"
		}
	}

	date, clock, hasTime := strings.Cut(v, "T")
	if strings.EqualFold(params["VALUE"], "DATE") && hasTime {
		return out, fmt.Errorf("VALUE=DATE with a time part: %q", value)
	}
	if _, err := model.ParseDate(date); err != nil {
		return out, err
	}
	out.date = date

	if !hasTime {
		out.allDay = true
		out.tod = model.StartOfDay
		if isEnd {
			out.tod = model.EndOfDay
		}
		return out, nil
	}

	tod, err := model.ParseTimeOfDay(clock)
	if err != nil {
		return out, err
	}
	out.tod = tod
	return out, nil
}

// ParseBody decodes one source payload and parses its records, logging the
// outcome the same way for every source.
func ParseBody(src Source, body []byte) ([]model.Event, error) {
	pairs, err := Decode(body)
	if err != nil {
		appLog.Error("ics decode failed", err, "id", src.ID)
		return nil, fmt.Errorf("%s: %w", src.ID, err)
	}

	events, err := Parse(src.ID, pairs)
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID)
		return nil, err
	}

	appLog.Info("ics parse completed", "id", src.ID, "event_count", len(events))
	return events, nil
}
