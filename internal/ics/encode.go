package ics

import (
	"errors"
	"iter"
	"os"
	"path/filepath"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"freecal/internal/model"
)

const DefaultProdID = "-//freecal//Free Time//EN"

// EncodeOptions controls how free slots are rendered.
type EncodeOptions struct {
	ProdID  string
	Summary string
	// Now stamps DTSTAMP; time.Now when nil.
	Now func() time.Time
	// NewUID generates VEVENT UIDs; random UUIDs when nil.
	NewUID func() string
}

// FreeCalendar renders one VEVENT per slot. Start and end are written as
// local date-times with the slot's TZID, so that re-reading the calendar
// gives back the same intervals.
func FreeCalendar(slots iter.Seq[model.Slot], opts EncodeOptions) *ical.Calendar {
	if opts.ProdID == "" {
		opts.ProdID = DefaultProdID
	}
	if opts.Summary == "" {
		opts.Summary = "Free"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewUID == nil {
		opts.NewUID = uuid.NewString
	}

	cal := ical.NewCalendar()
	cal.SetProductId(opts.ProdID)
	cal.SetMethod(ical.MethodPublish)

	stamp := opts.Now()
	tzSet := false
	for slot := range slots {
		if !tzSet && slot.TZID != "" {
			cal.SetXWRTimezone(slot.TZID)
			tzSet = true
		}
		ev := cal.AddEvent(opts.NewUID())
		ev.SetDtStampTime(stamp)
		ev.SetSummary(opts.Summary)
		ev.SetProperty(ical.ComponentPropertyDtStart, dateTimeValue(slot.Date, slot.Start, slot.TZID), tzidParams(slot.TZID)...)
		ev.SetProperty(ical.ComponentPropertyDtEnd, dateTimeValue(slot.Date, slot.End, slot.TZID), tzidParams(slot.TZID)...)
		ev.SetProperty(ical.ComponentProperty("TRANSP"), "TRANSPARENT")
	}
	return cal
}

// dateTimeValue formats date and time as YYYYMMDDTHHMMSS, with the UTC
// marker when the zone is UTC.
func dateTimeValue(date string, tod model.TimeOfDay, tzid string) string {
	v := date + "T" + tod.String()
	if tzid == "UTC" {
		v += "Z"
	}
	return v
}

func tzidParams(tzid string) []ical.PropertyParameter {
	if tzid == "" || tzid == "UTC" {
		return nil
	}
	return []ical.PropertyParameter{&ical.KeyValues{Key: string(ical.ParameterTzid), Value: []string{tzid}}}
}

// WriteCalendar serializes cal to path through a temp file and rename, so
// readers never observe a half-written calendar.
func WriteCalendar(path string, cal *ical.Calendar) error {
	if path == "" {
		return errors.New("output path is empty")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".freecal-*.ics.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(cal.Serialize()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
