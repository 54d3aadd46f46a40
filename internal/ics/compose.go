package ics

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"freecal/internal/model"
)

// ErrInvalidField marks an event definition that cannot be written.
var ErrInvalidField = errors.New("invalid field")

// FieldError names the event and field that failed validation.
type FieldError struct {
	// Event is the index of the event in ComposeRequest.Events, or -1 for
	// calendar-level fields.
	Event  int
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	if e.Event < 0 {
		return fmt.Sprintf("%s %s: %s", ErrInvalidField, e.Field, e.Reason)
	}
	return fmt.Sprintf("event %d: %s %s: %s", e.Event, ErrInvalidField, e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrInvalidField }

// Clock is a time of day as three two-digit strings, the way it is entered
// by hand.
type Clock struct {
	Hours   string `yaml:"hours"`
	Minutes string `yaml:"minutes"`
	Seconds string `yaml:"seconds"`
}

// EventSpec defines one event to be written.
type EventSpec struct {
	Class     string `yaml:"class"`
	Location  string `yaml:"location"`
	Priority  int    `yaml:"priority"`
	Summary   string `yaml:"summary"`
	StartDate string `yaml:"start_date"`
	Start     Clock  `yaml:"start"`
	EndDate   string `yaml:"end_date"`
	End       Clock  `yaml:"end"`
}

// ComposeRequest is the content of an event definition file.
type ComposeRequest struct {
	// Version must be "2.0" (or empty). vCalendar 1.0 is not supported.
	Version string      `yaml:"version"`
	TZID    string      `yaml:"timezone"`
	ProdID  string      `yaml:"prod_id"`
	Events  []EventSpec `yaml:"events"`
}

var classes = map[string]bool{"PUBLIC": true, "PRIVATE": true, "CONFIDENTIAL": true}

// LoadEventSpecs reads a YAML event definition file.
func LoadEventSpecs(path string) (*ComposeRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var req ComposeRequest
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &req, nil
}

// clockUnit validates one two-digit field of a clock.
func clockUnit(event int, field, v string, max int) (int, error) {
	if len(v) != 2 {
		return 0, &FieldError{Event: event, Field: field, Reason: fmt.Sprintf("%q must be two digits", v)}
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > max {
		return 0, &FieldError{Event: event, Field: field, Reason: fmt.Sprintf("%q must be 00-%02d", v, max)}
	}
	return n, nil
}

func (c Clock) timeOfDay(event int, prefix string) (model.TimeOfDay, error) {
	h, err := clockUnit(event, prefix+".hours", c.Hours, 23)
	if err != nil {
		return 0, err
	}
	m, err := clockUnit(event, prefix+".minutes", c.Minutes, 59)
	if err != nil {
		return 0, err
	}
	s, err := clockUnit(event, prefix+".seconds", c.Seconds, 59)
	if err != nil {
		return 0, err
	}
	return model.NewTimeOfDay(h, m, s)
}

type validEvent struct {
	spec  EventSpec
	class string
	start model.TimeOfDay
	end   model.TimeOfDay
}

func validateEvent(i int, spec EventSpec) (validEvent, error) {
	out := validEvent{spec: spec}
	var errs []error

	out.class = strings.ToUpper(strings.TrimSpace(spec.Class))
	if out.class == "" {
		out.class = "PUBLIC"
	}
	if !classes[out.class] {
		errs = append(errs, &FieldError{Event: i, Field: "class", Reason: fmt.Sprintf("%q is not PUBLIC, PRIVATE or CONFIDENTIAL", spec.Class)})
	}
	if spec.Priority < 0 || spec.Priority > 9 {
		errs = append(errs, &FieldError{Event: i, Field: "priority", Reason: fmt.Sprintf("%d is not 0-9", spec.Priority)})
	}

	startDate, err := model.ParseDate(spec.StartDate)
	if err != nil {
		errs = append(errs, &FieldError{Event: i, Field: "start_date", Reason: err.Error()})
	}
	endDate, endErr := model.ParseDate(spec.EndDate)
	if endErr != nil {
		errs = append(errs, &FieldError{Event: i, Field: "end_date", Reason: endErr.Error()})
	}
	if err == nil && endErr == nil && endDate.Before(startDate) {
		errs = append(errs, &FieldError{Event: i, Field: "end_date", Reason: "event ends before it starts"})
	}

	start, serr := spec.Start.timeOfDay(i, "start")
	if serr != nil {
		errs = append(errs, serr)
	}
	end, eerr := spec.End.timeOfDay(i, "end")
	if eerr != nil {
		errs = append(errs, eerr)
	}
	if serr == nil && eerr == nil && spec.StartDate == spec.EndDate && start >= end {
		errs = append(errs, &FieldError{Event: i, Field: "end", Reason: "event ends before it starts"})
	}

	out.start, out.end = start, end
	return out, errors.Join(errs...)
}

// Validate checks every event and returns all problems joined together.
func (r *ComposeRequest) Validate() error {
	var errs []error
	switch strings.TrimSpace(r.Version) {
	case "", "2.0":
	case "1.0":
		errs = append(errs, &FieldError{Event: -1, Field: "version", Reason: "vCalendar 1.0 is not supported"})
	default:
		errs = append(errs, &FieldError{Event: -1, Field: "version", Reason: fmt.Sprintf("%q is not 2.0", r.Version)})
	}
	if len(r.Events) == 0 {
		errs = append(errs, &FieldError{Event: -1, Field: "events", Reason: "no events defined"})
	}
	for i, spec := range r.Events {
		if _, err := validateEvent(i, spec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Compose validates r and builds a VERSION 2.0 calendar with one VEVENT per
// definition.
func Compose(r *ComposeRequest) (*ical.Calendar, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	cal := ical.NewCalendar()
	prodID := r.ProdID
	if prodID == "" {
		prodID = DefaultProdID
	}
	cal.SetProductId(prodID)
	if r.TZID != "" {
		cal.SetXWRTimezone(r.TZID)
	}

	for i, spec := range r.Events {
		v, _ := validateEvent(i, spec)
		ev := cal.AddEvent(uuid.NewString())
		ev.SetProperty(ical.ComponentPropertyClass, v.class)
		ev.SetLocation(spec.Location)
		ev.SetProperty(ical.ComponentPropertyPriority, strconv.Itoa(spec.Priority))
		ev.SetSummary(spec.Summary)
		ev.SetProperty(ical.ComponentPropertyDtStart, dateTimeValue(spec.StartDate, v.start, r.TZID), tzidParams(r.TZID)...)
		ev.SetProperty(ical.ComponentPropertyDtEnd, dateTimeValue(spec.EndDate, v.end, r.TZID), tzidParams(r.TZID)...)
	}
	return cal, nil
}
