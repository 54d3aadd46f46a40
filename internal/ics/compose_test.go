package ics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freecal/internal/model"
)

func validSpec() EventSpec {
	return EventSpec{
		Class:     "private",
		Location:  "Room 4",
		Priority:  5,
		Summary:   "Planning",
		StartDate: "20240101",
		Start:     Clock{Hours: "09", Minutes: "00", Seconds: "00"},
		EndDate:   "20240101",
		End:       Clock{Hours: "10", Minutes: "30", Seconds: "00"},
	}
}

func TestComposeRequest_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *ComposeRequest)
		field  string
	}{
		{name: "valid", mutate: func(r *ComposeRequest) {}},
		{name: "vcalendar 1.0", mutate: func(r *ComposeRequest) { r.Version = "1.0" }, field: "version"},
		{name: "unknown version", mutate: func(r *ComposeRequest) { r.Version = "3.0" }, field: "version"},
		{name: "no events", mutate: func(r *ComposeRequest) { r.Events = nil }, field: "events"},
		{name: "bad class", mutate: func(r *ComposeRequest) { r.Events[0].Class = "SECRET" }, field: "class"},
		{name: "priority too high", mutate: func(r *ComposeRequest) { r.Events[0].Priority = 10 }, field: "priority"},
		{name: "one digit hour", mutate: func(r *ComposeRequest) { r.Events[0].Start.Hours = "9" }, field: "start.hours"},
		{name: "minutes out of range", mutate: func(r *ComposeRequest) { r.Events[0].End.Minutes = "60" }, field: "end.minutes"},
		{name: "non numeric seconds", mutate: func(r *ComposeRequest) { r.Events[0].End.Seconds = "xx" }, field: "end.seconds"},
		{name: "bad start date", mutate: func(r *ComposeRequest) { r.Events[0].StartDate = "20240132" }, field: "start_date"},
		{name: "end date before start date", mutate: func(r *ComposeRequest) { r.Events[0].EndDate = "20231231" }, field: "end_date"},
		{
			name: "end before start on the same day",
			mutate: func(r *ComposeRequest) {
				r.Events[0].End = Clock{Hours: "08", Minutes: "00", Seconds: "00"}
			},
			field: "end",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &ComposeRequest{Version: "2.0", Events: []EventSpec{validSpec()}}
			tt.mutate(r)
			err := r.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidField)
			var fe *FieldError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.field, fe.Field)
		})
	}
}

func TestComposeRequest_ValidateCollectsAll(t *testing.T) {
	bad := validSpec()
	bad.Priority = -1
	bad.Class = "nope"
	r := &ComposeRequest{Version: "1.0", Events: []EventSpec{validSpec(), bad}}

	err := r.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
	assert.Contains(t, err.Error(), "event 1: invalid field class")
	assert.Contains(t, err.Error(), "event 1: invalid field priority")
}

func TestCompose(t *testing.T) {
	second := validSpec()
	second.Class = ""
	second.EndDate = "20240102"
	second.End = Clock{Hours: "08", Minutes: "00", Seconds: "00"}

	cal, err := Compose(&ComposeRequest{TZID: "Europe/Berlin", Events: []EventSpec{validSpec(), second}})
	require.NoError(t, err)

	body := cal.Serialize()
	assert.Contains(t, body, "CLASS:PRIVATE")
	assert.Contains(t, body, "CLASS:PUBLIC")
	assert.Contains(t, body, "PRIORITY:5")
	assert.Contains(t, body, "LOCATION:Room 4")
	assert.Contains(t, body, "X-WR-TIMEZONE:Europe/Berlin")

	p, err := Decode([]byte(body))
	require.NoError(t, err)
	events, err := Parse("created", p)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.TimeOfDay(90000), events[0].Start)
	assert.Equal(t, model.TimeOfDay(103000), events[0].End)
	assert.Equal(t, "Europe/Berlin", events[0].TZID)
	assert.Equal(t, "20240102", events[1].EndDate)

	_, err = Compose(&ComposeRequest{})
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestLoadEventSpecs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`version: "2.0"
timezone: Europe/Berlin
events:
  - summary: Planning
    class: PUBLIC
    priority: 1
    start_date: "20240101"
    start: {hours: "09", minutes: "00", seconds: "00"}
    end_date: "20240101"
    end: {hours: "10", minutes: "00", seconds: "00"}
`), 0o600))

	req, err := LoadEventSpecs(path)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", req.TZID)
	require.Len(t, req.Events, 1)
	assert.Equal(t, "Planning", req.Events[0].Summary)
	assert.Equal(t, "09", req.Events[0].Start.Hours)
	assert.NoError(t, req.Validate())

	_, err = LoadEventSpecs(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
