package ics

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freecal/internal/model"
)

func crlf(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

func pairs(lines ...string) []Pair {
	out := make([]Pair, 0, len(lines))
	for _, l := range lines {
		out = append(out, SplitLine(l))
	}
	return out
}

func TestParse_SingleEvent(t *testing.T) {
	events, err := Parse("work", pairs(
		"BEGIN:VEVENT",
		"DTSTART:20240101T083000",
		"DTEND:20240101T093000",
		"END:VEVENT",
	))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.Event{
		Source:  "work",
		Date:    "20240101",
		EndDate: "20240101",
		Start:   83000,
		End:     93000,
	}, events[0])
}

func TestParse_Properties(t *testing.T) {
	tests := []struct {
		name     string
		lines    []string
		expected model.Event
	}{
		{
			name: "tzid parameter",
			lines: []string{
				"BEGIN:VEVENT",
				"DTSTART;TZID=America/New_York:20240101T083000",
				"DTEND;TZID=America/New_York:20240101T093000",
				"END:VEVENT",
			},
			expected: model.Event{Date: "20240101", EndDate: "20240101", Start: 83000, End: 93000, TZID: "America/New_York"},
		},
		{
			name: "quoted parameter with colon",
			lines: []string{
				"BEGIN:VEVENT",
				`DTSTART;TZID="Custom: Zone":20240101T101500`,
				"DTEND:20240101T110000",
				"END:VEVENT",
			},
			expected: model.Event{Date: "20240101", EndDate: "20240101", Start: 101500, End: 110000, TZID: "Custom: Zone"},
		},
		{
			name: "utc marker",
			lines: []string{
				"BEGIN:VEVENT",
				"DTSTART:20240101T083000Z",
				"DTEND:20240101T093000Z",
				"END:VEVENT",
			},
			expected: model.Event{Date: "20240101", EndDate: "20240101", Start: 83000, End: 93000, TZID: "UTC"},
		},
		{
			name: "all day",
			lines: []string{
				"BEGIN:VEVENT",
				"DTSTART;VALUE=DATE:20240101",
				"DTEND;VALUE=DATE:20240101",
				"END:VEVENT",
			},
			expected: model.Event{Date: "20240101", EndDate: "20240101", Start: model.StartOfDay, End: model.EndOfDay, AllDay: true},
		},
		{
			name: "lower case names and other properties ignored",
			lines: []string{
				"begin:vevent",
				"UID:abc@example.com",
				"SUMMARY:Standup: daily",
				"dtstart:20240101T090000",
				"DTEND:20240101T091500",
				"end:vevent",
			},
			expected: model.Event{Date: "20240101", EndDate: "20240101", Start: 90000, End: 91500},
		},
		{
			name: "alarm inside event",
			lines: []string{
				"BEGIN:VEVENT",
				"DTSTART:20240101T090000",
				"BEGIN:VALARM",
				"DTSTART:20240101T080000",
				"END:VALARM",
				"DTEND:20240101T100000",
				"END:VEVENT",
			},
			expected: model.Event{Date: "20240101", EndDate: "20240101", Start: 90000, End: 100000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := Parse("", pairs(tt.lines...))
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, tt.expected, events[0])
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		index int
	}{
		{
			name:  "dtstart before begin",
			lines: []string{"DTSTART:20240101T083000", "BEGIN:VEVENT", "DTEND:20240101T093000", "END:VEVENT"},
			index: 0,
		},
		{
			name:  "end without begin",
			lines: []string{"END:VEVENT"},
			index: 0,
		},
		{
			name:  "nested begin",
			lines: []string{"BEGIN:VEVENT", "DTSTART:20240101T083000", "BEGIN:VEVENT", "END:VEVENT"},
			index: 2,
		},
		{
			name:  "missing dtend",
			lines: []string{"BEGIN:VEVENT", "DTSTART:20240101T083000", "END:VEVENT"},
			index: 2,
		},
		{
			name:  "missing dtstart",
			lines: []string{"BEGIN:VEVENT", "DTEND:20240101T083000", "END:VEVENT"},
			index: 2,
		},
		{
			name:  "never closed",
			lines: []string{"BEGIN:VEVENT", "DTSTART:20240101T083000", "DTEND:20240101T093000"},
			index: 3,
		},
		{
			name:  "short time",
			lines: []string{"BEGIN:VEVENT", "DTSTART:20240101T0830", "DTEND:20240101T093000", "END:VEVENT"},
			index: 1,
		},
		{
			name:  "impossible date",
			lines: []string{"BEGIN:VEVENT", "DTSTART:20240231T083000", "DTEND:20240231T093000", "END:VEVENT"},
			index: 1,
		},
		{
			name:  "date value with time",
			lines: []string{"BEGIN:VEVENT", "DTSTART;VALUE=DATE:20240101T083000", "DTEND:20240101T093000", "END:VEVENT"},
			index: 1,
		},
		{
			name:  "end event inside alarm",
			lines: []string{"BEGIN:VEVENT", "DTSTART:20240101T083000", "DTEND:20240101T093000", "BEGIN:VALARM", "END:VEVENT"},
			index: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := Parse("bad", pairs(tt.lines...))
			assert.Nil(t, events)
			require.ErrorIs(t, err, ErrMalformedRecord)

			var recErr *RecordError
			require.ErrorAs(t, err, &recErr)
			assert.Equal(t, tt.index, recErr.Index)
			assert.Equal(t, "bad", recErr.Source)
		})
	}
}

func TestParse_TimezoneComponentIgnored(t *testing.T) {
	events, err := Parse("", pairs(
		"BEGIN:VCALENDAR",
		"BEGIN:VTIMEZONE",
		"TZID:Europe/Berlin",
		"BEGIN:STANDARD",
		"DTSTART:19701025T030000",
		"END:STANDARD",
		"END:VTIMEZONE",
		"BEGIN:VEVENT",
		"DTSTART;TZID=Europe/Berlin:20240101T140000",
		"DTEND;TZID=Europe/Berlin:20240101T150000",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"DTSTART;TZID=Europe/Berlin:20240101T090000",
		"DTEND;TZID=Europe/Berlin:20240101T100000",
		"END:VEVENT",
		"END:VCALENDAR",
	))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.TimeOfDay(140000), events[0].Start)
	assert.Equal(t, model.TimeOfDay(90000), events[1].Start)
}

func TestParse_Empty(t *testing.T) {
	events, err := Parse("", nil)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSplitLine(t *testing.T) {
	assert.Equal(t, Pair{Name: "SUMMARY", Value: "a:b"}, SplitLine("SUMMARY:a:b"))
	assert.Equal(t, Pair{Name: `X;P="x:y"`, Value: "v"}, SplitLine(`X;P="x:y":v`))
	assert.Equal(t, Pair{Name: "NOCOLON"}, SplitLine("NOCOLON"))
}

func TestReadLines_Unfolds(t *testing.T) {
	body := crlf(
		"BEGIN:VEVENT",
		"SUMMARY:a long",
		"  summary",
		"DTSTART;TZID=Europe/",
		"\tBerlin:20240101T090000",
		"",
		"END:VEVENT",
	)
	got, err := ReadLines(strings.NewReader(string(body)))
	require.NoError(t, err)
	assert.Equal(t, []Pair{
		{Name: "BEGIN", Value: "VEVENT"},
		{Name: "SUMMARY", Value: "a long summary"},
		{Name: "DTSTART;TZID=Europe/Berlin", Value: "20240101T090000"},
		{Name: "END", Value: "VEVENT"},
	}, got)
}

func TestDecode(t *testing.T) {
	t.Run("empty body", func(t *testing.T) {
		_, err := Decode([]byte(" \r\n"))
		assert.ErrorIs(t, err, ErrEmptyBody)
	})

	t.Run("bare event block", func(t *testing.T) {
		got, err := Decode([]byte("\xef\xbb\xbfBEGIN:VEVENT\nDTSTART:20240101T083000\nDTEND:20240101T093000\nEND:VEVENT\n"))
		require.NoError(t, err)
		events, err := Parse("", got)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, model.TimeOfDay(83000), events[0].Start)
	})

	t.Run("full calendar", func(t *testing.T) {
		body := crlf(
			"BEGIN:VCALENDAR",
			"VERSION:2.0",
			"PRODID:-//test//EN",
			"BEGIN:VTIMEZONE",
			"TZID:Europe/Berlin",
			"BEGIN:STANDARD",
			"DTSTART:19701025T030000",
			"TZOFFSETFROM:+0200",
			"TZOFFSETTO:+0100",
			"END:STANDARD",
			"END:VTIMEZONE",
			"BEGIN:VEVENT",
			"UID:1@test",
			"DTSTART;TZID=Europe/Berlin:20240101T083000",
			"DTEND;TZID=Europe/Berlin:20240101T093000",
			"BEGIN:VALARM",
			"ACTION:DISPLAY",
			"TRIGGER:-PT15M",
			"END:VALARM",
			"END:VEVENT",
			"END:VCALENDAR",
		)
		got, err := Decode(body)
		require.NoError(t, err)
		events, err := Parse("cal", got)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, model.Event{
			Source:  "cal",
			Date:    "20240101",
			EndDate: "20240101",
			Start:   83000,
			End:     93000,
			TZID:    "Europe/Berlin",
		}, events[0])
	})

	t.Run("full calendar keeps nested structure", func(t *testing.T) {
		tests := []struct {
			name  string
			lines []string
		}{
			{
				name: "event inside event",
				lines: []string{
					"BEGIN:VEVENT",
					"UID:outer@test",
					"DTSTART:20240101T083000",
					"BEGIN:VEVENT",
					"UID:inner@test",
					"DTSTART:20240101T100000",
					"DTEND:20240101T110000",
					"END:VEVENT",
					"DTEND:20240101T093000",
					"END:VEVENT",
				},
			},
			{
				name: "event inside timezone",
				lines: []string{
					"BEGIN:VTIMEZONE",
					"TZID:Europe/Berlin",
					"BEGIN:VEVENT",
					"UID:lost@test",
					"DTSTART:20240101T100000",
					"DTEND:20240101T110000",
					"END:VEVENT",
					"END:VTIMEZONE",
				},
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				lines := append([]string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//EN"}, tt.lines...)
				lines = append(lines, "END:VCALENDAR")

				wrapped, err := Decode(crlf(lines...))
				require.NoError(t, err)
				events, err := Parse("cal", wrapped)
				assert.Nil(t, events)
				assert.ErrorIs(t, err, ErrMalformedRecord)

				bare, err := Decode(crlf(tt.lines...))
				require.NoError(t, err)
				_, err = Parse("cal", bare)
				assert.ErrorIs(t, err, ErrMalformedRecord)
			})
		}
	})

	t.Run("full calendar with alarm and timezone", func(t *testing.T) {
		got, err := Decode(crlf(
			"BEGIN:VCALENDAR",
			"VERSION:2.0",
			"PRODID:-//test//EN",
			"BEGIN:VEVENT",
			"UID:1@test",
			"DTSTART:20240101T083000",
			"BEGIN:VALARM",
			"ACTION:DISPLAY",
			"TRIGGER:-PT15M",
			"END:VALARM",
			"DTEND:20240101T093000",
			"END:VEVENT",
			"END:VCALENDAR",
		))
		require.NoError(t, err)
		assert.Contains(t, got, Pair{Name: "BEGIN", Value: "VALARM"})
		assert.Contains(t, got, Pair{Name: "END", Value: "VALARM"})

		events, err := Parse("cal", got)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, model.TimeOfDay(93000), events[0].End)
	})
}

func TestParseBody(t *testing.T) {
	events, err := ParseBody(Source{ID: "work"}, crlf(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:1@test",
		"DTSTART:20240101T083000Z",
		"DTEND:20240101T093000Z",
		"END:VEVENT",
		"END:VCALENDAR",
	))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "work", events[0].Source)
	assert.Equal(t, "UTC", events[0].TZID)

	_, err = ParseBody(Source{ID: "empty"}, nil)
	assert.ErrorIs(t, err, ErrEmptyBody)

	_, err = ParseBody(Source{ID: "broken"}, []byte("BEGIN:VEVENT\nDTSTART:20240101T083000\nEND:VEVENT\n"))
	assert.ErrorIs(t, err, ErrMalformedRecord)
}
