package ics

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freecal/internal/model"
)

func fixedOptions() EncodeOptions {
	n := 0
	return EncodeOptions{
		Now: func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) },
		NewUID: func() string {
			n++
			return fmt.Sprintf("slot-%d@freecal", n)
		},
	}
}

func TestFreeCalendar_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		slots []model.Slot
	}{
		{
			name: "named zone",
			slots: []model.Slot{
				{Date: "20240101", TZID: "Europe/Berlin", Start: 0, End: 83000},
				{Date: "20240101", TZID: "Europe/Berlin", Start: 93000, End: 235959},
			},
		},
		{
			name: "utc",
			slots: []model.Slot{
				{Date: "20240101", TZID: "UTC", Start: 120000, End: 130000},
			},
		},
		{
			name: "floating",
			slots: []model.Slot{
				{Date: "20240101", Start: 120000, End: 130000},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cal := FreeCalendar(slices.Values(tt.slots), fixedOptions())
			body := cal.Serialize()
			assert.Contains(t, body, "PRODID:"+DefaultProdID)
			assert.Contains(t, body, "SUMMARY:Free")
			assert.Contains(t, body, "UID:slot-1@freecal")

			p, err := Decode([]byte(body))
			require.NoError(t, err)
			events, err := Parse("out", p)
			require.NoError(t, err)
			require.Len(t, events, len(tt.slots))
			for i, ev := range events {
				assert.Equal(t, tt.slots[i].Date, ev.Date)
				assert.Equal(t, tt.slots[i].Start, ev.Start)
				assert.Equal(t, tt.slots[i].End, ev.End)
				assert.Equal(t, tt.slots[i].TZID, ev.TZID)
			}
		})
	}
}

func TestFreeCalendar_NoSlots(t *testing.T) {
	cal := FreeCalendar(slices.Values([]model.Slot(nil)), fixedOptions())
	assert.Empty(t, cal.Events())
	assert.NotContains(t, cal.Serialize(), "BEGIN:VEVENT")
}

func TestWriteCalendar(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "free.ics")
	cal := FreeCalendar(slices.Values([]model.Slot{{Date: "20240101", Start: 0, End: 235959}}), fixedOptions())

	require.NoError(t, WriteCalendar(path, cal))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "BEGIN:VCALENDAR"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	leftovers, err := filepath.Glob(filepath.Join(dir, "nested", ".freecal-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	assert.Error(t, WriteCalendar("", cal))
}
