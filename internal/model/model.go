package model

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// TimeOfDay is a wall-clock time encoded as the integer HHMMSS, e.g. 83000
// for 08:30:00. Values are only ever compared; two TimeOfDay values are not
// a duration and must not be added or subtracted.
type TimeOfDay int

const (
	// StartOfDay and EndOfDay bound every TimeOfDay.
	StartOfDay TimeOfDay = 0
	EndOfDay   TimeOfDay = 235959
)

var (
	ErrInvalidTimeOfDay = errors.New("invalid time of day")
	ErrInvalidDate      = errors.New("invalid date")
)

// DateLayout is the YYYYMMDD layout used for calendar dates.
const DateLayout = "20060102"

// ParseDate parses a YYYYMMDD date, rejecting days that do not exist.
func ParseDate(s string) (time.Time, error) {
	if len(s) != len(DateLayout) {
		return time.Time{}, fmt.Errorf("%w: %q is not YYYYMMDD", ErrInvalidDate, s)
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrInvalidDate, s, err)
	}
	return t, nil
}

// NewTimeOfDay builds a TimeOfDay from its components.
func NewTimeOfDay(hour, minute, second int) (TimeOfDay, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 || second < 0 || second > 59 {
		return 0, fmt.Errorf("%w: %02d:%02d:%02d", ErrInvalidTimeOfDay, hour, minute, second)
	}
	return TimeOfDay(hour*10000 + minute*100 + second), nil
}

// ParseTimeOfDay parses exactly six digits "HHMMSS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if len(s) != 6 {
		return 0, fmt.Errorf("%w: %q is not HHMMSS", ErrInvalidTimeOfDay, s)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("%w: %q is not HHMMSS", ErrInvalidTimeOfDay, s)
		}
	}
	h, _ := strconv.Atoi(s[0:2])
	m, _ := strconv.Atoi(s[2:4])
	sec, _ := strconv.Atoi(s[4:6])
	return NewTimeOfDay(h, m, sec)
}

func (t TimeOfDay) Hour() int   { return int(t) / 10000 }
func (t TimeOfDay) Minute() int { return int(t) / 100 % 100 }
func (t TimeOfDay) Second() int { return int(t) % 100 }

// Valid reports whether t lies in [StartOfDay, EndOfDay] with in-range
// minute and second digits.
func (t TimeOfDay) Valid() bool {
	if t < StartOfDay || t > EndOfDay {
		return false
	}
	return t.Minute() <= 59 && t.Second() <= 59
}

// Seconds converts t to seconds since midnight. Only used for reporting.
func (t TimeOfDay) Seconds() int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

// String renders t as six zero-padded digits.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%06d", int(t))
}

// Clock renders t as "HH:MM:SS" for humans.
func (t TimeOfDay) Clock() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour(), t.Minute(), t.Second())
}

// Event is a busy interval read from one VEVENT.
type Event struct {
	// Source is the ID of the calendar source the event came from.
	Source string

	// Date is the YYYYMMDD date of DTSTART. EndDate is taken from DTEND and
	// kept for reference only; it is never reconciled against Date.
	Date    string
	EndDate string

	Start TimeOfDay
	End   TimeOfDay

	// AllDay is set when DTSTART carried a date without a time.
	AllDay bool

	// TZID is the TZID parameter of DTSTART, if any. Informational.
	TZID string
}

// Slot is one free interval of a day, ready to be rendered.
type Slot struct {
	Date  string
	TZID  string
	Start TimeOfDay
	End   TimeOfDay
}
