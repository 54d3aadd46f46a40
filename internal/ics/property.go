package ics

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"slices"
	"strings"

	ical "github.com/arran4/golang-ical"

	appLog "freecal/internal/log"
)

var ErrEmptyBody = errors.New("empty ICS body")

// Pair is one content line split at its name/value delimiter. Name keeps any
// parameters, e.g. "DTSTART;TZID=America/New_York".
type Pair struct {
	Name  string
	Value string
}

// SplitLine splits a content line at the first ':' that is not inside a
// quoted parameter value. A line without a delimiter becomes a Pair with an
// empty Value.
func SplitLine(line string) Pair {
	quoted := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			quoted = !quoted
		case ':':
			if !quoted {
				return Pair{Name: line[:i], Value: line[i+1:]}
			}
		}
	}
	return Pair{Name: line}
}

// splitName separates the property name from its parameters. The name is
// upper-cased; parameter keys are upper-cased and surrounding quotes on
// values are dropped.
func splitName(raw string) (string, map[string]string) {
	parts := splitOutsideQuotes(raw, ';')
	name := strings.ToUpper(strings.TrimSpace(parts[0]))
	if len(parts) == 1 {
		return name, nil
	}
	params := make(map[string]string, len(parts)-1)
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		params[strings.ToUpper(strings.TrimSpace(k))] = strings.Trim(strings.TrimSpace(v), `"`)
	}
	return name, params
}

func splitOutsideQuotes(s string, sep byte) []string {
	var out []string
	quoted := false
	last := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			quoted = !quoted
		case sep:
			if !quoted {
				out = append(out, s[last:i])
				last = i + 1
			}
		}
	}
	return append(out, s[last:])
}

// ReadLines reads raw content lines from r. Folded lines (continuations
// starting with a space or tab) are joined first; blank lines are skipped.
func ReadLines(r io.Reader) ([]Pair, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		pairs   []Pair
		current strings.Builder
		pending bool
	)
	flush := func() {
		if pending {
			pairs = append(pairs, SplitLine(current.String()))
			current.Reset()
			pending = false
		}
	}

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			flush()
			continue
		}
		if pending && (line[0] == ' ' || line[0] == '\t') {
			current.WriteString(line[1:])
			continue
		}
		flush()
		current.WriteString(line)
		pending = true
	}
	flush()

	if err := sc.Err(); err != nil {
		return nil, err
	}
	return pairs, nil
}

// FromCalendar flattens a decoded calendar back into content-line pairs:
// calendar-level properties first, then every component in document order,
// each wrapped in BEGIN/END with its sub-components nested inside. The
// nesting is kept so the record parser sees the same structure as it would
// from raw lines.
func FromCalendar(cal *ical.Calendar) []Pair {
	pairs := make([]Pair, 0, len(cal.CalendarProperties))
	for _, p := range cal.CalendarProperties {
		pairs = append(pairs, pairOf(p.BaseProperty))
	}
	for _, c := range cal.Components {
		pairs = appendComponent(pairs, c)
	}
	return pairs
}

func appendComponent(pairs []Pair, c ical.Component) []Pair {
	name := componentName(c)
	pairs = append(pairs, Pair{Name: "BEGIN", Value: name})
	for _, p := range c.UnknownPropertiesIANAProperties() {
		pairs = append(pairs, pairOf(p.BaseProperty))
	}
	for _, sub := range c.SubComponents() {
		pairs = appendComponent(pairs, sub)
	}
	return append(pairs, Pair{Name: "END", Value: name})
}

func componentName(c ical.Component) string {
	switch v := c.(type) {
	case *ical.VEvent:
		return string(ical.ComponentVEvent)
	case *ical.VTodo:
		return string(ical.ComponentVTodo)
	case *ical.VJournal:
		return string(ical.ComponentVJournal)
	case *ical.VBusy:
		return string(ical.ComponentVFreeBusy)
	case *ical.VTimezone:
		return string(ical.ComponentVTimezone)
	case *ical.VAlarm:
		return string(ical.ComponentVAlarm)
	case *ical.Standard:
		return string(ical.ComponentStandard)
	case *ical.Daylight:
		return string(ical.ComponentDaylight)
	case *ical.GeneralComponent:
		return strings.ToUpper(v.Token)
	default:
		return "X-UNKNOWN"
	}
}

func pairOf(p ical.BaseProperty) Pair {
	name := p.IANAToken
	keys := make([]string, 0, len(p.ICalParameters))
	for k := range p.ICalParameters {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		name += ";" + k + "=" + strings.Join(p.ICalParameters[k], ",")
	}
	return Pair{Name: name, Value: p.Value}
}

// Decode turns an ICS payload into content-line pairs. Full VCALENDAR
// bodies go through golang-ical; anything else (bare VEVENT blocks, or a
// calendar the library rejects) is read line by line so the record parser
// can report its structure precisely.
func Decode(body []byte) ([]Pair, error) {
	body = bytes.TrimPrefix(body, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyBody
	}

	if looksLikeCalendar(body) {
		cal, err := ical.ParseCalendar(bytes.NewReader(body))
		if err == nil {
			return FromCalendar(cal), nil
		}
		appLog.Debug("ics calendar decode failed; falling back to raw lines", "reason", err)
	}
	return ReadLines(bytes.NewReader(body))
}

func looksLikeCalendar(body []byte) bool {
	first, _, _ := bytes.Cut(bytes.TrimLeft(body, " \t\r\n"), []byte("\n"))
	return strings.EqualFold(strings.TrimSpace(string(first)), "BEGIN:VCALENDAR")
}
