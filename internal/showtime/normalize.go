// Package showtime turns the time encodings clients and older tooling send
// into absolute UTC instants.  Every comparison of showing start times goes
// through Normalize; raw strings are never compared.
package showtime

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrBadTime is returned when an input matches none of the accepted encodings.
var ErrBadTime = errors.New("unrecognised time")

const dateLayout = "2006-01-02"

var clockLayouts = []string{
	"15:04",
	"15:04:05",
	"3:04 PM",
	"3:04PM",
	"03:04 PM",
	"3 PM",
}

// Normalize resolves a showing start time to a UTC instant truncated to the
// minute.  Accepted inputs:
//
//	Normalize("2025-03-01T13:30:00Z", "", loc)  full timestamp (date ignored)
//	Normalize("2025-03-01 20:30", "", loc)      date + HH:mm in one string
//	Normalize("20:30", "2025-03-01", loc)       HH:mm with a separate date
//	Normalize("20h30", "2025-03-01", loc)       localized hour/minute
//	Normalize("8:30 PM", "2025-03-01", loc)     12-hour clock
//
// Local forms are interpreted in loc (UTC when nil).
func Normalize(start, date string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	start = strings.TrimSpace(start)
	date = strings.TrimSpace(date)
	if start == "" {
		return time.Time{}, fmt.Errorf("%w: empty start time", ErrBadTime)
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, start); err == nil {
			return t.UTC().Truncate(time.Minute), nil
		}
	}

	// "YYYY-MM-DD HH:mm" or "YYYY-MM-DDTHH:mm" carried in one field.
	if len(start) > len(dateLayout) && looksLikeDate(start[:len(dateLayout)]) {
		date = start[:len(dateLayout)]
		start = strings.TrimLeft(start[len(dateLayout):], " T")
	}
	if date == "" {
		return time.Time{}, fmt.Errorf("%w: %q has no date", ErrBadTime, start)
	}
	if ts, err := time.Parse(time.RFC3339, date); err == nil {
		// Some callers send midnight of the showing day as a timestamp.
		date = ts.In(loc).Format(dateLayout)
	}
	day, err := time.ParseInLocation(dateLayout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrBadTime, date)
	}
	h, m, err := clock(start)
	if err != nil {
		return time.Time{}, err
	}
	t := time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, loc)
	return t.UTC(), nil
}

// Instant is Normalize for callers holding a time.Time already.
func Instant(t time.Time) time.Time { return t.UTC().Truncate(time.Minute) }

// Date returns the calendar date of t in loc, formatted YYYY-MM-DD.
func Date(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(dateLayout)
}

func looksLikeDate(s string) bool {
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

func clock(s string) (int, int, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, ".", "")
	// Localized forms: "20h30", "20H", "20 giờ 30".
	s = strings.ReplaceAll(s, " GIỜ ", "H")
	s = strings.ReplaceAll(s, "GIỜ", "H")
	if i := strings.Index(s, "H"); i > 0 && !strings.Contains(s, ":") {
		hh, mm := strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:])
		if mm == "" {
			mm = "00"
		}
		s = hh + ":" + mm
	}
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour(), t.Minute(), nil
		}
	}
	return 0, 0, fmt.Errorf("%w: clock %q", ErrBadTime, s)
}
