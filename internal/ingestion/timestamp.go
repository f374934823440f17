package ingestion

import (
	"fmt"
	"strings"
	"time"
)

// ParseTimestamp parses the legacy upload layout M/D/YYYY H:MM in loc.
// Padding is optional, seconds are always zero and a missing time part means
// midnight. Out-of-range components are rejected rather than normalized.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}

	trimmed := strings.TrimSpace(value)
	datePart, timePart, found := strings.Cut(trimmed, " ")
	if !found {
		timePart = "0:00"
	}

	dateFields := strings.Split(datePart, "/")
	timeFields := strings.Split(strings.TrimSpace(timePart), ":")
	if len(dateFields) != 3 || len(timeFields) != 2 {
		return time.Time{}, invalidTimestamp(value)
	}

	month, ok := parseComponent(dateFields[0], 1, 2)
	if !ok || month < 1 || month > 12 {
		return time.Time{}, invalidTimestamp(value)
	}
	day, ok := parseComponent(dateFields[1], 1, 2)
	if !ok || day < 1 {
		return time.Time{}, invalidTimestamp(value)
	}
	year, ok := parseComponent(dateFields[2], 4, 4)
	if !ok {
		return time.Time{}, invalidTimestamp(value)
	}
	hour, ok := parseComponent(timeFields[0], 1, 2)
	if !ok || hour > 23 {
		return time.Time{}, invalidTimestamp(value)
	}
	minute, ok := parseComponent(timeFields[1], 1, 2)
	if !ok || minute > 59 {
		return time.Time{}, invalidTimestamp(value)
	}

	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc)
	// time.Date normalizes 2/30 into March and shifts wall times that fall
	// in a DST gap; reject both instead.
	if t.Year() != year || int(t.Month()) != month || t.Day() != day ||
		t.Hour() != hour || t.Minute() != minute {
		return time.Time{}, invalidTimestamp(value)
	}
	return t, nil
}

func invalidTimestamp(value string) error {
	return fmt.Errorf("%w: %q", ErrInvalidTimestamp, value)
}

func parseComponent(s string, minDigits, maxDigits int) (int, bool) {
	if len(s) < minDigits || len(s) > maxDigits {
		return 0, false
	}
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
