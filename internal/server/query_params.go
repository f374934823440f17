package server

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	errInvalidBool = errors.New("invalid_bool")
	errInvalidInt  = errors.New("invalid_int")
	errInvalidTime = errors.New("invalid_time")
)

// parseOptionalBool accepts only the literal strings "true" and "false".
func parseOptionalBool(value string) (*bool, error) {
	switch strings.TrimSpace(value) {
	case "":
		return nil, nil
	case "true":
		parsed := true
		return &parsed, nil
	case "false":
		parsed := false
		return &parsed, nil
	default:
		return nil, errInvalidBool
	}
}

func parseOptionalInt(value string) (*int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return nil, errInvalidInt
	}
	return &parsed, nil
}

func parseOptionalTime(value string, endOfDay bool) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, trimmed); err == nil {
		parsed = parsed.UTC()
		return &parsed, nil
	}
	if day, err := time.ParseInLocation(time.DateOnly, trimmed, time.UTC); err == nil {
		// A bare date as an upper bound covers that whole day.
		if endOfDay {
			day = day.AddDate(0, 0, 1).Add(-time.Millisecond)
		}
		return &day, nil
	}
	return nil, errInvalidTime
}

// parseIfMatch returns the entity tag without surrounding quotes, or "" when
// the header is absent or blank.
func parseIfMatch(value string) string {
	trimmed := strings.TrimSpace(value)
	if idx := strings.Index(trimmed, ","); idx >= 0 {
		trimmed = strings.TrimSpace(trimmed[:idx])
	}
	trimmed = strings.TrimPrefix(trimmed, "W/")
	trimmed = strings.TrimPrefix(trimmed, `"`)
	trimmed = strings.TrimSuffix(trimmed, `"`)
	return strings.TrimSpace(trimmed)
}
