package ingestion

import (
	"errors"
	"fmt"
)

var (
	ErrMissingTimestampColumn = errors.New("missing_timestamp_column")
	ErrNoDeviceColumns        = errors.New("no_device_columns")
	ErrDuplicateColumn        = errors.New("duplicate_column")
	ErrMissingTimestamp       = errors.New("missing_timestamp")
	ErrInvalidTimestamp       = errors.New("invalid_timestamp")
	ErrInvalidOutputValue     = errors.New("invalid_output_value")
	ErrOutputOutOfRange       = errors.New("output_out_of_range")
	ErrRowLimitExceeded       = errors.New("row_limit_exceeded")
	ErrMalformedInput         = errors.New("malformed_input")
)

// ParseError describes why an upload was rejected. Row is the 1-indexed data
// row (the header is not counted) or 0 when the header itself is invalid.
type ParseError struct {
	Row     int
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("row %d: %s", e.Row, e.Message)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func headerError(kind error, message string) *ParseError {
	return &ParseError{Message: message, Err: kind}
}

func rowError(row int, kind error, message string) *ParseError {
	return &ParseError{Row: row, Message: message, Err: kind}
}
