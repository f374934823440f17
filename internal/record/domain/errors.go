package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("record_not_found")
	ErrDuplicateID        = errors.New("duplicate_record_id")
	ErrInvalidRecord      = errors.New("invalid_record")
	ErrVersionRequired    = errors.New("version_required")
	ErrVersionConflict    = errors.New("version_conflict")
	ErrEmptyUpdate        = errors.New("empty_update")
	ErrInvalidOutputValue = errors.New("invalid_output_value")
	ErrInvalidPagination  = errors.New("invalid_pagination")
)

// ConflictError reports that a record changed since the caller read it.
type ConflictError struct {
	ID       string
	Expected string
	Current  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version_conflict: record %s expected version %s, current %s", e.ID, e.Expected, e.Current)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}
