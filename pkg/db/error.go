package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// uniqueViolationMarkers are the driver messages for a unique index
// violation when gorm does not translate the error itself.
var uniqueViolationMarkers = []string{
	"duplicate key value violates unique constraint", // postgres 23505
	"UNIQUE constraint failed",                       // sqlite 2067
	"Error 1062",                                     // mysql
}

// IsDuplicateKeyErr reports whether err is a primary-key or unique-index
// violation from any of the supported dialects.
func IsDuplicateKeyErr(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return true
	}

	msg := err.Error()
	for _, marker := range uniqueViolationMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
