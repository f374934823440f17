package upload

import (
	"mime"
	"path/filepath"
	"strings"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var csvContentTypes = map[string]struct{}{
	"text/csv":        {},
	"application/csv": {},
	"text/plain":      {},
}

// DetectFormat picks a parser from the file extension, falling back to the
// declared content type.
func DetectFormat(name, contentType string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(strings.TrimSpace(name))) {
	case ".csv":
		return FormatCSV, true
	case ".xlsx":
		return FormatXLSX, true
	}

	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}
	if _, ok := csvContentTypes[mediaType]; ok {
		return FormatCSV, true
	}
	if mediaType == xlsxContentType {
		return FormatXLSX, true
	}
	return "", false
}

func IsAcceptedFile(name, contentType string) bool {
	_, ok := DetectFormat(name, contentType)
	return ok
}
