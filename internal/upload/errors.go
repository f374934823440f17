package upload

import "errors"

var (
	ErrUnsupportedFile = errors.New("unsupported_file_type")
	ErrUploadTooLarge  = errors.New("upload_too_large")
)
