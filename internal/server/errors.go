package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/energyledger/internal/ingestion"
	"github.com/smallbiznis/energyledger/internal/observability/logger"
	"github.com/smallbiznis/energyledger/internal/ratelimit"
	"github.com/smallbiznis/energyledger/internal/record/domain"
	"github.com/smallbiznis/energyledger/internal/upload"
	"go.uber.org/zap"
)

const (
	CodeInvalidQuery           = "INVALID_QUERY"
	CodeValidation             = "VALIDATION_ERROR"
	CodeNotFound               = "NOT_FOUND"
	CodeMissingIfMatch         = "MISSING_IF_MATCH"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeMissingFile            = "MISSING_FILE"
	CodeInvalidFileType        = "INVALID_FILE_TYPE"
	CodeInvalidCSV             = "INVALID_CSV"
	CodePayloadTooLarge        = "PAYLOAD_TOO_LARGE"
	CodeRateLimitExceeded      = "RATE_LIMIT_EXCEEDED"
	CodeServiceUnavailable     = "SERVICE_UNAVAILABLE"
	CodeInternal               = "INTERNAL_ERROR"
)

var (
	ErrRouteNotFound      = errors.New("route_not_found")
	ErrMissingIfMatch     = errors.New("missing_if_match")
	ErrMissingFile        = errors.New("missing_file")
	ErrRateLimited        = errors.New("rate_limited")
	ErrUploadRateLimited  = errors.New("upload_rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// RequestError is a client error raised by a handler before any service call.
type RequestError struct {
	Code    string
	Message string
	Details any
}

func (e *RequestError) Error() string {
	return e.Message
}

func invalidQueryError(details any) error {
	return &RequestError{Code: CodeInvalidQuery, Message: "Invalid query parameters", Details: details}
}

func invalidBodyError(details any) error {
	return &RequestError{Code: CodeValidation, Message: "Invalid body", Details: details}
}

type fieldIssue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		if status >= http.StatusInternalServerError {
			logger.FromContext(c.Request.Context()).Error("unhandled error",
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Error(lastErr.Err),
			)
		}
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, payload)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, envelope) {
	if err == nil {
		return http.StatusInternalServerError, failure(CodeInternal, "Internal server error", nil)
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return http.StatusBadRequest, failure(reqErr.Code, reqErr.Message, reqErr.Details)
	}

	var parseErr *ingestion.ParseError
	if errors.As(err, &parseErr) {
		details := gin.H{"message": parseErr.Error()}
		if parseErr.Row > 0 {
			details["row"] = parseErr.Row
		}
		return http.StatusBadRequest, failure(CodeInvalidCSV, parseErr.Error(), details)
	}

	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		return http.StatusConflict, failure(CodeConcurrentModification,
			"Record was modified; refresh and try again",
			gin.H{"expectedVersion": conflict.Expected, "currentVersion": conflict.Current},
		)
	}

	switch {
	case errors.Is(err, domain.ErrInvalidPagination):
		return http.StatusBadRequest, failure(CodeInvalidQuery, "Invalid query parameters",
			[]fieldIssue{{Path: "page", Message: "page must be non-negative integer; pageSize must be 1-1000"}},
		)
	case errors.Is(err, domain.ErrEmptyUpdate):
		return http.StatusBadRequest, failure(CodeValidation, "Invalid body",
			[]fieldIssue{{Message: "At least one of outputs or correctionReason must be present and non-empty"}},
		)
	case errors.Is(err, domain.ErrInvalidOutputValue):
		return http.StatusBadRequest, failure(CodeValidation, "Invalid body",
			[]fieldIssue{{Path: "outputs", Message: "Value must be a finite number (no NaN or Infinity)"}},
		)
	case errors.Is(err, ErrMissingIfMatch), errors.Is(err, domain.ErrVersionRequired):
		return http.StatusPreconditionRequired, failure(CodeMissingIfMatch,
			"If-Match header required for update (use ETag from GET)", nil)
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, failure(CodeNotFound, "Record not found", nil)
	case errors.Is(err, ErrRouteNotFound):
		return http.StatusNotFound, failure(CodeNotFound, "Route not found", nil)
	case errors.Is(err, ErrMissingFile):
		return http.StatusBadRequest, failure(CodeMissingFile, "No file uploaded",
			gin.H{"hint": "Use multipart field 'file' with a CSV file"})
	case errors.Is(err, upload.ErrUnsupportedFile):
		return http.StatusBadRequest, failure(CodeInvalidFileType, "Invalid file type; expected CSV", nil)
	case errors.Is(err, upload.ErrUploadTooLarge):
		return http.StatusRequestEntityTooLarge, failure(CodePayloadTooLarge, "Uploaded file is too large", nil)
	case errors.Is(err, ErrUploadRateLimited):
		return http.StatusTooManyRequests, failure(CodeRateLimitExceeded, "Too many uploads; try again later", nil)
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, failure(CodeRateLimitExceeded, "Too many requests; try again later", nil)
	case errors.Is(err, ErrServiceUnavailable), errors.Is(err, ratelimit.ErrNotConfigured):
		return http.StatusServiceUnavailable, failure(CodeServiceUnavailable, "Service unavailable", nil)
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, failure(CodeServiceUnavailable, "Request canceled", nil)
	default:
		return http.StatusInternalServerError, failure(CodeInternal, "Internal server error", nil)
	}
}

// classifyErrorForLog feeds the request logger an error type and code.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "internal_error", payload.Code
	case status == http.StatusBadRequest:
		return "validation_error", payload.Code
	case status == http.StatusNotFound:
		return "not_found", payload.Code
	case status == http.StatusConflict, status == http.StatusPreconditionRequired:
		return "conflict", payload.Code
	case status == http.StatusTooManyRequests:
		return "rate_limited", payload.Code
	default:
		return "client_error", payload.Code
	}
}
