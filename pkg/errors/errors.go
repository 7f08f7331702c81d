package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Common application errors
var (
	// Input errors
	ErrNilTable           = errors.New("input is not a structured table")
	ErrNoSensitiveColumns = errors.New("you must specify at least one sensitive column")
	ErrNegativeThreshold  = errors.New("minimum threshold for redaction must be a positive number")
	ErrNoFrequencyColumns = errors.New("at least one frequency column is required")
	ErrUnsupportedFormat  = errors.New("unsupported file format")

	// Run errors
	ErrRunNotFound = errors.New("run not found")

	// Storage errors
	ErrCacheMiss               = errors.New("cache miss")
	ErrStorageConnectionFailed = errors.New("storage connection failed")
	ErrStorageTimeout          = errors.New("storage operation timeout")

	// Internal errors
	ErrInternal    = errors.New("internal error")
	ErrUnavailable = errors.New("service unavailable")
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// Caller defects. The engine reports these and never retries.
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeData          ErrorType = "data"
	ErrorTypeType          ErrorType = "type"

	ErrorTypeNotFound ErrorType = "not_found"
	ErrorTypeStorage  ErrorType = "storage"
	ErrorTypeNetwork  ErrorType = "network"
	ErrorTypeInternal ErrorType = "internal"
)

// AppError represents an application-specific error with additional context
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Retryable  bool                   `json:"retryable"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		HTTPStatus: getDefaultHTTPStatus(errType),
	}
}

// WrapError wraps an existing error with application context
func WrapError(err error, errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		Cause:      err,
		Retryable:  isRetryable(err),
		HTTPStatus: getDefaultHTTPStatus(errType),
	}
}

// NewConfigurationError reports a configuration that does not fit the input table.
func NewConfigurationError(code, message string) *AppError {
	return NewAppError(ErrorTypeConfiguration, code, message)
}

// NewDataError reports input values the engine cannot process.
func NewDataError(code, message string) *AppError {
	return NewAppError(ErrorTypeData, code, message)
}

// NewTypeError reports input that is not a usable table.
func NewTypeError(code, message string) *AppError {
	return NewAppError(ErrorTypeType, code, message)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(code, message string) *AppError {
	return NewAppError(ErrorTypeNotFound, code, message)
}

// NewStorageError creates a storage error
func NewStorageError(code, message string) *AppError {
	return NewAppError(ErrorTypeStorage, code, message)
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, CodeInternalError, message)
}

// Is forwards to the standard library so callers need a single errors import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As forwards to the standard library.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsType reports whether err is, or wraps, an AppError of the given type.
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errType
	}
	return false
}

// HTTPStatus returns the status code an API should answer with for err.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

func getDefaultHTTPStatus(errType ErrorType) int {
	switch errType {
	case ErrorTypeConfiguration, ErrorTypeData, ErrorTypeType:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrStorageConnectionFailed):
		return true
	case errors.Is(err, ErrStorageTimeout):
		return true
	case errors.Is(err, ErrUnavailable):
		return true
	default:
		return false
	}
}

// ErrorResponse represents an error response for APIs
type ErrorResponse struct {
	Error     *AppError `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp string    `json:"timestamp"`
	Path      string    `json:"path,omitempty"`
}

// Issue is one offending column or value found while validating input.
type Issue struct {
	Column string `json:"column,omitempty"`
	Row    int    `json:"row,omitempty"`
	Value  string `json:"value,omitempty"`
}

// Issues collects offending values so a single error can enumerate them all.
type Issues struct {
	items []Issue
}

// Add records one offending value
func (is *Issues) Add(column string, row int, value string) {
	is.items = append(is.items, Issue{Column: column, Row: row, Value: value})
}

// HasErrors checks if anything was recorded
func (is *Issues) HasErrors() bool {
	return len(is.items) > 0
}

// Items returns the recorded issues in insertion order
func (is *Issues) Items() []Issue {
	return is.items
}

// Summary lists at most limit issues, then a count of the remainder.
func (is *Issues) Summary(limit int) string {
	parts := make([]string, 0, len(is.items))
	for i, item := range is.items {
		if limit > 0 && i == limit {
			parts = append(parts, fmt.Sprintf("and %d more", len(is.items)-limit))
			break
		}
		parts = append(parts, fmt.Sprintf("row %d %q", item.Row, item.Value))
	}
	return strings.Join(parts, ", ")
}

// Error codes for different error scenarios
const (
	// Configuration error codes
	CodeUnknownColumn      = "UNKNOWN_COLUMN"
	CodeMissingSensitive   = "MISSING_SENSITIVE_COLUMN"
	CodeDuplicateRole      = "DUPLICATE_COLUMN_ROLE"
	CodeInvalidThreshold   = "INVALID_THRESHOLD"
	CodeInvalidFlag        = "INVALID_FLAG"
	CodeOutputColumnExists = "OUTPUT_COLUMN_EXISTS"
	CodeMissingFrequency   = "MISSING_FREQUENCY_COLUMN"
	CodeUnknownProfile     = "UNKNOWN_PROFILE"
	CodeInvalidConfig      = "INVALID_CONFIG"

	// Data error codes
	CodeNonNumericFrequency = "NON_NUMERIC_FREQUENCY"
	CodeInvalidRedactFlag   = "INVALID_REDACT_FLAG"
	CodeDuplicateKeys       = "DUPLICATE_KEYS"
	CodeInvalidFormat       = "INVALID_FORMAT"

	// Type error codes
	CodeNotATable        = "NOT_A_TABLE"
	CodeDuplicateColumns = "DUPLICATE_COLUMNS"
	CodeRaggedRows       = "RAGGED_ROWS"

	// Storage error codes
	CodeStorageError     = "STORAGE_ERROR"
	CodeConnectionFailed = "CONNECTION_FAILED"
	CodeWriteFailed      = "WRITE_FAILED"
	CodeReadFailed       = "READ_FAILED"

	CodeRunNotFound   = "RUN_NOT_FOUND"
	CodeInternalError = "INTERNAL_ERROR"
)
