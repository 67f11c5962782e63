package errors

import (
	stderrors "errors"
	"fmt"
)

// XrefError is the structured error type for xref.
// It carries enough context for logging, CLI presentation and MCP error mapping.
type XrefError struct {
	// Code is the unique error code (e.g., "ERR_206_FILE_CORRUPT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Validation, Internal).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *XrefError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *XrefError) Unwrap() error {
	return e.Cause
}

// Is matches another XrefError by code, so errors.Is works against sentinels.
func (e *XrefError) Is(target error) bool {
	if t, ok := target.(*XrefError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail returns a copy of e with a key-value detail added.
// The receiver is not modified, so shared sentinels stay unchanged.
func (e *XrefError) WithDetail(key, value string) *XrefError {
	c := e.clone()
	c.Details[key] = value
	return c
}

// WithSuggestion returns a copy of e carrying an actionable suggestion.
func (e *XrefError) WithSuggestion(suggestion string) *XrefError {
	c := e.clone()
	c.Suggestion = suggestion
	return c
}

func (e *XrefError) clone() *XrefError {
	c := *e
	c.Details = make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		c.Details[k] = v
	}
	return &c
}

// New creates a new XrefError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *XrefError {
	return &XrefError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an XrefError from an existing error.
// The error's message becomes the XrefError message.
func Wrap(code string, err error) *XrefError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *XrefError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// IOError creates an I/O-related error.
func IOError(message string, cause error) *XrefError {
	return New(ErrCodeFileNotFound, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *XrefError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *XrefError {
	return New(ErrCodeInternal, message, cause)
}

// As finds the first XrefError in err's chain.
func As(err error) (*XrefError, bool) {
	var xe *XrefError
	if stderrors.As(err, &xe) {
		return xe, true
	}
	return nil, false
}

// IsRetryable reports whether any XrefError in the chain is retryable.
func IsRetryable(err error) bool {
	if xe, ok := As(err); ok {
		return xe.Retryable
	}
	return false
}

// IsFatal reports whether any XrefError in the chain has fatal severity.
func IsFatal(err error) bool {
	if xe, ok := As(err); ok {
		return xe.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the chain.
// Returns empty string if there is no XrefError.
func GetCode(err error) string {
	if xe, ok := As(err); ok {
		return xe.Code
	}
	return ""
}

// GetCategory extracts the category from the chain.
func GetCategory(err error) Category {
	if xe, ok := As(err); ok {
		return xe.Category
	}
	return ""
}
