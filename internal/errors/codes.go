// Package errors provides structured error handling for xref.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (file, parse)
//   - 4XX: Validation errors
//   - 5XX: Internal errors (pipeline, index)
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file read and decode errors.
	CategoryIO Category = "IO"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeFileNotFound        = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission      = "ERR_202_FILE_PERMISSION"
	ErrCodeFileTooLarge        = "ERR_204_FILE_TOO_LARGE"
	ErrCodeFileCorrupt         = "ERR_206_FILE_CORRUPT"
	ErrCodeUnsupportedLanguage = "ERR_207_UNSUPPORTED_LANGUAGE"
	ErrCodeLockHeld            = "ERR_208_LOCK_HELD"

	// Validation errors (400-499)
	ErrCodeInvalidInput = "ERR_401_INVALID_INPUT"
	ErrCodeQueryEmpty   = "ERR_404_QUERY_EMPTY"
	ErrCodeInvalidPath  = "ERR_406_INVALID_PATH"
	ErrCodeEmptyWorkSet = "ERR_407_EMPTY_WORKSET"

	// Internal errors (500-599)
	ErrCodeInternal          = "ERR_501_INTERNAL"
	ErrCodeIndexFailed       = "ERR_505_INDEX_FAILED"
	ErrCodeExecutorClosed    = "ERR_506_EXECUTOR_CLOSED"
	ErrCodeRunAborted        = "ERR_507_RUN_ABORTED"
	ErrCodeResourceExhausted = "ERR_508_RESOURCE_EXHAUSTED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "101" from "ERR_101_CONFIG_NOT_FOUND"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeIndexFailed:
		return SeverityFatal
	case ErrCodeResourceExhausted, ErrCodeFileTooLarge, ErrCodeUnsupportedLanguage:
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// A run cancelled for lack of memory or aborted by shutdown can be submitted again.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeResourceExhausted, ErrCodeRunAborted, ErrCodeLockHeld:
		return true
	default:
		return false
	}
}
