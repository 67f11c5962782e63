package errors

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// FormatForCLI formats an error for terminal output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	xe, ok := As(err)
	if !ok {
		xe = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", xe.Message))
	if xe.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", xe.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", xe.Code))

	return sb.String()
}

// jsonError is the JSON representation of an error.
type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	xe, ok := As(err)
	if !ok {
		xe = Wrap(ErrCodeInternal, err)
	}

	je := jsonError{
		Code:       xe.Code,
		Message:    xe.Message,
		Category:   string(xe.Category),
		Severity:   string(xe.Severity),
		Details:    xe.Details,
		Suggestion: xe.Suggestion,
		Retryable:  xe.Retryable,
	}
	if xe.Cause != nil {
		je.Cause = xe.Cause.Error()
	}

	return json.Marshal(je)
}

// LogAttrs returns slog attributes describing err.
// Details are emitted in key order so log lines are stable.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}

	xe, ok := As(err)
	if !ok {
		return []any{slog.String("error", err.Error())}
	}

	attrs := []any{
		slog.String("error_code", xe.Code),
		slog.String("error", xe.Message),
		slog.String("category", string(xe.Category)),
		slog.String("severity", string(xe.Severity)),
	}
	if xe.Cause != nil {
		attrs = append(attrs, slog.String("cause", xe.Cause.Error()))
	}

	keys := make([]string, 0, len(xe.Details))
	for k := range xe.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String("detail_"+k, xe.Details[k]))
	}

	return attrs
}
