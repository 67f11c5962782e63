// Package output formats CLI output: status lines and usage listings.
package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/Aman-CERP/xref/internal/pipeline"
	"github.com/Aman-CERP/xref/internal/query"
)

// Writer provides formatted output for the CLI. Write errors are ignored
// for console output.
type Writer struct {
	out io.Writer
}

// New creates a Writer.
func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Status prints a message with an icon.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message.
func (w *Writer) Success(msg string) {
	w.Status("✅", msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status("❌", msg)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Usages prints one line per result as file:line:col, followed by the
// enclosing declaration and snippet. limit <= 0 prints everything.
func (w *Writer) Usages(a query.Answer, limit int) {
	results, truncated := Limit(a.Results, limit)

	if len(results) == 0 {
		w.Statusf("🔍", "No usages of %s", a.Target)
	}
	for _, r := range results {
		where := fmt.Sprintf("%s:%d:%d", r.File, r.Line, r.Column)
		if r.Enclosing != "" {
			_, _ = fmt.Fprintf(w.out, "%s (%s)\n    %s\n", where, r.Enclosing, r.Snippet)
		} else {
			_, _ = fmt.Fprintf(w.out, "%s\n    %s\n", where, r.Snippet)
		}
	}

	if truncated > 0 {
		w.Statusf("", "... %d more (raise --limit to see them)", truncated)
	}
	if a.Outcome != nil && a.Outcome.Status == pipeline.StatusCancelled {
		w.Warning("low memory, results may be incomplete")
	}
	if a.Err != nil {
		w.Warningf("derivation failed, results may be incomplete: %v", a.Err)
	}
}

// UsagesJSON is the machine-readable form of an answer.
type UsagesJSON struct {
	Target    string         `json:"target"`
	Path      string         `json:"path"`
	Status    string         `json:"status"`
	Total     int            `json:"total"`
	Truncated int            `json:"truncated,omitempty"`
	Usages    []query.Result `json:"usages"`
	Error     string         `json:"error,omitempty"`
}

// NewUsagesJSON builds the JSON form of a, keeping at most limit usages.
func NewUsagesJSON(a query.Answer, limit int) UsagesJSON {
	results, truncated := Limit(a.Results, limit)
	out := UsagesJSON{
		Target:    a.Target.String(),
		Path:      string(a.Path),
		Status:    AnswerStatus(a),
		Total:     len(a.Results),
		Truncated: truncated,
		Usages:    results,
	}
	if a.Err != nil {
		out.Error = a.Err.Error()
	}
	return out
}

// JSON writes v as indented JSON.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// AnswerStatus is the pipeline status of a, or "completed" when no run
// was needed.
func AnswerStatus(a query.Answer) string {
	switch {
	case a.Outcome != nil:
		return string(a.Outcome.Status)
	case a.Err != nil:
		return string(pipeline.StatusFailed)
	default:
		return string(pipeline.StatusCompleted)
	}
}

// Limit returns at most limit results and how many were dropped.
func Limit(results query.ResultSet, limit int) (query.ResultSet, int) {
	if results == nil {
		results = query.ResultSet{}
	}
	if limit <= 0 || len(results) <= limit {
		return results, 0
	}
	return results[:limit], len(results) - limit
}
