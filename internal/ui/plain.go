package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer writes one line per update, for CI and pipes.
type PlainRenderer struct {
	mu  sync.Mutex
	out io.Writer
	// last suppresses repeated lines for the same count.
	last ProgressEvent
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output, last: ProgressEvent{Current: -1}}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Stage == r.last.Stage && event.Current == r.last.Current &&
		event.Total == r.last.Total && event.Message == r.last.Message {
		return
	}
	r.last = event

	msg := event.Message
	if msg == "" {
		msg = event.CurrentFile
	}

	if event.Total > 0 {
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d - %s\n", event.Stage.Icon(), event.Current, event.Total, msg)
	} else if msg != "" {
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), msg)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}
	if event.File != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.File, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "%s: %d/%d units derived, %d usages in %s",
		completionTitle(stats.Status), stats.Derived, stats.Units, stats.Usages,
		stats.Duration.Round(100*time.Millisecond))
	if stats.LoadFailed > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d units failed to load)", stats.LoadFailed)
	}
	_, _ = fmt.Fprintln(r.out)

	if stats.Err != nil {
		_, _ = fmt.Fprintf(r.out, "Error: %v\n", stats.Err)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

func completionTitle(status string) string {
	switch status {
	case "", "completed":
		return "Complete"
	case "cancelled_by_resource_pressure":
		return "Cancelled (low memory)"
	default:
		return "Failed"
	}
}
