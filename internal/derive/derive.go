// Package derive turns one decoded unit into usage entries for the index.
package derive

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	xerrors "github.com/Aman-CERP/xref/internal/errors"
	"github.com/Aman-CERP/xref/internal/logging"
	"github.com/Aman-CERP/xref/internal/refindex"
	"github.com/Aman-CERP/xref/internal/source"
	"github.com/Aman-CERP/xref/internal/telemetry"
)

// maxSnippet caps snippet length in runes.
const maxSnippet = 160

// Deriver re-decodes units and stores their usages in the cached index.
type Deriver struct {
	reader  source.Reader
	cache   *refindex.Cache
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// Dependencies holds what a Deriver needs.
type Dependencies struct {
	Reader  source.Reader
	Cache   *refindex.Cache
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// New creates a Deriver.
func New(deps Dependencies) (*Deriver, error) {
	if deps.Reader == nil {
		return nil, xerrors.New(xerrors.ErrCodeInternal, "reader is required", nil)
	}
	if deps.Cache == nil {
		return nil, xerrors.New(xerrors.ErrCodeInternal, "index cache is required", nil)
	}
	return &Deriver{
		reader:  deps.Reader,
		cache:   deps.Cache,
		logger:  logging.OrDefault(deps.Logger),
		metrics: deps.Metrics,
	}, nil
}

// Derive decodes unit and puts its usages into the index. A unit that is
// already derived is skipped without decoding.
func (d *Deriver) Derive(ctx context.Context, unit source.Unit) error {
	ix := d.cache.Get()
	if ix == nil {
		return xerrors.New(xerrors.ErrCodeIndexFailed, "usage index is absent", nil).
			WithDetail("unit", unit.ID)
	}
	if !ix.NeedsDerivation(unit) {
		return nil
	}

	rec, err := d.reader.Decode(ctx, source.Ref{Path: unit.ID})
	if err != nil {
		return err
	}

	usages := Usages(rec)
	if ix.Put(unit, usages) {
		d.metrics.UnitDerived(ix.Stats().Derived)
		d.logger.Debug("unit_derived",
			slog.String("unit", unit.ID),
			slog.Int("names", len(usages)))
	}
	return nil
}

// Usages renders each reference of rec as a usage keyed by name.
func Usages(rec *source.Record) map[string][]refindex.Usage {
	lines := bytes.Split(rec.Source, []byte("\n"))

	out := make(map[string][]refindex.Usage)
	for _, ref := range rec.References {
		out[ref.Name] = append(out[ref.Name], refindex.Usage{
			Unit:      rec.Unit,
			Line:      ref.Line,
			Column:    ref.Column,
			Enclosing: ref.Enclosing,
			Snippet:   snippet(lines, ref.Line),
		})
	}
	return out
}

func snippet(lines [][]byte, line int) string {
	if line < 1 || line > len(lines) {
		return ""
	}
	s := strings.TrimSpace(string(lines[line-1]))
	if utf8.RuneCountInString(s) <= maxSnippet {
		return s
	}
	return string([]rune(s)[:maxSnippet]) + "..."
}
