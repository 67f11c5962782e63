package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	xerrors "github.com/Aman-CERP/xref/internal/errors"
	"github.com/Aman-CERP/xref/internal/logging"
)

// DefaultMaxFileSize is used when ReaderConfig.MaxFileSize is zero.
const DefaultMaxFileSize = 2 * 1024 * 1024

// ReaderConfig configures a FileReader.
type ReaderConfig struct {
	// Root is the project root that Ref paths are relative to.
	Root string
	// MaxFileSize rejects larger files. Zero means DefaultMaxFileSize.
	MaxFileSize int64
	// CacheEntries is the number of file contents kept in memory.
	// Zero disables the cache.
	CacheEntries int
	// Registry defaults to DefaultRegistry().
	Registry *LanguageRegistry
	Logger   *slog.Logger
}

type contentKey struct {
	path    string
	size    int64
	modTime time.Time
}

// FileReader decodes files under a root with tree-sitter.
// It is safe for concurrent use.
type FileReader struct {
	root     string
	maxSize  int64
	registry *LanguageRegistry
	cache    *lru.Cache[contentKey, []byte]
	logger   *slog.Logger
}

// NewFileReader creates a reader for cfg.Root.
func NewFileReader(cfg ReaderConfig) (*FileReader, error) {
	if cfg.Root == "" {
		return nil, xerrors.New(xerrors.ErrCodeInvalidPath, "reader root is required", nil)
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, xerrors.New(xerrors.ErrCodeInvalidPath, "invalid reader root", err)
	}

	r := &FileReader{
		root:     root,
		maxSize:  cfg.MaxFileSize,
		registry: cfg.Registry,
		logger:   logging.OrDefault(cfg.Logger),
	}
	if r.maxSize <= 0 {
		r.maxSize = DefaultMaxFileSize
	}
	if r.registry == nil {
		r.registry = DefaultRegistry()
	}
	if cfg.CacheEntries > 0 {
		cache, err := lru.New[contentKey, []byte](cfg.CacheEntries)
		if err != nil {
			return nil, fmt.Errorf("failed to create content cache: %w", err)
		}
		r.cache = cache
	}

	return r, nil
}

// Root returns the absolute root directory.
func (r *FileReader) Root() string {
	return r.root
}

// Registry returns the language registry in use.
func (r *FileReader) Registry() *LanguageRegistry {
	return r.registry
}

// Decode reads and parses ref.
func (r *FileReader) Decode(ctx context.Context, ref Ref) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg, ok := r.registry.ForPath(ref.Path)
	if !ok {
		return nil, xerrors.New(xerrors.ErrCodeUnsupportedLanguage,
			"unsupported file type", nil).
			WithDetail("unit", ref.String()).
			WithDetail("extension", filepath.Ext(ref.Path))
	}

	content, err := r.read(ref)
	if err != nil {
		return nil, err
	}

	parsed, err := Parse(ctx, content, cfg, r.registry)
	if err != nil {
		if xe, ok := xerrors.As(err); ok {
			return nil, xe.WithDetail("unit", ref.String())
		}
		return nil, err
	}
	if parsed.HasErrors {
		r.logger.Debug("unit_parsed_with_errors", slog.String("unit", ref.String()))
	}

	return &Record{
		Unit:         NewUnit(ref.Path, cfg.Name, parsed.Package),
		Package:      parsed.Package,
		Declarations: parsed.Declarations,
		References:   parsed.References,
		Source:       content,
	}, nil
}

func (r *FileReader) read(ref Ref) ([]byte, error) {
	full := filepath.Join(r.root, filepath.FromSlash(ref.Path))

	info, err := os.Stat(full)
	if err != nil {
		return nil, statError(err, ref)
	}
	if info.IsDir() {
		return nil, xerrors.New(xerrors.ErrCodeInvalidPath, "unit is a directory", nil).
			WithDetail("unit", ref.String())
	}
	if info.Size() > r.maxSize {
		return nil, xerrors.New(xerrors.ErrCodeFileTooLarge,
			fmt.Sprintf("file is %d bytes, limit is %d", info.Size(), r.maxSize), nil).
			WithDetail("unit", ref.String()).
			WithSuggestion("Raise paths.max_file_size or exclude the file")
	}

	key := contentKey{path: full, size: info.Size(), modTime: info.ModTime()}
	if r.cache != nil {
		if data, ok := r.cache.Get(key); ok {
			return data, nil
		}
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return nil, statError(err, ref)
	}
	if r.cache != nil {
		r.cache.Add(key, data)
	}
	return data, nil
}

func statError(err error, ref Ref) error {
	code := xerrors.ErrCodeFileNotFound
	if os.IsPermission(err) {
		code = xerrors.ErrCodeFilePermission
	}
	return xerrors.New(code, "failed to read unit", err).WithDetail("unit", ref.String())
}

// CachedEntries reports how many contents are cached.
func (r *FileReader) CachedEntries() int {
	if r.cache == nil {
		return 0
	}
	return r.cache.Len()
}
