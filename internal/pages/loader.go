package pages

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// DefaultFallbackPageCount is used when a document's page count cannot be
// read at job creation.
const DefaultFallbackPageCount = 100

// DocumentLoadError means the document itself could not be resolved. Batch
// attempts treat it as retryable.
type DocumentLoadError struct {
	Ref string
	Err error
}

func (e *DocumentLoadError) Error() string {
	return fmt.Sprintf("load document %s: %v", e.Ref, e.Err)
}

func (e *DocumentLoadError) Unwrap() error { return e.Err }

// Page is the content of one page. Image and Text are empty when that part
// of extraction failed; the failures are kept for diagnostics.
type Page struct {
	Number   int
	Image    []byte
	Text     string
	ImageErr error
	TextErr  error
}

// HasImage reports whether the page rendered.
func (p Page) HasImage() bool { return len(p.Image) > 0 }

// HasText reports whether the page has a non-empty text layer.
func (p Page) HasText() bool { return p.Text != "" }

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	Documents DocumentStore
	Extractor Extractor

	// FallbackPageCount is returned by DiscoverPageCount when introspection
	// fails (default 100).
	FallbackPageCount int

	// ScratchDir holds the per-call copy of the document (default os.TempDir).
	ScratchDir string

	Logger *slog.Logger
}

// Loader reads pages for batches.
type Loader struct {
	docs     DocumentStore
	extract  Extractor
	fallback int
	scratch  string
	logger   *slog.Logger
}

// NewLoader creates a page loader.
func NewLoader(cfg LoaderConfig) *Loader {
	if cfg.Extractor == nil {
		cfg.Extractor = NewPDFExtractor(DefaultDPI)
	}
	if cfg.FallbackPageCount <= 0 {
		cfg.FallbackPageCount = DefaultFallbackPageCount
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loader{
		docs:     cfg.Documents,
		extract:  cfg.Extractor,
		fallback: cfg.FallbackPageCount,
		scratch:  cfg.ScratchDir,
		logger:   cfg.Logger,
	}
}

// DiscoverPageCount returns endPage when it is set, without touching the
// document. Otherwise it introspects the document. It never fails: when the
// document cannot be read the fallback count is returned with estimated set.
func (l *Loader) DiscoverPageCount(ctx context.Context, ref string, endPage int) (count int, estimated bool) {
	if endPage > 0 {
		return endPage, false
	}

	n, err := l.countPages(ctx, ref)
	if err != nil || n <= 0 {
		l.logger.Warn("page count introspection failed, using fallback",
			"document", ref, "fallback", l.fallback, "error", err)
		return l.fallback, true
	}
	return n, false
}

func (l *Loader) countPages(ctx context.Context, ref string) (int, error) {
	path, cleanup, err := l.fetch(ctx, ref)
	if err != nil {
		return 0, err
	}
	defer cleanup()
	return l.extract.PageCount(ctx, path)
}

// LoadPages returns one Page per page in [start, end], in order. Per-page
// extraction failures leave that page's fields empty. Failing to fetch the
// document is a *DocumentLoadError.
func (l *Loader) LoadPages(ctx context.Context, ref string, start, end int) ([]Page, error) {
	if start < 1 || end < start {
		return nil, fmt.Errorf("invalid page range %d-%d", start, end)
	}

	path, cleanup, err := l.fetch(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	out := make([]Page, 0, end-start+1)
	for n := start; n <= end; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := Page{Number: n}
		p.Image, p.ImageErr = l.extract.RenderPage(ctx, path, n)
		p.Text, p.TextErr = l.extract.PageText(ctx, path, n)
		if p.ImageErr != nil || p.TextErr != nil {
			l.logger.Debug("partial page extraction", "document", ref, "page", n,
				"image_error", p.ImageErr, "text_error", p.TextErr)
		}
		out = append(out, p)
	}
	return out, nil
}

// fetch downloads ref into a scratch file the extractor can read.
func (l *Loader) fetch(ctx context.Context, ref string) (string, func(), error) {
	if l.docs == nil {
		return "", nil, &DocumentLoadError{Ref: ref, Err: fmt.Errorf("no document store configured")}
	}
	data, err := l.docs.Download(ctx, ref)
	if err != nil {
		return "", nil, &DocumentLoadError{Ref: ref, Err: err}
	}

	f, err := os.CreateTemp(l.scratch, "takeoff-doc-*.pdf")
	if err != nil {
		return "", nil, &DocumentLoadError{Ref: ref, Err: fmt.Errorf("create scratch file: %w", err)}
	}
	cleanup := func() { os.Remove(f.Name()) }
	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return "", nil, &DocumentLoadError{Ref: ref, Err: fmt.Errorf("write scratch file: %w", err)}
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, &DocumentLoadError{Ref: ref, Err: fmt.Errorf("close scratch file: %w", err)}
	}
	return f.Name(), cleanup, nil
}
