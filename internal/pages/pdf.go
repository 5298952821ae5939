package pages

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Extractor pulls page-level content out of a document on disk.
type Extractor interface {
	PageCount(ctx context.Context, path string) (int, error)
	RenderPage(ctx context.Context, path string, page int) ([]byte, error)
	PageText(ctx context.Context, path string, page int) (string, error)
}

// DefaultDPI keeps plan sheets legible to vision models without blowing up
// request sizes.
const DefaultDPI = 150

// PDFExtractor counts pages with pdfcpu and renders pages and text with
// poppler-utils (pdftoppm, pdftotext).
type PDFExtractor struct {
	DPI       int
	Pdftoppm  string
	Pdftotext string
}

// NewPDFExtractor returns an extractor using poppler binaries from PATH.
func NewPDFExtractor(dpi int) *PDFExtractor {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &PDFExtractor{DPI: dpi, Pdftoppm: "pdftoppm", Pdftotext: "pdftotext"}
}

// PageCount reads the page tree without rendering anything.
func (e *PDFExtractor) PageCount(ctx context.Context, path string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(f, conf)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	return n, nil
}

// RenderPage renders one page to PNG. pdftoppm is used rather than pdfcpu
// image extraction because plan sheets are mostly vector drawings.
func (e *PDFExtractor) RenderPage(ctx context.Context, path string, page int) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "takeoff-page-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	prefix := filepath.Join(tmpDir, "page")
	pageStr := strconv.Itoa(page)
	cmd := exec.CommandContext(ctx, e.Pdftoppm,
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", strconv.Itoa(e.DPI),
		"-singlefile",
		path,
		prefix,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w (output: %s)", err, bytes.TrimSpace(output))
	}

	data, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}
	return data, nil
}

// PageText extracts the text layer of one page, keeping the physical layout
// so schedules and title blocks stay readable.
func (e *PDFExtractor) PageText(ctx context.Context, path string, page int) (string, error) {
	pageStr := strconv.Itoa(page)
	cmd := exec.CommandContext(ctx, e.Pdftotext,
		"-f", pageStr,
		"-l", pageStr,
		"-layout",
		"-enc", "UTF-8",
		path,
		"-",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("pdftotext failed: %w (output: %s)", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return string(bytes.TrimSpace(stdout.Bytes())), nil
}

var _ Extractor = (*PDFExtractor)(nil)
