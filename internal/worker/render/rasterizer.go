// Package render turns PDF pages into PNG rasters and scales them into thumbnails.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/cuongbtq/sheetworks/shared/logger"
)

// pdftoppm renders at 72 dpi for scale 1.0, matching one PDF point per pixel
const pointsPerInch = 72.0

var (
	// ErrInvalidPDF is returned when the bytes cannot be parsed as a PDF
	ErrInvalidPDF = errors.New("invalid pdf")

	// ErrPageOutOfRange is returned for a page index outside [0, PageCount)
	ErrPageOutOfRange = errors.New("page index out of range")

	// ErrRenderFailed is returned when the renderer produced no usable image
	ErrRenderFailed = errors.New("page render failed")
)

var disableConfigDir sync.Once

// Raster is one rendered page
type Raster struct {
	PNG    []byte
	Width  int
	Height int
	// Partial is set when the renderer reported an error yet still wrote an image
	Partial bool
}

// PageSize is the page viewport in PDF points: the crop box, rotated
type PageSize struct {
	Width  float64
	Height float64
}

// Pixels returns the raster size of the viewport at scale, floored to whole pixels
func (s PageSize) Pixels(scale float64) (int, int) {
	return int(math.Floor(s.Width * scale)), int(math.Floor(s.Height * scale))
}

// Config configures a Rasterizer
type Config struct {
	Scale        float64
	PdftoppmPath string
	TempDir      string
}

// Rasterizer parses PDFs with pdfcpu and renders pages with poppler's pdftoppm
type Rasterizer struct {
	scale   float64
	bin     string
	tempDir string
	runner  Runner
	pdfConf *model.Configuration
	logger  *slog.Logger
}

// Option customizes a Rasterizer
type Option func(*Rasterizer)

// WithRunner replaces the command runner
func WithRunner(r Runner) Option {
	return func(rz *Rasterizer) { rz.runner = r }
}

// NewRasterizer creates a rasterizer
func NewRasterizer(cfg Config, log *slog.Logger, opts ...Option) *Rasterizer {
	disableConfigDir.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	rz := &Rasterizer{
		scale:   cfg.Scale,
		bin:     cfg.PdftoppmPath,
		tempDir: cfg.TempDir,
		pdfConf: conf,
		logger:  log.With(logger.Component("rasterizer")),
	}
	if rz.scale <= 0 {
		rz.scale = 2.0
	}
	if rz.bin == "" {
		rz.bin = "pdftoppm"
	}
	for _, opt := range opts {
		opt(rz)
	}
	if rz.runner == nil {
		rz.runner = ExecRunner{Logger: rz.logger}
	}
	return rz
}

// Scale returns the configured render scale
func (r *Rasterizer) Scale() float64 {
	return r.scale
}

// Source is an opened PDF ready for page rendering. Close removes its temp files.
type Source struct {
	rz    *Rasterizer
	dir   string
	path  string
	pages []PageSize
}

// Open parses pdf and stages it on disk for the renderer
func (r *Rasterizer) Open(ctx context.Context, pdf []byte) (*Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(pdf) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidPDF)
	}

	pages, err := r.pageSizes(pdf)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(r.tempDir, "sheetworks-render-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	path := filepath.Join(dir, "source.pdf")
	if err := os.WriteFile(path, pdf, 0o600); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to stage pdf: %w", err)
	}

	return &Source{rz: r, dir: dir, path: path, pages: pages}, nil
}

// pageSizes returns the rotated crop box of every page, the area pdftoppm renders with -cropbox
func (r *Rasterizer) pageSizes(pdf []byte) ([]PageSize, error) {
	pdfCtx, err := api.ReadAndValidate(bytes.NewReader(pdf), r.pdfConf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}

	boundaries, err := pdfCtx.PageBoundaries(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}
	if len(boundaries) == 0 {
		return nil, fmt.Errorf("%w: document has no pages", ErrInvalidPDF)
	}
	if len(boundaries) != pdfCtx.PageCount {
		return nil, fmt.Errorf("%w: corrupt page tree", ErrInvalidPDF)
	}

	pages := make([]PageSize, len(boundaries))
	for i, pb := range boundaries {
		box := pb.CropBox()
		if box == nil {
			return nil, fmt.Errorf("%w: page %d has no media box", ErrInvalidPDF, i)
		}
		d := box.Dimensions()
		if pb.Rot%180 != 0 {
			d.Width, d.Height = d.Height, d.Width
		}
		pages[i] = PageSize{Width: d.Width, Height: d.Height}
	}
	return pages, nil
}

// PageCount returns the number of pages in the document
func (s *Source) PageCount() int {
	return len(s.pages)
}

// PageSize returns the viewport of page index in points
func (s *Source) PageSize(index int) (PageSize, error) {
	if index < 0 || index >= len(s.pages) {
		return PageSize{}, fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, index, len(s.pages))
	}
	return s.pages[index], nil
}

// Render rasterizes the zero-based page index at the rasterizer's scale
func (s *Source) Render(ctx context.Context, index int) (*Raster, error) {
	size, err := s.PageSize(index)
	if err != nil {
		return nil, err
	}

	width, height := size.Pixels(s.rz.scale)
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("%w: page %d has degenerate size %.2fx%.2f", ErrRenderFailed, index, size.Width, size.Height)
	}

	pageNo := strconv.Itoa(index + 1)
	prefix := filepath.Join(s.dir, "page-"+pageNo)
	outPath := prefix + ".png"
	defer os.Remove(outPath)

	args := []string{
		"-f", pageNo,
		"-l", pageNo,
		"-singlefile",
		"-png",
		"-cropbox",
		"-scale-to-x", strconv.Itoa(width),
		"-scale-to-y", strconv.Itoa(height),
		s.path,
		prefix,
	}

	_, stderr, runErr := s.rz.runner.Run(ctx, s.rz.bin, args...)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	data, readErr := os.ReadFile(outPath)
	if readErr != nil || len(data) == 0 {
		if runErr != nil {
			return nil, fmt.Errorf("%w: page %d: %v: %s", ErrRenderFailed, index, runErr, truncate(string(stderr), 512))
		}
		return nil, fmt.Errorf("%w: page %d: no output written", ErrRenderFailed, index)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: page %d: unreadable output: %v", ErrRenderFailed, index, err)
	}

	raster := &Raster{PNG: data, Width: cfg.Width, Height: cfg.Height}
	if runErr != nil {
		raster.Partial = true
		s.rz.logger.Warn("Renderer reported an error but produced an image",
			slog.Int("page_index", index),
			logger.Err(runErr),
		)
	}

	return raster, nil
}

// Close removes the staged files
func (s *Source) Close() error {
	return os.RemoveAll(s.dir)
}

// Render opens pdf and rasterizes a single page at scale
func (r *Rasterizer) Render(ctx context.Context, pdf []byte, index int, scale float64) (*Raster, error) {
	rz := r
	if scale > 0 && scale != r.scale {
		clone := *r
		clone.scale = scale
		rz = &clone
	}

	src, err := rz.Open(ctx, pdf)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	return src.Render(ctx, index)
}
