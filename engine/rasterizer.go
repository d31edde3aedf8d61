package engine

import (
	"image"
	"iter"
	"log/slog"
	"path/filepath"

	"github.com/drummonds/pdfextract/config"
	"github.com/drummonds/pdfextract/engine/pdfrenderer"
)

// Page is one rasterized PDF page
type Page struct {
	Index int // 1-based page number in the source document
	Image image.Image
}

// SkippedPage is a page the renderer failed on
type SkippedPage struct {
	Index int
	Err   error
}

// Rasterizer turns PDF pages into bitmaps at the configured DPI
type Rasterizer struct {
	renderer pdfrenderer.Renderer
	dpi      int
	logger   *slog.Logger
}

// NewRasterizer creates a rasterizer rendering at cfg.DPI
func NewRasterizer(renderer pdfrenderer.Renderer, cfg config.Config, logger *slog.Logger) *Rasterizer {
	return &Rasterizer{renderer: renderer, dpi: cfg.DPI, logger: logger}
}

// Pages opens the document and returns a lazy page sequence. Failing to open is returned
// here, failures on individual pages are logged and skipped during iteration.
func (r *Rasterizer) Pages(pdfPath string) (*PageSequence, error) {
	doc, err := r.renderer.Open(pdfPath)
	if err != nil {
		r.logger.Error("Failed to process PDF", "path", pdfPath, "error", err)
		return nil, err
	}
	r.logger.Info("Processing PDF", "path", pdfPath, "pages", doc.NumPage())
	return &PageSequence{
		doc:    doc,
		dpi:    r.dpi,
		name:   filepath.Base(pdfPath),
		logger: r.logger,
	}, nil
}

// PageCount reports the number of pages without rendering anything
func (r *Rasterizer) PageCount(pdfPath string) (int, error) {
	count, err := pdfrenderer.CountPages(pdfPath)
	if err != nil {
		r.logger.Error("Failed to get page count", "path", pdfPath, "error", err)
		return 0, err
	}
	return count, nil
}

// PageSequence yields the pages of one opened document. It is forward only and can be
// consumed once; the document is closed when iteration ends.
type PageSequence struct {
	doc      pdfrenderer.Document
	dpi      int
	name     string
	logger   *slog.Logger
	consumed bool
	closed   bool
	skipped  []SkippedPage
}

// All returns the page iterator
func (s *PageSequence) All() iter.Seq[Page] {
	return func(yield func(Page) bool) {
		if s.consumed {
			return
		}
		s.consumed = true
		defer s.Close()

		for i := 0; i < s.doc.NumPage(); i++ {
			img, err := s.doc.RenderPage(i, s.dpi)
			if err != nil {
				s.logger.Error("Failed to convert page", "file", s.name, "page", i+1, "error", err)
				s.skipped = append(s.skipped, SkippedPage{Index: i + 1, Err: err})
				continue
			}
			s.logger.Debug("Converted page to image", "file", s.name, "page", i+1,
				"width", img.Bounds().Dx(), "height", img.Bounds().Dy())
			if !yield(Page{Index: i + 1, Image: img}) {
				return
			}
		}
		s.logger.Info("PDF processing completed", "file", s.name)
	}
}

// Skipped lists the pages dropped so far
func (s *PageSequence) Skipped() []SkippedPage {
	return s.skipped
}

// Close releases the document; safe to call more than once
func (s *PageSequence) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.consumed = true
	return s.doc.Close()
}
