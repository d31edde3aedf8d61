package engine

import (
	"cmp"
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/drummonds/pdfextract/result"
)

// PDFExtensions and ImageExtensions are the inputs the pipeline accepts
var (
	PDFExtensions   = []string{".pdf"}
	ImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tiff"}
)

// InputKind classifies a path by extension
type InputKind int

const (
	InputUnsupported InputKind = iota
	InputPDF
	InputImage
)

// ClassifyInput looks only at the extension, existence is checked elsewhere
func ClassifyInput(path string) InputKind {
	ext := strings.ToLower(filepath.Ext(path))
	if slices.Contains(PDFExtensions, ext) {
		return InputPDF
	}
	if slices.Contains(ImageExtensions, ext) {
		return InputImage
	}
	return InputUnsupported
}

// Extractor turns a page image into text
type Extractor interface {
	ExtractText(ctx context.Context, img image.Image) (string, error)
	ExtractTextFromFile(ctx context.Context, path string) (string, error)
}

// Pipeline feeds rasterized pages one at a time through the extractor
type Pipeline struct {
	Rasterizer *Rasterizer
	Extractor  Extractor
	Out        io.Writer // page text is echoed here, nil to stay quiet
	Logger     *slog.Logger

	MaxPages      int  // stop after this many pages, 0 for all
	ReportSkipped bool // add error records for pages that failed to render and number by source page
}

// NewPipeline creates a pipeline writing page text to out
func NewPipeline(rasterizer *Rasterizer, extractor Extractor, out io.Writer, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		Rasterizer: rasterizer,
		Extractor:  extractor,
		Out:        out,
		Logger:     logger,
	}
}

// ProcessPDF extracts every page of the document in order
func (p *Pipeline) ProcessPDF(ctx context.Context, pdfPath string) ([]result.PageRecord, error) {
	return p.ProcessPDFWithProgress(ctx, pdfPath, nil)
}

// ProcessPDFWithProgress is ProcessPDF with a callback after each finished page.
// A page that fails extraction becomes an error record; only a document that cannot be opened
// or a cancelled context fails the whole call.
func (p *Pipeline) ProcessPDFWithProgress(ctx context.Context, pdfPath string, progress func(done int)) ([]result.PageRecord, error) {
	pages, err := p.Rasterizer.Pages(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("unable to open PDF %s: %w", pdfPath, err)
	}
	defer pages.Close()

	records := []result.PageRecord{}
	processed := 0
	for page := range pages.All() {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		if p.MaxPages > 0 && processed >= p.MaxPages {
			p.Logger.Info("Page limit reached", "max_pages", p.MaxPages)
			break
		}
		processed++

		pageNum := processed
		if p.ReportSkipped {
			pageNum = page.Index
		}
		records = append(records, p.extractPage(ctx, pageNum, page.Image))
		if progress != nil {
			progress(processed)
		}
	}

	if p.ReportSkipped && len(pages.Skipped()) > 0 {
		for _, skipped := range pages.Skipped() {
			records = append(records, result.Failure(skipped.Index, fmt.Errorf("page render failed: %w", skipped.Err)))
		}
		slices.SortStableFunc(records, func(a, b result.PageRecord) int {
			return cmp.Compare(a.Page, b.Page)
		})
	}
	return records, nil
}

func (p *Pipeline) extractPage(ctx context.Context, pageNum int, img image.Image) result.PageRecord {
	p.Logger.Info("Processing page", "page", pageNum)
	text, err := p.Extractor.ExtractText(ctx, img)
	if err != nil {
		p.Logger.Error("Failed to process page", "page", pageNum, "error", err)
		return result.Failure(pageNum, err)
	}
	p.printf("\n--- Page %d ---\n%s\n--- End Page %d ---\n\n", pageNum, text, pageNum)
	return result.Success(pageNum, text)
}

// ProcessImage extracts a single standalone image
func (p *Pipeline) ProcessImage(ctx context.Context, imagePath string) (string, error) {
	text, err := p.Extractor.ExtractTextFromFile(ctx, imagePath)
	if err != nil {
		p.Logger.Error("Failed to process image", "path", imagePath, "error", err)
		return "", err
	}
	p.printf("\n--- Extracted Text ---\n%s\n--- End ---\n\n", text)
	return text, nil
}

func (p *Pipeline) printf(format string, args ...any) {
	if p.Out == nil {
		return
	}
	fmt.Fprintf(p.Out, format, args...)
}
