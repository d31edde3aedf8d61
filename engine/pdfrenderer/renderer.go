package pdfrenderer

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrUnknownRenderer is returned by NewRenderer for an unsupported backend name
var ErrUnknownRenderer = errors.New("unknown PDF renderer")

// Renderer opens PDF documents for page by page rasterization
type Renderer interface {
	// Open loads the document, failing if it cannot be read at all
	Open(filename string) (Document, error)

	// Close cleans up any resources used by the renderer
	Close() error
}

// Document is an opened PDF
type Document interface {
	NumPage() int
	// RenderPage rasterizes the zero based page at dpi, a zoom of dpi/72 on both axes
	RenderPage(index int, dpi int) (image.Image, error)
	Close() error
}

// NewRenderer creates the named renderer: "fitz" (MuPDF, CGo) or "pdfium" (WebAssembly, pure Go)
func NewRenderer(name string) (Renderer, error) {
	switch strings.ToLower(name) {
	case "", "fitz", "mupdf":
		return NewFitzRenderer()
	case "pdfium":
		return NewPDFiumRenderer()
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownRenderer, name)
	}
}

// CountPages opens the PDF, reads its page count and closes it again
func CountPages(filename string) (int, error) {
	file, reader, err := pdf.Open(filename)
	if err != nil {
		return 0, fmt.Errorf("unable to open PDF %s: %w", filename, err)
	}
	defer file.Close()
	return reader.NumPage(), nil
}
