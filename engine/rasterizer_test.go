package engine

import (
	"errors"
	"testing"

	"github.com/drummonds/pdfextract/config"
	"github.com/drummonds/pdfextract/engine/pdfrenderer"
)

func TestRasterizer_SkipsFailedPages(t *testing.T) {
	rasterizer, doc := newFakeRasterizer(nil, errRender, nil)

	pages, err := rasterizer.Pages("three.pdf")
	if err != nil {
		t.Fatalf("Pages failed: %v", err)
	}

	var indexes []int
	for page := range pages.All() {
		indexes = append(indexes, page.Index)
		if page.Image == nil {
			t.Errorf("Page %d has no image", page.Index)
		}
	}

	if len(indexes) != 2 || indexes[0] != 1 || indexes[1] != 3 {
		t.Errorf("Expected pages [1 3], got %v", indexes)
	}
	skipped := pages.Skipped()
	if len(skipped) != 1 || skipped[0].Index != 2 || !errors.Is(skipped[0].Err, errRender) {
		t.Errorf("Expected page 2 to be skipped, got %+v", skipped)
	}
	if doc.closed != 1 {
		t.Errorf("Expected document closed once, got %d", doc.closed)
	}
}

func TestRasterizer_NotRestartable(t *testing.T) {
	rasterizer, doc := newFakeRasterizer(nil, nil)
	pages, err := rasterizer.Pages("two.pdf")
	if err != nil {
		t.Fatalf("Pages failed: %v", err)
	}

	first := 0
	for range pages.All() {
		first++
	}
	second := 0
	for range pages.All() {
		second++
	}
	if first != 2 || second != 0 {
		t.Errorf("Expected 2 pages then none, got %d and %d", first, second)
	}
	if len(doc.rendered) != 2 {
		t.Errorf("Expected 2 renders, got %d", len(doc.rendered))
	}
}

func TestRasterizer_LazyAndClosesOnEarlyStop(t *testing.T) {
	rasterizer, doc := newFakeRasterizer(nil, nil, nil, nil)
	pages, err := rasterizer.Pages("four.pdf")
	if err != nil {
		t.Fatalf("Pages failed: %v", err)
	}
	if len(doc.rendered) != 0 {
		t.Errorf("Expected nothing rendered before iteration, got %v", doc.rendered)
	}

	for page := range pages.All() {
		if page.Index == 2 {
			break
		}
	}
	if len(doc.rendered) != 2 {
		t.Errorf("Expected rendering to stop after page 2, rendered %v", doc.rendered)
	}
	if doc.closed != 1 {
		t.Errorf("Expected document closed after early stop, got %d", doc.closed)
	}
	if err := pages.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}
	if doc.closed != 1 {
		t.Errorf("Expected document closed once, got %d", doc.closed)
	}
}

func TestRasterizer_OpenFailure(t *testing.T) {
	openErr := errors.New("no objects found")
	rasterizer := NewRasterizer(&fakeRenderer{openErr: openErr}, config.Default(), testLogger())
	if _, err := rasterizer.Pages("broken.pdf"); !errors.Is(err, openErr) {
		t.Errorf("Expected open error, got %v", err)
	}
}

func TestRasterizer_PageCount(t *testing.T) {
	path := writeTestPDF(t, t.TempDir(), "five.pdf", 5)
	rasterizer, _ := newFakeRasterizer()
	count, err := rasterizer.PageCount(path)
	if err != nil {
		t.Fatalf("PageCount failed: %v", err)
	}
	if count != 5 {
		t.Errorf("Expected 5 pages, got %d", count)
	}
}

func TestRasterizer_FitzDPI(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping MuPDF rendering in short mode")
	}
	path := writeTestPDF(t, t.TempDir(), "letter.pdf", 2)

	renderer, err := pdfrenderer.NewRenderer("fitz")
	if err != nil {
		t.Fatalf("Failed to create renderer: %v", err)
	}
	defer renderer.Close()

	cfg := config.Default()
	cfg.DPI = 72
	pages, err := NewRasterizer(renderer, cfg, testLogger()).Pages(path)
	if err != nil {
		t.Fatalf("Pages failed: %v", err)
	}
	count := 0
	for page := range pages.All() {
		count++
		w, h := page.Image.Bounds().Dx(), page.Image.Bounds().Dy()
		if w < 611 || w > 613 || h < 791 || h > 793 {
			t.Errorf("Expected a 612x792 page at 72 DPI, got %dx%d", w, h)
		}
	}
	if count != 2 {
		t.Errorf("Expected 2 pages, got %d", count)
	}
}
