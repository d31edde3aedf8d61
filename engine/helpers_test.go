package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/drummonds/pdfextract/config"
	"github.com/drummonds/pdfextract/database"
	"github.com/drummonds/pdfextract/engine/pdfrenderer"
	"github.com/drummonds/pdfextract/internal/testpdf"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDocument renders blank pages; a non-nil entry in pageErrs fails that page
type fakeDocument struct {
	pageErrs []error
	rendered []int
	closed   int
}

func (d *fakeDocument) NumPage() int { return len(d.pageErrs) }

func (d *fakeDocument) RenderPage(index, dpi int) (image.Image, error) {
	d.rendered = append(d.rendered, index)
	if err := d.pageErrs[index]; err != nil {
		return nil, err
	}
	return imaging.New(100, 130, color.White), nil
}

func (d *fakeDocument) Close() error {
	d.closed++
	return nil
}

type fakeRenderer struct {
	doc     *fakeDocument
	openErr error
}

func (r *fakeRenderer) Open(filename string) (pdfrenderer.Document, error) {
	if r.openErr != nil {
		return nil, r.openErr
	}
	return r.doc, nil
}

func (r *fakeRenderer) Close() error { return nil }

func newFakeRasterizer(pageErrs ...error) (*Rasterizer, *fakeDocument) {
	doc := &fakeDocument{pageErrs: pageErrs}
	return NewRasterizer(&fakeRenderer{doc: doc}, config.Default(), testLogger()), doc
}

// stubExtractor returns a fixed text; calls listed in failCalls (1-based) fail
type stubExtractor struct {
	text      string
	failCalls map[int]bool
	calls     int
}

func (s *stubExtractor) ExtractText(ctx context.Context, img image.Image) (string, error) {
	s.calls++
	if s.failCalls[s.calls] {
		return "", fmt.Errorf("generation failed on call %d", s.calls)
	}
	return s.text, nil
}

func (s *stubExtractor) ExtractTextFromFile(ctx context.Context, path string) (string, error) {
	if _, err := LoadImageFile(path); err != nil {
		return "", err
	}
	return s.ExtractText(ctx, nil)
}

var errRender = errors.New("broken page stream")

func newTestRepository(t *testing.T) *database.BunDB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.sqlite")
	db, err := database.NewRepository(config.ServerConfig{DatabaseType: "sqlite", DatabaseDbname: dbPath}, testLogger())
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func writeTestPDF(t *testing.T, dir, name string, pages int) string {
	t.Helper()
	texts := make([]string, pages)
	for i := range texts {
		texts[i] = fmt.Sprintf("Page %d", i+1)
	}
	path := filepath.Join(dir, name)
	if err := testpdf.Write(path, texts...); err != nil {
		t.Fatalf("Failed to write test PDF: %v", err)
	}
	return path
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.New(40, 30, color.White), imaging.PNG); err != nil {
		t.Fatalf("Failed to encode png: %v", err)
	}
	return buf.Bytes()
}
