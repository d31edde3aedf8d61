package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/drummonds/pdfextract/config"
	"github.com/tmc/langchaingo/llms"
)

// fakeModel records the last request and answers with a fixed reply
type fakeModel struct {
	reply     string
	err       error
	noChoices bool
	messages  []llms.MessageContent
	opts      llms.CallOptions
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	m.opts = llms.CallOptions{}
	for _, opt := range options {
		opt(&m.opts)
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.noChoices {
		return &llms.ContentResponse{}, nil
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return m.reply, m.err
}

func decodeDataURL(t *testing.T, url string) image.Image {
	t.Helper()
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(url, prefix) {
		t.Fatalf("Expected PNG data URL, got %.40s", url)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, prefix))
	if err != nil {
		t.Fatalf("Failed to decode base64: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Failed to decode PNG: %v", err)
	}
	return img
}

func TestExtractText_Request(t *testing.T) {
	model := &fakeModel{reply: "<table><tr><td>1</td></tr></table>"}
	cfg := config.Default()
	e := NewEngineWithModel(cfg, "openai", model, testLogger())

	text, err := e.ExtractText(context.Background(), imaging.New(5000, 2500, color.White))
	if err != nil {
		t.Fatalf("ExtractText failed: %v", err)
	}
	if text != model.reply {
		t.Errorf("Expected generated text only, got %q", text)
	}

	if len(model.messages) != 2 {
		t.Fatalf("Expected system and user turns, got %d messages", len(model.messages))
	}
	system := model.messages[0]
	if system.Role != llms.ChatMessageTypeSystem || len(system.Parts) != 1 {
		t.Fatalf("Unexpected system turn: %+v", system)
	}
	if system.Parts[0] != (llms.TextContent{Text: "You are a helpful assistant."}) {
		t.Errorf("Unexpected system primer: %+v", system.Parts[0])
	}

	user := model.messages[1]
	if user.Role != llms.ChatMessageTypeHuman || len(user.Parts) != 2 {
		t.Fatalf("Unexpected user turn: %+v", user.Role)
	}
	imagePart, ok := user.Parts[0].(llms.ImageURLContent)
	if !ok {
		t.Fatalf("Expected image first, got %T", user.Parts[0])
	}
	sent := decodeDataURL(t, imagePart.URL)
	if sent.Bounds().Dx() != 2560 || sent.Bounds().Dy() != 1280 {
		t.Errorf("Expected image resized to 2560x1280, got %dx%d", sent.Bounds().Dx(), sent.Bounds().Dy())
	}
	if user.Parts[1] != (llms.TextContent{Text: cfg.OCRPrompt}) {
		t.Errorf("Expected configured prompt after the image, got %+v", user.Parts[1])
	}

	if model.opts.Model != cfg.ModelPath {
		t.Errorf("Expected model %s, got %s", cfg.ModelPath, model.opts.Model)
	}
	if model.opts.MaxTokens != 1536 {
		t.Errorf("Expected max tokens 1536, got %d", model.opts.MaxTokens)
	}
	if model.opts.Temperature != 0 {
		t.Errorf("Expected deterministic temperature 0, got %v", model.opts.Temperature)
	}
}

func TestExtractText_Temperature(t *testing.T) {
	tests := []struct {
		name     string
		doSample bool
		want     float64
	}{
		{"sampling off ignores temperature", false, 0},
		{"sampling on uses temperature", true, 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &fakeModel{reply: "ok"}
			cfg := config.Default()
			cfg.DoSample = tt.doSample
			cfg.Temperature = 0.7
			e := NewEngineWithModel(cfg, "openai", model, testLogger())
			if _, err := e.ExtractText(context.Background(), imaging.New(10, 10, color.White)); err != nil {
				t.Fatalf("ExtractText failed: %v", err)
			}
			if model.opts.Temperature != tt.want {
				t.Errorf("Expected temperature %v, got %v", tt.want, model.opts.Temperature)
			}
		})
	}
}

func TestExtractText_OllamaBinaryImage(t *testing.T) {
	model := &fakeModel{reply: "ok"}
	e := NewEngineWithModel(config.Default(), "ollama", model, testLogger())
	if _, err := e.ExtractText(context.Background(), imaging.New(10, 10, color.White)); err != nil {
		t.Fatalf("ExtractText failed: %v", err)
	}
	part, ok := model.messages[1].Parts[0].(llms.BinaryContent)
	if !ok {
		t.Fatalf("Expected binary image part, got %T", model.messages[1].Parts[0])
	}
	if part.MIMEType != "image/png" || len(part.Data) == 0 {
		t.Errorf("Unexpected binary part: %s, %d bytes", part.MIMEType, len(part.Data))
	}
}

func TestExtractText_NotLoaded(t *testing.T) {
	var missing *Engine
	if _, err := missing.ExtractText(context.Background(), imaging.New(10, 10, color.White)); !errors.Is(err, ErrModelNotLoaded) {
		t.Errorf("Expected ErrModelNotLoaded, got %v", err)
	}

	e := NewEngineWithModel(config.Default(), "openai", nil, testLogger())
	if _, err := e.ExtractText(context.Background(), imaging.New(10, 10, color.White)); !errors.Is(err, ErrModelNotLoaded) {
		t.Errorf("Expected ErrModelNotLoaded, got %v", err)
	}
	if _, err := e.ExtractTextFromFile(context.Background(), "page.png"); !errors.Is(err, ErrModelNotLoaded) {
		t.Errorf("Expected ErrModelNotLoaded, got %v", err)
	}
}

func TestExtractText_Errors(t *testing.T) {
	img := imaging.New(10, 10, color.White)

	e := NewEngineWithModel(config.Default(), "openai", &fakeModel{noChoices: true}, testLogger())
	if _, err := e.ExtractText(context.Background(), img); err == nil {
		t.Error("Expected error when the model returns no choices")
	}

	e = NewEngineWithModel(config.Default(), "openai", &fakeModel{err: errors.New("CUDA out of memory")}, testLogger())
	_, err := e.ExtractText(context.Background(), img)
	if err == nil || !strings.Contains(err.Error(), "CUDA out of memory") {
		t.Errorf("Expected generation error to be wrapped, got %v", err)
	}
}

func TestExtractTextFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.png")
	if err := imaging.Save(imaging.New(3000, 4000, color.White), path); err != nil {
		t.Fatalf("Failed to save test image: %v", err)
	}

	model := &fakeModel{reply: "scanned"}
	e := NewEngineWithModel(config.Default(), "openai", model, testLogger())
	text, err := e.ExtractTextFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ExtractTextFromFile failed: %v", err)
	}
	if text != "scanned" {
		t.Errorf("Expected 'scanned', got %q", text)
	}
	sent := decodeDataURL(t, model.messages[1].Parts[0].(llms.ImageURLContent).URL)
	if sent.Bounds().Dx() != 1920 || sent.Bounds().Dy() != 2560 {
		t.Errorf("Expected 1920x2560, got %dx%d", sent.Bounds().Dx(), sent.Bounds().Dy())
	}

	if _, err := e.ExtractTextFromFile(context.Background(), filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("Expected error for missing image")
	}
}

func TestLoadAndResize(t *testing.T) {
	tests := []struct {
		name          string
		w, h, maxSide int
		wantW, wantH  int
	}{
		{"landscape", 5000, 2500, 2560, 2560, 1280},
		{"portrait", 3000, 4000, 2560, 1920, 2560},
		{"square", 3000, 3000, 2560, 2560, 2560},
		{"small is untouched", 800, 600, 2560, 800, 600},
		{"exactly at limit", 2560, 1000, 2560, 2560, 1000},
		{"custom limit", 2550, 3300, 1920, 1483, 1920},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := LoadAndResize(imaging.New(tt.w, tt.h, color.White), tt.maxSide)
			if img.Bounds().Dx() != tt.wantW || img.Bounds().Dy() != tt.wantH {
				t.Errorf("Expected %dx%d, got %dx%d", tt.wantW, tt.wantH, img.Bounds().Dx(), img.Bounds().Dy())
			}
			if longest := max(img.Bounds().Dx(), img.Bounds().Dy()); longest > tt.maxSide {
				t.Errorf("Longest side %d exceeds %d", longest, tt.maxSide)
			}
		})
	}
}

func TestLoadAndResize_FlattensTransparency(t *testing.T) {
	img := LoadAndResize(imaging.New(20, 20, color.NRGBA{0, 0, 0, 0}), 2560)
	r, g, b, a := img.At(5, 5).RGBA()
	if r != 0xffff || g != 0xffff || b != 0xffff || a != 0xffff {
		t.Errorf("Expected opaque white, got %d %d %d %d", r, g, b, a)
	}
}

func modelServer(t *testing.T, path, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNewEngine(t *testing.T) {
	cfg := config.Default()

	t.Run("openai compatible server lists the model", func(t *testing.T) {
		server := modelServer(t, "/v1/models", `{"data":[{"id":"nanonets/Nanonets-OCR-s"}]}`)
		e, err := NewEngine(context.Background(), cfg, config.InferenceConfig{
			Provider: "openai", Endpoint: server.URL + "/v1", APIKey: "EMPTY",
		}, testLogger())
		if err != nil {
			t.Fatalf("NewEngine failed: %v", err)
		}
		if !e.ready {
			t.Error("Expected engine to be ready")
		}
	})

	t.Run("model not served", func(t *testing.T) {
		server := modelServer(t, "/v1/models", `{"data":[{"id":"qwen2.5-vl"}]}`)
		_, err := NewEngine(context.Background(), cfg, config.InferenceConfig{
			Provider: "openai", Endpoint: server.URL + "/v1", APIKey: "EMPTY",
		}, testLogger())
		if err == nil || !strings.Contains(err.Error(), "qwen2.5-vl") {
			t.Errorf("Expected missing model error listing available models, got %v", err)
		}
	})

	t.Run("ollama latest tag", func(t *testing.T) {
		server := modelServer(t, "/api/tags", `{"models":[{"name":"nanonets/Nanonets-OCR-s:latest"}]}`)
		_, err := NewEngine(context.Background(), cfg, config.InferenceConfig{
			Provider: "ollama", Endpoint: server.URL,
		}, testLogger())
		if err != nil {
			t.Fatalf("NewEngine failed: %v", err)
		}
	})

	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "loading", http.StatusServiceUnavailable)
		}))
		defer server.Close()
		if _, err := NewEngine(context.Background(), cfg, config.InferenceConfig{
			Provider: "openai", Endpoint: server.URL, APIKey: "EMPTY",
		}, testLogger()); err == nil {
			t.Error("Expected error when the server is not ready")
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		if _, err := NewEngine(context.Background(), cfg, config.InferenceConfig{Provider: "tgi"}, testLogger()); err == nil {
			t.Error("Expected error for unknown provider")
		}
	})
}
