package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"net/http"

	"github.com/disintegration/imaging"
	"github.com/drummonds/pdfextract/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

var (
	// ErrModelNotLoaded is returned when extraction is attempted on an engine that never finished loading
	ErrModelNotLoaded = errors.New("model not loaded")
	// ErrUnsupportedInput is returned for files that are neither a PDF nor a supported image
	ErrUnsupportedInput = errors.New("unsupported input file type")
)

const systemPrompt = "You are a helpful assistant."

// Engine runs the vision language OCR model, one page per call. It is not safe for concurrent use.
type Engine struct {
	cfg      config.Config
	provider string
	llm      llms.Model
	logger   *slog.Logger
	ready    bool
}

// NewEngine connects to the inference endpoint and makes sure cfg.ModelPath is served there.
// The returned engine is ready; any failure here is meant to be fatal.
func NewEngine(ctx context.Context, cfg config.Config, inference config.InferenceConfig, logger *slog.Logger) (*Engine, error) {
	logger.Info("Loading model", "model", cfg.ModelPath, "provider", inference.Provider,
		"endpoint", inference.Endpoint, "device_map", cfg.DeviceMap, "torch_dtype", cfg.TorchDtype)

	httpClient := &http.Client{Timeout: inference.RequestTimeout}
	model, err := newModel(cfg, inference, httpClient)
	if err != nil {
		logger.Error("Failed to load model", "error", err)
		return nil, err
	}

	registry := NewModelRegistry(inference, httpClient)
	if err := registry.EnsureModel(ctx, cfg.ModelPath); err != nil {
		logger.Error("Failed to load model", "error", err)
		return nil, err
	}

	logger.Info("Model loaded successfully", "model", cfg.ModelPath)
	return NewEngineWithModel(cfg, inference.Provider, model, logger), nil
}

// NewEngineWithModel wraps an already constructed model
func NewEngineWithModel(cfg config.Config, provider string, model llms.Model, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		provider: provider,
		llm:      model,
		logger:   logger,
		ready:    model != nil,
	}
}

func newModel(cfg config.Config, inference config.InferenceConfig, httpClient *http.Client) (llms.Model, error) {
	switch inference.Provider {
	case "openai", "":
		return openai.New(
			openai.WithModel(cfg.ModelPath),
			openai.WithBaseURL(inference.Endpoint),
			openai.WithToken(inference.APIKey),
			openai.WithHTTPClient(httpClient),
		)
	case "ollama":
		return ollama.New(
			ollama.WithModel(cfg.ModelPath),
			ollama.WithServerURL(inference.Endpoint),
			ollama.WithHTTPClient(httpClient),
		)
	default:
		return nil, fmt.Errorf("unsupported inference provider: %s", inference.Provider)
	}
}

// ExtractText runs one generation pass over the image and returns only the generated text
func (e *Engine) ExtractText(ctx context.Context, img image.Image) (string, error) {
	if e == nil || !e.ready {
		return "", ErrModelNotLoaded
	}

	img = LoadAndResize(img, e.cfg.MaxImageSide)
	data, err := encodePNG(img)
	if err != nil {
		return "", fmt.Errorf("unable to encode page image: %w", err)
	}

	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(systemPrompt)},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{e.imagePart(data), llms.TextPart(e.cfg.OCRPrompt)},
		},
	}

	e.logger.Debug("Sending request to vision model", "model", e.cfg.ModelPath,
		"width", img.Bounds().Dx(), "height", img.Bounds().Dy())
	resp, err := e.llm.GenerateContent(ctx, messages, e.callOptions()...)
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	return resp.Choices[0].Content, nil
}

// ExtractTextFromFile loads an image from disk and extracts its text
func (e *Engine) ExtractTextFromFile(ctx context.Context, path string) (string, error) {
	if e == nil || !e.ready {
		return "", ErrModelNotLoaded
	}
	img, err := LoadImageFile(path)
	if err != nil {
		return "", err
	}
	return e.ExtractText(ctx, img)
}

func (e *Engine) callOptions() []llms.CallOption {
	temperature := 0.0
	if e.cfg.DoSample {
		temperature = e.cfg.Temperature
	}
	return []llms.CallOption{
		llms.WithModel(e.cfg.ModelPath),
		llms.WithMaxTokens(e.cfg.MaxNewTokens),
		llms.WithTemperature(temperature),
	}
}

// OpenAI compatible servers take a data URL, ollama wants the raw bytes
func (e *Engine) imagePart(data []byte) llms.ContentPart {
	if e.provider == "ollama" {
		return llms.BinaryPart("image/png", data)
	}
	return llms.ImageURLPart("data:image/png;base64," + base64.StdEncoding.EncodeToString(data))
}

// LoadImageFile decodes an image from disk, honouring EXIF orientation
func LoadImageFile(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("unable to open image %s: %w", path, err)
	}
	return img, nil
}

// LoadAndResize converts the image to opaque RGB and shrinks it so the longer side is at most
// maxSide, keeping the aspect ratio. Images already within bounds keep their size.
func LoadAndResize(img image.Image, maxSide int) image.Image {
	img = toRGB(img)

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	longSide := max(w, h)
	if longSide <= maxSide {
		return img
	}

	newW, newH := maxSide, maxSide
	if w >= h {
		newH = max(h*maxSide/w, 1)
	} else {
		newW = max(w*maxSide/h, 1)
	}
	return imaging.Resize(img, newW, newH, imaging.CatmullRom)
}

// toRGB drops transparency by compositing onto white
func toRGB(img image.Image) image.Image {
	if opaque, ok := img.(interface{ Opaque() bool }); ok && opaque.Opaque() {
		return img
	}
	b := img.Bounds()
	background := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(background, img, image.Pt(0, 0), 1.0)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
