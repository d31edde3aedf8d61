package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultPrompt is the instruction sent with every page image
const DefaultPrompt = "Extract the text from the above document as if you were reading it naturally. " +
	"Return the tables in HTML format. Return equations in LaTeX. " +
	"If an image lacks a caption, add a brief description inside <img></img>; " +
	"otherwise put the caption there. Wrap watermarks as <watermark>...</watermark> " +
	"and page numbers as <page_number>...</page_number>. " +
	"Prefer using ☐ and ☑ for check boxes."

// Keys lists the mapping keys of Config in declaration order
var Keys = []string{
	"model_path",
	"device_map",
	"torch_dtype",
	"max_image_side",
	"dpi",
	"max_new_tokens",
	"do_sample",
	"temperature",
	"ocr_prompt",
}

// Config holds the extraction tunables. Values are not range checked, the
// rasterizer and the model endpoint reject what they cannot handle.
type Config struct {
	// Model settings
	ModelPath  string `json:"model_path"`
	DeviceMap  string `json:"device_map"`
	TorchDtype string `json:"torch_dtype"`

	// Image processing settings
	MaxImageSide int `json:"max_image_side"`
	DPI          int `json:"dpi"`

	// Generation settings
	MaxNewTokens int     `json:"max_new_tokens"`
	DoSample     bool    `json:"do_sample"`
	Temperature  float64 `json:"temperature"`

	OCRPrompt string `json:"ocr_prompt"`
}

// Default returns the configuration used when nothing is overridden
func Default() Config {
	return Config{
		ModelPath:    "nanonets/Nanonets-OCR-s",
		DeviceMap:    "auto",
		TorchDtype:   "auto",
		MaxImageSide: 2560,
		DPI:          300,
		MaxNewTokens: 1536,
		DoSample:     false,
		Temperature:  0.0,
		OCRPrompt:    DefaultPrompt,
	}
}

// ToMap converts the config into its key-value form, iterate Keys for a stable order
func (c Config) ToMap() map[string]any {
	return map[string]any{
		"model_path":     c.ModelPath,
		"device_map":     c.DeviceMap,
		"torch_dtype":    c.TorchDtype,
		"max_image_side": c.MaxImageSide,
		"dpi":            c.DPI,
		"max_new_tokens": c.MaxNewTokens,
		"do_sample":      c.DoSample,
		"temperature":    c.Temperature,
		"ocr_prompt":     c.OCRPrompt,
	}
}

// FromMap builds a Config from a subset of its keys, anything missing keeps the default.
// Unknown keys and mistyped values are rejected.
func FromMap(values map[string]any) (Config, error) {
	raw, err := json.Marshal(values)
	if err != nil {
		return Config{}, fmt.Errorf("unable to encode config values: %w", err)
	}
	return decode(bytes.NewReader(raw))
}

// Load reads a JSON config file. An empty path or a missing file yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("unable to open config file: %w", err)
	}
	defer file.Close()

	cfg, err := decode(file)
	if err != nil {
		return Config{}, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

func decode(r io.Reader) (Config, error) {
	cfg := Default()
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ValidateFilePath reports whether the file exists and carries one of the
// extensions (compared case-insensitively, dot included)
func ValidateFilePath(path string, extensions []string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range extensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// InferenceConfig describes where the model runs
type InferenceConfig struct {
	Provider       string // openai (any OpenAI compatible server such as vLLM) or ollama
	Endpoint       string
	APIKey         string `json:"-"`
	RequestTimeout time.Duration
	Renderer       string // fitz or pdfium
}

// ServerConfig contains the extraction service settings
type ServerConfig struct {
	ListenAddrIP      string
	ListenAddrPort    string
	DatabaseType      string
	DatabaseHost      string
	DatabasePort      string
	DatabaseUser      string
	DatabasePassword  string `json:"-"`
	DatabaseDbname    string
	DatabaseSslmode   string
	IngressPath       string
	IngressInterval   int
	IngressDelete     bool
	IngressMoveFolder string
	ResultsPath       string
	QueueSize         int
	ConfigFile        string
	Inference         InferenceConfig
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolVal
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intVal
}

// SetupEnv loads .env style files, silently ignoring the ones that don't exist
func SetupEnv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("config.env")
}

// LoadInference reads the inference endpoint settings from the environment
func LoadInference() InferenceConfig {
	return InferenceConfig{
		Provider:       strings.ToLower(getEnv("OCR_PROVIDER", "openai")),
		Endpoint:       strings.TrimRight(getEnv("OCR_ENDPOINT", "http://localhost:8000/v1"), "/"),
		APIKey:         getEnv("OCR_API_KEY", "EMPTY"),
		RequestTimeout: time.Duration(getEnvInt("OCR_REQUEST_TIMEOUT", 0)) * time.Second,
		Renderer:       strings.ToLower(getEnv("PDF_RENDERER", "fitz")),
	}
}

// SetupServer loads configuration and returns ServerConfig and Logger
func SetupServer() (ServerConfig, *slog.Logger) {
	SetupEnv()
	logger := setupLogging()

	serverConfig := ServerConfig{}
	serverConfig.ListenAddrPort = getEnv("SERVER_PORT", "8000")
	serverConfig.ListenAddrIP = getEnv("SERVER_ADDR", "")

	serverConfig.DatabaseType = getEnv("DATABASE_TYPE", "sqlite")
	serverConfig.DatabaseHost = getEnv("DATABASE_HOST", "localhost")
	serverConfig.DatabasePort = getEnv("DATABASE_PORT", "5432")
	serverConfig.DatabaseUser = getEnv("DATABASE_USER", "pdfextract")
	serverConfig.DatabasePassword = getEnv("DATABASE_PASSWORD", "")
	serverConfig.DatabaseDbname = getEnv("DATABASE_NAME", "databases/pdfextract.sqlite")
	serverConfig.DatabaseSslmode = getEnv("DATABASE_SSLMODE", "disable")
	logger.Info("Database configuration loaded", "type", serverConfig.DatabaseType)

	serverConfig.IngressPath = absPath(logger, getEnv("INGRESS_PATH", "ingress"))
	serverConfig.IngressInterval = getEnvInt("INGRESS_INTERVAL", 10)
	serverConfig.IngressDelete = getEnvBool("INGRESS_DELETE", true)
	if moveFolder := getEnv("INGRESS_MOVE_FOLDER", ""); moveFolder != "" {
		serverConfig.IngressMoveFolder = absPath(logger, moveFolder)
	}
	serverConfig.ResultsPath = absPath(logger, getEnv("RESULTS_PATH", "results"))
	serverConfig.QueueSize = getEnvInt("QUEUE_SIZE", 16)
	serverConfig.ConfigFile = getEnv("OCR_CONFIG_FILE", "")

	serverConfig.Inference = LoadInference()
	logger.Info("Inference endpoint configured",
		"provider", serverConfig.Inference.Provider,
		"endpoint", serverConfig.Inference.Endpoint,
		"renderer", serverConfig.Inference.Renderer)

	return serverConfig, logger
}

func absPath(logger *slog.Logger, path string) string {
	abs, err := filepath.Abs(filepath.ToSlash(path))
	if err != nil {
		logger.Error("Failed creating absolute path", "path", path, "error", err)
		return path
	}
	return abs
}

// setupLogging configures the service logger from LOG_LEVEL, LOG_OUTPUT and LOG_FILE
func setupLogging() *slog.Logger {
	level, err := ParseLogLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = slog.LevelInfo
	}

	var logWriter io.Writer = os.Stdout
	if getEnv("LOG_OUTPUT", "stdout") == "file" {
		logPath, err := filepath.Abs(filepath.ToSlash(getEnv("LOG_FILE", "pdfextract.log")))
		if err != nil {
			fmt.Printf("Error creating log file path: %v\n", err)
		} else {
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				fmt.Printf("Failed to open log file: %v\n", err)
			} else {
				logWriter = logFile
				fmt.Println("Logging to file: ", logPath)
			}
		}
	}

	return NewLogger(logWriter, level)
}

// NewLogger builds the text logger used across the application
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// ParseLogLevel accepts DEBUG, INFO, WARN/WARNING, ERROR and CRITICAL in any case
func ParseLogLevel(name string) (slog.Level, error) {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR", "CRITICAL":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}
