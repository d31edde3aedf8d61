package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/drummonds/pdfextract/config"
	"github.com/drummonds/pdfextract/engine"
	"github.com/drummonds/pdfextract/engine/pdfrenderer"
	"github.com/drummonds/pdfextract/result"
)

// swapped out in tests
var (
	newRenderer  = pdfrenderer.NewRenderer
	newExtractor = func(ctx context.Context, cfg config.Config, inference config.InferenceConfig, logger *slog.Logger) (engine.Extractor, error) {
		ocr, err := engine.NewEngine(ctx, cfg, inference, logger)
		if err != nil {
			return nil, err
		}
		return ocr, nil
	}
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	output        string
	configPath    string
	verbose       bool
	logLevel      string
	maxPages      int
	reportSkipped bool
}

// parseArgs accepts flags before and after the input file
func parseArgs(args []string, stderr io.Writer) (options, []string, error) {
	var opts options
	fs := flag.NewFlagSet("pdfextract", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: pdfextract <input_file> [-o|--output path] [-c|--config path] [-v|--verbose] [--log-level LEVEL] [--max-pages N] [--report-skipped]")
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.output, "output", "", "Write page records as JSON to this path")
	fs.StringVar(&opts.output, "o", "", "Shorthand for --output")
	fs.StringVar(&opts.configPath, "config", "", "JSON model configuration file")
	fs.StringVar(&opts.configPath, "c", "", "Shorthand for --config")
	fs.BoolVar(&opts.verbose, "verbose", false, "Debug logging")
	fs.BoolVar(&opts.verbose, "v", false, "Shorthand for --verbose")
	fs.StringVar(&opts.logLevel, "log-level", "INFO", "DEBUG, INFO, WARNING, ERROR or CRITICAL")
	fs.IntVar(&opts.maxPages, "max-pages", 0, "Stop after this many pages (0 for all)")
	fs.BoolVar(&opts.reportSkipped, "report-skipped", false, "Record pages that failed to render as errors")

	var positional []string
	rest := args
	for {
		if err := fs.Parse(rest); err != nil {
			return opts, nil, err
		}
		rest = fs.Args()
		if len(rest) == 0 {
			break
		}
		positional = append(positional, rest[0])
		rest = rest[1:]
	}
	return opts, positional, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, positional, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if len(positional) != 1 {
		fmt.Fprintln(stderr, "pdfextract: exactly one input file is required")
		return 2
	}
	inputPath := positional[0]

	level, err := config.ParseLogLevel(opts.logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "pdfextract: %v\n", err)
		return 1
	}
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := config.NewLogger(stderr, level)

	if _, err := os.Stat(inputPath); err != nil {
		logger.Error("Input file not found", "path", inputPath)
		return 1
	}
	kind := engine.ClassifyInput(inputPath)
	if kind == engine.InputUnsupported {
		logger.Error("Unsupported file type", "path", inputPath,
			"supported", append(append([]string{}, engine.PDFExtensions...), engine.ImageExtensions...))
		return 1
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		return 1
	}
	config.SetupEnv()
	inference := config.LoadInference()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	extractor, err := newExtractor(ctx, cfg, inference, logger)
	if err != nil {
		logger.Error("Failed to initialize OCR engine", "error", err)
		return 1
	}

	if kind == engine.InputImage {
		pipeline := engine.NewPipeline(nil, extractor, stdout, logger)
		if _, err := pipeline.ProcessImage(ctx, inputPath); err != nil {
			logger.Error("Processing failed", "error", err)
			return 1
		}
		return 0
	}

	renderer, err := newRenderer(inference.Renderer)
	if err != nil {
		logger.Error("Failed to create PDF renderer", "error", err)
		return 1
	}
	defer renderer.Close()

	pipeline := engine.NewPipeline(engine.NewRasterizer(renderer, cfg, logger), extractor, stdout, logger)
	pipeline.MaxPages = opts.maxPages
	pipeline.ReportSkipped = opts.reportSkipped

	records, err := pipeline.ProcessPDF(ctx, inputPath)
	if err != nil {
		logger.Error("Processing failed", "error", err)
		return 1
	}

	if opts.output != "" {
		if err := result.Save(records, opts.output); err != nil {
			logger.Error("Failed to save results", "error", err)
			return 1
		}
		logger.Info("Results saved", "path", opts.output)
	}

	succeeded, failed := result.Summary(records)
	fmt.Fprintf(stdout, "Processed %d pages: %d succeeded, %d failed\n", len(records), succeeded, failed)
	return 0
}
