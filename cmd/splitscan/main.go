package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/davidgf/splitscan/internal/bill"
	"github.com/davidgf/splitscan/internal/scanning"
	"github.com/davidgf/splitscan/pkg/logging"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	fs := ff.NewFlagSet("splitscan")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		cachePath     = fs.StringLong("cache", "splitscan-cache.db", "Extraction cache file path (empty to disable)")
		extractorType = fs.StringLong("extractor", "gemini", "Extraction backend: 'gemini' or 'ollama'")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModels  = fs.StringLong("gemini-models", "", "Comma-separated Gemini model preference list (default: flash models first)")
		discover      = fs.BoolLong("discover-models", "Refresh candidate models from the backend before extraction")
		ollamaURL     = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModels  = fs.StringLong("ollama-models", "llava", "Comma-separated Ollama vision model list (e.g. llava,llava-phi3)")
		maxEdge       = fs.IntLong("max-edge", scanning.DefaultMaxEdge, "Longest image edge after normalization, in pixels")
		jpegQuality   = fs.IntLong("jpeg-quality", scanning.DefaultJPEGQuality, "JPEG recompression quality")
		noNormalize   = fs.BoolLong("no-normalize", "Send original image bytes without downscaling")
		authUser      = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("SPLITSCAN"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	logging.Setup()

	// Initialize extraction backend
	var extractor scanning.Extractor
	var err error
	switch *extractorType {
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		candidates := splitList(*geminiModels)
		slog.Info("Initializing Gemini extractor...", "models", candidates, "discover", *discover)
		extractor, err = scanning.NewGemini(apiKey, candidates, *discover)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		candidates := splitList(*ollamaModels)
		slog.Info("Initializing Ollama extractor...", "url", *ollamaURL, "models", candidates)
		extractor, err = scanning.NewOllama(*ollamaURL, candidates)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid extractor type", "type", *extractorType, "valid", "gemini or ollama")
		os.Exit(1)
	}
	defer extractor.Close()

	// Initialize image normalizer
	var normalizer *scanning.Normalizer
	if !*noNormalize {
		normalizer = scanning.NewNormalizer(*maxEdge, *jpegQuality)
	}

	// Initialize extraction cache
	var cache scanning.Cache
	if *cachePath != "" {
		boltCache, err := scanning.NewBoltCache(*cachePath)
		if err != nil {
			slog.Error("Failed to open extraction cache", "path", *cachePath, "error", err)
			os.Exit(1)
		}
		defer boltCache.Close()
		cache = boltCache
	}

	// Initialize service and server
	service := bill.NewService(extractor, normalizer, cache)

	basicAuth := bill.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := bill.NewServer(service, basicAuth)

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
