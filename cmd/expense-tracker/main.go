package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promversion "github.com/prometheus/common/version"

	"github.com/zombor/expense-tracker/internal/auth"
	"github.com/zombor/expense-tracker/internal/expense"
	"github.com/zombor/expense-tracker/internal/logging"
	"github.com/zombor/expense-tracker/internal/metrics"
	"github.com/zombor/expense-tracker/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

type backendConfig struct {
	geminiKey         string
	geminiModel       string
	ollamaURL         string
	ollamaModel       string
	ollamaVisionModel string
	openaiKey         string
	openaiURL         string
	openaiModel       string
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env file is fine
	_ = godotenv.Load()

	fs := ff.NewFlagSet("expense-tracker")
	var (
		port             = fs.IntLong("port", 8080, "HTTP server port")
		logLevel         = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		storeType        = fs.StringLong("store", "bolt", "Record store: 'bolt', 'postgres' or 'sqlite'")
		dbPath           = fs.StringLong("db", "expense-tracker.db", "Database file path (bolt, sqlite)")
		dsn              = fs.StringLong("dsn", "", "Postgres connection string")
		artifactDir      = fs.StringLong("artifact-dir", "", "Directory for temporary upload files (default: system temp)")
		extractorType    = fs.StringLong("extractor", "gemini", "Extraction backend: 'gemini', 'ollama' or 'openai'")
		classifierType   = fs.StringLong("classifier", "", "Classification backend (default: same as --extractor)")
		classifyMode     = fs.StringLong("classify-mode", "sequential", "Classification mode: 'sequential' or 'batched'")
		keepUnknown      = fs.BoolLong("keep-unknown-categories", "Store unknown category labels as returned instead of Other")
		pipelineTimeout  = fs.DurationLong("pipeline-timeout", 2*time.Minute, "Maximum time for one receipt scan")
		geminiKey        = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel      = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL        = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel      = fs.StringLong("ollama-model", "deepseek-r1", "Ollama model used for classification")
		ollamaVision     = fs.StringLong("ollama-vision-model", "llava", "Ollama model used for extraction")
		openaiKey        = fs.StringLong("openai-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
		openaiURL        = fs.StringLong("openai-url", "", "OpenAI-compatible API base URL (optional)")
		openaiModel      = fs.StringLong("openai-model", "gpt-4o", "OpenAI model name")
		jwtSecret        = fs.StringLong("jwt-secret", "", "HS256 secret for access tokens")
		jwtAudience      = fs.StringLong("jwt-audience", "authenticated", "Required access token audience")
		authUser         = fs.StringLong("auth-user", "", "Basic auth username (used when no JWT secret is set)")
		authPass         = fs.StringLong("auth-pass", "", "Basic auth password")
		showVersion      = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("EXPENSE_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	slog.SetDefault(logging.New(os.Stderr, *logLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode, err := expense.ParseClassifyMode(*classifyMode)
	if err != nil {
		slog.Error("Invalid classify mode", "error", err)
		os.Exit(1)
	}

	slog.Info("Initializing record store...", "store", *storeType)
	store, err := openStore(ctx, *storeType, *dbPath, *dsn)
	if err != nil {
		slog.Error("Failed to initialize record store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	cfg := backendConfig{
		geminiKey:         firstNonEmpty(*geminiKey, os.Getenv("GEMINI_API_KEY")),
		geminiModel:       *geminiModel,
		ollamaURL:         *ollamaURL,
		ollamaModel:       *ollamaModel,
		ollamaVisionModel: *ollamaVision,
		openaiKey:         firstNonEmpty(*openaiKey, os.Getenv("OPENAI_API_KEY")),
		openaiURL:         *openaiURL,
		openaiModel:       *openaiModel,
	}

	slog.Info("Initializing extractor...", "backend", *extractorType)
	extractor, err := newBackend(ctx, *extractorType, cfg)
	if err != nil {
		slog.Error("Failed to initialize extractor", "error", err)
		os.Exit(1)
	}
	defer extractor.Close()

	classifier := extractor
	if *classifierType != "" && *classifierType != *extractorType {
		slog.Info("Initializing classifier...", "backend", *classifierType)
		classifier, err = newBackend(ctx, *classifierType, cfg)
		if err != nil {
			slog.Error("Failed to initialize classifier", "error", err)
			os.Exit(1)
		}
		defer classifier.Close()
	}

	artifacts, err := expense.NewArtifactStore(*artifactDir)
	if err != nil {
		slog.Error("Failed to initialize artifact directory", "error", err)
		os.Exit(1)
	}

	promversion.Version = version
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		versioncollector.NewCollector("expense_tracker"),
	)

	service := expense.NewService(store, extractor, classifier, artifacts, expense.Options{
		Mode:                  mode,
		KeepUnknownCategories: *keepUnknown,
		Metrics:               metrics.NewPipeline(reg),
	})

	authenticator, err := newAuthenticator(*jwtSecret, *jwtAudience, *authUser, *authPass)
	if err != nil {
		slog.Error("Failed to initialize authentication", "error", err)
		os.Exit(1)
	}

	server := expense.NewServer(service, expense.ServerConfig{
		Auth:            authenticator,
		Metrics:         promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		PipelineTimeout: *pipelineTimeout,
	})

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Server starting",
		"address", fmt.Sprintf("http://localhost%s", addr),
		"version", version,
		"classify_mode", string(mode),
	)
	if err := server.Start(ctx, addr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shut down")
}

func openStore(ctx context.Context, storeType, dbPath, dsn string) (expense.Store, error) {
	switch storeType {
	case "bolt":
		return expense.NewBoltStore(dbPath)
	case "sqlite":
		return expense.OpenSQLStore(ctx, expense.DialectSQLite, dbPath)
	case "postgres":
		if dsn == "" {
			return nil, errors.New("--dsn is required for the postgres store")
		}
		return expense.OpenSQLStore(ctx, expense.DialectPostgres, dsn)
	default:
		return nil, fmt.Errorf("invalid store type %q: want bolt, postgres or sqlite", storeType)
	}
}

func newBackend(ctx context.Context, name string, cfg backendConfig) (scanning.Backend, error) {
	switch name {
	case "gemini":
		if cfg.geminiKey == "" {
			return nil, errors.New("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
		}
		return scanning.NewGemini(ctx, cfg.geminiKey, cfg.geminiModel)
	case "ollama":
		return scanning.NewOllama(cfg.ollamaURL, cfg.ollamaModel, cfg.ollamaVisionModel)
	case "openai":
		return scanning.NewOpenAI(cfg.openaiKey, cfg.openaiURL, cfg.openaiModel)
	default:
		return nil, fmt.Errorf("invalid backend %q: want gemini, ollama or openai", name)
	}
}

func newAuthenticator(jwtSecret, jwtAudience, user, pass string) (expense.Authenticator, error) {
	switch {
	case jwtSecret != "":
		slog.Info("JWT auth enabled", "audience", jwtAudience)
		return auth.NewJWT(jwtSecret, jwtAudience)
	case user != "" || pass != "":
		slog.Info("Basic auth enabled", "user", user)
		return auth.Basic{Username: user, Password: pass}, nil
	default:
		slog.Warn("No authentication configured; all expenses belong to the local user")
		return auth.Static{User: "local"}, nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
