package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/iammorganparry/clive/apps/tutor/internal/api"
	"github.com/iammorganparry/clive/apps/tutor/internal/chat"
	"github.com/iammorganparry/clive/apps/tutor/internal/config"
	"github.com/iammorganparry/clive/apps/tutor/internal/embedding"
	"github.com/iammorganparry/clive/apps/tutor/internal/memory"
	"github.com/iammorganparry/clive/apps/tutor/internal/ollama"
	"github.com/iammorganparry/clive/apps/tutor/internal/store"
	"github.com/iammorganparry/clive/apps/tutor/internal/tokens"
	"github.com/iammorganparry/clive/apps/tutor/internal/vectorstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tutor: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		port       int
		dbPath     string
		ollamaURL  string
		model      string
		logLevel   string
		noStream   bool
	)
	flagSet := pflag.NewFlagSet("tutor", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", os.Getenv(config.ConfigFileEnv), "YAML config file (env: "+config.ConfigFileEnv+")")
	flagSet.IntVarP(&port, "port", "p", 0, "listen port (env: PORT)")
	flagSet.StringVar(&dbPath, "db", "", "SQLite database path (env: TUTOR_DB_PATH)")
	flagSet.StringVar(&ollamaURL, "ollama-url", "", "Ollama base URL (env: OLLAMA_BASE_URL)")
	flagSet.StringVarP(&model, "model", "m", "", "vision-language model (env: OLLAMA_MODEL)")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (env: LOG_LEVEL)")
	flagSet.BoolVar(&noStream, "no-stream", false, "request whole replies instead of streaming (env: OLLAMA_STREAM=false)")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	// Config: defaults < file < environment < flags
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("port") {
		cfg.Port = port
	}
	if flagSet.Changed("db") {
		cfg.DBPath = dbPath
	}
	if flagSet.Changed("ollama-url") {
		cfg.OllamaBaseURL = ollamaURL
	}
	if flagSet.Changed("model") {
		cfg.OllamaModel = model
	}
	if flagSet.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if noStream {
		cfg.OllamaStream = false
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	// Logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tokenizer warms up in the background; the heuristic covers early turns.
	estimator := tokens.NewEstimator(logger, tokens.DefaultBackends()...)
	estimator.Start(ctx)

	// SQLite (optional)
	var (
		db           *store.DB
		sessionStore memory.SessionStore
		dbHealth     api.SessionCounter
	)
	if cfg.DBPath != "" {
		db, err = store.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		sessionStore = store.NewSessionStore(db)
		dbHealth = db
	} else {
		logger.Warn("persistence disabled, sessions live in memory only")
	}

	// Model backend
	client := ollama.NewClient(cfg.OllamaBaseURL, ollama.WithTimeouts(cfg.HealthTimeout, cfg.GenerationTimeout))

	mem := memory.New(estimator, sessionStore, memory.Budget{
		MaxTokens:       cfg.MaxTokenMemory,
		BufferThreshold: cfg.TokenBufferThreshold,
	}, logger)

	orch := chat.New(chat.NewOllamaBackend(client), mem, chat.Config{
		Model:             cfg.OllamaModel,
		Stream:            cfg.OllamaStream,
		ContextSize:       cfg.ModelContextSize,
		MaxOutputTokens:   cfg.ModelMaxOutputTokens,
		HealthMaxAttempts: cfg.HealthMaxAttempts,
		Retry:             cfg.RetryPolicy(),
	}, logger)

	// Page embeddings need the database; Qdrant is an optional mirror.
	var (
		indexer      api.PageIndexer
		qdrantHealth api.Pinger
	)
	if db != nil {
		var sink embedding.VectorSink
		if cfg.QdrantURL != "" {
			collMgr := vectorstore.NewCollectionManager(vectorstore.NewQdrantClient(cfg.QdrantURL, cfg.EmbeddingDim))
			if err := collMgr.HealthCheck(ctx); err != nil {
				logger.Warn("qdrant not available at startup, will retry on first use", "error", err)
			}
			sink = collMgr
			qdrantHealth = collMgr
		}
		embedder := embedding.NewCachedEmbedder(client, store.NewEmbeddingCacheStore(db), cfg.EmbeddingModel, cfg.EmbeddingDim, logger)
		indexer = embedding.NewIndexer(embedder, store.NewPageEmbeddingStore(db), sink, logger)
	}

	healthH := api.NewHealthHandler(client, cfg.OllamaModel, dbHealth, qdrantHealth, mem)
	router := api.NewRouter(orch, mem, indexer, healthH, cfg.APIKey, logger)

	// Server. Turns stream for as long as generation runs, so there is no
	// write timeout.
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("tutor server starting",
			"addr", addr,
			"model", cfg.OllamaModel,
			"ollama", cfg.OllamaBaseURL,
			"persistence", cfg.DBPath != "",
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	mem.Flush()

	logger.Info("server stopped")
	return nil
}
