package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dontdude/testgen/internal/config"
	"github.com/dontdude/testgen/internal/domain"
	"github.com/dontdude/testgen/internal/generate"
	"github.com/dontdude/testgen/internal/platform/gemini"
	"github.com/dontdude/testgen/internal/platform/session"
	"github.com/dontdude/testgen/internal/platform/staging"
	"github.com/dontdude/testgen/internal/platform/web"
)

func main() {
	// 1. Load configuration (fails fast without GEMINI_API_KEY)
	cfg, err := config.Load(envFile())
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Initialize Gemini client
	gen, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:          cfg.GeminiAPIKey,
		Model:           cfg.GeminiModel,
		Temperature:     cfg.GeminiTemperature,
		TopP:            cfg.GeminiTopP,
		TopK:            cfg.GeminiTopK,
		MaxOutputTokens: cfg.GeminiMaxOutputTokens,
		JSON:            cfg.StructuredOutput(),
	})
	if err != nil {
		slog.Error("Failed to initialize Gemini", "error", err)
		os.Exit(1)
	}
	defer gen.Close()

	// 4. Staging directory plus retention sweeper (Background goroutine)
	stager, err := staging.New(cfg.UploadDir, cfg.UploadMaxBytes)
	if err != nil {
		slog.Error("Failed to prepare upload dir", "dir", cfg.UploadDir, "error", err)
		os.Exit(1)
	}
	if cfg.KeepUploads() {
		go stager.RunSweeper(ctx, cfg.UploadSweepInterval, cfg.UploadRetention)
	}

	// 5. Session store: Redis when configured, otherwise in-process
	sessions, closeSessions, err := newSessionStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize session store", "error", err)
		os.Exit(1)
	}
	defer closeSessions()

	// 6. Wire orchestrator and router
	svc := generate.NewService(gen, stager, sessions, generate.Options{
		Structured:  cfg.StructuredOutput(),
		KeepUploads: cfg.KeepUploads(),
		MaxTurns:    cfg.SessionMaxTurns,
	})

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: web.NewRouter(svc, web.Options{
			MaxUploadBytes:  cfg.UploadMaxBytes,
			GenerateTimeout: cfg.GenerateTimeout,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("Shutting down API server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Graceful shutdown failed", "error", err)
		}
	}()

	slog.Info("API Server starting", "addr", cfg.ListenAddr, "uploadDir", cfg.UploadDir, "model", cfg.GeminiModel)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func envFile() string {
	if p := os.Getenv("ENV_FILE"); p != "" {
		return p
	}
	return ".env"
}

func newSessionStore(ctx context.Context, cfg *config.Config) (domain.SessionStore, func(), error) {
	if cfg.RedisAddr != "" {
		rs, err := session.NewRedis(cfg.RedisAddr, "testgen:session:", cfg.SessionTTL, cfg.SessionMaxTurns)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using Redis session store", "addr", cfg.RedisAddr)
		return rs, func() { rs.Close() }, nil
	}

	mem := session.NewMemory(cfg.SessionTTL, cfg.SessionMaxTurns)
	if cfg.SessionTTL > 0 {
		go mem.RunJanitor(ctx, time.Minute)
	}
	slog.Info("Using in-memory session store")
	return mem, func() {}, nil
}
