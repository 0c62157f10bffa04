package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hyperengineering/bridge/internal/api"
	"github.com/hyperengineering/bridge/internal/auth"
	"github.com/hyperengineering/bridge/internal/backup"
	"github.com/hyperengineering/bridge/internal/completion"
	"github.com/hyperengineering/bridge/internal/config"
	"github.com/hyperengineering/bridge/internal/embedding"
	"github.com/hyperengineering/bridge/internal/index"
	"github.com/hyperengineering/bridge/internal/ledger"
	"github.com/hyperengineering/bridge/internal/metrics"
	"github.com/hyperengineering/bridge/internal/store"
	"github.com/hyperengineering/bridge/internal/summary"
	"github.com/hyperengineering/bridge/internal/worker"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:           "bridge",
	Short:         "Bridge - symptom tracker service",
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (default)",
	RunE:  run,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(backupCmd)
}

// app holds the wired service and the resources it owns.
type app struct {
	handler http.Handler
	store   *store.SQLiteStore
	backups *backup.Service
}

func (a *app) Close() error {
	return a.store.Close()
}

// newApp wires every component from cfg. The caller owns Close.
func newApp(cfg *config.Config, version string) (*app, error) {
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	tokens, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, auth.WithTokenTTL(cfg.Auth.TokenTTL.Std()))
	if err != nil {
		db.Close()
		return nil, err
	}
	creds := auth.NewCredentials(db, auth.NewPasswordHasher(cfg.Auth.BcryptCost), tokens, slog.Default())

	embedder := newEmbedder(cfg.Embedding)
	slog.Info("embedder initialized", "provider", cfg.Embedding.Provider, "model", embedder.ModelName())

	var mgr *index.Manager
	m := metrics.New(func() float64 { return float64(mgr.Stats().Users) })
	backend := index.NewVectorBackend(embedder, cfg.Index.MinScore, cfg.Index.TopK)
	mgr = index.NewManager(backend, db, index.WithMetrics(m), index.WithLogger(slog.Default()))

	led := ledger.New(db, mgr,
		ledger.WithMetrics(m),
		ledger.WithLogger(slog.Default()),
		ledger.WithRebuildTimeout(cfg.Index.RebuildTimeout.Std()),
	)

	completer := completion.New(completion.Config{
		BaseURL:   cfg.Completion.BaseURL,
		APIKey:    cfg.Completion.APIKey,
		Model:     cfg.Completion.Model,
		MaxTokens: cfg.Completion.MaxTokens,
	}, completion.WithLogger(slog.Default()))

	composer := summary.NewComposer(mgr, completer,
		summary.WithTimeout(cfg.Summary.Timeout.Std()),
		summary.WithMetrics(m),
		summary.WithLogger(slog.Default()),
	)

	backups, err := newBackupService(cfg.Backup, db, m)
	if err != nil {
		db.Close()
		return nil, err
	}

	handler := api.NewHandler(api.HandlerConfig{
		Accounts:        creds,
		Gate:            auth.NewGate(creds),
		Ledger:          led,
		Index:           mgr,
		Summaries:       composer,
		Stats:           db,
		SummaryLimiter:  api.NewUserRateLimiter(cfg.Summary.RequestsPerMinute, cfg.Summary.Burst),
		Metrics:         m.Handler(),
		CompletionModel: completer.Model(),
		Version:         version,
	})

	return &app{handler: api.NewRouter(handler), store: db, backups: backups}, nil
}

func newBackupService(cfg config.BackupConfig, src backup.Source, m *metrics.Metrics) (*backup.Service, error) {
	uploader, err := backup.NewUploader(cfg.Storage)
	if err != nil {
		return nil, err
	}
	return backup.NewService(src, uploader, cfg.Dir, cfg.Retain,
		backup.WithMetrics(m),
		backup.WithLogger(slog.Default()),
	), nil
}

func newEmbedder(cfg config.EmbeddingConfig) embedding.Embedder {
	if cfg.Provider == config.ProviderHashing {
		return embedding.NewHashing(0)
	}
	inner := embedding.NewOpenAI(embedding.OpenAIConfig{
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		BaseURL:   cfg.BaseURL,
		BatchSize: cfg.BatchSize,
	})
	return embedding.NewCached(inner, cfg.CacheTTL.Std())
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 3. Initialize logger
	slog.SetDefault(newLogger(os.Stdout, cfg.Log))
	slog.Info("configuration loaded", "dev_mode", cfg.DevMode, "level", cfg.Log.Level)

	// 4. Wire components (migrations run inside the store)
	a, err := newApp(cfg, Version)
	if err != nil {
		return err
	}

	// 5. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      a.handler,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	// 6. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr, "version", Version)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 7. Start background workers
	var wg sync.WaitGroup
	if cfg.Backup.Interval > 0 {
		w := worker.NewBackupWorker(a.backups, cfg.Backup.Interval.Std())
		startWorker(ctx, &wg, "backup", w.Run)
	}

	// 8. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	return shutdown(srv, a, &wg, cfg.Server.ShutdownTimeout.Std())
}

// startWorker runs fn in a goroutine tracked by wg.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}

// shutdown drains in-flight requests, waits for workers, then closes the store.
func shutdown(srv *http.Server, a *app, wg *sync.WaitGroup, timeout time.Duration) error {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
	}()
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		slog.Warn("workers did not stop before shutdown timeout")
	}

	if err := a.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
