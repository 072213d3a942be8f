// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/a11yledger/internal/api"
	"github.com/starford/a11yledger/internal/defectservice"
	"github.com/starford/a11yledger/internal/emit"
	"github.com/starford/a11yledger/internal/ingest"
	"github.com/starford/a11yledger/internal/mcpserver"
	"github.com/starford/a11yledger/internal/output"
	"github.com/starford/a11yledger/internal/sse"
	"github.com/starford/a11yledger/internal/storage"
	"github.com/starford/a11yledger/internal/store"
)

// runtime holds the components shared by every mode.
type runtime struct {
	db       *store.DB
	reports  *storage.FS
	pipeline *ingest.Pipeline
}

func (rt *runtime) close() {
	_ = rt.db.Close()
}

func newApplication(opts []Option) (*application, error) {
	app := &application{out: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, errors.New("config is required")
	}
	if app.logger == nil {
		app.logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: app.config.App.LogLevel,
		}))
	}
	return app, nil
}

// open prepares the reports directory, the store and the ingest pipeline.
func (a *application) open() (*runtime, error) {
	cfg := a.config

	if err := os.MkdirAll(cfg.Reports.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create reports dir: %w", err)
	}
	reports, err := storage.NewFS(cfg.Reports.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	ingestOpts, err := cfg.Ingest.Options()
	if err != nil {
		return nil, fmt.Errorf("init ingest: %w", err)
	}
	ingestOpts.Force = a.force

	db, err := store.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	return &runtime{
		db:       db,
		reports:  reports,
		pipeline: ingest.New(db, reports, ingestOpts, a.logger),
	}, nil
}

// Ingest runs one batch over the configured reports directory, or over the
// paths given with WithPaths. The summary is returned even when the batch
// aborted.
func Ingest(ctx context.Context, opts ...Option) (*ingest.Summary, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, err
	}
	rt, err := app.open()
	if err != nil {
		return nil, err
	}
	defer rt.close()

	return rt.pipeline.Run(ctx, app.paths...)
}

// Render writes the canonical document using the output section of the
// configuration. An empty output path writes to the WithOutput writer.
func Render(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	order, err := emit.ParseOrderBy(cfg.Output.OrderBy)
	if err != nil {
		return err
	}
	format, err := output.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}

	rt, err := app.open()
	if err != nil {
		return err
	}
	defer rt.close()

	svc := defectservice.New(rt.db, rt.reports, rt.pipeline, nil, app.logger)
	if cfg.Output.Path == "" {
		return svc.WriteDocument(ctx, app.out, order, format)
	}
	doc, err := svc.Document(ctx, order)
	if err != nil {
		return err
	}
	if err := output.WriteFile(cfg.Output.Path, doc, format); err != nil {
		return err
	}
	app.logger.Info("Document written",
		slog.String("path", cfg.Output.Path),
		slog.String("format", string(format)),
		slog.Int("defects", doc.Summary.Total))
	return nil
}

// ServeMCP serves the MCP tools over stdin/stdout until the client disconnects.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	rt, err := app.open()
	if err != nil {
		return err
	}
	defer rt.close()

	svc := defectservice.New(rt.db, rt.reports, rt.pipeline, nil, app.logger)
	app.logger.Info("MCP server starting", slog.String("reports_path", rt.reports.Root()))
	return mcpserver.New(svc).ServeStdio()
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("reports_path", cfg.Reports.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("on_invalid", cfg.Ingest.OnInvalid),
		slog.Bool("watch", app.watch),
		slog.String("log_level", cfg.App.LogLevel.String()))

	rt, err := app.open()
	if err != nil {
		return err
	}
	defer rt.close()

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	svc := defectservice.New(rt.db, rt.reports, rt.pipeline, broker, logger)

	// Run initial ingestion.
	if sum, err := svc.Ingest(ctx); err != nil {
		logger.Warn("initial ingest failed", slog.String("error", err.Error()))
	} else {
		logger.Info("initial ingest completed",
			slog.Int("files", sum.Files),
			slog.Int("inserted", sum.Inserted),
			slog.Int("merged", sum.Merged))
	}

	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Ready(r.Context()); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeStatus(w, http.StatusOK, "ok")
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	if app.watch {
		g.Go(func() error {
			return rt.pipeline.Watch(gCtx, rt.reports.Root(), ingest.DefaultDebounce, svc.Notify)
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return context.Canceled
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

func writeStatus(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": msg})
}
