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

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jamesprial/readings/internal/actions"
	"github.com/jamesprial/readings/internal/agent"
	"github.com/jamesprial/readings/internal/auth"
	"github.com/jamesprial/readings/internal/config"
	"github.com/jamesprial/readings/internal/metrics"
	"github.com/jamesprial/readings/internal/safety"
	"github.com/jamesprial/readings/internal/tools"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Monitor the node and run tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), *configPath)
		},
	}
}

func serve(ctx context.Context, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	boot := configureLogger(os.Stdout, config.DefaultConfig().Log)
	cfg, err := loadConfig(path, boot)
	if err != nil {
		boot.Error("cannot start with this configuration", slog.String("path", path), slog.Any("error", err))
		return err
	}

	logger := configureLogger(os.Stdout, cfg.Log)
	slog.SetDefault(logger)
	logger.Info("loaded config", slog.String("path", path))

	tokenBefore := cfg.Server.AuthToken
	token, err := config.EnsureAuthToken(cfg)
	if err != nil {
		logger.Warn("could not generate auth token, running without authentication", slog.Any("error", err))
	} else if tokenBefore == "" {
		logger.Info("generated auth token, set READINGS_AUTH_TOKEN to persist it", slog.String("token", token))
	}

	var audit *safety.AuditLogger
	if cfg.Audit.Enabled {
		f, err := os.OpenFile(cfg.Audit.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			logger.Warn("could not open audit log, audit logging disabled",
				slog.String("path", cfg.Audit.LogPath),
				slog.Any("error", err),
			)
		} else {
			audit = safety.NewAuditLogger(f)
			defer f.Close()
		}
	}

	a, err := agent.New(cfg, agent.Options{
		ConfigPath: path,
		Logger:     logger,
		Metrics:    metrics.New(nil),
		Audit:      audit,
	})
	if err != nil {
		logger.Error("failed to build agent", slog.Any("error", err))
		return err
	}
	defer a.Close()

	mcpServer := server.NewMCPServer("readings", version, server.WithToolCapabilities(false))
	tools.RegisterAll(mcpServer, a.Tools(actions.NewConfirmationTracker()))

	router := chi.NewRouter()
	router.Use(auth.NewAuthMiddleware(cfg.Server.AuthToken, logger, "/healthz"))
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())
	router.Handle("/mcp", server.NewStreamableHTTPServer(mcpServer))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("readings listening", slog.String("addr", addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.Run(ctx)
	})

	g.Go(func() error {
		return reloadOnHangup(ctx, a, logger)
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("readings exited with error", slog.Any("error", err))
		return err
	}
	logger.Info("readings stopped")
	return nil
}

// reloadOnHangup reloads the configuration on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, a *agent.Agent, logger *slog.Logger) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			report, err := a.Reload(ctx)
			if err != nil {
				logger.Error("reload failed", slog.Any("error", err))
				continue
			}
			logger.Info("reload complete",
				slog.Int("loaded", report.Loaded),
				slog.Int("skipped", len(report.Skipped)),
			)
		}
	}
}
