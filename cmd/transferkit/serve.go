package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/italolelis/transferkit/internal/cleanup"
	"github.com/italolelis/transferkit/internal/config"
	"github.com/italolelis/transferkit/internal/downloader"
	"github.com/italolelis/transferkit/internal/http/rest"
	"github.com/italolelis/transferkit/internal/logctx"
	"github.com/italolelis/transferkit/internal/storage"
	"github.com/italolelis/transferkit/internal/telemetry"
)

func newServeCmd(load func() (*config.Config, error)) *cobra.Command {
	var (
		bind            string
		cleanupInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the transfer API",
		Long: `Serve exposes the transfer journal over HTTP and accepts batches of URLs to
fetch with POST /transfers. Metrics are served on /metrics when telemetry is enabled.
Expired files are removed every --cleanup-interval.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			if bind != "" {
				cfg.Web.BindAddress = bind
			}

			if cfg.Web.BindAddress == "" {
				return fmt.Errorf("a bind address is required (--bind or WEB_BIND_ADDRESS)")
			}

			return runServe(cmd.Context(), cfg, cleanupInterval)
		},
	}

	cmd.Flags().StringVar(&bind, "bind", "", "address the API listens on")
	cmd.Flags().DurationVar(&cleanupInterval, "cleanup-interval", 10*time.Minute, "how often expired files are removed (0 disables)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, cleanupInterval time.Duration) error {
	ctx, a, err := setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	logger := logctx.LoggerFromContext(ctx)

	d := downloader.NewDownloader(a.fs, a.repo, a.notifier, a.tel, downloader.Options{
		MaxParallel:    cfg.MaxParallel,
		Timeout:        cfg.Timeout,
		ConnectTimeout: cfg.ConnectTimeout,
		FollowLocation: cfg.FollowLocation,
		MaxRedirs:      cfg.MaxRedirs,
		FailOnError:    cfg.FailOnError,
		Insecure:       cfg.Insecure,
		UserAgent:      cfg.UserAgent,
		BearerToken:    cfg.BearerToken,
		CookieJar:      cfg.CookieJar,
		Proxy:          cfg.Proxy,
	})

	server := setupServer(ctx, cfg, a.tel, rest.NewTransfersHandler(cfg.Web.Username, cfg.Web.Password, a.repo, d))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	})

	if cleanupInterval > 0 {
		g.Go(func() error {
			runCleanupLoop(ctx, a, cleanupInterval)

			return nil
		})
	}

	return g.Wait()
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, transfers *rest.TransfersHandler) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Mount("/", rest.HealthRoutes())
	r.Mount("/api", transfers.Routes())
	r.Method(http.MethodGet, "/metrics", tel.Handler())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func runCleanupLoop(ctx context.Context, a *app, interval time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down.")

			return
		case <-ticker.C:
			if _, err := expire(ctx, a); err != nil {
				logger.Error("failed to delete expired files", "err", err)
			}
		}
	}
}

// expire removes the outputs of completed transfers older than KeepDownloadedFor.
func expire(ctx context.Context, a *app) (int, error) {
	records, err := a.repo.GetTransfersByStatus(ctx, storage.StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("failed to get completed transfers: %w", err)
	}

	return cleanup.DeleteExpiredFiles(ctx, a.fs, records, a.cfg.KeepDownloadedFor)
}
