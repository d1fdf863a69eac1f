package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/italolelis/transferkit/internal/config"
	"github.com/italolelis/transferkit/internal/logctx"
	"github.com/italolelis/transferkit/internal/notifier"
	"github.com/italolelis/transferkit/internal/storage"
	"github.com/italolelis/transferkit/internal/storage/sqlite"
	"github.com/italolelis/transferkit/internal/telemetry"
	"github.com/italolelis/transferkit/internal/transfer"
)

const serviceName = "transferkit"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("fatal error", "err", err)
		cancel()
		os.Exit(1)
	}

	cancel()
}

func newRootCmd() *cobra.Command {
	var outputDir, dbPath string

	cmd := &cobra.Command{
		Use:   "transferkit",
		Short: "Fetch URLs in parallel and keep a journal of every transfer",
		Long: `transferkit drives many HTTP transfers at once over one connection pool.

Every transfer is journaled in a SQLite database together with its result code,
size and detected content type. Finished files can be expired with cleanup.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&outputDir, "output-dir", "", "directory the fetched files are written to (env OUTPUT_DIR)")
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "path of the transfer journal (env DB_PATH)")

	load := func() (*config.Config, error) {
		cfg, err := config.LoadConfig()
		if err != nil {
			return nil, err
		}

		if outputDir != "" {
			cfg.OutputDir = outputDir
		}

		if dbPath != "" {
			cfg.DBPath = dbPath
		}

		return cfg, nil
	}

	cmd.AddCommand(
		newFetchCmd(load),
		newServeCmd(load),
		newCleanupCmd(load),
		newVersionCmd(),
	)

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the transfer library version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), transfer.Version())
		},
	}
}

// app holds what every command shares.
type app struct {
	cfg      *config.Config
	db       *sql.DB
	repo     storage.TransferRepository
	fs       billy.Filesystem
	notifier notifier.Notifier
	tel      *telemetry.Telemetry
}

// setup configures logging, the journal, telemetry and the output filesystem. The
// returned context carries the logger.
func setup(ctx context.Context, cfg *config.Config) (context.Context, *app, error) {
	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx = logctx.WithLogger(ctx, logger)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: transfer.Version(),
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		ExportInterval: cfg.Telemetry.ExportInterval,
	})
	if err != nil {
		return ctx, nil, fmt.Errorf("failed to start telemetry: %w", err)
	}

	// =========================================================================
	// Start Database
	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		_ = tel.Shutdown(ctx)

		return ctx, nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		_ = db.Close()
		_ = tel.Shutdown(ctx)

		return ctx, nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	var n notifier.Notifier = notifier.Nop{}
	if cfg.DiscordWebhookURL != "" {
		n = &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}
	}

	return ctx, &app{
		cfg:      cfg,
		db:       db,
		repo:     sqlite.NewInstrumentedTransferRepository(db, tel),
		fs:       osfs.New(cfg.OutputDir),
		notifier: n,
		tel:      tel,
	}, nil
}

func (a *app) close(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	if err := a.db.Close(); err != nil {
		logger.Error("failed to close journal", "err", err)
	}

	// The command context may already be canceled.
	if err := a.tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
		logger.Error("failed to shutdown telemetry", "err", err)
	}
}
