package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/shipdesk/shipnotify/internal/app"
	"github.com/shipdesk/shipnotify/internal/dispatch"
	"github.com/shipdesk/shipnotify/internal/dispatch/channel"
	"github.com/shipdesk/shipnotify/internal/events"
	"github.com/shipdesk/shipnotify/internal/history"
	"github.com/shipdesk/shipnotify/internal/platform/config"
	"github.com/shipdesk/shipnotify/internal/platform/database"
	"github.com/shipdesk/shipnotify/internal/platform/logger"
	"github.com/shipdesk/shipnotify/internal/platform/messagebroker"
	"github.com/shipdesk/shipnotify/internal/reconciler"
	"github.com/shipdesk/shipnotify/internal/recordsource"
	"github.com/shipdesk/shipnotify/internal/snapshot"
)

const serviceName = "shipnotify"

// NewRootCmd builds the shipnotify command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "shipnotify",
		Short:         "Sync shipment records and dispatch pickup messages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newSyncCmd())
	root.AddCommand(newSendCmd())
	root.AddCommand(newServeCmd())
	return root
}

// Execute runs the CLI and returns a process exit code.
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// application bundles everything a command needs plus its teardown.
type application struct {
	cfg      *config.Config
	logger   *slog.Logger
	app      *app.App
	engine   *dispatch.Engine
	store    *snapshot.Store
	notifier events.Notifier
	cleanup  func()
}

// buildApplication wires the pipeline from configuration: snapshot store,
// record source, reconciler, channel, engine and the optional NATS and
// Postgres collaborators.
func buildApplication(ctx context.Context) (*application, error) {
	cfg, err := config.Load(serviceName)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	log := logger.New(serviceName, cfg.LogLevel)

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	notifier := events.Notifier(events.NewSlogNotifier(log))
	if cfg.NATSUrl != "" {
		natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, serviceName, log)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("connecting to NATS: %w", err)
		}
		cleanups = append(cleanups, natsClient.Close)
		notifier = events.Fanout(notifier, events.NewNATSNotifier(natsClient, log))
	}

	store := snapshot.NewStore(cfg.SnapshotDir, cfg.DatasetName, log)
	source := recordsource.NewAPISource(recordsource.APISourceConfig{
		BaseURL:       cfg.SourceBaseURL,
		Username:      cfg.SourceUsername,
		Password:      cfg.SourcePassword,
		PageSize:      cfg.SourcePageSize,
		SlowFetchWarn: cfg.SourceSlowFetchWarn,
	}, &http.Client{Timeout: cfg.SourceHTTPTimeout}, log, notifier)
	rec := reconciler.New(source, store, log, notifier)

	var ch channel.Channel
	switch cfg.ChannelKind {
	case "webhook":
		ch = channel.NewWebhookChannel(log, cfg.ChannelWebhookURL, &http.Client{Timeout: cfg.ChannelTimeout})
	default:
		ch = channel.NewMockChannel(log)
	}

	engine := dispatch.NewEngine(ch, rec, log, notifier)

	var historyRepo history.Repository
	if cfg.PostgresDSN != "" {
		pool, err := database.NewDBPool(ctx, cfg.PostgresDSN)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("connecting to history database: %w", err)
		}
		cleanups = append(cleanups, pool.Close)
		historyRepo = history.NewPgRunHistoryRepository(pool, log)
	}

	template, err := loadTemplate(cfg)
	if err != nil {
		cleanup()
		return nil, err
	}

	return &application{
		cfg:      cfg,
		logger:   log,
		app:      app.New(rec, engine, template, historyRepo, log),
		engine:   engine,
		store:    store,
		notifier: notifier,
		cleanup:  cleanup,
	}, nil
}

func loadTemplate(cfg *config.Config) (string, error) {
	if cfg.MessageTemplatePath != "" {
		data, err := os.ReadFile(cfg.MessageTemplatePath)
		if err != nil {
			return "", fmt.Errorf("reading message template %s: %w", cfg.MessageTemplatePath, err)
		}
		return string(data), nil
	}
	return cfg.MessageTemplate, nil
}
