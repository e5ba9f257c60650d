package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/MrWong99/interpreta/internal/app"
	"github.com/MrWong99/interpreta/internal/config"
	"github.com/MrWong99/interpreta/internal/observe"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var autostart bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and capture sessions",
		Long: `Starts the HTTP API. A capture session is started with POST /api/session
and stopped with DELETE /api/session, or started right away with --start.

The configuration file is polled for changes: capture, text and filter
settings, the glossary and the log level apply without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags.configPath, autostart)
		},
	}
	cmd.Flags().BoolVar(&autostart, "start", false, "start a capture session immediately")
	return cmd
}

func runServe(parent context.Context, configPath string, autostart bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", configPath)
		}
		return err
	}

	logger, level := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	slog.Info("interpreta starting",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	registry := prometheus.NewRegistry()
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Registerer:     registry,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(flushCtx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		return err
	}
	defer closeProviders(providers)

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(metrics, registry),
		app.WithLevelVar(level),
		app.WithConfigPath(configPath),
	)
	if err != nil {
		return err
	}

	if autostart {
		info, err := application.Sessions().Start(ctx)
		if err != nil {
			_ = application.Shutdown(context.Background())
			return err
		}
		slog.Info("capture session started", "session_id", info.ID)
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}

// closeProviders releases providers holding native resources.
func closeProviders(ps *app.Providers) {
	for _, p := range []any{ps.STT, ps.Translate} {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				slog.Warn("closing provider", "err", err)
			}
		}
	}
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       Interpreta startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printRow("Translate", cfg.Providers.Translate.Name, cfg.Providers.Translate.Model)
	printRow("Audio", string(cfg.Audio.Source), cfg.Audio.Device)
	printRow("Languages", cfg.Languages.Source+" → "+cfg.Languages.Target, "")
	printRow("Strategy", cfg.Text.Strategy, "")
	printRow("Postgres", enabled(cfg.Sinks.PostgresDSN != ""), "")
	printRow("SQLite", enabled(cfg.Sinks.SQLitePath != ""), "")
	printRow("Discord", enabled(cfg.Sinks.Discord != nil), "")
	printRow("WebSocket", enabled(cfg.Sinks.WebSocket != nil), "")
	fmt.Printf("║  Glossary terms  : %-19d ║\n", len(cfg.Glossary))
	printRow("Listen addr", cfg.Server.ListenAddr, "")
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, name, detail string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if detail != "" {
		value = name + " / " + detail
	}
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

func enabled(on bool) string {
	if on {
		return "enabled"
	}
	return "(disabled)"
}
