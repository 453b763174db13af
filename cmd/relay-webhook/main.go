// Package main is the entry point for the mail relay webhook.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/shineum/mail-relay-webhook/internal/archive"
	"github.com/shineum/mail-relay-webhook/internal/config"
	"github.com/shineum/mail-relay-webhook/internal/dispatch"
	"github.com/shineum/mail-relay-webhook/internal/envelope"
	"github.com/shineum/mail-relay-webhook/internal/history"
	"github.com/shineum/mail-relay-webhook/internal/logging"
	"github.com/shineum/mail-relay-webhook/internal/provider"
	"github.com/shineum/mail-relay-webhook/internal/provider/graph"
	"github.com/shineum/mail-relay-webhook/internal/provider/script"
	"github.com/shineum/mail-relay-webhook/internal/provider/ses"
	"github.com/shineum/mail-relay-webhook/internal/provider/stdout"
	"github.com/shineum/mail-relay-webhook/internal/relay"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "relay-webhook",
	Short:         "relay-webhook receives forwarded email over HTTP and relays it to a recipient list",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML configuration file (optional)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// app holds the components shared by the subcommands.
type app struct {
	cfg       *config.Config
	transport provider.Transport
	pipeline  *relay.Pipeline
	history   *history.Store
	closers   []io.Closer
}

// newApp loads configuration, applies overrides, sets up logging and wires
// the relay pipeline.
func newApp(ctx context.Context, overrides ...func(*config.Config)) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	for _, override := range overrides {
		override(cfg)
	}

	a := &app{cfg: cfg}

	logCloser, err := setupLogger(cfg.Logging.Level, cfg.Logging.Dir)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, logCloser)

	if err := os.MkdirAll(cfg.Relay.TempDir, 0o755); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	a.transport, err = selectTransport(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	var opts []relay.Option
	if cfg.ArchiveEnabled() {
		arc, err := archive.New(ctx, archive.Config{
			Bucket:          cfg.Archive.Bucket,
			Prefix:          cfg.Archive.Prefix,
			Region:          cfg.Archive.Region,
			Endpoint:        cfg.Archive.Endpoint,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
		})
		if err != nil {
			slog.Warn("raw message archive disabled", "error", err)
		} else {
			slog.Info("archiving raw messages", "bucket", cfg.Archive.Bucket, "prefix", cfg.Archive.Prefix)
			opts = append(opts, relay.WithArchiver(arc))
		}
	}
	if cfg.HistoryEnabled() {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			slog.Warn("relay history disabled", "error", err)
		} else {
			a.history = store
			a.closers = append(a.closers, store)
			opts = append(opts, relay.WithRecorder(store))
		}
	}

	d := dispatch.New(dispatch.Options{
		Transport:     a.transport,
		TempDir:       cfg.Relay.TempDir,
		RecipientList: cfg.Relay.EmailList,
		Mode:          cfg.Transport.Mode,
		Timeout:       cfg.Transport.Timeout,
	})
	a.pipeline = relay.New(envelope.New(cfg.Relay.Domain), d, opts...)
	return a, nil
}

// Close releases everything newApp opened, last opened first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
}

// setupLogger configures the global slog logger with JSON output to stdout
// and the daily log file in dir.
func setupLogger(level, dir string) (io.Closer, error) {
	_, closer, err := logging.Setup(level, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return closer, nil
}

// selectTransport builds the outbound transport named by the configuration.
func selectTransport(ctx context.Context, cfg *config.Config) (provider.Transport, error) {
	switch cfg.Transport.Type {
	case "script":
		slog.Info("using relay script transport",
			"script", cfg.Transport.Script,
			"mode", cfg.Transport.Mode,
		)
		return script.New(cfg.Transport.Script, ""), nil

	case "ses":
		slog.Info("using AWS SES transport",
			"region", cfg.SES.Region,
			"sender", cfg.SESSender(),
		)
		p, err := ses.New(ctx, ses.SESProviderConfig{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SESSender(),
			RecipientList:   cfg.Relay.EmailList,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES transport: %w", err)
		}
		return p, nil

	case "graph":
		slog.Info("using Microsoft Graph transport",
			"tenant_id", cfg.Graph.TenantID,
			"sender", cfg.GraphSender(),
		)
		return graph.New(graph.GraphProviderConfig{
			TenantID:      cfg.Graph.TenantID,
			ClientID:      cfg.Graph.ClientID,
			ClientSecret:  cfg.Graph.ClientSecret,
			Sender:        cfg.GraphSender(),
			RecipientList: cfg.Relay.EmailList,
		}), nil

	case "stdout":
		slog.Info("using stdout transport")
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("unknown transport: %q", cfg.Transport.Type)
	}
}
