package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shineum/mail-relay-webhook/internal/recipients"
	webhooktls "github.com/shineum/mail-relay-webhook/internal/tls"
	"github.com/shineum/mail-relay-webhook/internal/webhook"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the webhook server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	srvCfg := webhook.ServerConfig{
		ListenAddr:    cfg.HTTP.Listen,
		Path:          cfg.HTTP.Path,
		MaxBodySize:   cfg.HTTP.MaxBodySize,
		TokenHash:     cfg.HTTP.TokenHash,
		AllowOrigins:  cfg.HTTP.AllowOrigins,
		Domain:        cfg.Relay.Domain,
		EmailList:     cfg.Relay.EmailList,
		TempDir:       cfg.Relay.TempDir,
		LogDir:        cfg.Logging.Dir,
		TransportName: a.transport.Name(),
	}
	if a.history != nil {
		srvCfg.History = a.history
	}

	tlsMode := "disabled"
	if cfg.TLS.Enabled {
		tlsConfig, err := webhooktls.LoadOrGenerateTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostname)
		if err != nil {
			return err
		}
		srvCfg.TLSConfig = tlsConfig
		tlsMode = "self-signed"
		if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
			tlsMode = "file"
		}
	}

	if !recipients.Exists(cfg.Relay.EmailList) {
		slog.Warn("recipient list not found, a placeholder will be created on first relay",
			"email_list", cfg.Relay.EmailList,
		)
	}

	gin.SetMode(gin.ReleaseMode)
	server := webhook.New(srvCfg, a.pipeline)

	slog.Info("starting mail relay webhook",
		"listen", cfg.HTTP.Listen,
		"path", cfg.HTTP.Path,
		"domain", cfg.Relay.Domain,
		"transport", a.transport.Name(),
		"token_required", cfg.TokenRequired(),
		"archive_enabled", cfg.ArchiveEnabled(),
		"history_enabled", a.history != nil,
		"tls_mode", tlsMode,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("initiating shutdown")
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		return err
	}

	slog.Info("mail relay webhook stopped")
	return nil
}
