package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"yagpt-router/internal/auth"
	"yagpt-router/internal/config"
	"yagpt-router/internal/images"
	"yagpt-router/internal/logging"
	"yagpt-router/internal/provider/factory"
	"yagpt-router/internal/provider/yandex"
	"yagpt-router/internal/router"
	"yagpt-router/internal/server"
	"yagpt-router/internal/usage"
)

type serveOptions struct {
	configPath   string
	overridePort int
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the proxy server.

Configuration is read from the optional YAML file given by --config, then
overridden by ROUTER_* environment variables (a .env file is honoured).`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return serve(c.Context(), opts)
		},
	}

	serveCmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML configuration file")
	serveCmd.Flags().IntVarP(&opts.overridePort, "port", "p", 0, "override server port from configuration")
	return serveCmd
}

func serve(ctx context.Context, opts serveOptions) error {
	if opts.overridePort < 0 || opts.overridePort > 65535 {
		return fmt.Errorf("port override %d must be a valid TCP port", opts.overridePort)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.overridePort != 0 {
		cfg.Server.Port = opts.overridePort
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logCloser, err := logging.Setup(cfg.Logging)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	store, err := images.NewStore(cfg.Images.Dir)
	if err != nil {
		return err
	}
	if cfg.Images.ShouldClearImages() {
		removed, err := store.Clear()
		if err != nil {
			return fmt.Errorf("clear image directory: %w", err)
		}
		slog.Info("cleared stored images", "dir", store.Dir(), "removed", removed)
	}

	upstream, err := factory.NewUpstream(cfg.Upstream)
	if err != nil {
		return err
	}
	registry, err := factory.NewRegistry(cfg, time.Now())
	if err != nil {
		return err
	}

	slog.Info("configuration loaded",
		"byok", cfg.Upstream.BYOK,
		"catalog", "***"+config.Mask(cfg.Upstream.CatalogID),
		"tokens", len(cfg.Auth.Tokens),
		"models", len(cfg.Models),
	)

	srv, err := server.New(cfg, server.Dependencies{
		Router:    router.New(upstream, images.NewPoller(upstream)),
		Registry:  registry,
		Resolver:  auth.NewResolver(cfg.Auth, cfg.Upstream),
		Store:     store,
		Decoder:   yandex.ParseCompletion,
		Estimator: usage.NewBPEEstimator(),
	})
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}
