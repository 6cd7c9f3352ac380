// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ProofMode/cmd/proof/config"
	"github.com/AleutianAI/ProofMode/pkg/logging"
	"github.com/AleutianAI/ProofMode/services/proof"
)

// serveOptions holds the serve command's flags.
type serveOptions struct {
	configPath    string
	port          int
	store         string
	dataDir       string
	noInstability bool
	watchConfig   bool
}

// check rejects flag combinations that cannot start a server.
func (o serveOptions) check() error {
	if o.watchConfig && o.configPath == "" {
		return errors.New("--watch-config requires --config")
	}
	return nil
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the trace HTTP API",
		Long: `Starts the trace service on the configured port and serves until
interrupted (SIGINT or SIGTERM), then shuts down gracefully.

Configuration comes from --config (YAML), then environment variables, then
flags. With --watch-config, edits to the instability section of the config
file take effect without a restart.

Examples:
  proof serve
  proof serve --port 8080 --store badger --data-dir ./data
  proof serve --config proof.yaml --watch-config
  proof serve --no-instability`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.check(); err != nil {
				return err
			}
			cfg, err := resolveServeConfig(cmd, opts)
			if err != nil {
				return err
			}

			logger := logging.New(cfg.LoggerConfig())
			defer logger.Close()
			slog.SetDefault(logger.Slog())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServer(ctx, cfg, opts, logger.Slog())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	flags.IntVarP(&opts.port, "port", "p", 0, "HTTP port (overrides config)")
	flags.StringVar(&opts.store, "store", "", "Store backend: memory, badger, badger-mem, sqlite (overrides config)")
	flags.StringVar(&opts.dataDir, "data-dir", "", "Data directory for badger and sqlite (overrides config)")
	flags.BoolVar(&opts.noInstability, "no-instability", false, "Disable simulated network delay and failures")
	flags.BoolVar(&opts.watchConfig, "watch-config", false, "Reload instability settings when the config file changes")
	return cmd
}

// resolveServeConfig layers explicitly set flags over the loaded config.
func resolveServeConfig(cmd *cobra.Command, opts serveOptions) (config.ProofConfig, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.ProofConfig{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port = opts.port
	}
	if flags.Changed("store") {
		cfg.Store.Backend = opts.store
	}
	if flags.Changed("data-dir") {
		cfg.Store.DataDir = opts.dataDir
	}
	if opts.noInstability {
		cfg.Instability.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return config.ProofConfig{}, err
	}
	return cfg, nil
}

// runServer starts the service and, if requested, the config watcher. It
// returns when ctx is cancelled and the server has shut down.
func runServer(ctx context.Context, cfg config.ProofConfig, opts serveOptions, logger *slog.Logger) error {
	svcCfg := cfg.ServiceConfig()
	svcCfg.Logger = logger

	svc, err := proof.New(svcCfg)
	if err != nil {
		return err
	}

	if opts.watchConfig {
		w, err := config.NewWatcher(opts.configPath, logger)
		if err != nil {
			_ = svc.Close()
			return err
		}
		go func() {
			_ = w.Run(ctx, func(next config.ProofConfig) {
				settings := next.Instability
				if opts.noInstability {
					settings.Enabled = false
				}
				if err := svc.UpdateInstability(settings); err != nil {
					logger.Warn("instability update rejected", "error", err)
				}
			})
		}()
	}

	logger.Info("proof service starting",
		"port", cfg.Server.Port,
		"store", cfg.Store.Backend,
		"instability", cfg.Instability.Enabled,
		"watch_config", opts.watchConfig,
	)
	return svc.Run(ctx)
}
