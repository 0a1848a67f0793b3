// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"relayhub/platform/bootstrap"
	"relayhub/platform/connectors/sdk"
	"relayhub/platform/server"
	"relayhub/platform/shared/logger"
	"relayhub/platform/shared/settings"
)

var version = "1.0.0"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "relayhubd",
		Short:   "Relayhub API server",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
		SilenceUsage: true,
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("RELAYHUB_CONFIG"), "Settings file (default: relayhub.yaml in ./config, . or /etc/relayhub)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := settings.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	log := logger.New("relayhubd")
	defer func() { _ = log.Sync() }()
	slog := log.Sugared("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sdk.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return err
	}
	if err := server.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	app.Registry.StartPeriodicReload(ctx, cfg.Registry.ReloadInterval)

	srv := server.New(app.Runner, app.Chains, server.Options{
		Addr:         cfg.Server.Addr,
		JWTSecret:    cfg.Server.JWTSecret,
		CORSOrigins:  cfg.Server.CORSOrigins,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Logger:       log,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err = <-errCh:
		slog.Errorf("Server stopped: %v", err)
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		slog.Warnf("HTTP shutdown: %v", serr)
	}
	if cerr := app.Close(shutdownCtx); cerr != nil {
		slog.Warnf("Shutdown incomplete: %v", cerr)
	}
	stats := app.Reporter.Stats()
	slog.Infow("Stopped", "usage_sent", stats.Sent, "usage_failed", stats.Failed, "usage_dropped", stats.Dropped)
	return err
}
