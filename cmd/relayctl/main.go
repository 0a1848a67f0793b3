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

// Package main implements relayctl, a CLI that lists and runs connector
// actions and chains in-process with the same settings as relayhubd.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"relayhub/platform/bootstrap"
	"relayhub/platform/shared/logger"
	"relayhub/platform/shared/settings"
)

var version = "1.0.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cli carries the global flags shared by every subcommand
type cli struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	rootCmd := &cobra.Command{
		Use:           "relayctl",
		Short:         "Relayhub CLI",
		Long:          `relayctl lists and runs Relayhub connector actions and chains locally.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&c.configPath, "settings", "s", os.Getenv("RELAYHUB_CONFIG"), "Settings file")
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Log at info level to stderr")

	rootCmd.AddCommand(c.actionsCmd())
	rootCmd.AddCommand(c.runCmd())
	rootCmd.AddCommand(c.chainCmd())
	return rootCmd
}

// open loads settings and wires the components. Logs go to stderr so
// stdout stays machine readable.
func (c *cli) open(ctx context.Context, cmd *cobra.Command) (*bootstrap.App, error) {
	s, err := settings.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	level := zapcore.WarnLevel
	if c.verbose {
		level = zapcore.InfoLevel
	}
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(cmd.ErrOrStderr()), level)
	return bootstrap.New(ctx, s, logger.NewWithCore("relayctl", core))
}

func closeApp(ctx context.Context, app *bootstrap.App, cmd *cobra.Command) {
	if err := app.Close(ctx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
