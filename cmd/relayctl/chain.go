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
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"relayhub/platform/chains"
)

func (c *cli) chainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Build and run chains from config files",
	}
	cmd.AddCommand(c.chainRunCmd())
	cmd.AddCommand(c.chainValidateCmd())
	return cmd
}

func (c *cli) chainRunCmd() *cobra.Command {
	var (
		configFile string
		inputs     []string
		tenant     string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a chain",
		Long: `Run a chain described by a YAML or JSON config and print outputs, token usage and cost.

Examples:
  relayctl chain run --config qa.yaml --input query="What is our refund policy?"
  relayctl chain run --config chat.yaml --input input=hello --input history_id=session-1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := readChainConfig(configFile)
			if err != nil {
				return err
			}
			values, err := parsePairs(inputs)
			if err != nil {
				return fmt.Errorf("invalid --input: %w", err)
			}

			app, err := c.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer closeApp(cmd.Context(), app, cmd)

			resp, err := app.Chains.Run(cmd.Context(), &chains.RunRequest{Config: *cfg, Inputs: values, TenantID: tenant})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "f", "", "Chain config file (required)")
	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "Chain input as key=value (repeatable)")
	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "Tenant ID")
	return cmd
}

func (c *cli) chainValidateCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Build a chain without running it and list its inputs and outputs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := readChainConfig(configFile)
			if err != nil {
				return err
			}
			app, err := c.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer closeApp(cmd.Context(), app, cmd)

			chain, err := app.Chains.Builder().Build(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"chain_type": cfg.ChainType,
				"inputs":     chain.InputKeys(),
				"outputs":    chain.OutputKeys(),
			})
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "f", "", "Chain config file (required)")
	return cmd
}

// readChainConfig parses a chain config. YAML is a superset of JSON, so
// both formats are accepted.
func readChainConfig(path string) (*chains.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain config: %w", err)
	}
	var cfg chains.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid chain config %s: %w", path, err)
	}
	return &cfg, nil
}
