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
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"relayhub/platform/connectors/action"
)

func (c *cli) runCmd() *cobra.Command {
	var (
		params      string
		credentials string
		credRef     string
		profile     string
		url         string
		tenant      string
		options     []string
	)

	cmd := &cobra.Command{
		Use:   "run <type> <action>",
		Short: "Run one connector action",
		Long: `Run one connector action and print the normalized response as JSON.

Credentials are read from a YAML or JSON file of key/value pairs.

Examples:
  relayctl run notion query_database --params '{"database_id":"abc"}' --credentials notion.yaml
  relayctl run s3 list_objects --params '{"bucket":"reports"}' --credential-ref prod/s3
  relayctl run crm get_contact --profile crm-main --params '{"email":"ada@example.com"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &action.Request{
				Connector:     args[0],
				Action:        args[1],
				Profile:       profile,
				CredentialRef: credRef,
				ConnectionURL: url,
				TenantID:      tenant,
			}
			if params != "" {
				if err := json.Unmarshal([]byte(params), &req.Params); err != nil {
					return fmt.Errorf("invalid --params: %w", err)
				}
			}
			if credentials != "" {
				creds, err := readCredentials(credentials)
				if err != nil {
					return err
				}
				req.Credentials = creds
			}
			if len(options) > 0 {
				opts, err := parsePairs(options)
				if err != nil {
					return fmt.Errorf("invalid --option: %w", err)
				}
				req.Options = opts
			}

			app, err := c.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer closeApp(cmd.Context(), app, cmd)

			resp, err := app.Runner.Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().StringVarP(&params, "params", "p", "", "Action parameters as a JSON object")
	cmd.Flags().StringVarP(&credentials, "credentials", "f", "", "YAML or JSON file with credentials")
	cmd.Flags().StringVar(&credRef, "credential-ref", "", "Secret reference resolved by the secrets provider")
	cmd.Flags().StringVar(&profile, "profile", "", "Registered connector profile to use")
	cmd.Flags().StringVar(&url, "url", "", "Connection URL override")
	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "Tenant ID")
	cmd.Flags().StringArrayVarP(&options, "option", "o", nil, "Connector option as key=value (repeatable)")
	return cmd
}

// readCredentials parses a flat YAML or JSON map of strings
func readCredentials(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	var creds map[string]string
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("invalid credentials file %s: %w", path, err)
	}
	return creds, nil
}

// parsePairs turns key=value arguments into a map. Values that parse as
// JSON (numbers, booleans, objects) keep their type.
func parsePairs(pairs []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%q is not key=value", pair)
		}
		var typed interface{}
		if err := json.Unmarshal([]byte(value), &typed); err == nil {
			out[key] = typed
		} else {
			out[key] = value
		}
	}
	return out, nil
}
