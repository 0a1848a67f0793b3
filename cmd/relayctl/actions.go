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
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func (c *cli) actionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "Inspect connector action catalogs",
	}
	cmd.AddCommand(c.actionsListCmd())
	cmd.AddCommand(c.actionsDescribeCmd())
	return cmd
}

func (c *cli) actionsListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List connector types and their actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer closeApp(cmd.Context(), app, cmd)

			catalog := app.Runner.Catalog()
			if asJSON {
				return printJSON(cmd.OutOrStdout(), catalog)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tACTIONS")
			for _, info := range catalog {
				names := make([]string, 0, len(info.Actions))
				for _, a := range info.Actions {
					names = append(names, a.Name)
				}
				fmt.Fprintf(tw, "%s\t%s\n", info.Type, strings.Join(names, ", "))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the catalog as JSON")
	return cmd
}

func (c *cli) actionsDescribeCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "describe <type>",
		Short: "Show the actions of one connector type",
		Long: `Show the actions of one connector type with their kind and required parameters.

Examples:
  relayctl actions describe notion
  relayctl actions describe s3 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer closeApp(cmd.Context(), app, cmd)

			info, err := app.Runner.Describe(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), info)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ACTION\tKIND\tREQUIRED\tDESCRIPTION")
			for _, a := range info.Actions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.Name, a.Kind, strings.Join(a.Required, ","), a.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the actions as JSON")
	return cmd
}
