// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package cli

import (
	"github.com/z5labs/dbic/pkg/credential"
	"github.com/z5labs/dbic/pkg/searchpath"

	"github.com/spf13/cobra"
)

type entryView struct {
	Name       string          `json:"name" yaml:"name"`
	Source     string          `json:"source" yaml:"source"`
	Credential *credentialView `json:"credential,omitempty" yaml:"credential,omitempty"`
}

func newListCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every credential key found in the config files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := cmd.Flags().GetBool("values")
			if err != nil {
				return err
			}

			cat, err := e.schema.Catalog(cmd.Context())
			if err != nil {
				return err
			}

			entries := cat.Entries()
			views := make([]entryView, 0, len(entries))
			for _, entry := range entries {
				ev := entryView{
					Name:   entry.Name,
					Source: entry.Source,
				}
				if values {
					r, err := credential.FromValue(entry.Value)
					if err == nil {
						cv := e.view(r)
						ev.Credential = &cv
					}
				}
				views = append(views, ev)
			}
			return e.write(cmd.OutOrStdout(), views)
		},
	}

	cmd.Flags().Bool("values", false, "include the raw credential of every entry")
	return cmd
}

type pathView struct {
	Path   string `json:"path" yaml:"path"`
	Exists bool   `json:"exists" yaml:"exists"`
}

func newPathsCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Show the config file candidates in search order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			candidates := e.schema.Candidates()
			found := make(map[string]bool, len(candidates))
			for _, p := range searchpath.Existing(searchpath.OS{}, candidates) {
				found[p] = true
			}

			views := make([]pathView, len(candidates))
			for i, p := range candidates {
				views[i] = pathView{Path: p, Exists: found[p]}
			}
			return e.write(cmd.OutOrStdout(), views)
		},
	}
}
