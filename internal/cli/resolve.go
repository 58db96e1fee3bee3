// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// InvalidOptionError occurs when an --opt value is not of the form key=value.
type InvalidOptionError struct {
	Value string
}

// Error implements the error interface.
func (e InvalidOptionError) Error() string {
	return fmt.Sprintf("option must be of the form key=value: %s", e.Value)
}

func newResolveCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <key|dsn> [user] [password]",
		Short: "Resolve the connection credentials for a key or literal dsn",
		Example: `  dbic resolve MY_DATABASE
  dbic resolve "dbi:Pg:host=localhost" alice --show-password
  dbic resolve MY_DATABASE --opt sslmode=require -o json`,
		Args: cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := cmd.Flags().GetStringArray("opt")
			if err != nil {
				return err
			}

			rest := make([]any, 0, len(args))
			for _, arg := range args[1:] {
				rest = append(rest, arg)
			}
			if len(opts) > 0 {
				m := make(map[string]any, len(opts))
				for _, opt := range opts {
					k, v, ok := strings.Cut(opt, "=")
					if !ok || k == "" {
						return InvalidOptionError{Value: opt}
					}
					m[k] = v
				}
				rest = append(rest, m)
			}

			r, err := e.schema.Resolve(cmd.Context(), args[0], rest...)
			if err != nil {
				return err
			}
			return e.write(cmd.OutOrStdout(), e.view(r))
		},
	}

	cmd.Flags().StringArray("opt", nil, "key=value connect option, may be repeated")
	return cmd
}
