// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/z5labs/dbic/internal/try"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// CheckFailedError occurs when at least one key given to check could not
// be resolved.
type CheckFailedError struct {
	Keys []string
}

// Error implements the error interface.
func (e CheckFailedError) Error() string {
	return fmt.Sprintf("failed to resolve: %s", strings.Join(e.Keys, ", "))
}

type checkResult struct {
	Key   string `json:"key" yaml:"key"`
	OK    bool   `json:"ok" yaml:"ok"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

func newCheckCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <key>...",
		Short: "Verify that every key resolves to a credential",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := cmd.Flags().GetInt("concurrency")
			if err != nil {
				return err
			}

			log := slog.New(e.log)
			results := make([]checkResult, len(args))

			g, gctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(max(limit, 1))
			for i, key := range args {
				g.Go(func() (err error) {
					defer try.Recover(&err)

					results[i] = checkResult{Key: key, OK: true}
					_, rerr := e.schema.Resolve(gctx, key)
					if rerr != nil {
						log.InfoContext(gctx, "failed to resolve key", slog.String("key", key), slog.Any("error", rerr))
						results[i].OK = false
						results[i].Error = rerr.Error()
					}
					return nil
				})
			}
			err = g.Wait()
			if err != nil {
				return err
			}

			err = e.write(cmd.OutOrStdout(), results)
			if err != nil {
				return err
			}

			var failed []string
			for _, r := range results {
				if !r.OK {
					failed = append(failed, r.Key)
				}
			}
			if len(failed) > 0 {
				return CheckFailedError{Keys: failed}
			}
			return nil
		},
	}

	cmd.Flags().Int("concurrency", 4, "number of keys resolved at once")
	return cmd
}
