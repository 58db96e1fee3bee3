// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

type watchResult struct {
	Key        string          `json:"key" yaml:"key"`
	Credential *credentialView `json:"credential,omitempty" yaml:"credential,omitempty"`
	Error      string          `json:"error,omitempty" yaml:"error,omitempty"`
}

func newWatchCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <key>",
		Short: "Resolve a key again every time one of its config files changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			debounce, err := cmd.Flags().GetDuration("debounce")
			if err != nil {
				return err
			}

			w, err := fsnotify.NewWatcher()
			if err != nil {
				return err
			}
			defer w.Close()

			log := slog.New(e.log)
			candidates := make(map[string]bool)
			dirs := make(map[string]bool)
			for _, p := range e.schema.Candidates() {
				p = filepath.Clean(p)
				candidates[p] = true

				dir := filepath.Dir(p)
				if dirs[dir] {
					continue
				}
				dirs[dir] = true
				if err := w.Add(dir); err != nil {
					log.DebugContext(cmd.Context(), "not watching directory", slog.String("dir", dir), slog.Any("error", err))
				}
			}

			return e.watch(cmd.Context(), cmd.OutOrStdout(), w, candidates, args[0], debounce)
		},
	}

	cmd.Flags().Duration("debounce", 250*time.Millisecond, "wait this long after the last change before resolving again")
	return cmd
}

func (e *env) watch(ctx context.Context, out io.Writer, w *fsnotify.Watcher, candidates map[string]bool, key string, debounce time.Duration) error {
	log := slog.New(e.log)

	err := e.emit(ctx, out, key)
	if err != nil {
		return err
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.WarnContext(ctx, "config watcher failed", slog.Any("error", err))
		case evt, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !candidates[filepath.Clean(evt.Name)] {
				continue
			}
			if !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Remove) && !evt.Has(fsnotify.Rename) {
				continue
			}
			log.DebugContext(ctx, "config file changed", slog.String("path", evt.Name), slog.String("op", evt.Op.String()))
			timer.Reset(debounce)
		case <-timer.C:
			err := e.emit(ctx, out, key)
			if err != nil {
				return err
			}
		}
	}
}

func (e *env) emit(ctx context.Context, out io.Writer, key string) error {
	res := watchResult{Key: key}
	r, err := e.schema.Resolve(ctx, key)
	if err != nil {
		res.Error = err.Error()
	} else {
		cv := e.view(r)
		res.Credential = &cv
	}

	if strings.EqualFold(e.cfg.Output, "yaml") || strings.EqualFold(e.cfg.Output, "yml") {
		_, err = fmt.Fprintln(out, "---")
		if err != nil {
			return err
		}
	}
	return e.write(out, res)
}
