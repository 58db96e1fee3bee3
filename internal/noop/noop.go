// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package noop provides the default log handler for components which
// were not given one.
package noop

import (
	"context"
	"log/slog"
)

// LogHandler discards every record.
type LogHandler struct{}

func (LogHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (LogHandler) Handle(context.Context, slog.Record) error { return nil }
func (h LogHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h LogHandler) WithGroup(string) slog.Handler           { return h }
