// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package redactslog provides an slog.Handler which keeps credential
// secrets out of logs.
package redactslog

import (
	"context"
	"log/slog"
	"strings"
)

// Mask is the value every redacted attribute is replaced with.
const Mask = "****"

type options struct {
	keys map[string]struct{}
}

// Option helps configure the Handler.
type Option interface {
	applyOption(*options)
}

type optionFunc func(*options)

func (f optionFunc) applyOption(o *options) {
	f(o)
}

// Key registers another attribute key, matched without regard to letter
// case, whose value must be masked. "password" is always masked.
func Key(key string) Option {
	return optionFunc(func(o *options) {
		o.keys[strings.ToLower(key)] = struct{}{}
	})
}

// Handler is an slog.Handler which masks the value of sensitive
// attributes, including those nested in groups, before handing records
// to the wrapped handler.
type Handler struct {
	slog slog.Handler
	keys map[string]struct{}
}

// NewHandler returns a new Handler.
func NewHandler(h slog.Handler, opts ...Option) *Handler {
	o := &options{
		keys: map[string]struct{}{
			"password": {},
		},
	}
	for _, opt := range opts {
		opt.applyOption(o)
	}
	return &Handler{
		slog: h,
		keys: o.keys,
	}
}

// Enabled implements the slog.Handler interface.
func (h *Handler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.slog.Enabled(ctx, lvl)
}

// Handle implements the slog.Handler interface.
func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	nr := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(a slog.Attr) bool {
		nr.AddAttrs(h.redact(a))
		return true
	})
	return h.slog.Handle(ctx, nr)
}

// WithAttrs implements the slog.Handler interface.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nr := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		nr[i] = h.redact(a)
	}
	return &Handler{
		slog: h.slog.WithAttrs(nr),
		keys: h.keys,
	}
}

// WithGroup implements the slog.Handler interface.
func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{
		slog: h.slog.WithGroup(name),
		keys: h.keys,
	}
}

func (h *Handler) redact(a slog.Attr) slog.Attr {
	if _, ok := h.keys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, Mask)
	}

	v := a.Value.Resolve()
	if v.Kind() != slog.KindGroup {
		return slog.Attr{Key: a.Key, Value: v}
	}

	group := v.Group()
	attrs := make([]slog.Attr, len(group))
	for i, ga := range group {
		attrs[i] = h.redact(ga)
	}
	return slog.Attr{Key: a.Key, Value: slog.GroupValue(attrs...)}
}
