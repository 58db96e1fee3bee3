// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package catalog merges the entries of several config files into a
// single catalog of named credentials.
//
// Files are merged in the order given. An entry defined by an earlier
// file is never replaced by a later one and, within a file, the first
// definition of a key wins. Files which fail to decode are skipped
// unless the Loader is strict.
package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/z5labs/dbic/internal/ioutil"
	"github.com/z5labs/dbic/internal/noop"
	"github.com/z5labs/dbic/pkg/decode"
	"github.com/z5labs/dbic/pkg/searchpath"
)

// Entry is a named credential along with the file it was read from.
type Entry struct {
	Name   string
	Value  any
	Source string
}

// Catalog is an ordered, read-only mapping of credential names to their
// raw config values.
type Catalog struct {
	index   map[string]int
	entries []Entry
	sources []string
}

// Lookup returns the entry registered under name.
func (c *Catalog) Lookup(name string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	i, ok := c.index[name]
	if !ok {
		return Entry{}, false
	}
	return c.entries[i], true
}

// Entries returns every entry in the order it was first seen.
func (c *Catalog) Entries() []Entry {
	if c == nil {
		return nil
	}
	entries := make([]Entry, len(c.entries))
	copy(entries, c.entries)
	return entries
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Sources returns the files which were successfully decoded, in order.
func (c *Catalog) Sources() []string {
	if c == nil {
		return nil
	}
	sources := make([]string, len(c.sources))
	copy(sources, c.sources)
	return sources
}

func (c *Catalog) add(doc decode.Document, source string) {
	for _, e := range doc {
		if _, exists := c.index[e.Key]; exists {
			continue
		}
		c.index[e.Key] = len(c.entries)
		c.entries = append(c.entries, Entry{
			Name:   e.Key,
			Value:  e.Value,
			Source: source,
		})
	}
}

// DecodeError occurs when a strict Loader fails to read or decode a file.
type DecodeError struct {
	Path  string
	Cause error
}

// Error implements the error interface.
func (e DecodeError) Error() string {
	return fmt.Sprintf("failed to load config file %s: %s", e.Path, e.Cause)
}

// Unwrap implements the implicit interface used by errors.Is and errors.As.
func (e DecodeError) Unwrap() error {
	return e.Cause
}

type options struct {
	fs         searchpath.FS
	registry   *decode.Registry
	strict     bool
	logHandler slog.Handler
}

// Option configures a Loader.
type Option func(*options)

// FileSystem sets the file system config files are read from.
func FileSystem(fs searchpath.FS) Option {
	return func(o *options) {
		o.fs = fs
	}
}

// Decoders sets the Registry used to pick a decoder by file extension.
func Decoders(r *decode.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// Strict makes the Loader fail on the first file it cannot decode
// instead of skipping it.
func Strict(strict bool) Option {
	return func(o *options) {
		o.strict = strict
	}
}

// LogHandler sets the slog.Handler skipped files are reported to.
func LogHandler(h slog.Handler) Option {
	return func(o *options) {
		o.logHandler = h
	}
}

// Loader builds catalogs from config files.
type Loader struct {
	fs       searchpath.FS
	registry *decode.Registry
	strict   bool
	log      *slog.Logger
}

// NewLoader configures a Loader.
func NewLoader(opts ...Option) *Loader {
	o := &options{
		fs:         searchpath.OS{},
		registry:   decode.DefaultRegistry(),
		logHandler: noop.LogHandler{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Loader{
		fs:       o.fs,
		registry: o.registry,
		strict:   o.strict,
		log:      slog.New(o.logHandler),
	}
}

// Load decodes each file in order and merges their entries.
func (l *Loader) Load(ctx context.Context, paths ...string) (*Catalog, error) {
	c := &Catalog{
		index: make(map[string]int),
	}
	for _, path := range paths {
		doc, err := l.decodeFile(path)
		if err != nil {
			if l.strict {
				return nil, DecodeError{Path: path, Cause: err}
			}
			l.log.WarnContext(
				ctx,
				"skipping config file which failed to decode",
				slog.String("path", path),
				slog.Any("error", err),
			)
			continue
		}

		c.add(doc, path)
		c.sources = append(c.sources, path)
		l.log.DebugContext(
			ctx,
			"loaded config file",
			slog.String("path", path),
			slog.Int("entries", len(doc)),
		)
	}
	return c, nil
}

func (l *Loader) decodeFile(path string) (_ decode.Document, err error) {
	dec, err := l.registry.ForPath(path)
	if err != nil {
		return nil, err
	}

	f, err := l.fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer ioutil.TryClose(&err, f)

	return dec.Decode(f)
}
