// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package decode turns config files into ordered documents of top-level
// entries. Decoders are selected by file extension through a [Registry].
package decode

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
)

var errNotMapping = errors.New("top level must be a mapping")

// Entry is a single top-level key and its decoded value.
type Entry struct {
	Key   string
	Value any
}

// Document is the ordered list of top-level entries of a config file.
// Keys appear in file order and a key may appear more than once if the
// underlying format tolerates it.
type Document []Entry

// Keys returns the top-level keys of d in order.
func (d Document) Keys() []string {
	keys := make([]string, len(d))
	for i, e := range d {
		keys[i] = e.Key
	}
	return keys
}

// Decoder parses a config file.
type Decoder interface {
	Decode(io.Reader) (Document, error)
}

// DecoderFunc is a function which implements the Decoder interface.
type DecoderFunc func(io.Reader) (Document, error)

// Decode implements the Decoder interface.
func (f DecoderFunc) Decode(r io.Reader) (Document, error) {
	return f(r)
}

// InvalidDocumentError occurs if a config file cannot be parsed.
type InvalidDocumentError struct {
	Format string
	Cause  error
}

// Error implements the error interface.
func (e InvalidDocumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Format, e.Cause)
}

// Unwrap implements the implicit interface used by errors.Is and errors.As.
func (e InvalidDocumentError) Unwrap() error {
	return e.Cause
}

// UnsupportedExtensionError occurs when no Decoder is registered for
// the extension of a file.
type UnsupportedExtensionError struct {
	Path string
}

// Error implements the error interface.
func (e UnsupportedExtensionError) Error() string {
	return fmt.Sprintf("no decoder registered for file: %s", e.Path)
}

// Extension binds a Decoder to a file extension, without the leading dot.
type Extension struct {
	Name    string
	Decoder Decoder
}

// Registry is an ordered set of extensions. The order is the
// preference order used when expanding a search path stub.
// A Registry is immutable once created.
type Registry struct {
	names    []string
	decoders map[string]Decoder
}

// NewRegistry creates a Registry. Extension names are matched without
// regard to letter case. If an extension is given more than once the
// first one wins.
func NewRegistry(exts ...Extension) *Registry {
	r := &Registry{
		decoders: make(map[string]Decoder, len(exts)),
	}
	for _, ext := range exts {
		name := strings.ToLower(strings.TrimPrefix(ext.Name, "."))
		if name == "" || ext.Decoder == nil {
			continue
		}
		if _, exists := r.decoders[name]; exists {
			continue
		}
		r.names = append(r.names, name)
		r.decoders[name] = ext.Decoder
	}
	return r
}

// DefaultRegistry returns the Registry of every format this package
// supports in the order: yaml, yml, json, toml, ini.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Extension{Name: "yaml", Decoder: Yaml{}},
		Extension{Name: "yml", Decoder: Yaml{}},
		Extension{Name: "json", Decoder: Json{}},
		Extension{Name: "toml", Decoder: Toml{}},
		Extension{Name: "ini", Decoder: Ini{}},
	)
}

// Extensions returns the supported extensions in preference order.
func (r *Registry) Extensions() []string {
	return slices.Clone(r.names)
}

// Lookup returns the Decoder registered for the given extension.
func (r *Registry) Lookup(ext string) (Decoder, bool) {
	d, ok := r.decoders[strings.ToLower(strings.TrimPrefix(ext, "."))]
	return d, ok
}

// ForPath returns the Decoder for the extension of path.
func (r *Registry) ForPath(path string) (Decoder, error) {
	d, ok := r.Lookup(filepath.Ext(path))
	if !ok {
		return nil, UnsupportedExtensionError{Path: path}
	}
	return d, nil
}
