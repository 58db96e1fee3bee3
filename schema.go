// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package dbic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/z5labs/dbic/internal/noop"
	"github.com/z5labs/dbic/pkg/catalog"
	"github.com/z5labs/dbic/pkg/credential"
	"github.com/z5labs/dbic/pkg/decode"
	"github.com/z5labs/dbic/pkg/searchpath"
)

// RawLoader replaces the file based lookup of a credential. Returning an
// empty record hands the lookup back to the config files.
type RawLoader interface {
	LoadCredentials(ctx context.Context, schema string, args credential.Record) (credential.Record, error)
}

// RawLoaderFunc is a function which implements the RawLoader interface.
type RawLoaderFunc func(ctx context.Context, schema string, args credential.Record) (credential.Record, error)

// LoadCredentials implements the RawLoader interface.
func (f RawLoaderFunc) LoadCredentials(ctx context.Context, schema string, args credential.Record) (credential.Record, error) {
	return f(ctx, schema, args)
}

// CredentialFilter rewrites a loaded credential before it is used to
// connect. It sees both the loaded record and the caller's arguments.
type CredentialFilter interface {
	FilterLoadedCredentials(ctx context.Context, schema string, loaded, args credential.Record) (credential.Record, error)
}

// CredentialFilterFunc is a function which implements the CredentialFilter interface.
type CredentialFilterFunc func(ctx context.Context, schema string, loaded, args credential.Record) (credential.Record, error)

// FilterLoadedCredentials implements the CredentialFilter interface.
func (f CredentialFilterFunc) FilterLoadedCredentials(ctx context.Context, schema string, loaded, args credential.Record) (credential.Record, error) {
	return f(ctx, schema, loaded, args)
}

func loadNothing(context.Context, string, credential.Record) (credential.Record, error) {
	return credential.Record{}, nil
}

func keepLoaded(_ context.Context, _ string, loaded, _ credential.Record) (credential.Record, error) {
	return loaded, nil
}

// ErrCredentialNotFound is matched, via errors.Is, by every CredentialNotFoundError.
var ErrCredentialNotFound = errors.New("credential not found")

// CredentialNotFoundError occurs when a key is neither answered by the
// RawLoader nor defined in any config file.
type CredentialNotFoundError struct {
	Key      string
	Searched []string
}

// Error implements the error interface.
func (e CredentialNotFoundError) Error() string {
	return fmt.Sprintf("credential not found for key: %s", e.Key)
}

// Is implements the implicit interface used by errors.Is.
func (e CredentialNotFoundError) Is(target error) bool {
	return target == ErrCredentialNotFound
}

// InvalidCredentialError occurs when a config entry exists but cannot be
// interpreted as a connection record.
type InvalidCredentialError struct {
	Key    string
	Source string
	Cause  error
}

// Error implements the error interface.
func (e InvalidCredentialError) Error() string {
	return fmt.Sprintf("invalid credential %s in %s: %s", e.Key, e.Source, e.Cause)
}

// Unwrap implements the implicit interface used by errors.Is and errors.As.
func (e InvalidCredentialError) Unwrap() error {
	return e.Cause
}

// EmptyCredentialError occurs when the CredentialFilter discards every
// connection parameter.
type EmptyCredentialError struct {
	Key string
}

// Error implements the error interface.
func (e EmptyCredentialError) Error() string {
	return fmt.Sprintf("credential filter returned an empty record for key: %s", e.Key)
}

type options struct {
	name       string
	stubs      []string
	files      []string
	fs         searchpath.FS
	registry   *decode.Registry
	strict     bool
	loader     RawLoader
	filter     CredentialFilter
	logHandler slog.Handler
}

// Option configures a Schema.
type Option func(*options)

// Name sets the name handed to the RawLoader and CredentialFilter.
func Name(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// SearchPath replaces the default stubs. Each stub is a path without
// extension which is tried with every extension of the decode Registry.
// Calling it without stubs disables the search path.
func SearchPath(stubs ...string) Option {
	return func(o *options) {
		o.stubs = append(make([]string, 0, len(stubs)), stubs...)
	}
}

// ConfigFiles adds complete file paths which are read before any stub.
func ConfigFiles(paths ...string) Option {
	return func(o *options) {
		o.files = append(o.files, paths...)
	}
}

// FileSystem sets the file system config files are looked up in.
func FileSystem(fs searchpath.FS) Option {
	return func(o *options) {
		o.fs = fs
	}
}

// Decoders sets the supported config formats and their preference order.
func Decoders(r *decode.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// StrictDecoding fails resolution when an existing config file cannot be
// decoded, instead of treating it as absent.
func StrictDecoding() Option {
	return func(o *options) {
		o.strict = true
	}
}

// LoadCredentials overrides how a credential is loaded.
func LoadCredentials(l RawLoader) Option {
	return func(o *options) {
		o.loader = l
	}
}

// FilterLoadedCredentials overrides how a loaded credential is filtered.
func FilterLoadedCredentials(f CredentialFilter) Option {
	return func(o *options) {
		o.filter = f
	}
}

// LogHandler sets the slog.Handler used by the Schema.
func LogHandler(h slog.Handler) Option {
	return func(o *options) {
		o.logHandler = h
	}
}

// Schema resolves credentials by name. A Schema is safe for concurrent
// use since every resolution works on its own catalog.
type Schema struct {
	name     string
	stubs    []string
	files    []string
	fs       searchpath.FS
	registry *decode.Registry
	loader   RawLoader
	filter   CredentialFilter
	catalogs *catalog.Loader
	log      *slog.Logger
}

// New configures a Schema.
func New(opts ...Option) *Schema {
	o := &options{
		name:       "dbic",
		fs:         searchpath.OS{},
		registry:   decode.DefaultRegistry(),
		loader:     RawLoaderFunc(loadNothing),
		filter:     CredentialFilterFunc(keepLoaded),
		logHandler: noop.LogHandler{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.stubs == nil {
		o.stubs = searchpath.DefaultStubs()
	}

	log := slog.New(o.logHandler).With(slog.String("schema", o.name))
	return &Schema{
		name:     o.name,
		stubs:    o.stubs,
		files:    o.files,
		fs:       o.fs,
		registry: o.registry,
		loader:   o.loader,
		filter:   o.filter,
		catalogs: catalog.NewLoader(
			catalog.FileSystem(o.fs),
			catalog.Decoders(o.registry),
			catalog.Strict(o.strict),
			catalog.LogHandler(log.Handler()),
		),
		log: log,
	}
}

// Name returns the name of the Schema.
func (s *Schema) Name() string {
	return s.name
}

// SearchPath returns the configured stubs.
func (s *Schema) SearchPath() []string {
	return slices.Clone(s.stubs)
}

// Candidates returns every file which would be consulted, in order,
// whether or not it exists.
func (s *Schema) Candidates() []string {
	return append(slices.Clone(s.files), searchpath.Candidates(s.stubs, s.registry.Extensions())...)
}

// Catalog reads every existing config file and returns the merged result.
func (s *Schema) Catalog(ctx context.Context) (*catalog.Catalog, error) {
	paths := searchpath.Existing(s.fs, s.Candidates())
	s.log.DebugContext(ctx, "resolved config files", slog.Any("paths", paths))
	return s.catalogs.Load(ctx, paths...)
}

type passKey struct{}

// pass memoizes the file catalog for the duration of a single Resolve.
type pass struct {
	once sync.Once
	load func() (*catalog.Catalog, error)
	cat  *catalog.Catalog
	err  error
}

func (p *pass) catalog() (*catalog.Catalog, error) {
	p.once.Do(func() {
		p.cat, p.err = p.load()
	})
	return p.cat, p.err
}

// LoadedCatalog returns the file catalog of the resolution ctx belongs to.
// It is meant for RawLoader and CredentialFilter implementations and
// reads the config files at most once per resolution.
func LoadedCatalog(ctx context.Context) (*catalog.Catalog, error) {
	p, ok := ctx.Value(passKey{}).(*pass)
	if !ok {
		return nil, errors.New("dbic: context does not belong to a credential resolution")
	}
	return p.catalog()
}

// Resolve returns the connection parameters for a connect call.
//
// If first is a literal DSN, i.e. it starts with "dbi:", the normalized
// arguments are returned as is and no config is consulted. Otherwise
// first names a credential which is taken from the RawLoader, or from the
// config files if the RawLoader returns nothing, and is then passed
// through the CredentialFilter.
func (s *Schema) Resolve(ctx context.Context, first string, rest ...any) (credential.Record, error) {
	args, err := credential.NormalizeArgs(first, rest...)
	if err != nil {
		return credential.Record{}, err
	}
	if credential.IsLiteralDSN(first) {
		s.log.DebugContext(ctx, "using literal dsn")
		return args, nil
	}

	p := &pass{
		load: func() (*catalog.Catalog, error) {
			return s.Catalog(ctx)
		},
	}
	ctx = context.WithValue(ctx, passKey{}, p)

	loaded, err := s.loader.LoadCredentials(ctx, s.name, args.Clone())
	if err != nil {
		return credential.Record{}, err
	}
	if loaded.IsZero() {
		loaded, err = s.lookup(ctx, p, first)
		if err != nil {
			return credential.Record{}, err
		}
	} else {
		s.log.DebugContext(ctx, "credential loaded by override", slog.String("key", first))
	}

	filtered, err := s.filter.FilterLoadedCredentials(ctx, s.name, loaded, args.Clone())
	if err != nil {
		return credential.Record{}, err
	}
	if filtered.IsZero() {
		return credential.Record{}, EmptyCredentialError{Key: first}
	}
	return filtered, nil
}

func (s *Schema) lookup(ctx context.Context, p *pass, key string) (credential.Record, error) {
	cat, err := p.catalog()
	if err != nil {
		return credential.Record{}, err
	}

	entry, ok := cat.Lookup(key)
	if !ok {
		return credential.Record{}, CredentialNotFoundError{
			Key:      key,
			Searched: cat.Sources(),
		}
	}

	rec, err := credential.FromValue(entry.Value)
	if err != nil {
		return credential.Record{}, InvalidCredentialError{
			Key:    key,
			Source: entry.Source,
			Cause:  err,
		}
	}
	s.log.DebugContext(
		ctx,
		"credential loaded from config file",
		slog.String("key", key),
		slog.String("path", entry.Source),
	)
	return rec, nil
}
