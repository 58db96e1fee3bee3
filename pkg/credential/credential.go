// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package credential defines the connection parameter record shared by every
// stage of credential resolution along with helpers for normalizing the
// arguments of a connect call into that record.
package credential

import (
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// Well known record fields.
const (
	FieldDSN      = "dsn"
	FieldUser     = "user"
	FieldPassword = "password"
)

// Record is a set of connection parameters. DSN, User and Password are
// always present, possibly empty, while any other field found in a config
// entry or in the connect arguments is kept verbatim in Options.
type Record struct {
	DSN      string         `mapstructure:"dsn"`
	User     string         `mapstructure:"user"`
	Password string         `mapstructure:"password"`
	Options  map[string]any `mapstructure:",remain"`
}

// IsZero reports whether r carries no parameters at all.
func (r Record) IsZero() bool {
	return r.DSN == "" && r.User == "" && r.Password == "" && len(r.Options) == 0
}

// Clone returns a copy of r which shares no map with r.
func (r Record) Clone() Record {
	c := r
	if r.Options != nil {
		c.Options = maps.Clone(r.Options)
	}
	return c
}

// Option returns the value of an additional option.
func (r Record) Option(name string) (any, bool) {
	v, ok := r.Options[name]
	return v, ok
}

// Field returns the value of any field, well known or not, by name.
func (r Record) Field(name string) (any, bool) {
	switch name {
	case FieldDSN:
		return r.DSN, true
	case FieldUser:
		return r.User, true
	case FieldPassword:
		return r.Password, true
	}
	return r.Option(name)
}

// Map flattens r into a single map, the inverse of [FromMap].
func (r Record) Map() map[string]any {
	m := make(map[string]any, len(r.Options)+3)
	for k, v := range r.Options {
		m[k] = v
	}
	m[FieldDSN] = r.DSN
	m[FieldUser] = r.User
	m[FieldPassword] = r.Password
	return m
}

// LogValue implements the slog.LogValuer interface. A non-empty password
// is never logged.
func (r Record) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(r.Options)+3)
	attrs = append(attrs, slog.String(FieldDSN, r.DSN), slog.String(FieldUser, r.User))
	if r.Password != "" {
		attrs = append(attrs, slog.String(FieldPassword, "****"))
	}
	for _, k := range slices.Sorted(maps.Keys(r.Options)) {
		attrs = append(attrs, slog.Any(k, r.Options[k]))
	}
	return slog.GroupValue(attrs...)
}

// InvalidRecordError occurs when a raw config value cannot be
// interpreted as a connection record.
type InvalidRecordError struct {
	Cause error
}

// Error implements the error interface.
func (e InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid credential record: %s", e.Cause)
}

// Unwrap implements the implicit interface used by errors.Is and errors.As.
func (e InvalidRecordError) Unwrap() error {
	return e.Cause
}

// FromMap decodes a generic mapping, as produced by a config decoder,
// into a Record. Scalars are weakly coerced so a numeric password in a
// YAML file still becomes a string.
func FromMap(m map[string]any) (Record, error) {
	var r Record
	err := decodeInto(&r, m)
	if err != nil {
		return Record{}, InvalidRecordError{Cause: err}
	}
	return r, nil
}

// FromValue is like [FromMap] but accepts any value a decoder may
// have produced for a top-level config entry.
func FromValue(v any) (Record, error) {
	switch x := v.(type) {
	case map[string]any:
		return FromMap(x)
	case Record:
		return x.Clone(), nil
	case nil:
		return Record{}, InvalidRecordError{Cause: fmt.Errorf("entry is empty")}
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map {
		return Record{}, InvalidRecordError{
			Cause: fmt.Errorf("expected a mapping but got %T", v),
		}
	}
	var r Record
	err := decodeInto(&r, v)
	if err != nil {
		return Record{}, InvalidRecordError{Cause: err}
	}
	return r, nil
}

func decodeInto(r *Record, input any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           r,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	err = dec.Decode(input)
	if err != nil {
		return err
	}
	if len(r.Options) == 0 {
		r.Options = nil
	}
	return nil
}

// IsLiteralDSN reports whether s is a complete connection string,
// i.e. it starts with "dbi:" in any letter case, rather than the name
// of a config entry.
func IsLiteralDSN(s string) bool {
	const prefix = "dbi:"
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
