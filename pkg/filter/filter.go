// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package filter provides ready made CredentialFilters.
package filter

import (
	"context"
	"fmt"
	"strings"

	"github.com/z5labs/dbic"
	"github.com/z5labs/dbic/pkg/credential"
)

// MissingOptionError occurs when a filter needs a connect argument the
// caller did not pass.
type MissingOptionError struct {
	Name string
}

// Error implements the error interface.
func (e MissingOptionError) Error() string {
	return fmt.Sprintf("connect argument is required by credential filter: %s", e.Name)
}

// Chain applies each filter in order, feeding the output of one into the next.
func Chain(filters ...dbic.CredentialFilter) dbic.CredentialFilterFunc {
	return func(ctx context.Context, schema string, loaded, args credential.Record) (credential.Record, error) {
		var err error
		for _, f := range filters {
			loaded, err = f.FilterLoadedCredentials(ctx, schema, loaded, args)
			if err != nil {
				return credential.Record{}, err
			}
		}
		return loaded, nil
	}
}

// Sprintf substitutes every "%s" in the loaded DSN with the connect
// argument named option. The DSN is left alone if it has no placeholder.
//
//	MY_DATABASE:
//	  dsn: "DBI:mysql:host=%s"
//
// resolved with {"hostname": "db.foo.com"} and Sprintf("hostname") yields
// the DSN "DBI:mysql:host=db.foo.com".
func Sprintf(option string) dbic.CredentialFilterFunc {
	return func(_ context.Context, _ string, loaded, args credential.Record) (credential.Record, error) {
		if !strings.Contains(loaded.DSN, "%s") {
			return loaded, nil
		}
		v, ok := args.Field(option)
		if !ok {
			return credential.Record{}, MissingOptionError{Name: option}
		}

		loaded = loaded.Clone()
		loaded.DSN = strings.ReplaceAll(loaded.DSN, "%s", fmt.Sprint(v))
		return loaded, nil
	}
}

// FromArgs copies the named fields from the connect arguments into the
// loaded record whenever the caller gave them a non-empty value. It lets
// a caller override, say, the password stored in a config file.
func FromArgs(fields ...string) dbic.CredentialFilterFunc {
	return func(_ context.Context, _ string, loaded, args credential.Record) (credential.Record, error) {
		loaded = loaded.Clone()
		for _, field := range fields {
			v, ok := args.Field(field)
			if !ok || v == nil || v == "" {
				continue
			}

			switch field {
			case credential.FieldDSN:
				loaded.DSN = fmt.Sprint(v)
			case credential.FieldUser:
				loaded.User = fmt.Sprint(v)
			case credential.FieldPassword:
				loaded.Password = fmt.Sprint(v)
			default:
				if loaded.Options == nil {
					loaded.Options = make(map[string]any)
				}
				loaded.Options[field] = v
			}
		}
		return loaded, nil
	}
}
