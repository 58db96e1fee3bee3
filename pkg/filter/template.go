// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package filter

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/z5labs/dbic"
	"github.com/z5labs/dbic/pkg/credential"
)

// TemplateOption represents options for configuring the Template filter.
type TemplateOption func(*templateOptions)

type templateOptions struct {
	leftDelim  string
	rightDelim string
	funcs      template.FuncMap
}

// TemplateFunc registers the given function, f, for use in templates
// via the given name.
func TemplateFunc(name string, f any) TemplateOption {
	return func(o *templateOptions) {
		o.funcs[name] = f
	}
}

// TemplateDelims sets the action delimiters to the specified strings.
// An empty delimiter stands for the corresponding default: {{ or }}.
func TemplateDelims(left, right string) TemplateOption {
	return func(o *templateOptions) {
		o.leftDelim = left
		o.rightDelim = right
	}
}

// TemplateParseError occurs when a credential field fails to be parsed
// as a template.
type TemplateParseError struct {
	Field string
	Cause error
}

// Error implements the error interface.
func (e TemplateParseError) Error() string {
	return fmt.Sprintf("failed to parse %s template: %s", e.Field, e.Cause)
}

// Unwrap implements the implicit interface used by errors.Is and errors.As.
func (e TemplateParseError) Unwrap() error {
	return e.Cause
}

// TemplateExecError occurs when a template fails to execute. Most likely
// cause is a reference to a connect argument which was not given.
type TemplateExecError struct {
	Field string
	Cause error
}

// Error implements the error interface.
func (e TemplateExecError) Error() string {
	return fmt.Sprintf("failed to exec %s template: %s", e.Field, e.Cause)
}

// Unwrap implements the implicit interface used by errors.Is and errors.As.
func (e TemplateExecError) Unwrap() error {
	return e.Cause
}

// Template renders the dsn, user and password of the loaded record, and
// any string option, as text/template templates. The template data is the
// flattened connect arguments, so
//
//	dsn: "dbi:Pg:host={{ .hostname }};port={{ .port }}"
//
// picks hostname and port from the caller. The "env" function reads an
// environment variable. Referencing an argument the caller did not pass
// is an error.
func Template(opts ...TemplateOption) dbic.CredentialFilterFunc {
	o := &templateOptions{
		funcs: template.FuncMap{
			"env": os.Getenv,
		},
	}
	for _, opt := range opts {
		opt(o)
	}

	render := func(field, text string, data map[string]any) (string, error) {
		if !strings.Contains(text, leftDelim(o)) {
			return text, nil
		}

		tmpl, err := template.New(field).
			Delims(o.leftDelim, o.rightDelim).
			Funcs(o.funcs).
			Option("missingkey=error").
			Parse(text)
		if err != nil {
			return "", TemplateParseError{Field: field, Cause: err}
		}

		var sb strings.Builder
		err = tmpl.Execute(&sb, data)
		if err != nil {
			return "", TemplateExecError{Field: field, Cause: err}
		}
		return sb.String(), nil
	}

	return func(_ context.Context, _ string, loaded, args credential.Record) (credential.Record, error) {
		data := args.Map()
		out := loaded.Clone()

		var err error
		out.DSN, err = render(credential.FieldDSN, loaded.DSN, data)
		if err != nil {
			return credential.Record{}, err
		}
		out.User, err = render(credential.FieldUser, loaded.User, data)
		if err != nil {
			return credential.Record{}, err
		}
		out.Password, err = render(credential.FieldPassword, loaded.Password, data)
		if err != nil {
			return credential.Record{}, err
		}
		for k, v := range loaded.Options {
			s, ok := v.(string)
			if !ok {
				continue
			}
			out.Options[k], err = render(k, s, data)
			if err != nil {
				return credential.Record{}, err
			}
		}
		return out, nil
	}
}

func leftDelim(o *templateOptions) string {
	if o.leftDelim == "" {
		return "{{"
	}
	return o.leftDelim
}
