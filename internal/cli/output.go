// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/z5labs/dbic/pkg/credential"
	"github.com/z5labs/dbic/pkg/redactslog"

	"gopkg.in/yaml.v3"
)

// UnsupportedOutputError occurs when the --output format is unknown.
type UnsupportedOutputError struct {
	Format string
}

// Error implements the error interface.
func (e UnsupportedOutputError) Error() string {
	return fmt.Sprintf("unsupported output format: %s", e.Format)
}

type encodeFunc func(w io.Writer, v any) error

func encoderFor(format string) (encodeFunc, error) {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		return encodeYaml, nil
	case "json":
		return encodeJson, nil
	}
	return nil, UnsupportedOutputError{Format: format}
}

func encodeYaml(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	err := enc.Encode(v)
	if err != nil {
		return err
	}
	return enc.Close()
}

func encodeJson(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (e *env) write(w io.Writer, v any) error {
	enc, err := encoderFor(e.cfg.Output)
	if err != nil {
		return err
	}
	return enc(w, v)
}

type credentialView struct {
	DSN      string         `json:"dsn" yaml:"dsn"`
	User     string         `json:"user,omitempty" yaml:"user,omitempty"`
	Password string         `json:"password,omitempty" yaml:"password,omitempty"`
	Options  map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

func (e *env) view(r credential.Record) credentialView {
	v := credentialView{
		DSN:      r.DSN,
		User:     r.User,
		Password: r.Password,
		Options:  r.Options,
	}
	if v.Password != "" && !e.cfg.ShowPassword {
		v.Password = redactslog.Mask
	}
	return v
}
