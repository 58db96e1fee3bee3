// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package credential

import (
	"fmt"
	"maps"
)

// InvalidArgumentError occurs when a connect call receives an argument
// which fits neither the positional nor the options record convention.
type InvalidArgumentError struct {
	Position int
	Value    any
	Reason   string
}

// Error implements the error interface.
func (e InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid connect argument at position %d (%T): %s", e.Position, e.Value, e.Reason)
}

// NormalizeArgs turns the arguments of a connect call into a Record.
//
// The first argument always becomes the DSN. The remaining arguments may
// be up to two positional strings, user and password, optionally followed
// by a single options map; or just the options map on its own. Both
// conventions produce the same Record. Values from the options map are
// merged last so a "user" or "password" key there wins over the
// positional value. A "dsn" key in the options map is ignored.
func NormalizeArgs(first string, rest ...any) (Record, error) {
	r := Record{DSN: first}

	positional := 0
	for i, arg := range rest {
		pos := i + 1

		opts, isMap, err := asOptions(arg)
		if err != nil {
			return Record{}, InvalidArgumentError{Position: pos, Value: arg, Reason: err.Error()}
		}
		if isMap {
			if i != len(rest)-1 {
				return Record{}, InvalidArgumentError{
					Position: pos,
					Value:    arg,
					Reason:   "options must be the last argument",
				}
			}
			err = r.merge(opts)
			if err != nil {
				return Record{}, InvalidArgumentError{Position: pos, Value: arg, Reason: err.Error()}
			}
			break
		}

		s, ok := arg.(string)
		if !ok {
			return Record{}, InvalidArgumentError{
				Position: pos,
				Value:    arg,
				Reason:   "expected user, password or an options map",
			}
		}
		switch positional {
		case 0:
			r.User = s
		case 1:
			r.Password = s
		default:
			return Record{}, InvalidArgumentError{
				Position: pos,
				Value:    arg,
				Reason:   "too many positional arguments",
			}
		}
		positional++
	}
	return r, nil
}

func asOptions(arg any) (map[string]any, bool, error) {
	switch x := arg.(type) {
	case map[string]any:
		return x, true, nil
	case map[string]string:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = v
		}
		return m, true, nil
	case Record:
		return x.patch(), true, nil
	case nil:
		return nil, false, fmt.Errorf("argument is nil")
	}
	return nil, false, nil
}

// patch returns the Options of r along with only those well known fields
// which are set, so an options Record never blanks a positional value.
func (r Record) patch() map[string]any {
	m := make(map[string]any, len(r.Options)+2)
	maps.Copy(m, r.Options)
	if r.User != "" {
		m[FieldUser] = r.User
	}
	if r.Password != "" {
		m[FieldPassword] = r.Password
	}
	return m
}

func (r *Record) merge(m map[string]any) error {
	if len(m) == 0 {
		return nil
	}
	m = maps.Clone(m)
	delete(m, FieldDSN)

	var patch Record
	err := decodeInto(&patch, m)
	if err != nil {
		return err
	}
	if _, ok := m[FieldUser]; ok || patch.User != "" {
		r.User = patch.User
	}
	if _, ok := m[FieldPassword]; ok || patch.Password != "" {
		r.Password = patch.Password
	}
	if len(patch.Options) == 0 {
		return nil
	}
	if r.Options == nil {
		r.Options = make(map[string]any, len(patch.Options))
	}
	maps.Copy(r.Options, patch.Options)
	return nil
}
