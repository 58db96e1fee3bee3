// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package dbic

import (
	"context"

	"github.com/z5labs/dbic/pkg/credential"
)

// Connector opens a connection from fully resolved parameters.
type Connector[T any] interface {
	Connect(context.Context, credential.Record) (T, error)
}

// ConnectorFunc is a function which implements the Connector interface.
type ConnectorFunc[T any] func(context.Context, credential.Record) (T, error)

// Connect implements the Connector interface.
func (f ConnectorFunc[T]) Connect(ctx context.Context, r credential.Record) (T, error) {
	return f(ctx, r)
}

// Connect resolves the given connect arguments with s and hands the result
// to c. The Connector is never called if resolution fails.
func Connect[T any](ctx context.Context, s *Schema, c Connector[T], first string, rest ...any) (T, error) {
	r, err := s.Resolve(ctx, first, rest...)
	if err != nil {
		var zero T
		return zero, err
	}
	return c.Connect(ctx, r)
}
