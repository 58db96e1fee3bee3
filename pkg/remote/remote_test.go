// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z5labs/dbic/pkg/credential"
)

func TestNew(t *testing.T) {
	t.Run("will return an error", func(t *testing.T) {
		t.Run("if the url is not absolute", func(t *testing.T) {
			_, err := New("/credentials")
			assert.Error(t, err)
		})

		t.Run("if the url cannot be parsed", func(t *testing.T) {
			_, err := New("http://[::1")
			assert.Error(t, err)
		})
	})
}

func TestLoader_LoadCredentials(t *testing.T) {
	t.Run("will return the record served for the key", func(t *testing.T) {
		var gotPath, gotSchema, gotAuth string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotSchema = r.Header.Get(SchemaHeader)
			gotAuth = r.Header.Get("Authorization")
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"dsn": "dbi:Pg:host=remote", "user": "svc", "password": "s3cret", "sslmode": "require"}`))
		}))
		defer srv.Close()

		l, err := New(srv.URL+"/v1/credentials", Header("Authorization", "Bearer token"))
		require.NoError(t, err)

		r, err := l.LoadCredentials(context.Background(), "Blog::Schema", credential.Record{DSN: "MY_DATABASE"})
		require.NoError(t, err)
		assert.Equal(t, credential.Record{
			DSN:      "dbi:Pg:host=remote",
			User:     "svc",
			Password: "s3cret",
			Options:  map[string]any{"sslmode": "require"},
		}, r)
		assert.Equal(t, "/v1/credentials/MY_DATABASE", gotPath)
		assert.Equal(t, "Blog::Schema", gotSchema)
		assert.Equal(t, "Bearer token", gotAuth)
	})

	t.Run("will keep keys with path separators below the base path", func(t *testing.T) {
		var gotPath, gotEscaped string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotEscaped = r.URL.EscapedPath()
			http.NotFound(w, r)
		}))
		defer srv.Close()

		l, err := New(srv.URL + "/v1/credentials")
		require.NoError(t, err)

		r, err := l.LoadCredentials(context.Background(), "dbic", credential.Record{DSN: "../../admin/secrets"})
		require.NoError(t, err)
		assert.True(t, r.IsZero())
		assert.Equal(t, "/v1/credentials/..%2F..%2Fadmin%2Fsecrets", gotEscaped)
		assert.Equal(t, "/v1/credentials/../../admin/secrets", gotPath)
	})

	t.Run("will return an empty record if the key is unknown", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()

		l, err := New(srv.URL)
		require.NoError(t, err)

		r, err := l.LoadCredentials(context.Background(), "dbic", credential.Record{DSN: "DB"})
		require.NoError(t, err)
		assert.True(t, r.IsZero())
	})

	t.Run("will retry server errors", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`{"dsn": "dbi:Pg:"}`))
		}))
		defer srv.Close()

		l, err := New(srv.URL, Retry(2, time.Millisecond, 2*time.Millisecond))
		require.NoError(t, err)

		r, err := l.LoadCredentials(context.Background(), "dbic", credential.Record{DSN: "DB"})
		require.NoError(t, err)
		assert.Equal(t, "dbi:Pg:", r.DSN)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("will keep every digit of a numeric password", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"dsn": "dbi:Pg:", "password": 12345678901234567890, "port": 5432}`))
		}))
		defer srv.Close()

		l, err := New(srv.URL)
		require.NoError(t, err)

		r, err := l.LoadCredentials(context.Background(), "dbic", credential.Record{DSN: "DB"})
		require.NoError(t, err)
		assert.Equal(t, "12345678901234567890", r.Password)
		assert.Equal(t, map[string]any{"port": int64(5432)}, r.Options)
	})

	t.Run("will return an error", func(t *testing.T) {
		t.Run("if the service responds with an unexpected status code", func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			}))
			defer srv.Close()

			l, err := New(srv.URL)
			require.NoError(t, err)

			_, err = l.LoadCredentials(context.Background(), "dbic", credential.Record{DSN: "DB"})

			var serr StatusCodeError
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, http.StatusForbidden, serr.Code)
			assert.NotEmpty(t, serr.Error())
		})

		t.Run("if the response is not a json object", func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`["not", "an", "object"]`))
			}))
			defer srv.Close()

			l, err := New(srv.URL)
			require.NoError(t, err)

			_, err = l.LoadCredentials(context.Background(), "dbic", credential.Record{DSN: "DB"})

			var ierr InvalidResponseError
			require.ErrorAs(t, err, &ierr)
			assert.NotEmpty(t, ierr.Error())
			assert.NotNil(t, ierr.Unwrap())
		})

		t.Run("if the key is not a single path segment", func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
			}))
			defer srv.Close()

			l, err := New(srv.URL + "/v1/credentials")
			require.NoError(t, err)

			for _, key := range []string{"", ".", ".."} {
				_, err = l.LoadCredentials(context.Background(), "dbic", credential.Record{DSN: key})

				var kerr InvalidKeyError
				require.ErrorAs(t, err, &kerr)
				assert.Equal(t, key, kerr.Key)
				assert.NotEmpty(t, kerr.Error())
			}
			assert.Equal(t, int32(0), calls.Load())
		})

		t.Run("if the circuit is open", func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(http.StatusInternalServerError)
			}))
			defer srv.Close()

			l, err := New(srv.URL, CircuitBreaker(2, time.Minute))
			require.NoError(t, err)

			for range 2 {
				_, err = l.LoadCredentials(context.Background(), "dbic", credential.Record{DSN: "DB"})

				var serr StatusCodeError
				require.ErrorAs(t, err, &serr)
			}

			_, err = l.LoadCredentials(context.Background(), "dbic", credential.Record{DSN: "DB"})
			assert.ErrorIs(t, err, gobreaker.ErrOpenState)
			assert.Equal(t, int32(2), calls.Load())
		})
	})
}
