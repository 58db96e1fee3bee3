// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package dbic

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/z5labs/dbic/pkg/catalog"
	"github.com/z5labs/dbic/pkg/credential"
	"github.com/z5labs/dbic/pkg/searchpath"
)

type fsFunc func(string) (fs.File, error)

func (f fsFunc) Open(path string) (fs.File, error) {
	return f(path)
}

// countingFS counts every Open made through it.
type countingFS struct {
	opens atomic.Int64
}

func (c *countingFS) Open(name string) (fs.File, error) {
	c.opens.Add(1)
	return searchpath.OS{}.Open(name)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func noFiles(t *testing.T) fsFunc {
	return func(path string) (fs.File, error) {
		t.Errorf("unexpected file access: %s", path)
		return nil, fs.ErrNotExist
	}
}

func TestSchema_Resolve(t *testing.T) {
	t.Run("will load a credential from the first config file", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "dbic.yaml"), `
DB:
  dsn: "dbi:pg:host=localhost"
  user: "a"
  password: "b"
`)

		s := New(SearchPath(filepath.Join(dir, "dbic")))
		r, err := s.Resolve(context.Background(), "DB")
		require.NoError(t, err)
		assert.Equal(t, credential.Record{
			DSN:      "dbi:pg:host=localhost",
			User:     "a",
			Password: "b",
		}, r)
	})

	t.Run("will prefer earlier stubs over later ones", func(t *testing.T) {
		dir := t.TempDir()
		local := filepath.Join(dir, "local", "dbic")
		etc := filepath.Join(dir, "etc", "dbic")
		writeFile(t, local+".yaml", `
DB:
  dsn: "dbi:pg:host=localhost"
  user: "a"
  password: "b"
`)
		writeFile(t, etc+".yaml", `
DB:
  dsn: "other"
  user: "x"
  password: "y"
`)

		s := New(SearchPath(local, etc))
		r, err := s.Resolve(context.Background(), "DB")
		require.NoError(t, err)
		assert.Equal(t, credential.Record{
			DSN:      "dbi:pg:host=localhost",
			User:     "a",
			Password: "b",
		}, r)
	})

	t.Run("will prefer earlier extensions of the same stub", func(t *testing.T) {
		dir := t.TempDir()
		stub := filepath.Join(dir, "dbic")
		writeFile(t, stub+".json", `{"DB": {"dsn": "from-json"}}`)
		writeFile(t, stub+".yaml", "DB:\n  dsn: from-yaml\n")

		r, err := New(SearchPath(stub)).Resolve(context.Background(), "DB")
		require.NoError(t, err)
		assert.Equal(t, "from-yaml", r.DSN)
	})

	t.Run("will load a credential from an ini file", func(t *testing.T) {
		dir := t.TempDir()
		stub := filepath.Join(dir, "dbic")
		writeFile(t, stub+".ini", "[DB]\ndsn = dbi:Pg:host=localhost;database=blog\nuser = a\npassword = b\nsslmode = require\n")

		r, err := New(SearchPath(stub)).Resolve(context.Background(), "DB")
		require.NoError(t, err)
		assert.Equal(t, credential.Record{
			DSN:      "dbi:Pg:host=localhost;database=blog",
			User:     "a",
			Password: "b",
			Options:  map[string]any{"sslmode": "require"},
		}, r)
	})

	t.Run("will keep every digit of a numeric json password", func(t *testing.T) {
		dir := t.TempDir()
		stub := filepath.Join(dir, "dbic")
		writeFile(t, stub+".json", `{"DB": {"dsn": "dbi:Pg:", "password": 12345678901234567890}}`)

		r, err := New(SearchPath(stub)).Resolve(context.Background(), "DB")
		require.NoError(t, err)
		assert.Equal(t, "12345678901234567890", r.Password)
	})

	t.Run("will read explicit config files before stubs", func(t *testing.T) {
		dir := t.TempDir()
		explicit := filepath.Join(dir, "app.json")
		writeFile(t, explicit, `{"DB": {"dsn": "from-explicit"}}`)
		writeFile(t, filepath.Join(dir, "dbic.yaml"), "DB:\n  dsn: from-stub\n")

		s := New(
			SearchPath(filepath.Join(dir, "dbic")),
			ConfigFiles(filepath.Join(dir, "missing.yaml"), explicit),
		)
		r, err := s.Resolve(context.Background(), "DB")
		require.NoError(t, err)
		assert.Equal(t, "from-explicit", r.DSN)
	})

	t.Run("will skip config files which fail to decode", func(t *testing.T) {
		dir := t.TempDir()
		broken := filepath.Join(dir, "broken", "dbic")
		ok := filepath.Join(dir, "ok", "dbic")
		writeFile(t, broken+".yaml", "DB: [unclosed")
		writeFile(t, ok+".yaml", "DB:\n  dsn: fine\n")

		r, err := New(SearchPath(broken, ok)).Resolve(context.Background(), "DB")
		require.NoError(t, err)
		assert.Equal(t, "fine", r.DSN)
	})

	t.Run("will pass a literal dsn through untouched", func(t *testing.T) {
		s := New(
			FileSystem(noFiles(t)),
			LoadCredentials(RawLoaderFunc(func(context.Context, string, credential.Record) (credential.Record, error) {
				t.Error("raw loader must not be called for a literal dsn")
				return credential.Record{}, nil
			})),
			FilterLoadedCredentials(CredentialFilterFunc(func(context.Context, string, credential.Record, credential.Record) (credential.Record, error) {
				t.Error("filter must not be called for a literal dsn")
				return credential.Record{}, nil
			})),
		)

		r, err := s.Resolve(context.Background(), "dbi:pg:host=localhost;database=x", "user1", "pass1")
		require.NoError(t, err)
		assert.Equal(t, credential.Record{
			DSN:      "dbi:pg:host=localhost;database=x",
			User:     "user1",
			Password: "pass1",
		}, r)
	})

	t.Run("will use the raw loader without reading any file", func(t *testing.T) {
		var gotSchema string
		var gotArgs credential.Record
		s := New(
			Name("Blog::Schema"),
			FileSystem(noFiles(t)),
			LoadCredentials(RawLoaderFunc(func(_ context.Context, schema string, args credential.Record) (credential.Record, error) {
				gotSchema = schema
				gotArgs = args
				return credential.Record{DSN: "dbi:Pg:host=remote", User: "svc"}, nil
			})),
		)

		r, err := s.Resolve(context.Background(), "DB", "u", "p", map[string]any{"AutoCommit": 1})
		require.NoError(t, err)
		assert.Equal(t, credential.Record{DSN: "dbi:Pg:host=remote", User: "svc"}, r)
		assert.Equal(t, "Blog::Schema", gotSchema)
		assert.Equal(t, credential.Record{
			DSN:      "DB",
			User:     "u",
			Password: "p",
			Options:  map[string]any{"AutoCommit": 1},
		}, gotArgs)
	})

	t.Run("will fall back to files if the raw loader returns nothing", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "dbic.yaml"), "DB:\n  dsn: from-file\n")

		calls := 0
		s := New(
			SearchPath(filepath.Join(dir, "dbic")),
			LoadCredentials(RawLoaderFunc(func(context.Context, string, credential.Record) (credential.Record, error) {
				calls++
				return credential.Record{}, nil
			})),
		)

		r, err := s.Resolve(context.Background(), "DB")
		require.NoError(t, err)
		assert.Equal(t, "from-file", r.DSN)
		assert.Equal(t, 1, calls)
	})

	t.Run("will filter the loaded credential with the connect arguments", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "dbic.yaml"), `
DB:
  dsn: "DBI:mysql:host=%s"
  user: "u"
`)

		var order []string
		s := New(
			SearchPath(filepath.Join(dir, "dbic")),
			LoadCredentials(RawLoaderFunc(func(context.Context, string, credential.Record) (credential.Record, error) {
				order = append(order, "load")
				return credential.Record{}, nil
			})),
			FilterLoadedCredentials(CredentialFilterFunc(func(_ context.Context, _ string, loaded, args credential.Record) (credential.Record, error) {
				order = append(order, "filter")
				host, _ := args.Option("hostname")
				loaded.DSN = "DBI:mysql:host=" + host.(string)
				return loaded, nil
			})),
		)

		r, err := s.Resolve(context.Background(), "DB", map[string]any{"hostname": "db.foo.com"})
		require.NoError(t, err)
		assert.Equal(t, "DBI:mysql:host=db.foo.com", r.DSN)
		assert.Equal(t, "u", r.User)
		assert.Equal(t, []string{"load", "filter"}, order)
	})

	t.Run("will read config files once per resolution", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "dbic.yaml"), "DB:\n  dsn: a\nOTHER:\n  dsn: b\n")

		fsys := &countingFS{}
		s := New(
			SearchPath(filepath.Join(dir, "dbic")),
			FileSystem(fsys),
			FilterLoadedCredentials(CredentialFilterFunc(func(ctx context.Context, _ string, loaded, _ credential.Record) (credential.Record, error) {
				cat, err := LoadedCatalog(ctx)
				if err != nil {
					return credential.Record{}, err
				}
				other, ok := cat.Lookup("OTHER")
				if !ok {
					return credential.Record{}, errors.New("missing OTHER")
				}
				loaded.Options = map[string]any{"fallback": other.Value}
				return loaded, nil
			})),
		)

		r, err := s.Resolve(context.Background(), "DB")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"dsn": "b"}, r.Options["fallback"])

		// one open to check each of the 5 candidates, one to decode the yaml file
		assert.Equal(t, int64(6), fsys.opens.Load())
	})

	t.Run("will return an error", func(t *testing.T) {
		t.Run("if no config file exists", func(t *testing.T) {
			dir := t.TempDir()

			s := New(SearchPath(filepath.Join(dir, "dbic"), filepath.Join(dir, ".dbic")))
			_, err := s.Resolve(context.Background(), "DB")

			var nerr CredentialNotFoundError
			require.ErrorAs(t, err, &nerr)
			assert.Equal(t, "DB", nerr.Key)
			assert.Empty(t, nerr.Searched)
			assert.ErrorIs(t, err, ErrCredentialNotFound)
			assert.NotEmpty(t, nerr.Error())
		})

		t.Run("if the key is not defined in any file", func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "dbic.yaml")
			writeFile(t, path, "OTHER:\n  dsn: x\n")

			_, err := New(SearchPath(filepath.Join(dir, "dbic"))).Resolve(context.Background(), "DB")

			var nerr CredentialNotFoundError
			require.ErrorAs(t, err, &nerr)
			assert.Equal(t, []string{path}, nerr.Searched)
		})

		t.Run("if the config entry is not a mapping", func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "dbic.yaml")
			writeFile(t, path, "DB: just-a-string\n")

			_, err := New(SearchPath(filepath.Join(dir, "dbic"))).Resolve(context.Background(), "DB")

			var ierr InvalidCredentialError
			require.ErrorAs(t, err, &ierr)
			assert.Equal(t, path, ierr.Source)
			assert.NotEmpty(t, ierr.Error())

			var rerr credential.InvalidRecordError
			assert.ErrorAs(t, err, &rerr)
		})

		t.Run("if strict decoding is enabled and a file is malformed", func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, "dbic.yaml"), "DB: [unclosed")

			_, err := New(SearchPath(filepath.Join(dir, "dbic")), StrictDecoding()).Resolve(context.Background(), "DB")

			var derr catalog.DecodeError
			assert.ErrorAs(t, err, &derr)
		})

		t.Run("if the raw loader fails", func(t *testing.T) {
			loadErr := errors.New("vault unavailable")
			s := New(
				FileSystem(noFiles(t)),
				LoadCredentials(RawLoaderFunc(func(context.Context, string, credential.Record) (credential.Record, error) {
					return credential.Record{}, loadErr
				})),
			)

			_, err := s.Resolve(context.Background(), "DB")
			assert.Equal(t, loadErr, err)
		})

		t.Run("if the filter fails", func(t *testing.T) {
			filterErr := errors.New("cannot decrypt")
			s := New(
				FileSystem(noFiles(t)),
				LoadCredentials(RawLoaderFunc(func(context.Context, string, credential.Record) (credential.Record, error) {
					return credential.Record{DSN: "dbi:Pg:"}, nil
				})),
				FilterLoadedCredentials(CredentialFilterFunc(func(context.Context, string, credential.Record, credential.Record) (credential.Record, error) {
					return credential.Record{}, filterErr
				})),
			)

			_, err := s.Resolve(context.Background(), "DB")
			assert.Equal(t, filterErr, err)
		})

		t.Run("if the filter returns an empty record", func(t *testing.T) {
			s := New(
				FileSystem(noFiles(t)),
				LoadCredentials(RawLoaderFunc(func(context.Context, string, credential.Record) (credential.Record, error) {
					return credential.Record{DSN: "dbi:Pg:"}, nil
				})),
				FilterLoadedCredentials(CredentialFilterFunc(func(context.Context, string, credential.Record, credential.Record) (credential.Record, error) {
					return credential.Record{}, nil
				})),
			)

			_, err := s.Resolve(context.Background(), "DB")

			var eerr EmptyCredentialError
			require.ErrorAs(t, err, &eerr)
			assert.Equal(t, "DB", eerr.Key)
		})

		t.Run("if the connect arguments are invalid", func(t *testing.T) {
			_, err := New(FileSystem(noFiles(t))).Resolve(context.Background(), "DB", 42)

			var aerr credential.InvalidArgumentError
			assert.ErrorAs(t, err, &aerr)
		})
	})
}

func TestSchema_Resolve_Idempotent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "dbic.yaml"), `
DB:
  dsn: "dbi:Pg:host=localhost"
  user: a
  password: b
  TraceLevel: 1
`)
	s := New(SearchPath(filepath.Join(dir, "dbic")))

	first, err := s.Resolve(context.Background(), "DB")
	require.NoError(t, err)
	second, err := s.Resolve(context.Background(), "DB")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSchema_Resolve_Concurrent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "dbic.yaml"), "A:\n  dsn: a\nB:\n  dsn: b\n")
	s := New(SearchPath(filepath.Join(dir, "dbic")))

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := range 20 {
		key := "A"
		if i%2 == 1 {
			key = "B"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := s.Resolve(context.Background(), key)
			if err != nil {
				errs <- err
				return
			}
			if r.DSN != map[string]string{"A": "a", "B": "b"}[key] {
				errs <- errors.New("unexpected dsn for " + key + ": " + r.DSN)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestSchema_Resolve_LiteralDSNNeverHooked(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prefix := rapid.SampledFrom([]string{"dbi:", "DBI:", "Dbi:", "dBi:", "dbI:"}).Draw(t, "prefix")
		rest := rapid.StringMatching(`[A-Za-z]{1,8}:[a-z=;]{0,20}`).Draw(t, "rest")
		user := rapid.StringMatching(`[a-z]{0,8}`).Draw(t, "user")
		password := rapid.StringMatching(`[a-z0-9]{0,8}`).Draw(t, "password")
		dsn := prefix + rest

		hooked := false
		s := New(
			FileSystem(fsFunc(func(string) (fs.File, error) {
				hooked = true
				return nil, fs.ErrNotExist
			})),
			LoadCredentials(RawLoaderFunc(func(context.Context, string, credential.Record) (credential.Record, error) {
				hooked = true
				return credential.Record{}, nil
			})),
			FilterLoadedCredentials(CredentialFilterFunc(func(_ context.Context, _ string, loaded, _ credential.Record) (credential.Record, error) {
				hooked = true
				return loaded, nil
			})),
		)

		r, err := s.Resolve(context.Background(), dsn, user, password)
		if err != nil {
			t.Fatal(err)
		}
		if hooked {
			t.Fatal("literal dsn reached the credential loading machinery")
		}
		expected := credential.Record{DSN: dsn, User: user, Password: password}
		if r.DSN != expected.DSN || r.User != expected.User || r.Password != expected.Password || r.Options != nil {
			t.Fatalf("expected %+v but got %+v", expected, r)
		}
	})
}

func TestSchema_Candidates(t *testing.T) {
	s := New(
		SearchPath("./dbic", "/etc/dbic"),
		ConfigFiles("/srv/app/db.json"),
	)
	assert.Equal(t, []string{
		"/srv/app/db.json",
		"./dbic.yaml",
		"./dbic.yml",
		"./dbic.json",
		"./dbic.toml",
		"./dbic.ini",
		"/etc/dbic.yaml",
		"/etc/dbic.yml",
		"/etc/dbic.json",
		"/etc/dbic.toml",
		"/etc/dbic.ini",
	}, s.Candidates())
	assert.Equal(t, []string{"./dbic", "/etc/dbic"}, s.SearchPath())
}

func TestSchema_Catalog(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "dbic.yaml"), "A:\n  dsn: a\nB:\n  dsn: b\n")
	writeFile(t, filepath.Join(dir, "dbic.json"), `{"B": {"dsn": "shadowed"}, "C": {"dsn": "c"}}`)

	cat, err := New(SearchPath(filepath.Join(dir, "dbic"))).Catalog(context.Background())
	require.NoError(t, err)

	entries := cat.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "A", entries[0].Name)
	assert.Equal(t, "B", entries[1].Name)
	assert.Equal(t, filepath.Join(dir, "dbic.yaml"), entries[1].Source)
	assert.Equal(t, "C", entries[2].Name)
	assert.Equal(t, filepath.Join(dir, "dbic.json"), entries[2].Source)
	assert.Equal(t, []string{filepath.Join(dir, "dbic.yaml"), filepath.Join(dir, "dbic.json")}, cat.Sources())
}

func TestNew_DefaultSearchPath(t *testing.T) {
	t.Setenv(searchpath.EnvConfigDir, "")
	assert.Equal(t, searchpath.DefaultStubs(), New().SearchPath())
	assert.Equal(t, "dbic", New().Name())
}

func TestLoadedCatalog(t *testing.T) {
	t.Run("will return an error", func(t *testing.T) {
		t.Run("if the context is not part of a resolution", func(t *testing.T) {
			_, err := LoadedCatalog(context.Background())
			assert.Error(t, err)
		})
	})
}
