// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package searchpath expands config path stubs into the concrete files
// which should be read, in priority order.
package searchpath

import (
	"io/fs"
	"os"
	"path/filepath"
)

// EnvConfigDir names the environment variable which, when set, adds
// "$DBIC_CONFIG_DIR/dbic" in front of the default stubs.
const EnvConfigDir = "DBIC_CONFIG_DIR"

// EnvLegacyConfigDir is the older name of EnvConfigDir. It is only read
// when EnvConfigDir is unset or empty.
const EnvLegacyConfigDir = "DBIX_CONFIG_DIR"

// FS opens files by their operating system path, absolute or relative
// to the working directory. It differs from [fs.FS] only in the paths
// it accepts.
type FS interface {
	Open(name string) (fs.File, error)
}

// OS is the FS backed by the host file system.
type OS struct{}

// Open implements the FS interface.
func (OS) Open(name string) (fs.File, error) {
	return os.Open(name)
}

// DefaultStubs returns the stubs searched when none are configured:
// "./dbic", "$HOME/.dbic" and "/etc/dbic", preceded by
// "$DBIC_CONFIG_DIR/dbic", or "$DBIX_CONFIG_DIR/dbic", if either variable
// is set. The home stub is
// omitted if the home directory cannot be determined.
func DefaultStubs() []string {
	return defaultStubs(os.Getenv, os.UserHomeDir)
}

func defaultStubs(getenv func(string) string, home func() (string, error)) []string {
	stubs := make([]string, 0, 4)
	dir := getenv(EnvConfigDir)
	if dir == "" {
		dir = getenv(EnvLegacyConfigDir)
	}
	if dir != "" {
		stubs = append(stubs, filepath.Join(dir, "dbic"))
	}
	stubs = append(stubs, "./dbic")
	if h, err := home(); err == nil && h != "" {
		stubs = append(stubs, filepath.Join(h, ".dbic"))
	}
	return append(stubs, "/etc/dbic")
}

// Candidates returns every stub and extension combination, stub major
// and extension minor, regardless of whether the file exists.
func Candidates(stubs, exts []string) []string {
	paths := make([]string, 0, len(stubs)*len(exts))
	for _, stub := range stubs {
		for _, ext := range exts {
			paths = append(paths, stub+"."+ext)
		}
	}
	return paths
}

// Resolve returns the candidates of [Candidates] which exist as regular
// files and can be opened for reading. Finding no file is not an error.
func Resolve(fsys FS, stubs, exts []string) []string {
	return Existing(fsys, Candidates(stubs, exts))
}

// Existing filters paths down to the regular files which can be opened,
// preserving order.
func Existing(fsys FS, paths []string) []string {
	var found []string
	for _, path := range paths {
		if readable(fsys, path) {
			found = append(found, path)
		}
	}
	return found
}

func readable(fsys FS, path string) bool {
	f, err := fsys.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
