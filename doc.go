// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package dbic resolves database credentials from layered config files at
// connect time, so credentials can change without touching application code.
//
// # Resolution
//
// A connect call names either a literal DSN or a credential:
//
//	schema := dbic.New()
//	r, err := schema.Resolve(ctx, "MY_DATABASE")
//
// Literal DSNs, anything starting with "dbi:" in any letter case, are
// returned as given along with the user, password and options of the call.
//
// Any other first argument is a key looked up in the config files found on
// the search path. By default the stubs "./dbic", "$HOME/.dbic" and
// "/etc/dbic" are tried, in that order, each with every supported
// extension (yaml, yml, json, toml, ini). The first file to define a key
// wins.
//
//	MY_DATABASE:
//	  dsn: "dbi:Pg:host=localhost;database=blog"
//	  user: "TheDoctor"
//	  password: "dnoPydoleM"
//	  TraceLevel: 1
//
// # Overrides
//
// Two hooks shape the result. A [RawLoader] may answer a lookup itself,
// in which case no config file is read. A [CredentialFilter] then sees the
// loaded record together with the caller's arguments and may rewrite it,
// for example to interpolate a hostname into the DSN:
//
//	schema := dbic.New(
//	    dbic.FilterLoadedCredentials(filter.Sprintf("hostname")),
//	)
//	r, err := schema.Resolve(ctx, "MY_DATABASE", map[string]any{"hostname": "db.foo.com"})
//
// Neither hook is called for a literal DSN.
//
// # Connecting
//
// [Connect] resolves the arguments and hands the record to a [Connector],
// which is never called when resolution fails. See package sqlconn for a
// database/sql Connector.
package dbic
