// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package sqlconn opens database/sql connections from resolved credentials.
//
// Credentials carry DBI style DSNs, "dbi:<Driver>:<attributes>", where the
// attributes are ";" separated key=value pairs. The Connector maps the DBI
// driver name onto a registered database/sql driver and rewrites the
// attributes into the DSN format that driver understands. No driver is
// imported by this package.
package sqlconn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/z5labs/dbic/internal/noop"
	"github.com/z5labs/dbic/pkg/credential"
)

// InvalidDSNError occurs when a DSN does not follow the
// "dbi:<Driver>:<attributes>" format.
type InvalidDSNError struct {
	DSN string
}

// Error implements the error interface.
func (e InvalidDSNError) Error() string {
	return fmt.Sprintf("dsn is not of the form dbi:<Driver>:<attributes>: %s", e.DSN)
}

// UnknownDriverError occurs when no Driver is registered for a DBI driver name.
type UnknownDriverError struct {
	Name string
}

// Error implements the error interface.
func (e UnknownDriverError) Error() string {
	return fmt.Sprintf("no sql driver registered for dbi driver: %s", e.Name)
}

// ParseDSN splits a DBI style DSN into its driver name and attribute string.
func ParseDSN(dsn string) (driver string, attrs string, err error) {
	if !credential.IsLiteralDSN(dsn) {
		return "", "", InvalidDSNError{DSN: dsn}
	}
	driver, attrs, ok := strings.Cut(dsn[len("dbi:"):], ":")
	if !ok || driver == "" {
		return "", "", InvalidDSNError{DSN: dsn}
	}
	return driver, attrs, nil
}

// Attributes parses the ";" separated key=value pairs of a DBI DSN.
// A bare value without "=" is stored under the empty key.
func Attributes(attrs string) map[string]string {
	m := make(map[string]string)
	for _, pair := range strings.Split(attrs, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			m[""] = pair
			continue
		}
		m[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return m
}

// Driver maps a DBI driver onto a database/sql driver.
type Driver struct {
	// SQLName is the name the database/sql driver is registered under.
	SQLName string

	// DSN builds the driver specific data source name.
	DSN func(attrs string, r credential.Record) (string, error)
}

// Postgres maps "dbi:Pg:" DSNs onto a libpq keyword/value connection
// string for the database/sql driver registered as sqlName.
func Postgres(sqlName string) Driver {
	return Driver{
		SQLName: sqlName,
		DSN: func(attrs string, r credential.Record) (string, error) {
			m := Attributes(attrs)
			if db, ok := m["database"]; ok {
				delete(m, "database")
				m["dbname"] = db
			}
			if r.User != "" {
				m["user"] = r.User
			}
			if r.Password != "" {
				m["password"] = r.Password
			}
			delete(m, "")

			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			parts := make([]string, len(keys))
			for i, k := range keys {
				parts[i] = k + "=" + quoteConninfo(m[k])
			}
			return strings.Join(parts, " "), nil
		},
	}
}

func quoteConninfo(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// MySQL maps "dbi:mysql:" DSNs onto the user:password@tcp(host:port)/dbname
// format for the database/sql driver registered as sqlName. Attributes
// other than host, port and database become query parameters.
func MySQL(sqlName string) Driver {
	return Driver{
		SQLName: sqlName,
		DSN: func(attrs string, r credential.Record) (string, error) {
			m := Attributes(attrs)
			db := m["database"]
			if db == "" {
				db = m["dbname"]
			}
			if db == "" {
				db = m[""]
			}
			host := m["host"]
			port := m["port"]
			for _, k := range []string{"database", "dbname", "", "host", "port"} {
				delete(m, k)
			}

			var sb strings.Builder
			if r.User != "" || r.Password != "" {
				sb.WriteString(r.User)
				if r.Password != "" {
					sb.WriteString(":")
					sb.WriteString(r.Password)
				}
				sb.WriteString("@")
			}
			if host != "" {
				if port == "" {
					port = "3306"
				}
				sb.WriteString("tcp(")
				sb.WriteString(net.JoinHostPort(host, port))
				sb.WriteString(")")
			}
			sb.WriteString("/")
			sb.WriteString(db)

			if len(m) > 0 {
				q := make(url.Values, len(m))
				for k, v := range m {
					q.Set(k, v)
				}
				sb.WriteString("?")
				sb.WriteString(q.Encode())
			}
			return sb.String(), nil
		},
	}
}

// SQLite maps "dbi:SQLite:dbname=<path>" DSNs onto the file path for the
// database/sql driver registered as sqlName.
func SQLite(sqlName string) Driver {
	return Driver{
		SQLName: sqlName,
		DSN: func(attrs string, _ credential.Record) (string, error) {
			m := Attributes(attrs)
			for _, k := range []string{"dbname", "database", "db", ""} {
				if v, ok := m[k]; ok {
					return v, nil
				}
			}
			return "", fmt.Errorf("sqlite dsn has no dbname: %s", attrs)
		},
	}
}

type options struct {
	drivers    map[string]Driver
	ping       bool
	configure  []func(*sql.DB)
	logHandler slog.Handler
}

// Option configures a Connector.
type Option func(*options)

// Register maps the DBI driver name, matched without regard to letter
// case, onto d.
func Register(dbiName string, d Driver) Option {
	return func(o *options) {
		o.drivers[strings.ToLower(dbiName)] = d
	}
}

// Ping verifies every new connection pool with a ping. Enabled by default.
func Ping(ping bool) Option {
	return func(o *options) {
		o.ping = ping
	}
}

// ConfigureDB registers a function, e.g. to set pool limits, applied to
// every *sql.DB before it is pinged.
func ConfigureDB(f func(*sql.DB)) Option {
	return func(o *options) {
		o.configure = append(o.configure, f)
	}
}

// LogHandler sets the slog.Handler used by the Connector.
func LogHandler(h slog.Handler) Option {
	return func(o *options) {
		o.logHandler = h
	}
}

// Connector is a dbic.Connector for database/sql.
type Connector struct {
	drivers   map[string]Driver
	ping      bool
	configure []func(*sql.DB)
	log       *slog.Logger
}

// New configures a Connector. The DBI drivers Pg, mysql and SQLite are
// registered by default against the sql driver names "pgx", "mysql" and
// "sqlite3". The sql drivers themselves must be imported by the caller.
func New(opts ...Option) *Connector {
	o := &options{
		drivers: map[string]Driver{
			"pg":     Postgres("pgx"),
			"mysql":  MySQL("mysql"),
			"sqlite": SQLite("sqlite3"),
		},
		ping:       true,
		logHandler: noop.LogHandler{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Connector{
		drivers:   o.drivers,
		ping:      o.ping,
		configure: o.configure,
		log:       slog.New(o.logHandler),
	}
}

// Connect implements the dbic.Connector interface.
func (c *Connector) Connect(ctx context.Context, r credential.Record) (*sql.DB, error) {
	name, attrs, err := ParseDSN(r.DSN)
	if err != nil {
		return nil, err
	}
	d, ok := c.drivers[strings.ToLower(name)]
	if !ok {
		return nil, UnknownDriverError{Name: name}
	}

	dsn, err := d.DSN(attrs, r)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.SQLName, dsn)
	if err != nil {
		return nil, err
	}
	for _, f := range c.configure {
		f(db)
	}
	if !c.ping {
		return db, nil
	}

	err = db.PingContext(ctx)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	c.log.DebugContext(ctx, "connected", slog.String("driver", d.SQLName))
	return db, nil
}
