// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package cli implements the dbic command line tool.
package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/z5labs/dbic"
	"github.com/z5labs/dbic/pkg/filter"
	"github.com/z5labs/dbic/pkg/redactslog"
	"github.com/z5labs/dbic/pkg/remote"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variable of every persistent flag,
// e.g. --config-file is also read from DBIC_CONFIG_FILE.
const EnvPrefix = "DBIC"

type config struct {
	Name         string   `mapstructure:"name"`
	Paths        []string `mapstructure:"path"`
	ConfigFiles  []string `mapstructure:"config-file"`
	Strict       bool     `mapstructure:"strict"`
	Remote       string   `mapstructure:"remote"`
	RemoteHeader []string `mapstructure:"remote-header"`
	Template     bool     `mapstructure:"template"`
	Sprintf      string   `mapstructure:"sprintf"`
	Output       string   `mapstructure:"output"`
	ShowPassword bool     `mapstructure:"show-password"`
	LogLevel     string   `mapstructure:"log-level"`
}

// InvalidHeaderError occurs when a --remote-header value is not of the
// form "Key: Value".
type InvalidHeaderError struct {
	Value string
}

// Error implements the error interface.
func (e InvalidHeaderError) Error() string {
	return fmt.Sprintf("header must be of the form \"Key: Value\": %s", e.Value)
}

type env struct {
	v      *viper.Viper
	cfg    config
	log    slog.Handler
	schema *dbic.Schema
}

// NewRootCommand builds the dbic command tree.
func NewRootCommand(version string) *cobra.Command {
	e := &env{
		v: viper.New(),
	}
	e.v.SetEnvPrefix(EnvPrefix)
	e.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	e.v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "dbic",
		Short: "Resolve database connection credentials",
		Long: `dbic resolves database connection credentials the same way an application
using the dbic package would: literal "dbi:" DSNs pass through untouched while
any other key is looked up in the first config file, searched in order over
every path stub and extension, that defines it.`,
		Version:      version,
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.init(cmd)
		},
	}

	registerFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newResolveCommand(e),
		newListCommand(e),
		newCheckCommand(e),
		newPathsCommand(e),
		newWatchCommand(e),
	)
	return cmd
}

func registerFlags(fs *pflag.FlagSet) {
	fs.String("name", "dbic", "schema name handed to credential hooks")
	fs.StringSlice("path", nil, "config path stubs, searched in order (replaces the default search path)")
	fs.StringSlice("config-file", nil, "config files searched before any path stub")
	fs.Bool("strict", false, "fail on config files which cannot be decoded")
	fs.String("remote", "", "base url of a credential service consulted before the config files")
	fs.StringArray("remote-header", nil, "\"Key: Value\" header sent to the credential service")
	fs.Bool("template", false, "render dsn, user and password as templates over the connect args")
	fs.String("sprintf", "", "replace %s in the dsn with the value of this connect arg option")
	fs.StringP("output", "o", "yaml", "output format, yaml or json")
	fs.Bool("show-password", false, "print passwords instead of masking them")
	fs.String("log-level", "warn", "log level, one of debug, info, warn or error")
}

func (e *env) init(cmd *cobra.Command) error {
	err := e.v.BindPFlags(cmd.Flags())
	if err != nil {
		return err
	}
	err = e.v.Unmarshal(&e.cfg)
	if err != nil {
		return err
	}
	// viper reads string arrays back as CSV which splits header values
	// containing commas.
	if cmd.Flags().Changed("remote-header") {
		e.cfg.RemoteHeader, err = cmd.Flags().GetStringArray("remote-header")
		if err != nil {
			return err
		}
	}
	if _, err := encoderFor(e.cfg.Output); err != nil {
		return err
	}

	var lvl slog.Level
	err = lvl.UnmarshalText([]byte(e.cfg.LogLevel))
	if err != nil {
		return err
	}
	e.log = redactslog.NewHandler(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: lvl,
	}))

	opts, err := e.schemaOptions()
	if err != nil {
		return err
	}
	e.schema = dbic.New(opts...)
	return nil
}

func (e *env) schemaOptions() ([]dbic.Option, error) {
	opts := []dbic.Option{
		dbic.Name(e.cfg.Name),
		dbic.LogHandler(e.log),
	}
	if e.v.IsSet("path") {
		opts = append(opts, dbic.SearchPath(e.cfg.Paths...))
	}
	if len(e.cfg.ConfigFiles) > 0 {
		opts = append(opts, dbic.ConfigFiles(e.cfg.ConfigFiles...))
	}
	if e.cfg.Strict {
		opts = append(opts, dbic.StrictDecoding())
	}

	if e.cfg.Remote != "" {
		ropts := []remote.Option{
			remote.Name("dbic"),
			remote.LogHandler(e.log),
		}
		for _, h := range e.cfg.RemoteHeader {
			key, value, ok := strings.Cut(h, ":")
			if !ok || strings.TrimSpace(key) == "" {
				return nil, InvalidHeaderError{Value: h}
			}
			ropts = append(ropts, remote.Header(strings.TrimSpace(key), strings.TrimSpace(value)))
		}

		l, err := remote.New(e.cfg.Remote, ropts...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, dbic.LoadCredentials(l))
	}

	var filters []dbic.CredentialFilter
	if e.cfg.Sprintf != "" {
		filters = append(filters, filter.Sprintf(e.cfg.Sprintf))
	}
	if e.cfg.Template {
		filters = append(filters, filter.Template())
	}
	if len(filters) > 0 {
		opts = append(opts, dbic.FilterLoadedCredentials(filter.Chain(filters...)))
	}
	return opts, nil
}
