// Package cli implements the optimistic-demo command line.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-optimistic-kit/config"
	"github.com/c0deZ3R0/go-optimistic-kit/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	Format     string // "json" | "text"

	// Set by the root command before any subcommand runs.
	Config *config.Config
	Logger *logging.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "optimistic-demo",
		Short: "Optimistic mutations against a versioned journal API",
		Long: `optimistic-demo serves a small journal API and drives optimistic
create, update and delete mutations against it, showing conflicts,
rollbacks and retries as they happen.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.setup(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (trace|debug|info|warn|error), overrides the config")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewDemoCommand(opts))

	return cmd
}

// setup loads the configuration and installs the default logger. Logs go to
// stderr so that --format json output stays parseable.
func (o *RootOptions) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if o.LogLevel != "" {
		if _, ok := logging.ParseLevel(o.LogLevel); !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("invalid log level %q", o.LogLevel))
		}
		cfg.Logging.Level = o.LogLevel
	}
	cfg.Logging.Output = cmd.ErrOrStderr()

	logging.Init(cfg.Logging)
	o.Config = cfg
	o.Logger = logging.Default()
	return nil
}
