package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// quietLevel is above every standard slog level.
const quietLevel = slog.Level(100)

// rootOptions holds state shared by every subcommand.
type rootOptions struct {
	configFile string
	verbosity  int
	quiet      bool

	v      *viper.Viper
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{v: viper.New(), stdout: stdout, stderr: stderr}

	cmd := &cobra.Command{
		Use:   "kde",
		Short: "Kernel density estimation with dual-tree evaluation",
		Long: `kde estimates probability densities from point sets stored as CSV.

Settings come from flags, KDE_* environment variables (KDE_BANDWIDTH,
KDE_LEAF_SIZE, ...) and an optional config file, in that order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.init(cmd)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "config file (YAML, TOML or JSON)")
	pf.CountVarP(&opts.verbosity, "verbose", "v", "increase log verbosity (-v info, -vv debug)")
	pf.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress all log output")

	cmd.AddCommand(newEstimateCmd(opts), newCVCmd(opts))
	return cmd
}

// init sets up logging and layers the config file and environment under the
// command's flags.
func (o *rootOptions) init(cmd *cobra.Command) error {
	o.logger = slog.New(slog.NewTextHandler(o.stderr, &slog.HandlerOptions{
		Level: levelFromVerbosity(o.verbosity, o.quiet),
	}))

	o.v.SetEnvPrefix("KDE")
	o.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	o.v.AutomaticEnv()

	if o.configFile != "" {
		o.v.SetConfigFile(o.configFile)
		if err := o.v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", o.configFile, err)
		}
		o.logger.Debug("loaded config file", "path", o.v.ConfigFileUsed())
	}
	return o.v.BindPFlags(cmd.Flags())
}

// levelFromVerbosity maps -v counts to a level: warn by default, info at
// one, debug from two.
func levelFromVerbosity(verbosity int, quiet bool) slog.Level {
	if quiet {
		return quietLevel
	}
	switch verbosity {
	case 0:
		return slog.LevelWarn
	case 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
