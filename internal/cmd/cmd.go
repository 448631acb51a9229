// Package cmd implements the kilnctl command tree. Each subcommand lives in
// its own file and registers itself with the root command in init().
package cmd

import (
	"os"
	"path"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thediveo/enumflag/v2"

	"github.com/kiln-build/kiln/internal/config"
	"github.com/kiln-build/kiln/internal/logging"
)

// RootCommand is the base command. main wires it to os.Args.
var RootCommand = &cobra.Command{
	Use:           path.Base(os.Args[0]),
	Short:         "Build packages from declarative recipes",
	Long:          "kilnctl resolves a recipe tree into a dependency order and drives\neach package through fetch, build and packaging on a worker pool.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	configPath string
	logLevel   = logging.LevelInfo
	logFormat  = logging.FormatPretty
)

var logLevelIDs = map[logging.Level][]string{
	logging.LevelError: {"error"},
	logging.LevelWarn:  {"warn", "warning"},
	logging.LevelInfo:  {"info"},
	logging.LevelDebug: {"debug"},
}

var logFormatIDs = map[logging.Format][]string{
	logging.FormatPretty: {"pretty", "text"},
	logging.FormatJSON:   {"json"},
}

func init() {
	flags := RootCommand.PersistentFlags()
	// Configuration keys are spelled RETRY_LIMIT style, so accept the same
	// spelling for flags: --log_level normalizes to --log-level.
	flags.SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	flags.StringVarP(&configPath, "config", "c", "", "run configuration file (default: kiln.conf, /etc/kiln/kiln.conf)")
	flags.Var(enumflag.New(&logLevel, "level", logLevelIDs, enumflag.EnumCaseInsensitive),
		"log-level", "log verbosity: error, warn, info or debug")
	flags.Var(enumflag.New(&logFormat, "format", logFormatIDs, enumflag.EnumCaseInsensitive),
		"log-format", "log output format: pretty or json")
}

// loadConfig reads the configuration named by --config, falling back to the
// default search paths.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.LoadDefault()
}

func newLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Level: logLevel, Format: logFormat})
}
