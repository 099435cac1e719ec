package cmd

import (
	"fmt"
	"os"
	"path"

	"github.com/spf13/cobra"
	"github.com/thediveo/enumflag/v2"

	"github.com/bundlesmith/bundlesmith/internal/config"
	"github.com/bundlesmith/bundlesmith/internal/logging"
)

// RootCommand is the base command of the CLI. Subcommands register
// themselves in their init functions.
var RootCommand = &cobra.Command{
	Use:           path.Base(os.Args[0]),
	Short:         "Bundlesmith compiles JavaScript bundles through an external optimizing compiler.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

type logLevel enumflag.Flag

const (
	logError logLevel = iota
	logInfo
	logDebug
)

var logLevelNames = map[logLevel][]string{
	logError: {"error"},
	logInfo:  {"info"},
	logDebug: {"debug"},
}

var rootParams struct {
	configFiles []string
	logLevel    logLevel
}

func init() {
	rootParams.logLevel = logInfo
	RootCommand.PersistentFlags().StringArrayVarP(&rootParams.configFiles, "config", "c", nil, "set path of configuration file or directory (can be repeated)")
	RootCommand.PersistentFlags().Var(
		enumflag.New(&rootParams.logLevel, "level", logLevelNames, enumflag.EnumCaseInsensitive),
		"log-level", "set log level (error, info, debug)")
}

func newLogger() *logging.Logger {
	level := logging.LevelInfo
	switch rootParams.logLevel {
	case logError:
		level = logging.LevelError
	case logDebug:
		level = logging.LevelDebug
	}
	return logging.NewLogger(logging.Config{Level: level})
}

// loadConfig merges the configured files and parses the result.
func loadConfig() (*config.Root, error) {
	if len(rootParams.configFiles) == 0 {
		return nil, fmt.Errorf("no configuration files provided, use --config")
	}

	bs, err := config.Merge(rootParams.configFiles, false)
	if err != nil {
		return nil, err
	}

	return config.Parse(bs)
}
