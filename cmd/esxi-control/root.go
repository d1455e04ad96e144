package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fgeck/esxi-control/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// ErrLogSinkUnavailable is returned when the log file cannot be opened.
var ErrLogSinkUnavailable = errors.New("log sink unavailable")

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	verbose    bool
	quiet      bool
	jsonOutput bool
	logFile    string

	logSink io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "esxi-control",
	Short: "Orderly shutdown of ESXi hosts and their guest VMs",
	Long: `esxi-control shuts down a small virtualization setup in order:
  - every guest VM is powered off over SSH (sudo poweroff)
  - a fixed settle wait lets the guests finish
  - every ESXi host is powered off over SSH

Guest failures are logged and tolerated, host failures fail the run.
Use as a one-shot command, for example from a UPS low-battery hook.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(os.Stderr)
	},
	SilenceErrors: true,
	SilenceUsage:  true,
	Version:       Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", config.DefaultPath, "inventory file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "append logs to this file instead of stderr")

	rootCmd.AddCommand(shutdownCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(probeCmd)
}

// setupLogging configures the global logger. Logs never go to stdout, which
// carries command results only.
func setupLogging(stderr io.Writer) error {
	out := stderr
	if logFile != "" {
		f, err := openLogFile(logFile)
		if err != nil {
			return err
		}
		logSink = f
		out = f
	}

	// Set output format
	if jsonOutput || logFile != "" {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	return nil
}

// openLogFile appends to path. The directory has to exist already.
func openLogFile(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLogSinkUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrLogSinkUnavailable, dir)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLogSinkUnavailable, err)
	}
	return f, nil
}

func closeLogSink() {
	if logSink != nil {
		_ = logSink.Close()
		logSink = nil
	}
}
