// Package main is the entry point for esxi-control.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	cmd, err := rootCmd.ExecuteC()
	closeLogSink()

	os.Exit(exitCode(cmd, err, os.Stdout, os.Stderr))
}

// exitCode reports err and returns the process exit status. A shutdown that
// could not start still prints its verdict.
func exitCode(cmd *cobra.Command, err error, stdout, stderr io.Writer) int {
	if err == nil {
		return 0
	}
	if !errors.Is(err, errShutdownFailed) {
		fmt.Fprintln(stderr, "Error:", err)
	}
	if cmd == shutdownCmd && errors.Is(err, ErrLogSinkUnavailable) {
		fmt.Fprintln(stdout, "false")
	}
	return 1
}
