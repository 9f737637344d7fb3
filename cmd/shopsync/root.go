package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shopsync/shopsync/internal/config"
	"github.com/shopsync/shopsync/internal/logging"
)

var logLevel string

var logCloser io.Closer

var rootCmd = &cobra.Command{
	Use:   "shopsync",
	Short: "Bidirectional CSV sync for the shop admin API",
	Long: `shopsync moves data between a shop's admin API and CSV files.

A sync profile (YAML) declares the entity, its columns and optional
transformation scripts; 'shopsync sync' then exports matching records to
CSV or imports a CSV back into the shop. Credentials are stored next to
the working directory after 'shopsync auth'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := logLevel
		if level == "" {
			level = config.LoadSettings().LogLevel
		}
		logCloser = logging.Setup(level)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		runExitHooks()
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Console log level: debug, info, warn or error")
}

// signalContext is the root context of every command; Ctrl-C cancels it and
// in-flight requests drain out with context errors.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// exitHooks run on every way out of a command, fail() included, because
// os.Exit skips deferred calls. Commands register cleanup work that must
// also happen on failed runs, like caching a refreshed token.
var exitHooks []func()

func runExitHooks() {
	for i := len(exitHooks) - 1; i >= 0; i-- {
		exitHooks[i]()
	}
	exitHooks = nil
}

// fail prints the error and exits. Mistakes the user can fix (flags,
// profile, credentials file) exit with 1, runtime failures with 2.
func fail(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	runExitHooks()
	if logCloser != nil {
		logCloser.Close()
	}
	os.Exit(code)
}
