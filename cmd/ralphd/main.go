// Command ralphd is the headless engine CLI: a `run` subcommand that
// owns lock acquisition, reconciliation, engine construction/disposal,
// and signal handling, plus an auxiliary `docs` subcommand. Grounded on
// the upstream runner's cmd/main.go flag parsing and signal-handling
// style, generalized from a single flat Options struct into go-flags
// subcommands since ralphd exposes two distinct operations rather than
// one long-running connection.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"

	"ralphd/internal/rlog"
)

// version is set at build time via -ldflags; "dev" otherwise.
var version = "dev"

type options struct{}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	parser.SubcommandsOptional = false

	if cwd, err := os.Getwd(); err == nil {
		if rw, err := rlog.NewRotatingWriter(rlog.RotatingWriterConfig{
			LogDir:      filepath.Join(cwd, ".ralph-tui", "logs"),
			MaxFileSize: 10 * 1024 * 1024,
			FilePrefix:  "ralphd",
			Mirror:      os.Stdout,
		}); err == nil {
			rlog.SetWriter(rw)
		}
	}

	runCmd := &runCommand{}
	if _, err := parser.AddCommand("run", "Run the engine", "Acquire the lock, reconcile tracker state, and drive the configured engine until the tracker reports complete.", runCmd); err != nil {
		fmt.Fprintf(os.Stderr, "internal error registering run command: %v\n", err)
		os.Exit(1)
	}

	docsCmd := &docsCommand{}
	if _, err := parser.AddCommand("docs", "Open documentation", "Open or print a documentation URL, detected from the repository's GitHub origin when possible.", docsCmd); err != nil {
		fmt.Fprintf(os.Stderr, "internal error registering docs command: %v\n", err)
		os.Exit(1)
	}

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		rlog.SetLevel(slog.LevelDebug)
	case "warn":
		rlog.SetLevel(slog.LevelWarn)
	case "error":
		rlog.SetLevel(slog.LevelError)
	default:
		rlog.SetLevel(slog.LevelInfo)
	}
}
