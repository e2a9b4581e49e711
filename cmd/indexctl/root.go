package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// options are the persistent flags shared by every command.
type options struct {
	configPath  string
	verbosity   int
	quiet       bool
	force       bool
	logFormat   string
	logFile     string
	metricsFile string

	closeLog func() error
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:          "indexctl",
		Short:        "Run index lifecycle jobs against an Elasticsearch cluster",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, closeLog, err := newLogger(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			opts.closeLog = closeLog
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if opts.closeLog != nil {
				return opts.closeLog()
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "config.yaml", "settings file")
	flags.CountVarP(&opts.verbosity, "verbose", "v", "log verbosity, -vv enables debug logs")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress all logging")
	flags.BoolVar(&opts.force, "force", false, "skip confirmation prompts")
	flags.StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")
	flags.StringVar(&opts.logFile, "log-file", "", "write logs to this file instead of stderr")
	flags.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile after the run")

	rootCmd.AddCommand(
		newPlaybookCmd(opts),
		newExecCmd(opts),
		newCheckCmd(opts),
	)

	return rootCmd
}

// newLogger builds the process logger from the logging flags. The returned
// function closes the log file, if any.
func newLogger(opts *options, stderr io.Writer) (*slog.Logger, func() error, error) {
	if opts.quiet {
		return slog.New(slog.DiscardHandler), func() error { return nil }, nil
	}

	out := stderr
	closeLog := func() error { return nil }
	if opts.logFile != "" {
		f, err := os.OpenFile(opts.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
		closeLog = f.Close
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel(opts.verbosity)}
	switch opts.logFormat {
	case "json":
		return slog.New(slog.NewJSONHandler(out, handlerOpts)), closeLog, nil
	case "text", "":
		return slog.New(slog.NewTextHandler(out, handlerOpts)), closeLog, nil
	default:
		_ = closeLog()
		return nil, nil, fmt.Errorf("unknown log format %q", opts.logFormat)
	}
}

func logLevel(verbosity int) slog.Level {
	if verbosity >= 2 {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
