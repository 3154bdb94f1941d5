package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
	"github.com/spf13/cobra"

	"github.com/book-expert/picture-pipeline/internal/app"
	"github.com/book-expert/picture-pipeline/internal/config"
	"github.com/book-expert/picture-pipeline/internal/rendition"
)

// flags holds the command-line overrides shared by the subcommands.
type flags struct {
	configSource string
	addr         string
	workers      int
	quiet        bool
}

// runOptions is the merged result of configuration and flags.
type runOptions struct {
	batch rendition.BatchOptions
	addr  string
}

// NewRootCommand builds the picturectl command tree.
func NewRootCommand(version string) *cobra.Command {
	var flgs flags

	rootCmd := &cobra.Command{
		Use:   "picturectl",
		Short: "Picture pipeline control tool",
		Long: `picturectl validates picture metadata, rebuilds the pre-built renditions of
stored pictures and serves the picture HTTP API.

Configuration is read from --config (a TOML file or an http(s) URL), or from the
project.toml found above the working directory. PICTURE_* environment variables
override file values.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.PersistentFlags().StringVar(&flgs.configSource, "config", "",
		"Configuration file path or URL.")

	rootCmd.AddCommand(
		newValidateCommand(&flgs),
		newRebuildCommand(&flgs),
		newServeCommand(&flgs),
	)

	return rootCmd
}

// mergeConfigAndFlags combines settings from the config file and command-line flags.
// Flags take precedence over the config file settings.
func mergeConfigAndFlags(cfg *config.Config, flgs flags, progress io.Writer) runOptions {
	opts := runOptions{
		batch: rendition.BatchOptions{
			ProgressBarOutput: progress,
			Workers:           cfg.Renditions.Workers,
		},
		addr: cfg.HTTP.Addr,
	}

	if flgs.workers > 0 {
		opts.batch.Workers = flgs.workers
	}

	if flgs.addr != "" {
		opts.addr = flgs.addr
	}

	if flgs.quiet {
		opts.batch.ProgressBarOutput = io.Discard
	}

	return opts
}

// session bundles the assembled pipeline with its logger for one command run.
type session struct {
	app  *app.App
	log  *logger.Logger
	opts runOptions
}

func openSession(ctx context.Context, flgs flags, progress io.Writer) (*session, error) {
	bootstrap, bootErr := logger.New(os.TempDir(), "picturectl-bootstrap.log")
	if bootErr != nil {
		return nil, fmt.Errorf("failed to create bootstrap logger: %w", bootErr)
	}

	cfg, loadErr := config.Load(flgs.configSource, bootstrap)

	if closeErr := bootstrap.Close(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "failed to close bootstrap logger: %v\n", closeErr)
	}

	if loadErr != nil {
		return nil, loadErr
	}

	log, logErr := setupLogger(cfg.Paths.BaseLogsDir)
	if logErr != nil {
		return nil, fmt.Errorf("could not set up logger: %w", logErr)
	}

	assembled, appErr := app.New(ctx, cfg, log, app.Options{Executor: nil, Contributions: nil})
	if appErr != nil {
		closeLogger(log)

		return nil, fmt.Errorf("failed to assemble the pipeline: %w", appErr)
	}

	return &session{app: assembled, log: log, opts: mergeConfigAndFlags(cfg, flgs, progress)}, nil
}

func (sess *session) close() {
	if closeErr := sess.app.Close(); closeErr != nil {
		sess.log.Warn("Failed to release resources: %v", closeErr)
	}

	closeLogger(sess.log)
}

func closeLogger(log *logger.Logger) {
	if cerr := log.Close(); cerr != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", cerr)
	}
}

// setupLogger initializes the logger, creating the log directory if needed.
func setupLogger(logDir string) (*logger.Logger, error) {
	logFileName := fmt.Sprintf("picturectl_%s.log", time.Now().Format("20060102_150405"))

	log, err := logger.New(filepath.Clean(logDir), logFileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}
