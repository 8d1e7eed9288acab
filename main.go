package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/msg-to-json/attachments"
	"github.com/dhcgn/msg-to-json/cmd"
	"github.com/dhcgn/msg-to-json/config"
	"github.com/dhcgn/msg-to-json/convert"
	"github.com/dhcgn/msg-to-json/msgfile"
	"github.com/dhcgn/msg-to-json/normalize"
	"github.com/dhcgn/msg-to-json/output"
	"github.com/dhcgn/msg-to-json/progress"
	"github.com/dhcgn/msg-to-json/runner"
	"github.com/dhcgn/msg-to-json/scanner"
	"github.com/dhcgn/msg-to-json/stats"
)

// ErrAborted is returned when the confirmation prompt is declined.
var ErrAborted = errors.New("aborted by user")

var confirm = func(prompt string) (bool, error) {
	return pterm.DefaultInteractiveConfirm.Show(prompt)
}

func main() {
	rootCmd, err := newRootCmd(msgfile.Parse)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(parse msgfile.Parser) (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:           "msg-to-json [flags] INPUT_DIR",
		Short:         "Convert a directory of Outlook .msg files into one JSON document",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(c, args)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg, c.OutOrStdout())
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting msg-to-json", "input", cfg.InputDir, "output", cfg.OutputPath, "attachments", cfg.AttachmentsDir)

			_, err = run(cfg, logger, parse)
			return err
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		return nil, err
	}
	rootCmd.AddCommand(cmd.NewStatsCommand())

	return rootCmd, nil
}

// run converts every message file below cfg.InputDir and writes the JSON
// output. Unreadable files are skipped and only show up in the summary.
func run(cfg config.Config, logger *slog.Logger, parse msgfile.Parser) (stats.Summary, error) {
	paths, err := scanner.List(scanner.Options{
		Root:      cfg.InputDir,
		Extension: cfg.Extension,
		Recursive: cfg.Recursive,
		Exclude:   []string{cfg.AttachmentsDir, cfg.OutputPath, cfg.MboxPath, cfg.AttachmentIndex},
		Logger:    logger,
	})
	if err != nil {
		return stats.Summary{}, err
	}
	logger.Info("message files found", "count", len(paths), "ext", cfg.Extension, "recursive", cfg.Recursive)

	if cfg.Confirm {
		ok, err := confirm(fmt.Sprintf("Convert %d files from %s?", len(paths), cfg.InputDir))
		if err != nil {
			return stats.Summary{}, fmt.Errorf("confirm: %w", err)
		}
		if !ok {
			return stats.Summary{}, ErrAborted
		}
	}

	r, err := runner.New(cfg, logger)
	if err != nil {
		return stats.Summary{}, fmt.Errorf("runner.New: %w", err)
	}
	abort := func(err error) (stats.Summary, error) {
		_ = r.Registry().Close()
		return stats.Summary{}, err
	}

	baseDir := filepath.Dir(cfg.OutputPath)
	writer, err := attachments.NewWriter(attachments.Options{Dir: cfg.AttachmentsDir, BaseDir: baseDir}, r.Registry(), logger)
	if err != nil {
		return abort(fmt.Errorf("attachments.NewWriter: %w", err))
	}

	var exporter *output.MboxExporter
	if cfg.MboxPath != "" {
		if exporter, err = output.NewMboxExporter(cfg.MboxPath, baseDir); err != nil {
			return abort(err)
		}
	}

	reporter := stats.NewReporter(r, logger)
	bar := progress.New(len(paths), !cfg.NoProgress && cfg.LogLevel == "info")
	progress.NewProgressReporter(r, bar, logger)

	msgfile.NewProducer(msgfile.Options{Paths: paths, Parser: parse}, r, logger)

	stage, err := convert.NewStage(convert.Options{
		InputDir:    cfg.InputDir,
		Normalizer:  normalize.New(cfg.Policy),
		Attachments: writer,
		Exporter:    exporter,
	}, r, logger)
	if err != nil {
		if exporter != nil {
			_ = exporter.Close()
		}
		return abort(fmt.Errorf("convert.NewStage: %w", err))
	}

	runErr := r.Start()
	if exporter != nil {
		if err := exporter.Close(); err != nil && runErr == nil {
			runErr = err
		}
	}
	summary := reporter.Summary()
	if runErr != nil {
		return summary, runErr
	}

	records := stage.Records()
	output.Sort(records, cfg.SortOrder)
	if err := output.WriteJSON(cfg.OutputPath, records, cfg.Format); err != nil {
		return summary, fmt.Errorf("write output: %w", err)
	}

	logger.Info("output written", "path", cfg.OutputPath, "records", len(records), "skipped", summary.Errors, "filtered", summary.Filtered)
	if exporter != nil {
		logger.Info("mbox written", "path", cfg.MboxPath, "messages", exporter.Count())
	}
	return summary, nil
}

func setupLogger(cfg config.Config, console io.Writer) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("msg-to-json-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(console, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(console, opts)
	return slog.New(handler), cleanup, nil
}
