// Package cli holds the phitk-render commands.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/phitk/render/internal/config"
	"github.com/phitk/render/internal/timeline"
)

var rootCmd = &cobra.Command{
	Use:           "phitk-render",
	Short:         "Export rhythm game charts to video",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. It is called once by main.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error(err.Error())
		stop()
		os.Exit(1)
	}
}

// newLogger builds the process logger. Everything logs to w; the render
// worker passes stderr since stdout carries events.
func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func loadConfig(w io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg.Server.LogLevel, w)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func timing(cfg *config.Config) timeline.Constants {
	return timeline.Constants{
		LoadingTime: cfg.Render.LoadingTime,
		BeforeTime:  cfg.Render.BeforeTime,
		Tail:        cfg.Render.PostRoll,
		Fade:        cfg.Render.Fade,
		EndingWait:  cfg.Render.EndingWaitTime,
	}
}
