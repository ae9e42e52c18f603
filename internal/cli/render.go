package cli

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/phitk/render/internal/ffmpeg"
	"github.com/phitk/render/internal/pipeline"
)

var (
	renderArgAssets  string
	renderArgFFmpeg  string
	renderArgDumpMix string

	renderCmd = &cobra.Command{
		Use:   "render",
		Short: "Run one render job (worker process)",
		Long: "Reads the render params and output path as two JSON lines on stdin and\n" +
			"writes progress events, one JSON value per line, to stdout.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd.Context())
		},
	}
)

func init() {
	renderCmd.Flags().StringVar(&renderArgAssets, "assets", "", "Directory holding the hit sounds and ending clip (default from config)")
	renderCmd.Flags().StringVar(&renderArgFFmpeg, "ffmpeg", "", "ffmpeg binary (default: discover)")
	renderCmd.Flags().StringVar(&renderArgDumpMix, "dump-mix", "", "Also write the mixed audio to this WAV file")

	rootCmd.AddCommand(renderCmd)
}

func runRender(ctx context.Context) (err error) {
	cfg, logger, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}

	// A broken asset bundle panics in the mixer; report it as a failed job.
	defer func() {
		if r := recover(); r != nil {
			logger.Error("render worker panic", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("render worker panic: %v", r)
		}
	}()

	assetsDir := renderArgAssets
	if assetsDir == "" {
		assetsDir = cfg.Render.AssetsDir
	}
	configured := renderArgFFmpeg
	if configured == "" {
		configured = cfg.FFmpeg.Path
	}
	bin, err := ffmpeg.Locate(ctx, configured)
	if err != nil {
		return err
	}

	p := pipeline.New(pipeline.Config{
		AssetsDir:  assetsDir,
		TempDir:    cfg.Render.TempDir,
		SampleRate: cfg.Render.MixingSampleRate,
		Timing:     timing(cfg),
		MaxSlots:   cfg.Render.MaxReadbackSlots,
		Scene:      cfg.Render.Scene,
		DumpMix:    renderArgDumpMix,
	}, bin, cfg.FFmpeg.ProbeTimeout, logger)

	return p.Serve(ctx, os.Stdin, os.Stdout)
}
