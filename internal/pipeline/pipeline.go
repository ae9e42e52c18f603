// Package pipeline is the body of the render worker: one job from request
// to finished file, reporting progress over the IPC event stream.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/phitk/render/internal/assets"
	"github.com/phitk/render/internal/chart"
	"github.com/phitk/render/internal/encoder"
	"github.com/phitk/render/internal/ffmpeg"
	"github.com/phitk/render/internal/gpu"
	"github.com/phitk/render/internal/ipc"
	"github.com/phitk/render/internal/mixer"
	"github.com/phitk/render/internal/model"
	"github.com/phitk/render/internal/scene"
	"github.com/phitk/render/internal/timeline"
)

// Config is the worker-wide configuration, fixed for every job.
type Config struct {
	AssetsDir  string
	TempDir    string
	SampleRate int
	Timing     timeline.Constants
	MaxSlots   int
	Scene      string
	// DumpMix, when set, also writes the mixed program there as 16-bit WAV.
	DumpMix string
}

// AudioEncoder runs the audio stage.
type AudioEncoder interface {
	EncodeAudio(ctx context.Context, src io.WriterTo, inputRate int, spec ffmpeg.AudioSpec, output string) error
}

// VideoEncoder starts the muxing stage.
type VideoEncoder interface {
	StartVideo(ctx context.Context, spec ffmpeg.VideoSpec) (io.WriteCloser, error)
}

// EncoderPicker negotiates the video encoder.
type EncoderPicker interface {
	Negotiate(ctx context.Context, p encoder.Preferences) (encoder.Invocation, []encoder.Result, error)
}

// Pipeline renders jobs.
type Pipeline struct {
	Config   Config
	Loader   chart.Loader
	Decoder  assets.Decoder
	Audio    AudioEncoder
	Video    VideoEncoder
	Encoders EncoderPicker
	Logger   *slog.Logger
}

// New wires a pipeline to a single ffmpeg binary.
func New(cfg Config, ffmpegBin string, probeTimeout time.Duration, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	bridge := ffmpeg.Bridge{Bin: ffmpegBin}
	neg := encoder.NewNegotiator(ffmpegBin, ffmpeg.Output, logger)
	if probeTimeout > 0 {
		neg.ProbeTimeout = probeTimeout
	}
	return &Pipeline{
		Config:   cfg,
		Loader:   chart.JSONLoader{},
		Decoder:  bridge,
		Audio:    bridge,
		Video:    bridge,
		Encoders: neg,
		Logger:   logger,
	}
}

// Serve reads one request from in and runs it, writing events to out.
func (p *Pipeline) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	params, output, err := ipc.ReadJob(in)
	if err != nil {
		return err
	}
	return p.Run(ctx, params, output, ipc.NewEmitter(out))
}

// Run renders params into output.
func (p *Pipeline) Run(ctx context.Context, params model.RenderParams, output string, em *ipc.Emitter) error {
	start := time.Now()
	settings := params.Config
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("chart", params.Path, "output", output)

	audioSpec := ffmpeg.AudioSpec{
		Format:     settings.AudioFormat,
		BitDepth:   settings.AudioBitDepth,
		SampleRate: settings.TargetAudio,
	}
	if err := audioSpec.Validate(); err != nil {
		return err
	}
	codec, err := encoder.ParseCodec(settings.VideoCodec())
	if err != nil {
		return err
	}
	if _, err := ffmpeg.ContainerFormat(settings.OutputContainer()); err != nil {
		return err
	}

	c, err := p.Loader.Load(ctx, params.Path, params.Info)
	if err != nil {
		return fmt.Errorf("load chart: %w", err)
	}

	if err := em.StartMixing(); err != nil {
		return err
	}

	rate := p.Config.SampleRate
	music, err := assets.LoadMusic(ctx, c.MusicPath(), rate, p.Decoder)
	if err != nil {
		return fmt.Errorf("load music: %w", err)
	}
	bank, err := assets.LoadBank(ctx, p.Config.AssetsDir, p.Decoder)
	if err != nil {
		return fmt.Errorf("load sounds: %w", err)
	}

	layout := timeline.NewLayout(p.Config.Timing, music.Length(), c.Offset, settings.EndingLength, settings.DisableLoading)
	logger.Info("timeline", "video_length", layout.VideoLength, "pre_roll", layout.PreRoll, "track", layout.Track)

	program := mixer.Mix(mixer.Input{
		SampleRate:  rate,
		Layout:      layout,
		Music:       music,
		Bank:        bank,
		Notes:       c.Notes,
		VolumeMusic: settings.VolumeMusic,
		VolumeSfx:   settings.VolumeSfx,
		Logger:      logger,
	})
	if p.Config.DumpMix != "" {
		if err := program.DumpWAV(p.Config.DumpMix, 16); err != nil {
			logger.Warn("mix dump failed", "path", p.Config.DumpMix, "error", err)
		}
	}

	audioPath := filepath.Join(p.tempDir(), "phitk-"+uuid.NewString()+audioSpec.Extension())
	defer os.Remove(audioPath)
	if err := p.Audio.EncodeAudio(ctx, program, rate, audioSpec, audioPath); err != nil {
		return fmt.Errorf("encode audio: %w", err)
	}

	total := layout.TotalFrames(settings.FPS)
	if err := em.StartRender(total); err != nil {
		return err
	}

	inv, _, err := p.Encoders.Negotiate(ctx, encoder.Preferences{
		Codec:       codec,
		Hardware:    settings.HardwareAccel,
		Fallback:    settings.HardwareFallback,
		RateControl: encoder.RateControl(settings.BitrateControl),
		Bitrate:     settings.Bitrate,
		Preset:      settings.FFmpegPreset,
	})
	if err != nil {
		return err
	}

	width, height := settings.Width(), settings.Height()
	drv, err := scene.New(p.sceneName(), scene.Options{
		Width:       width,
		Height:      height,
		Notes:       c.Notes,
		ChartOffset: c.Offset,
		PreRoll:     layout.PreRoll,
		VideoLength: layout.VideoLength,
		Info:        c.Info,
		Settings:    settings,
	})
	if err != nil {
		return err
	}

	videoSpec := ffmpeg.VideoSpec{
		Width:       width,
		Height:      height,
		FPS:         settings.FPS,
		AudioPath:   audioPath,
		EncoderArgs: inv.Args(),
		Container:   settings.OutputContainer(),
		Output:      output,
	}
	if settings.DisableLoading {
		videoSpec.Trim = layout.PreRoll
	}
	if settings.FFmpegThread {
		videoSpec.Threads = runtime.NumCPU()
	}
	sink, err := p.Video.StartVideo(ctx, videoSpec)
	if err != nil {
		return err
	}

	frameSize := gpu.FrameSize(width, height)
	slots := gpu.SlotCount(settings.FPS, p.Config.MaxSlots)
	dev := gpu.NewSoftDevice(slots, frameSize)
	defer dev.Close()

	ring := gpu.NewRing(dev, slots, frameSize, sink, func(uint64) error { return em.Frame() })
	driver := &timeline.FrameDriver{
		Clock:  &timeline.ManualClock{},
		Scene:  drv,
		Target: gpu.NewMSTarget(width, height, settings.Samples()),
		Ring:   ring,
		FPS:    settings.FPS,
	}

	logger.Info("rendering", "frames", total, "slots", slots, "encoder", inv.Encoder)
	if err := driver.Run(ctx, total); err != nil {
		_ = sink.Close()
		return err
	}
	if err := sink.Close(); err != nil {
		return err
	}

	elapsed := time.Since(start).Seconds()
	logger.Info("render finished", "elapsed", elapsed)
	return em.Done(elapsed)
}

func (p *Pipeline) tempDir() string {
	if p.Config.TempDir != "" {
		return p.Config.TempDir
	}
	return os.TempDir()
}

func (p *Pipeline) sceneName() string {
	if p.Config.Scene != "" {
		return p.Config.Scene
	}
	return scene.PatternName
}
