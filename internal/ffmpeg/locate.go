package ffmpeg

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const versionTimeout = 10 * time.Second

// Locate returns the first working ffmpeg among the configured path, the
// one on PATH and the one next to this executable.
func Locate(ctx context.Context, configured string) (string, error) {
	var candidates []string
	if configured != "" {
		candidates = append(candidates, configured)
	}
	if p, err := exec.LookPath(binaryName); err == nil {
		candidates = append(candidates, p)
	}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), binaryName))
	}

	for _, c := range candidates {
		if Works(ctx, c) {
			return c, nil
		}
	}
	return "", ErrNotFound
}

// Works reports whether bin runs `-version` successfully.
func Works(ctx context.Context, bin string) bool {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()
	_, err := Output(ctx, bin, "-hide_banner", "-version")
	return err == nil
}

// Version returns the first line of `ffmpeg -version`.
func Version(ctx context.Context, bin string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()
	out, err := Output(ctx, bin, "-version")
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}
