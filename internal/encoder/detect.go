package encoder

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// RunFunc runs a program and returns its combined output.
type RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

var pciVendors = map[string]Vendor{
	"0x10de": VendorNVIDIA,
	"0x8086": VendorIntel,
	"0x1002": VendorAMD,
}

var windowsDLLs = map[Vendor][]string{
	VendorNVIDIA: {"nvEncodeAPI64.dll", "nvEncodeAPI.dll"},
	VendorIntel:  {"libmfxhw64.dll", "libvpl.dll"},
	VendorAMD:    {"amfrt64.dll", "amfrt32.dll"},
}

// Detector looks for GPU vendors on the host. Its answers only reorder
// candidates; a functional test has the final word.
type Detector struct {
	SysRoot string
	GOOS    string
}

// NewDetector returns a detector for the running host.
func NewDetector() *Detector {
	return &Detector{SysRoot: "/", GOOS: runtime.GOOS}
}

// Vendors returns the hardware vendors that appear to be installed.
func (d *Detector) Vendors() map[Vendor]bool {
	found := make(map[Vendor]bool)
	switch d.GOOS {
	case "windows":
		root := os.Getenv("SystemRoot")
		if d.SysRoot != "/" || root == "" {
			root = filepath.Join(d.SysRoot, "Windows")
		}
		for v, dlls := range windowsDLLs {
			for _, dll := range dlls {
				if exists(filepath.Join(root, "System32", dll)) {
					found[v] = true
				}
			}
		}
	case "linux":
		if exists(filepath.Join(d.SysRoot, "proc", "driver", "nvidia")) {
			found[VendorNVIDIA] = true
		}
		matches, _ := filepath.Glob(filepath.Join(d.SysRoot, "sys", "class", "drm", "card*", "device", "vendor"))
		for _, m := range matches {
			data, err := os.ReadFile(m)
			if err != nil {
				continue
			}
			if v, ok := pciVendors[strings.ToLower(strings.TrimSpace(string(data)))]; ok {
				found[v] = true
			}
		}
	}
	return found
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ListEncoders asks ffmpeg which video encoders it was built with.
func ListEncoders(ctx context.Context, run RunFunc, ffmpeg string) (map[string]bool, error) {
	out, err := run(ctx, ffmpeg, "-hide_banner", "-encoders")
	if err != nil {
		return nil, err
	}
	return parseEncoders(out), nil
}

func parseEncoders(out []byte) map[string]bool {
	encoders := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	inList := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.HasPrefix(fields[0], "V") {
			continue
		}
		encoders[fields[1]] = true
	}
	return encoders
}
