package encoder

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultProbeTimeout bounds each functional test.
const DefaultProbeTimeout = 15 * time.Second

// maxOutput bounds the encoder output kept per result.
const maxOutput = 2048

// Result is the outcome of testing one candidate. The software entry is
// never tested and is always OK.
type Result struct {
	Candidate
	Detected bool   `json:"detected"`
	Listed   bool   `json:"listed"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
	Output   string `json:"output,omitempty"`
}

// NegotiationError reports that no acceptable encoder passed its test.
type NegotiationError struct {
	Codec            Codec
	HardwareRequired bool
	Results          []Result
}

func (e *NegotiationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "no usable %s encoder", e.Codec)
	if e.HardwareRequired {
		b.WriteString(" (hardware required)")
	}
	for i, r := range e.Results {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(r.Encoder)
		if r.Error != "" {
			b.WriteString(": " + r.Error)
		}
		if r.Output != "" && !strings.Contains(r.Error, r.Output) {
			b.WriteString(" [" + r.Output + "]")
		}
	}
	return b.String()
}

// Negotiator chooses encoders by running them.
type Negotiator struct {
	FFmpeg       string
	Run          RunFunc
	Detector     *Detector
	ProbeTimeout time.Duration
	Logger       *slog.Logger
}

// NewNegotiator returns a negotiator that runs the given ffmpeg binary.
func NewNegotiator(ffmpeg string, run RunFunc, logger *slog.Logger) *Negotiator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Negotiator{
		FFmpeg:       ffmpeg,
		Run:          run,
		Detector:     NewDetector(),
		ProbeTimeout: DefaultProbeTimeout,
		Logger:       logger,
	}
}

// testFrames is the length of the synthetic functional test encode.
const testFrames = 3

// FunctionalTest encodes a few synthetic frames with the candidate into the
// null muxer. It returns whatever the encoder printed, trimmed to its tail.
func (n *Negotiator) FunctionalTest(ctx context.Context, c Candidate) (string, error) {
	timeout := n.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := n.Run(ctx, n.FFmpeg,
		"-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "testsrc=size=256x256:rate=30",
		"-frames:v", strconv.Itoa(testFrames),
		"-c:v", c.Encoder,
		"-f", "null", "-",
	)
	text := strings.TrimSpace(string(out))
	if len(text) > maxOutput {
		text = text[len(text)-maxOutput:]
	}
	return text, err
}

// Probe tests every hardware candidate for a codec family concurrently and
// returns the results in preference order, the software entry last.
func (n *Negotiator) Probe(ctx context.Context, codec Codec, hardware bool) []Result {
	candidates := Candidates(codec, hardware)

	var detected map[Vendor]bool
	if n.Detector != nil {
		detected = n.Detector.Vendors()
	}
	listed, listErr := ListEncoders(ctx, n.Run, n.FFmpeg)
	if listErr != nil {
		n.Logger.Debug("encoder listing failed", "error", listErr)
	}

	results := make([]Result, len(candidates))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range candidates {
		if !c.Hardware() {
			results[i] = Result{Candidate: c, Detected: true, Listed: true, OK: true}
			continue
		}
		results[i] = Result{Candidate: c, Detected: detected[c.Vendor], Listed: listErr != nil || listed[c.Encoder]}
		if !results[i].Listed {
			results[i].Error = "not built into ffmpeg"
			continue
		}
		g.Go(func() error {
			out, err := n.FunctionalTest(gctx, c)
			mu.Lock()
			defer mu.Unlock()
			results[i].Output = out
			if err != nil {
				results[i].Error = err.Error()
				return nil
			}
			results[i].OK = true
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		n.Logger.Debug("encoder probe", "encoder", r.Encoder, "detected", r.Detected, "ok", r.OK, "error", r.Error)
	}
	return results
}

// Negotiate selects an encoder for the preferences and builds its flags.
// Detected hardware vendors are preferred over undetected ones that still
// happened to pass.
func (n *Negotiator) Negotiate(ctx context.Context, p Preferences) (Invocation, []Result, error) {
	codec := p.Codec
	if codec == "" {
		codec = CodecH264
	}
	results := n.Probe(ctx, codec, p.Hardware)

	pick := func(accept func(Result) bool) (Candidate, bool) {
		for _, r := range results {
			if r.OK && accept(r) {
				return r.Candidate, true
			}
		}
		return Candidate{}, false
	}

	chosen, ok := pick(func(r Result) bool { return r.Hardware() && r.Detected })
	if !ok {
		chosen, ok = pick(func(r Result) bool { return r.Hardware() })
	}
	if !ok && !p.HardwareRequired() {
		chosen, ok = pick(func(r Result) bool { return !r.Hardware() })
	}
	if !ok {
		return Invocation{}, results, &NegotiationError{Codec: codec, HardwareRequired: p.HardwareRequired(), Results: results}
	}

	inv := BuildInvocation(chosen, p)
	n.Logger.Info("encoder selected", "encoder", inv.Encoder, "vendor", inv.Vendor, "rate", inv.RateFlag, "preset", inv.Preset)
	return inv, results, nil
}
