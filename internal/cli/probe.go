package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/phitk/render/internal/encoder"
	"github.com/phitk/render/internal/ffmpeg"
)

var (
	probeArgCodec    string
	probeArgSoftware bool
	probeArgFFmpeg   string

	probeCmd = &cobra.Command{
		Use:   "probe",
		Short: "Test which video encoders work on this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(os.Stderr)
			if err != nil {
				return err
			}
			configured := probeArgFFmpeg
			if configured == "" {
				configured = cfg.FFmpeg.Path
			}
			bin, err := ffmpeg.Locate(cmd.Context(), configured)
			if err != nil {
				return err
			}
			codec, err := encoder.ParseCodec(probeArgCodec)
			if err != nil {
				return err
			}

			neg := encoder.NewNegotiator(bin, ffmpeg.Output, logger)
			neg.ProbeTimeout = cfg.FFmpeg.ProbeTimeout

			inv, results, err := neg.Negotiate(cmd.Context(), encoder.Preferences{
				Codec:    codec,
				Hardware: !probeArgSoftware,
				Fallback: true,
			})
			printProbe(cmd.OutOrStdout(), bin, results)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nselected: %s\nargs: %s\n", inv.Encoder, strings.Join(inv.Args(), " "))
			return nil
		},
	}
)

func init() {
	probeCmd.Flags().StringVarP(&probeArgCodec, "codec", "c", "h264", "Codec family: h264, hevc or av1")
	probeCmd.Flags().BoolVar(&probeArgSoftware, "software", false, "Only test the software encoder")
	probeCmd.Flags().StringVar(&probeArgFFmpeg, "ffmpeg", "", "ffmpeg binary (default: discover)")

	rootCmd.AddCommand(probeCmd)
}

func printProbe(w io.Writer, bin string, results []encoder.Result) {
	fmt.Fprintf(w, "ffmpeg: %s\n\n", bin)
	fmt.Fprintf(w, "%-18s %-9s %-8s %-6s %s\n", "ENCODER", "VENDOR", "DETECTED", "OK", "ERROR")
	for _, r := range results {
		msg := r.Error
		if i := strings.IndexByte(msg, '\n'); i >= 0 {
			msg = msg[:i]
		}
		fmt.Fprintf(w, "%-18s %-9s %-8t %-6t %s\n", r.Encoder, r.Vendor, r.Detected, r.OK, msg)
	}
}
