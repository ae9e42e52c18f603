// Package encoder picks the video encoder for an export. Negotiation runs in
// four steps: detect the GPU vendors present, prove each hardware candidate
// by running it, select the first that works (falling back to software
// unless hardware was mandatory) and build the invocation flags.
package encoder

import (
	"fmt"
	"strings"
)

// Vendor is an encoder implementation family.
type Vendor string

const (
	VendorNVIDIA   Vendor = "nvidia"
	VendorIntel    Vendor = "intel"
	VendorAMD      Vendor = "amd"
	VendorSoftware Vendor = "software"
)

// HardwareVendors is the preference order for hardware candidates.
var HardwareVendors = []Vendor{VendorNVIDIA, VendorIntel, VendorAMD}

// Codec is a codec family.
type Codec string

const (
	CodecH264 Codec = "h264"
	CodecHEVC Codec = "hevc"
	CodecAV1  Codec = "av1"
)

// ParseCodec accepts a codec family name.
func ParseCodec(s string) (Codec, error) {
	switch Codec(strings.ToLower(strings.TrimSpace(s))) {
	case CodecH264, "":
		return CodecH264, nil
	case CodecHEVC, "h265":
		return CodecHEVC, nil
	case CodecAV1:
		return CodecAV1, nil
	}
	return "", fmt.Errorf("unknown codec family %q", s)
}

// RateControl selects between quality-targeted and bitrate-targeted encoding.
type RateControl string

const (
	RateCRF RateControl = "CRF"
	RateCBR RateControl = "CBR"
)

// DefaultPreset is used when the preset string has no token for a vendor.
const DefaultPreset = "medium"

type vendorFlags struct {
	suffix      string
	qualityFlag string
	presetFlag  string
	presetIndex int
}

var vendorTable = map[Vendor]vendorFlags{
	VendorNVIDIA:   {suffix: "nvenc", qualityFlag: "-cq", presetFlag: "-preset", presetIndex: 1},
	VendorIntel:    {suffix: "qsv", qualityFlag: "-q", presetFlag: "-preset", presetIndex: 0},
	VendorAMD:      {suffix: "amf", qualityFlag: "-qp_p", presetFlag: "-quality", presetIndex: 2},
	VendorSoftware: {qualityFlag: "-crf", presetFlag: "-preset", presetIndex: 0},
}

var softwareEncoders = map[Codec]string{
	CodecH264: "libx264",
	CodecHEVC: "libx265",
	CodecAV1:  "libaom-av1",
}

// EncoderName is the ffmpeg encoder for a vendor and codec family.
func EncoderName(v Vendor, c Codec) string {
	if v == VendorSoftware {
		return softwareEncoders[c]
	}
	return string(c) + "_" + vendorTable[v].suffix
}

// Candidate is one encoder the negotiator may pick.
type Candidate struct {
	Vendor  Vendor `json:"vendor"`
	Codec   Codec  `json:"codec"`
	Encoder string `json:"encoder"`
}

// Hardware reports whether the candidate runs on a GPU.
func (c Candidate) Hardware() bool { return c.Vendor != VendorSoftware }

// Candidates lists the encoders for a codec family in preference order:
// hardware vendors first when requested, the software encoder always last.
func Candidates(c Codec, hardware bool) []Candidate {
	var out []Candidate
	if hardware {
		for _, v := range HardwareVendors {
			out = append(out, Candidate{Vendor: v, Codec: c, Encoder: EncoderName(v, c)})
		}
	}
	return append(out, Candidate{Vendor: VendorSoftware, Codec: c, Encoder: EncoderName(VendorSoftware, c)})
}
