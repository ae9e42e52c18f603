package encoder

import "strings"

// Preferences are the user's encoder choices for one job.
type Preferences struct {
	Codec       Codec
	Hardware    bool
	Fallback    bool
	RateControl RateControl
	Bitrate     string
	Preset      string
}

// HardwareRequired reports whether a software encoder is unacceptable.
func (p Preferences) HardwareRequired() bool {
	return p.Hardware && !p.Fallback
}

// Invocation is the encoder-specific part of the encoder command line.
type Invocation struct {
	Candidate
	RateFlag   string `json:"rateFlag"`
	RateValue  string `json:"rateValue"`
	PresetFlag string `json:"presetFlag"`
	Preset     string `json:"preset"`
}

// BuildInvocation maps preferences onto the selected candidate's flags.
func BuildInvocation(c Candidate, p Preferences) Invocation {
	flags := vendorTable[c.Vendor]

	rateFlag := "-b:v"
	if p.RateControl == RateCRF || p.RateControl == "" {
		rateFlag = flags.qualityFlag
	}

	return Invocation{
		Candidate:  c,
		RateFlag:   rateFlag,
		RateValue:  p.Bitrate,
		PresetFlag: flags.presetFlag,
		Preset:     PresetToken(p.Preset, flags.presetIndex),
	}
}

// PresetToken picks the index-th whitespace-separated token of a preset
// string, or DefaultPreset when there is none.
func PresetToken(preset string, index int) string {
	tokens := strings.Fields(preset)
	if index < 0 || index >= len(tokens) {
		return DefaultPreset
	}
	return tokens[index]
}

// Args renders the invocation as encoder arguments.
func (inv Invocation) Args() []string {
	args := []string{"-c:v", inv.Encoder, "-pix_fmt", "yuv420p"}
	if inv.RateValue != "" {
		args = append(args, inv.RateFlag, inv.RateValue)
	}
	return append(args, inv.PresetFlag, inv.Preset)
}
