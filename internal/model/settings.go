package model

import "strings"

// RenderSettings is the per-job render configuration. It is copied into the
// job on submission; later edits by the caller do not affect a queued job.
type RenderSettings struct {
	Resolution     [2]int  `json:"resolution" yaml:"resolution" validate:"dive,min=16,max=8192"`
	FPS            int     `json:"fps" yaml:"fps" validate:"required,min=1,max=240"`
	FFmpegPreset   string  `json:"ffmpegPreset" yaml:"ffmpegPreset"`
	EndingLength   float64 `json:"endingLength" yaml:"endingLength" validate:"min=0,max=600"`
	DisableLoading bool    `json:"disableLoading" yaml:"disableLoading"`

	HardwareAccel    bool   `json:"hardwareAccel" yaml:"hardwareAccel"`
	HardwareFallback bool   `json:"hardwareFallback" yaml:"hardwareFallback"`
	Codec            string `json:"codec,omitempty" yaml:"codec,omitempty" validate:"omitempty,oneof=h264 hevc av1"`
	HEVC             bool   `json:"hevc" yaml:"hevc"`
	BitrateControl   string `json:"bitrateControl" yaml:"bitrateControl" validate:"required,oneof=CRF CBR"`
	Bitrate          string `json:"bitrate" yaml:"bitrate" validate:"required"`
	Container        string `json:"container,omitempty" yaml:"container,omitempty" validate:"omitempty,oneof=mov mp4 mkv"`
	FFmpegThread     bool   `json:"ffmpegThread" yaml:"ffmpegThread"`

	TargetAudio   int    `json:"targetAudio" yaml:"targetAudio" validate:"omitempty,min=8000,max=384000"`
	AudioFormat   string `json:"audioFormat,omitempty" yaml:"audioFormat,omitempty" validate:"omitempty,oneof=flac mp3 opus wav"`
	AudioBitDepth int    `json:"audioBitDepth,omitempty" yaml:"audioBitDepth,omitempty" validate:"omitempty,oneof=16 24 32"`

	VolumeMusic float32 `json:"volumeMusic" yaml:"volumeMusic" validate:"min=0,max=10"`
	VolumeSfx   float32 `json:"volumeSfx" yaml:"volumeSfx" validate:"min=0,max=10"`

	ChartDebug       bool    `json:"chartDebug" yaml:"chartDebug"`
	FlidX            bool    `json:"flidX" yaml:"flidX"`
	ShowProgressText bool    `json:"showProgressText" yaml:"showProgressText"`
	ShowTimeText     bool    `json:"showTimeText" yaml:"showTimeText"`
	ChartRatio       float32 `json:"chartRatio" yaml:"chartRatio"`
	BufferSize       float32 `json:"bufferSize" yaml:"bufferSize"`
	Combo            string  `json:"combo" yaml:"combo"`
	Watermark        string  `json:"watermark" yaml:"watermark"`
	Background       bool    `json:"background" yaml:"background"`

	Aggressive      bool    `json:"aggressive" yaml:"aggressive"`
	ChallengeColor  string  `json:"challengeColor" yaml:"challengeColor"`
	ChallengeRank   int     `json:"challengeRank" yaml:"challengeRank"`
	DisableEffect   bool    `json:"disableEffect" yaml:"disableEffect"`
	DoubleHint      bool    `json:"doubleHint" yaml:"doubleHint"`
	FXAA            bool    `json:"fxaa" yaml:"fxaa"`
	NoteScale       float32 `json:"noteScale" yaml:"noteScale"`
	Particle        bool    `json:"particle" yaml:"particle"`
	PlayerAvatar    *string `json:"playerAvatar,omitempty" yaml:"playerAvatar,omitempty"`
	PlayerName      string  `json:"playerName" yaml:"playerName"`
	PlayerRks       float32 `json:"playerRks" yaml:"playerRks"`
	SampleCount     int     `json:"sampleCount" yaml:"sampleCount" validate:"omitempty,oneof=1 2 4 8 16"`
	ResPackPath     *string `json:"resPackPath,omitempty" yaml:"resPackPath,omitempty"`
	Speed           float32 `json:"speed" yaml:"speed"`
	HandSplit       bool    `json:"handSplit" yaml:"handSplit"`
	NoteSpeedFactor float32 `json:"noteSpeedFactor" yaml:"noteSpeedFactor"`

	UIScore bool `json:"uiScore" yaml:"uiScore"`
	UIName  bool `json:"uiName" yaml:"uiName"`
	UILine  bool `json:"uiLine" yaml:"uiLine"`
	UILevel bool `json:"uiLevel" yaml:"uiLevel"`
	UICombo bool `json:"uiCombo" yaml:"uiCombo"`
	UIPB    bool `json:"uiPb" yaml:"uiPb"`
	UIPause bool `json:"uiPause" yaml:"uiPause"`
}

// DefaultRenderSettings mirrors the settings a fresh install starts with.
func DefaultRenderSettings() RenderSettings {
	return RenderSettings{
		Resolution:      [2]int{1920, 1080},
		FPS:             60,
		FFmpegPreset:    "medium p4 balanced",
		EndingLength:    4.5,
		BitrateControl:  string(BitrateControlCRF),
		Bitrate:         "28",
		Container:       ContainerMOV,
		VolumeMusic:     1,
		VolumeSfx:       0.7,
		ChartRatio:      1,
		BufferSize:      256,
		Combo:           "AUTOPLAY",
		Watermark:       "",
		Background:      true,
		ChallengeColor:  "golden",
		ChallengeRank:   45,
		NoteScale:       1,
		Particle:        true,
		PlayerName:      "",
		PlayerRks:       15,
		SampleCount:     4,
		Speed:           1,
		NoteSpeedFactor: 1,
		UIScore:         true,
		UIName:          true,
		UILine:          true,
		UILevel:         true,
		UICombo:         true,
		UIPB:            true,
		UIPause:         true,
	}
}

// Clone returns a deep copy so that a submitted job never aliases caller state.
func (s RenderSettings) Clone() RenderSettings {
	out := s
	if s.PlayerAvatar != nil {
		v := *s.PlayerAvatar
		out.PlayerAvatar = &v
	}
	if s.ResPackPath != nil {
		v := *s.ResPackPath
		out.ResPackPath = &v
	}
	return out
}

// Width returns the horizontal output resolution.
func (s RenderSettings) Width() int { return s.Resolution[0] }

// Height returns the vertical output resolution.
func (s RenderSettings) Height() int { return s.Resolution[1] }

// VideoCodec resolves the requested codec family, honouring the legacy hevc toggle.
func (s RenderSettings) VideoCodec() string {
	if s.Codec != "" {
		return s.Codec
	}
	if s.HEVC {
		return CodecHEVC
	}
	return CodecH264
}

// OutputContainer returns the final container, defaulting to mov.
func (s RenderSettings) OutputContainer() string {
	if s.Container == "" {
		return ContainerMOV
	}
	return strings.ToLower(s.Container)
}

// Samples returns the multisample count, never less than one.
func (s RenderSettings) Samples() int {
	if s.SampleCount < 1 {
		return 1
	}
	return s.SampleCount
}
