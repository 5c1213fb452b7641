package transcribe

import (
	"strings"

	"github.com/dialoguelab/dialogue-stt/internal/config"
)

// Mode selects speaker-count defaults: short recordings expect fewer speakers.
type Mode string

const (
	ModeShort Mode = "short"
	ModeLong  Mode = "long"
)

const (
	defaultLanguage   = "ko-KR"
	defaultSampleRate = 48000
	defaultMinSpeaker = 2
)

// RecognitionSettings are the recognizer parameters shared by all backends.
type RecognitionSettings struct {
	LanguageCode    string `json:"languageCode"`
	Model           string `json:"model"`
	SampleRateHertz int    `json:"sampleRateHertz"`
	Diarization     bool   `json:"diarization"`
	MinSpeakers     int    `json:"minSpeakers"`
	MaxSpeakers     int    `json:"maxSpeakers"`
}

// builtinModels are recognizer model names that select the provider's
// default model rather than a custom one.
var builtinModels = map[string]bool{
	"default":            true,
	"latest_long":        true,
	"latest_short":       true,
	"phone_call":         true,
	"video":              true,
	"command_and_search": true,
}

// CustomModel returns the configured custom language model, or "" when the
// default model should be used.
func (s RecognitionSettings) CustomModel() string {
	m := strings.TrimSpace(s.Model)
	if builtinModels[strings.ToLower(m)] {
		return ""
	}
	return m
}

// NewRecognitionSettings applies defaults to cfg. Speaker counts below 1
// fall back to the mode default; a min above max raises max to min.
func NewRecognitionSettings(cfg config.RecognitionConfig, mode Mode) RecognitionSettings {
	maxDefault := 4
	if mode == ModeLong {
		maxDefault = 10
	}

	s := RecognitionSettings{
		LanguageCode:    cfg.LanguageCode,
		Model:           cfg.Model,
		SampleRateHertz: cfg.SampleRateHertz,
		Diarization:     cfg.DiarizationEnabled,
		MinSpeakers:     cfg.MinSpeakers,
		MaxSpeakers:     cfg.MaxSpeakers,
	}
	if s.LanguageCode == "" {
		s.LanguageCode = defaultLanguage
	}
	if s.SampleRateHertz <= 0 {
		s.SampleRateHertz = defaultSampleRate
	}
	if s.MinSpeakers < 1 {
		s.MinSpeakers = defaultMinSpeaker
	}
	if s.MaxSpeakers < 1 {
		s.MaxSpeakers = maxDefault
	}
	if s.MinSpeakers > s.MaxSpeakers {
		s.MaxSpeakers = s.MinSpeakers
	}
	return s
}
