// Package quality defines named encoding presets and explicit bit/sample
// rate settings for audiobook output.
package quality

import (
	"fmt"
	"strings"

	"bindery/internal/services"
)

// Preset names a bundled bit rate and sample rate pair.
type Preset string

const (
	PresetBest      Preset = "Best"
	PresetEfficient Preset = "Efficient"
)

// Config is an immutable snapshot of encoding quality. Jobs capture a copy at
// submission time so later preference edits cannot affect running work.
type Config struct {
	Preset     Preset `json:"preset,omitempty"`
	BitRate    int    `json:"bit_rate"`
	SampleRate int    `json:"sample_rate"`
}

var presetSettings = map[Preset]Config{
	PresetBest:      {Preset: PresetBest, BitRate: 128000, SampleRate: 44100},
	PresetEfficient: {Preset: PresetEfficient, BitRate: 64000, SampleRate: 22050},
}

// Resolve maps a preset name to its settings. Matching is case-insensitive.
func Resolve(name string) (Config, error) {
	trimmed := strings.TrimSpace(name)
	for preset, cfg := range presetSettings {
		if strings.EqualFold(string(preset), trimmed) {
			return cfg, nil
		}
	}
	return Config{}, services.Wrap(services.ErrConfig, "", "resolve preset",
		fmt.Sprintf("unknown quality preset %q", name), nil)
}

// Default returns the highest quality preset settings.
func Default() Config {
	return presetSettings[PresetBest]
}

// WithPreset returns a copy with the preset's bundled rates applied,
// overwriting any explicit values.
func (c Config) WithPreset(name string) (Config, error) {
	return Resolve(name)
}

// WithRates returns a copy with explicit rates. The preset field is cleared
// because the pair no longer necessarily matches a named preset.
func (c Config) WithRates(bitRate, sampleRate int) (Config, error) {
	if bitRate <= 0 || sampleRate <= 0 {
		return Config{}, services.Wrap(services.ErrConfig, "", "set rates",
			fmt.Sprintf("bit rate and sample rate must be positive, got %d/%d", bitRate, sampleRate), nil)
	}
	return Config{BitRate: bitRate, SampleRate: sampleRate}, nil
}

// HighQuality reports whether the configured bit rate is at or above the
// Best preset's bit rate. Space estimates use this to pick a ratio.
func (c Config) HighQuality() bool {
	return c.BitRate >= presetSettings[PresetBest].BitRate
}

// Validate checks that the snapshot carries usable rates.
func (c Config) Validate() error {
	if c.BitRate <= 0 || c.SampleRate <= 0 {
		return services.Wrap(services.ErrConfig, "", "validate quality",
			fmt.Sprintf("invalid rates %d/%d", c.BitRate, c.SampleRate), nil)
	}
	return nil
}

func (c Config) String() string {
	if c.Preset != "" {
		return fmt.Sprintf("%s (%d bps, %d Hz)", c.Preset, c.BitRate, c.SampleRate)
	}
	return fmt.Sprintf("custom (%d bps, %d Hz)", c.BitRate, c.SampleRate)
}
