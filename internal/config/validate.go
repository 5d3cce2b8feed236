package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateProcessing(); err != nil {
		return err
	}
	if err := c.validateQuality(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		return errors.New("paths.output_dir must be set")
	}
	return nil
}

func (c *Config) validateProcessing() error {
	if c.Processing.Workers < 1 {
		return errors.New("processing.workers must be >= 1")
	}
	if strings.TrimSpace(c.Processing.FFmpegBinary) == "" {
		return errors.New("processing.ffmpeg_binary must be set")
	}
	if strings.TrimSpace(c.Processing.FFprobeBinary) == "" {
		return errors.New("processing.ffprobe_binary must be set")
	}
	return nil
}

func (c *Config) validateQuality() error {
	explicit := c.Quality.BitRate != 0 || c.Quality.SampleRate != 0
	if explicit {
		if c.Quality.BitRate <= 0 {
			return errors.New("quality.bit_rate must be positive when set")
		}
		if c.Quality.SampleRate <= 0 {
			return errors.New("quality.sample_rate must be positive when set")
		}
		return nil
	}
	if c.Quality.Preset == "" {
		return errors.New("quality.preset or an explicit bit_rate/sample_rate pair must be set")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
