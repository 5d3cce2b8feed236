package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"bindery/internal/config"
	"bindery/internal/logging"
	"bindery/internal/quality"
	"bindery/internal/registry"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		c.logger, c.loggerErr = logging.NewFromConfig(cfg)
	})
	return c.logger, c.loggerErr
}

// withRegistry acquires the data-directory lock, opens the registry, and
// releases both when fn returns. The lock keeps concurrent bindery
// invocations from interleaving writes to the same database.
func (c *commandContext) withRegistry(fn func(*config.Config, *registry.Registry) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return err
	}

	lock := flock.New(filepath.Join(cfg.Paths.DataDir, "bindery.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire data lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another bindery instance is using %s", cfg.Paths.DataDir)
	}
	defer func() { _ = lock.Unlock() }()

	store, err := registry.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := registry.New(store, logger)
	defer reg.Close()

	return fn(cfg, reg)
}

// resolveQuality builds the job's quality snapshot from config defaults and
// command-line overrides. An explicit rate pair wins over a preset.
func resolveQuality(cfg *config.Config, presetFlag string, bitRate, sampleRate int) (quality.Config, error) {
	q := quality.Default()
	var err error

	switch {
	case cfg.Quality.BitRate > 0 && cfg.Quality.SampleRate > 0:
		if q, err = q.WithRates(cfg.Quality.BitRate, cfg.Quality.SampleRate); err != nil {
			return quality.Config{}, err
		}
	case cfg.Quality.Preset != "":
		if q, err = quality.Resolve(cfg.Quality.Preset); err != nil {
			return quality.Config{}, err
		}
	}

	if presetFlag != "" {
		if q, err = quality.Resolve(presetFlag); err != nil {
			return quality.Config{}, err
		}
	}
	if bitRate > 0 || sampleRate > 0 {
		if bitRate <= 0 {
			bitRate = q.BitRate
		}
		if sampleRate <= 0 {
			sampleRate = q.SampleRate
		}
		if q, err = q.WithRates(bitRate, sampleRate); err != nil {
			return quality.Config{}, err
		}
	}
	return q, nil
}
