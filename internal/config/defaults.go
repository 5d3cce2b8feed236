package config

import "runtime"

const (
	defaultOutputDir     = "~/audiobooks"
	defaultDataDir       = "~/.local/share/bindery"
	defaultLogDir        = "~/.local/share/bindery/logs"
	defaultFFmpegBinary  = "ffmpeg"
	defaultFFprobeBinary = "ffprobe"
	defaultQualityPreset = "Best"
	defaultLogFormat     = "console"
	defaultLogLevel      = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir: defaultOutputDir,
			DataDir:   defaultDataDir,
			LogDir:    defaultLogDir,
		},
		Processing: Processing{
			Multithreading:  true,
			Workers:         runtime.NumCPU(),
			MetadataEnabled: true,
			FFmpegBinary:    defaultFFmpegBinary,
			FFprobeBinary:   defaultFFprobeBinary,
		},
		Quality: Quality{
			Preset: defaultQualityPreset,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
