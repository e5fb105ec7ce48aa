package config

import "runtime"

const (
	defaultConfigPath       = "~/.config/kloak/config.toml"
	defaultOutputDir        = "~/Pictures/kloak"
	defaultScratchDir       = "~/.cache/kloak/scratch"
	defaultStateDir         = "~/.local/share/kloak"
	defaultLogDir           = "~/.local/share/kloak/logs"
	defaultImageQuality     = 0.9
	defaultVideoTarget      = "mp4"
	defaultFFmpegBinary     = "ffmpeg"
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 30
	maxBatchJobs            = 64
)

// FFmpegEnv overrides ffmpeg.binary when set.
const FFmpegEnv = "KLOAK_FFMPEG"

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir:  defaultOutputDir,
			ScratchDir: defaultScratchDir,
			StateDir:   defaultStateDir,
			LogDir:     defaultLogDir,
		},
		Image: Image{
			Quality: defaultImageQuality,
		},
		Video: Video{
			Target: defaultVideoTarget,
		},
		Batch: Batch{
			Jobs: defaultBatchJobs(),
		},
		FFmpeg: FFmpeg{
			Binary: defaultFFmpegBinary,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}

func defaultBatchJobs() int {
	return max(1, min(4, runtime.NumCPU()))
}
