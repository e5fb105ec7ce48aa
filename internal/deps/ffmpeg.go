package deps

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const versionTimeout = 5 * time.Second

// FFmpegRequirement describes the ffmpeg binary used to decode HEIC frames.
// HEIC support is optional; JPEG, PNG, and MP4/MOV never shell out.
func FFmpegRequirement(binary string) Requirement {
	return Requirement{
		Name:        "FFmpeg",
		Command:     binary,
		Description: "Decodes HEIC images",
		Optional:    true,
	}
}

// CheckFFmpeg resolves binary on PATH and records the version banner.
func CheckFFmpeg(ctx context.Context, binary string) Status {
	status := checkBinary(FFmpegRequirement(binary))
	if !status.Available {
		return status
	}
	version, err := ffmpegVersion(ctx, status.Command)
	if err != nil {
		status.Available = false
		status.Detail = err.Error()
		return status
	}
	status.Version = version
	return status
}

func ffmpegVersion(ctx context.Context, binary string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, binary, "-hide_banner", "-version").Output()
	if err != nil {
		return "", fmt.Errorf("run %s -version: %w", binary, err)
	}
	return ParseFFmpegVersion(string(out)), nil
}

// ParseFFmpegVersion extracts the version token from `ffmpeg -version`
// output ("ffmpeg version 7.1 Copyright ..." yields "7.1").
func ParseFFmpegVersion(output string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(output), "\n")
	fields := strings.Fields(first)
	for i := 0; i+1 < len(fields); i++ {
		if fields[i] == "version" {
			return fields[i+1]
		}
	}
	return "unknown"
}
