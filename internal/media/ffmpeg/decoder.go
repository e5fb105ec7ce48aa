package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os/exec"
	"strings"

	"kloak/internal/scratch"
)

// DefaultBinary is resolved from PATH when no binary is configured.
const DefaultBinary = "ffmpeg"

// Decoder extracts the first frame of a container with ffmpeg.
type Decoder struct {
	Binary  string
	Scratch *scratch.Dir
}

// NewDecoder returns a decoder that stages input under dir.
func NewDecoder(binary string, dir *scratch.Dir) *Decoder {
	return &Decoder{Binary: binary, Scratch: dir}
}

// DecodeFrame returns the first frame of data. ext names the container for
// ffmpeg's probing and may be empty.
func (d *Decoder) DecodeFrame(ctx context.Context, data []byte, ext string) (image.Image, error) {
	if d == nil || d.Scratch == nil {
		return nil, errors.New("ffmpeg decode: decoder not configured")
	}
	if len(data) == 0 {
		return nil, errors.New("ffmpeg decode: empty input")
	}
	binary := strings.TrimSpace(d.Binary)
	if binary == "" {
		binary = DefaultBinary
	}

	f, err := d.Scratch.Create(ext)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode: %w", err)
	}
	path := f.Name()
	defer func() {
		_ = d.Scratch.Release(path)
	}()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("ffmpeg decode: stage input: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("ffmpeg decode: stage input: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, FrameArgs(path)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("ffmpeg decode: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	img, err := png.Decode(bytes.NewReader(stdout.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode: parse frame: %w", err)
	}
	return img, nil
}

// FrameArgs builds the ffmpeg arguments that write the first frame of path
// to stdout as PNG. Metadata is not mapped into the output.
func FrameArgs(path string) []string {
	return []string{
		"-v", "error",
		"-hide_banner",
		"-nostdin",
		"-i", path,
		"-map_metadata", "-1",
		"-frames:v", "1",
		"-f", "image2pipe",
		"-c:v", "png",
		"-",
	}
}
