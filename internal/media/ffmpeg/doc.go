// Package ffmpeg decodes still frames the Go image decoders cannot read
// (HEIF/HEIC) by shelling out to the ffmpeg binary.
//
// Input is staged in a scratch file so ffmpeg can seek inside the container;
// the first frame is piped back as PNG and decoded with image/png.
package ffmpeg
