// Package media holds the failure taxonomy shared by the metadata-stripping
// engine.
//
// Every expected failure (bad input, corrupt payload, encoder limits, export
// backend failures, cancellation) is reported as an error wrapping one of the
// sentinel markers defined here. Callers classify with errors.Is or KindOf and
// present UserMessage; the engine never panics for these cases.
//
// Subpackages:
//   - container: signature-based classification and strategy selection
//   - bmff: ISO base media file format box parsing
//   - metascan: enumeration of metadata items in supported containers
//   - ffmpeg: HEIC frame decoding through the ffmpeg binary
package media
