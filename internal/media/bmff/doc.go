// Package bmff parses ISO base media file format (MP4, MOV, HEIF) box trees
// from an in-memory byte slice.
//
// The parser never copies payloads: every Box records absolute offsets into
// the slice it was parsed from, so callers can patch fields in place. Known
// container boxes are descended; everything else is a leaf. Vendor metadata
// containers (udta, meta, ilst) that do not parse as box sequences are kept
// as opaque leaves instead of failing the whole file.
//
// Helpers decode the header fields the stripper and scanner need (mvhd,
// tkhd, mdhd, hdlr) and compute chunk byte ranges from sample tables.
package bmff
