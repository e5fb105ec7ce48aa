// Package metascan enumerates the metadata items carried by JPEG, PNG, HEIF,
// and MP4/MOV containers.
//
// Each Item names its scope (container, a track, exif, xmp) and whether it is
// required for playback. Stripped output is verified by scanning it again and
// checking that no removable item remains.
//
// EXIF blocks are decoded with github.com/rwcarlsen/goexif; container
// structures are walked with internal/media/bmff and simple segment/chunk
// readers.
package metascan
