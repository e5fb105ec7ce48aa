package container

import (
	"bytes"
	"encoding/binary"

	"kloak/internal/media"
)

const (
	// MinHeaderSize is the shortest prefix that can be told apart from every
	// supported signature (ISO-BMFF needs size, type, and major brand).
	MinHeaderSize = 12
	// HeaderSize bounds how much of the input is inspected.
	HeaderSize = 512
)

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
)

var heifBrands = map[string]bool{
	"heic": true, "heix": true, "hevc": true, "hevx": true,
	"heim": true, "heis": true, "mif1": true, "msf1": true,
}

var movieBrands = map[string]bool{
	"isom": true, "iso2": true, "iso3": true, "iso4": true, "iso5": true,
	"iso6": true, "iso7": true, "iso8": true, "iso9": true,
	"mp41": true, "mp42": true, "avc1": true, "qt  ": true,
	"M4V ": true, "M4VH": true, "M4VP": true, "M4A ": true,
	"3gp4": true, "3gp5": true, "3gp6": true, "3g2a": true,
	"dash": true, "f4v ": true, "MSNV": true, "mmp4": true,
}

// QuickTime files written before ftyp existed start with one of these.
var legacyMovieBoxes = map[string]bool{
	"moov": true, "mdat": true, "wide": true, "free": true, "skip": true, "pnot": true,
}

// Classify determines the container kind of data from its signature. Only the
// first HeaderSize bytes are examined and no payload is decoded.
func Classify(data []byte) (Blob, error) {
	if len(data) < MinHeaderSize {
		return Blob{Data: data}, media.Wrap(media.ErrTruncatedInput, "classify", "", "need at least 12 bytes", nil)
	}
	kind := sniff(data[:min(len(data), HeaderSize)], len(data))
	if kind == Unknown {
		return Blob{Data: data}, media.Wrap(media.ErrUnrecognizedContainer, "classify", "", "no known signature", nil)
	}
	return Blob{Data: data, Kind: kind}, nil
}

func sniff(header []byte, total int) Kind {
	switch {
	case bytes.HasPrefix(header, jpegMagic):
		return Jpeg
	case bytes.HasPrefix(header, pngMagic):
		return Png
	case string(header[4:8]) == "ftyp":
		return sniffFtyp(header)
	}
	return sniffLegacyQuickTime(header, total)
}

func sniffFtyp(header []byte) Kind {
	size := int(binary.BigEndian.Uint32(header))
	if size < 16 {
		// ftyp needs major brand and minor version at minimum; a 12-byte
		// prefix still reveals the major brand.
		size = 12
	}
	end := min(size, len(header))
	major := string(header[8:12])
	if heifBrands[major] {
		return Heic
	}
	if movieBrands[major] {
		return Mp4Mov
	}
	// Unknown major brand: consult compatible brands, HEIF first.
	var compatible []string
	for off := 16; off+4 <= end; off += 4 {
		compatible = append(compatible, string(header[off:off+4]))
	}
	for _, b := range compatible {
		if heifBrands[b] {
			return Heic
		}
	}
	for _, b := range compatible {
		if movieBrands[b] {
			return Mp4Mov
		}
	}
	return Unknown
}

func sniffLegacyQuickTime(header []byte, total int) Kind {
	size := binary.BigEndian.Uint32(header)
	typ := string(header[4:8])
	if !legacyMovieBoxes[typ] {
		return Unknown
	}
	// size 0 runs to EOF, size 1 carries a 64-bit length.
	if size == 0 || size == 1 || (size >= 8 && int64(size) <= int64(total)) {
		return Mp4Mov
	}
	return Unknown
}
