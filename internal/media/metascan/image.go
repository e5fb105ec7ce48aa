package metascan

import (
	"bytes"
	"fmt"
	"strings"

	jpegstructure "github.com/dsoprea/go-jpeg-image-structure/v2"
	pngstructure "github.com/dsoprea/go-png-image-structure/v2"

	"kloak/internal/media/bmff"
)

var (
	exifHeader = []byte("Exif\x00\x00")
	xmpHeader  = []byte("http://ns.adobe.com/xap/1.0/\x00")
	iccHeader  = []byte("ICC_PROFILE\x00")
	psHeader   = []byte("Photoshop 3.0\x00")
)

// JPEGSegment is one marker segment of a JPEG stream.
type JPEGSegment struct {
	Marker  byte
	Payload []byte
}

// JPEGSegments splits a JPEG into its marker segments.
func JPEGSegments(data []byte) ([]JPEGSegment, error) {
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil, fmt.Errorf("jpeg: missing SOI")
	}
	mc, err := jpegstructure.NewJpegMediaParser().ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("jpeg: %w", err)
	}
	list, ok := mc.(*jpegstructure.SegmentList)
	if !ok {
		return nil, fmt.Errorf("jpeg: unexpected parse result %T", mc)
	}
	segments := make([]JPEGSegment, 0, len(list.Segments()))
	for _, seg := range list.Segments() {
		segments = append(segments, JPEGSegment{Marker: seg.MarkerId, Payload: seg.Data})
	}
	return segments, nil
}

// ExifBlock returns the raw TIFF block of the first APP1 Exif segment.
func ExifBlock(data []byte) []byte {
	segments, _ := JPEGSegments(data)
	for _, seg := range segments {
		if seg.Marker == 0xE1 && bytes.HasPrefix(seg.Payload, exifHeader) {
			return seg.Payload[len(exifHeader):]
		}
	}
	return nil
}

func scanJPEG(data []byte, report *Report) error {
	segments, err := JPEGSegments(data)
	for _, seg := range segments {
		p := seg.Payload
		switch {
		case seg.Marker == 0xE0 && bytes.HasPrefix(p, []byte("JFIF\x00")):
			report.add("jpeg", "JFIF", "", false)
		case seg.Marker == 0xE1 && bytes.HasPrefix(p, exifHeader):
			addExif(report, "exif", p[len(exifHeader):])
		case seg.Marker == 0xE1 && bytes.HasPrefix(p, xmpHeader):
			report.add("xmp", "XMP", fmt.Sprintf("%d bytes", len(p)-len(xmpHeader)), false)
		case seg.Marker == 0xE2 && bytes.HasPrefix(p, iccHeader):
			report.add("jpeg", "ICCProfile", fmt.Sprintf("%d bytes", len(p)), false)
		case seg.Marker == 0xED && bytes.HasPrefix(p, psHeader):
			report.add("iptc", "Photoshop", fmt.Sprintf("%d bytes", len(p)), false)
		case seg.Marker == 0xFE:
			report.add("jpeg", "Comment", string(p), false)
		case seg.Marker >= 0xE0 && seg.Marker <= 0xEF:
			report.add("jpeg", fmt.Sprintf("APP%d", seg.Marker-0xE0), fmt.Sprintf("%d bytes", len(p)), false)
		}
	}
	return err
}

var pngMagic = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

// PNGChunk is one chunk of a PNG stream.
type PNGChunk struct {
	Type string
	Data []byte
}

// PNGChunks splits a PNG stream into its chunks.
func PNGChunks(data []byte) ([]PNGChunk, error) {
	if !bytes.HasPrefix(data, pngMagic) {
		return nil, fmt.Errorf("png: missing signature")
	}
	mc, err := pngstructure.NewPngMediaParser().ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("png: %w", err)
	}
	cs, ok := mc.(*pngstructure.ChunkSlice)
	if !ok {
		return nil, fmt.Errorf("png: unexpected parse result %T", mc)
	}
	chunks := make([]PNGChunk, 0, len(cs.Chunks()))
	for _, c := range cs.Chunks() {
		chunks = append(chunks, PNGChunk{Type: c.Type, Data: c.Data})
	}
	return chunks, nil
}

// PNGExifBlock returns the raw TIFF block of the eXIf chunk, if any.
func PNGExifBlock(data []byte) []byte {
	chunks, _ := PNGChunks(data)
	for _, c := range chunks {
		if c.Type == "eXIf" {
			return c.Data
		}
	}
	return nil
}

// Rendering-critical color chunks; everything else ancillary is metadata.
var pngRequired = map[string]bool{"sRGB": true, "gAMA": true, "cHRM": true, "tRNS": true, "PLTE": true}

func scanPNG(data []byte, report *Report) error {
	chunks, err := PNGChunks(data)
	for _, c := range chunks {
		switch c.Type {
		case "IHDR", "IDAT", "IEND":
		case "tEXt", "zTXt", "iTXt":
			keyword, _, _ := strings.Cut(string(c.Data), "\x00")
			report.add("png", keyword, "", false)
		case "eXIf":
			addExif(report, "exif", c.Data)
		case "iCCP":
			name, _, _ := strings.Cut(string(c.Data), "\x00")
			report.add("png", "ICCProfile", name, false)
		case "tIME":
			report.add("png", "ModificationTime", "", false)
		default:
			if pngRequired[c.Type] {
				report.add("png", c.Type, "", true)
				continue
			}
			// Lower-case first letter marks an ancillary chunk.
			if len(c.Type) == 4 && c.Type[0] >= 'a' && c.Type[0] <= 'z' {
				report.add("png", c.Type, fmt.Sprintf("%d bytes", len(c.Data)), false)
			}
		}
	}
	return err
}

func scanHEIF(data []byte, report *Report) error {
	boxes, err := bmff.Parse(data)
	if err != nil {
		return err
	}
	meta := bmff.Top(boxes, "meta")
	if meta == nil {
		return nil
	}
	iinf := meta.Child("iinf")
	if iinf == nil {
		return nil
	}
	for _, infe := range iinf.ChildrenOf("infe") {
		itemType, contentType := readInfe(data, infe)
		switch itemType {
		case "Exif":
			report.add("heif", "Exif", "", false)
		case "mime":
			if strings.Contains(contentType, "rdf+xml") {
				report.add("heif", "XMP", "", false)
			} else {
				report.add("heif", "mime", contentType, false)
			}
		}
	}
	for _, typ := range []string{"udta", "uuid"} {
		if b := bmff.Top(boxes, typ); b != nil {
			report.add("heif", typ, fmt.Sprintf("%d bytes", b.Size), false)
		}
	}
	return nil
}

func readInfe(data []byte, infe *bmff.Box) (itemType, contentType string) {
	version, _, err := bmff.FullBoxHeader(data, infe)
	if err != nil || version < 2 {
		return "", ""
	}
	p := infe.Payload(data)[4:]
	idLen := 2
	if version >= 3 {
		idLen = 4
	}
	if len(p) < idLen+6 {
		return "", ""
	}
	p = p[idLen+2:]
	itemType = string(p[:4])
	rest := p[4:]
	_, rest, _ = bytes.Cut(rest, []byte{0})
	if itemType == "mime" {
		ct, _, _ := bytes.Cut(rest, []byte{0})
		contentType = string(ct)
	}
	return itemType, contentType
}
