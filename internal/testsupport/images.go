package testsupport

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"testing"
)

// ExifOptions describes the EXIF block written by BuildExif.
type ExifOptions struct {
	Make        string
	Model       string
	DateTime    string
	Orientation uint16
	GPS         bool
	Latitude    float64
	Longitude   float64
}

// ScenarioExif is the camera profile used by the end-to-end scenario tests.
func ScenarioExif() ExifOptions {
	return ExifOptions{
		Make:      "Example Corp",
		Model:     FixtureDeviceModel,
		DateTime:  "2025:07:28 10:15:00",
		GPS:       true,
		Latitude:  37.7749,
		Longitude: -122.4194,
	}
}

// Pattern returns a deterministic image with distinct quadrants so that
// rotations and flips are observable after re-encoding.
func Pattern(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var c color.RGBA
			switch {
			case x < width/2 && y < height/2:
				c = color.RGBA{R: 230, G: 30, B: 30, A: 255}
			case x >= width/2 && y < height/2:
				c = color.RGBA{R: 30, G: 230, B: 30, A: 255}
			case x < width/2:
				c = color.RGBA{R: 30, G: 30, B: 230, A: 255}
			default:
				c = color.RGBA{R: 240, G: 240, B: 240, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// EncodeJPEG encodes img at quality 95.
func EncodeJPEG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// EncodePNG encodes img losslessly.
func EncodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// JPEGWithExif encodes img and inserts an APP1 Exif segment, an XMP segment,
// and a comment right after SOI.
func JPEGWithExif(t testing.TB, img image.Image, opts ExifOptions) []byte {
	t.Helper()
	raw := EncodeJPEG(t, img)
	tiff := BuildExif(opts)

	var out bytes.Buffer
	out.Write(raw[:2])
	writeSegment(&out, 0xE1, append([]byte("Exif\x00\x00"), tiff...))
	writeSegment(&out, 0xE1, append([]byte("http://ns.adobe.com/xap/1.0/\x00"), []byte("<x:xmpmeta/>")...))
	writeSegment(&out, 0xFE, []byte("shot on "+opts.Model))
	out.Write(raw[2:])
	return out.Bytes()
}

func writeSegment(buf *bytes.Buffer, marker byte, payload []byte) {
	buf.Write([]byte{0xFF, marker})
	_ = binary.Write(buf, binary.BigEndian, uint16(len(payload)+2))
	buf.Write(payload)
}

// PNGWithText encodes img and inserts tEXt, tIME, and eXIf chunks after IHDR.
func PNGWithText(t testing.TB, img image.Image, opts ExifOptions) []byte {
	t.Helper()
	raw := EncodePNG(t, img)
	const ihdrEnd = 8 + 25

	var out bytes.Buffer
	out.Write(raw[:ihdrEnd])
	writeChunk(&out, "tEXt", []byte("Author\x00Jane Doe"))
	writeChunk(&out, "tIME", []byte{0x07, 0xE9, 7, 28, 10, 15, 0})
	writeChunk(&out, "eXIf", BuildExif(opts))
	out.Write(raw[ihdrEnd:])
	return out.Bytes()
}

func writeChunk(buf *bytes.Buffer, typ string, data []byte) {
	_ = binary.Write(buf, binary.BigEndian, uint32(len(data)))
	crc := crc32.NewIEEE()
	crc.Write([]byte(typ))
	crc.Write(data)
	buf.WriteString(typ)
	buf.Write(data)
	_ = binary.Write(buf, binary.BigEndian, crc.Sum32())
}

type tiffEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	value []byte
}

const (
	tiffASCII    = 2
	tiffShort    = 3
	tiffLong     = 4
	tiffRational = 5
)

// BuildExif returns a little-endian TIFF structure holding IFD0 and, when
// requested, a GPS IFD.
func BuildExif(opts ExifOptions) []byte {
	var ifd0 []tiffEntry
	if opts.Make != "" {
		ifd0 = append(ifd0, asciiEntry(0x010F, opts.Make))
	}
	if opts.Model != "" {
		ifd0 = append(ifd0, asciiEntry(0x0110, opts.Model))
	}
	if opts.Orientation != 0 {
		v := make([]byte, 2)
		binary.LittleEndian.PutUint16(v, opts.Orientation)
		ifd0 = append(ifd0, tiffEntry{tag: 0x0112, typ: tiffShort, count: 1, value: v})
	}
	if opts.DateTime != "" {
		ifd0 = append(ifd0, asciiEntry(0x0132, opts.DateTime))
	}

	var gps []tiffEntry
	if opts.GPS {
		latRef, lonRef := "N", "E"
		if opts.Latitude < 0 {
			latRef = "S"
		}
		if opts.Longitude < 0 {
			lonRef = "W"
		}
		gps = []tiffEntry{
			asciiEntry(0x0001, latRef),
			{tag: 0x0002, typ: tiffRational, count: 3, value: dms(opts.Latitude)},
			asciiEntry(0x0003, lonRef),
			{tag: 0x0004, typ: tiffRational, count: 3, value: dms(opts.Longitude)},
		}
		// The pointer value is patched once the IFD0 size is known.
		ifd0 = append(ifd0, tiffEntry{tag: 0x8825, typ: tiffLong, count: 1, value: make([]byte, 4)})
	}

	out := []byte{'I', 'I', 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00}
	gpsOffset := 8 + ifdSize(ifd0)
	if opts.GPS {
		binary.LittleEndian.PutUint32(ifd0[len(ifd0)-1].value, uint32(gpsOffset))
	}
	out = appendIFD(out, ifd0)
	if opts.GPS {
		out = appendIFD(out, gps)
	}
	return out
}

func asciiEntry(tag uint16, s string) tiffEntry {
	v := append([]byte(s), 0)
	return tiffEntry{tag: tag, typ: tiffASCII, count: uint32(len(v)), value: v}
}

func dms(coord float64) []byte {
	a := math.Abs(coord)
	deg := math.Floor(a)
	minutesF := (a - deg) * 60
	minutes := math.Floor(minutesF)
	seconds := math.Round((minutesF - minutes) * 60 * 100)
	out := make([]byte, 0, 24)
	for _, r := range [][2]uint32{{uint32(deg), 1}, {uint32(minutes), 1}, {uint32(seconds), 100}} {
		out = binary.LittleEndian.AppendUint32(out, r[0])
		out = binary.LittleEndian.AppendUint32(out, r[1])
	}
	return out
}

// ifdSize is the byte length of an IFD including its out-of-line values.
func ifdSize(entries []tiffEntry) int {
	size := 2 + 12*len(entries) + 4
	for _, e := range entries {
		if len(e.value) > 4 {
			size += len(e.value) + len(e.value)%2
		}
	}
	return size
}

func appendIFD(out []byte, entries []tiffEntry) []byte {
	start := len(out)
	dataOffset := start + 2 + 12*len(entries) + 4
	var data []byte
	out = binary.LittleEndian.AppendUint16(out, uint16(len(entries)))
	for _, e := range entries {
		out = binary.LittleEndian.AppendUint16(out, e.tag)
		out = binary.LittleEndian.AppendUint16(out, e.typ)
		out = binary.LittleEndian.AppendUint32(out, e.count)
		if len(e.value) <= 4 {
			field := make([]byte, 4)
			copy(field, e.value)
			out = append(out, field...)
			continue
		}
		out = binary.LittleEndian.AppendUint32(out, uint32(dataOffset+len(data)))
		data = append(data, e.value...)
		if len(e.value)%2 == 1 {
			data = append(data, 0)
		}
	}
	out = binary.LittleEndian.AppendUint32(out, 0)
	return append(out, data...)
}
