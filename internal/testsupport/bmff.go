package testsupport

import (
	"bytes"
	"encoding/binary"
)

// GPSSample is the ISO 6709 location written into timed-metadata fixtures.
const GPSSample = "+37.7749-122.4194/"

// U16 encodes v big-endian.
func U16(v uint16) []byte { return binary.BigEndian.AppendUint16(nil, v) }

// U32 encodes v big-endian.
func U32(v uint32) []byte { return binary.BigEndian.AppendUint32(nil, v) }

// U64 encodes v big-endian.
func U64(v uint64) []byte { return binary.BigEndian.AppendUint64(nil, v) }

// Box assembles an ISO-BMFF box from its type and payload parts.
func Box(typ string, payload ...[]byte) []byte {
	body := bytes.Join(payload, nil)
	out := make([]byte, 0, 8+len(body))
	out = binary.BigEndian.AppendUint32(out, uint32(8+len(body)))
	out = append(out, typ[:4]...)
	return append(out, body...)
}

// FullBox assembles a box whose payload starts with version and flags.
func FullBox(typ string, version uint8, flags uint32, payload ...[]byte) []byte {
	header := []byte{version, byte(flags >> 16), byte(flags >> 8), byte(flags)}
	return Box(typ, append([][]byte{header}, payload...)...)
}

// MovieOptions controls the synthetic MP4/MOV produced by BuildMovie.
type MovieOptions struct {
	// MajorBrand defaults to "isom"; use "qt  " for QuickTime.
	MajorBrand string
	// OmitFtyp produces a legacy QuickTime layout starting at moov.
	OmitFtyp bool
	// Metadata adds user data, keyed metadata, an XMP uuid box, creation
	// times, and a timed-metadata location track.
	Metadata bool
}

// Movie fixture constants shared by tests.
const (
	MovieTimescale     = 1000
	MovieDuration      = 5000
	MovieCreationTime  = 3700000000
	VideoSampleSize    = 32
	AudioSampleSize    = 24
	FixtureDeviceModel = "ExampleCam X"
)

// XMPUUID is the user type of the XMP uuid box.
var XMPUUID = []byte{0xBE, 0x7A, 0xCF, 0xCB, 0x97, 0xA9, 0x42, 0xE8, 0x9C, 0x71, 0x99, 0x94, 0x91, 0xE3, 0xAF, 0xAC}

// BuildMovie returns a small but structurally complete movie file with a
// video and an audio track whose samples live in a single mdat.
func BuildMovie(opts MovieOptions) []byte {
	brand := opts.MajorBrand
	if brand == "" {
		brand = "isom"
	}
	var prefix []byte
	if !opts.OmitFtyp {
		prefix = append(prefix, Box("ftyp", []byte(brand), U32(0x200), []byte(brand), []byte("mp41"))...)
	}
	if opts.Metadata {
		prefix = append(prefix, Box("uuid", XMPUUID, []byte(`<x:xmpmeta><tiff:Model>ExampleCam X</tiff:Model></x:xmpmeta>`))...)
	}

	samples := [][]byte{
		bytes.Repeat([]byte{0xA1}, VideoSampleSize),
		bytes.Repeat([]byte{0xB2}, AudioSampleSize),
	}
	if opts.Metadata {
		samples = append(samples, []byte(GPSSample))
	}

	offsets := make([]uint32, len(samples))
	moov := buildMoov(opts, offsets)
	base := uint32(len(prefix) + len(moov) + 8)
	for i := range samples {
		offsets[i] = base
		base += uint32(len(samples[i]))
	}
	moov = buildMoov(opts, offsets)

	out := append([]byte{}, prefix...)
	out = append(out, moov...)
	return append(out, Box("mdat", samples...)...)
}

func buildMoov(opts MovieOptions, offsets []uint32) []byte {
	var created uint32
	if opts.Metadata {
		created = MovieCreationTime
	}
	parts := [][]byte{mvhd(created)}

	var videoExtra [][]byte
	if opts.Metadata {
		videoExtra = append(videoExtra, Box("udta", Box("\xa9nam", qtText("Birthday party"))))
	}
	parts = append(parts, trak(1, "vide", created, offsets[0], VideoSampleSize, videoExtra...))
	parts = append(parts, trak(2, "soun", created, offsets[1], AudioSampleSize))
	if opts.Metadata {
		parts = append(parts, trak(3, "mdta", created, offsets[2], uint32(len(GPSSample))))
		parts = append(parts, Box("udta",
			Box("\xa9xyz", qtText(GPSSample)),
			Box("\xa9mak", qtText("Example Corp")),
			Box("\xa9mod", qtText(FixtureDeviceModel)),
		))
		parts = append(parts, Box("meta",
			FullBox("hdlr", 0, 0, U32(0), []byte("mdta"), make([]byte, 12), []byte{0}),
			FullBox("keys", 0, 0, U32(2),
				mdtaKey("com.apple.quicktime.location.ISO6709"),
				mdtaKey("com.apple.quicktime.model"),
			),
			Box("ilst",
				Box(string(U32(1)), Box("data", U32(1), U32(0), []byte(GPSSample))),
				Box(string(U32(2)), Box("data", U32(1), U32(0), []byte(FixtureDeviceModel))),
			),
		))
	}
	return Box("moov", parts...)
}

func mvhd(created uint32) []byte {
	return FullBox("mvhd", 0, 0,
		U32(created), U32(created),
		U32(MovieTimescale), U32(MovieDuration),
		U32(0x00010000), U16(0x0100), make([]byte, 10),
		identityMatrix(), make([]byte, 24), U32(4),
	)
}

func trak(id uint32, handler string, created, chunkOffset, sampleSize uint32, extra ...[]byte) []byte {
	tkhd := FullBox("tkhd", 0, 7,
		U32(created), U32(created), U32(id), U32(0), U32(MovieDuration),
		make([]byte, 8), U16(0), U16(0), U16(0), U16(0),
		identityMatrix(), U32(0), U32(0),
	)
	mdhd := FullBox("mdhd", 0, 0,
		U32(created), U32(created), U32(MovieTimescale), U32(MovieDuration), U16(0x55C4), U16(0),
	)
	hdlr := FullBox("hdlr", 0, 0, U32(0), []byte(handler), make([]byte, 12), []byte("Core Media\x00"))
	var mediaHeader []byte
	switch handler {
	case "vide":
		mediaHeader = FullBox("vmhd", 0, 1, make([]byte, 8))
	case "soun":
		mediaHeader = FullBox("smhd", 0, 0, make([]byte, 4))
	default:
		mediaHeader = FullBox("nmhd", 0, 0)
	}
	stbl := Box("stbl",
		FullBox("stsd", 0, 0, U32(0)),
		FullBox("stts", 0, 0, U32(1), U32(1), U32(MovieDuration)),
		FullBox("stsc", 0, 0, U32(1), U32(1), U32(1), U32(1)),
		FullBox("stsz", 0, 0, U32(0), U32(1), U32(sampleSize)),
		FullBox("stco", 0, 0, U32(1), U32(chunkOffset)),
	)
	if chunkOffset == 0 {
		// Fragmented tracks keep their samples in moof boxes.
		stbl = Box("stbl",
			FullBox("stsd", 0, 0, U32(0)),
			FullBox("stts", 0, 0, U32(0)),
			FullBox("stsc", 0, 0, U32(0)),
			FullBox("stsz", 0, 0, U32(0), U32(0)),
			FullBox("stco", 0, 0, U32(0)),
		)
	}
	minf := Box("minf", mediaHeader, Box("dinf", FullBox("dref", 0, 0, U32(1), FullBox("url ", 0, 1))), stbl)
	parts := [][]byte{tkhd, Box("mdia", mdhd, hdlr, minf)}
	parts = append(parts, extra...)
	return Box("trak", parts...)
}

// BuildFragmentedMovie returns a fragmented MP4 whose samples are described
// by a single moof. Track 1 is video. With Metadata set, track 2 is a
// timed-metadata track whose one sample is GPSSample, and the moof carries a
// udta box.
func BuildFragmentedMovie(opts MovieOptions) []byte {
	var created uint32
	if opts.Metadata {
		created = MovieCreationTime
	}
	ftyp := Box("ftyp", []byte("iso6"), U32(0), []byte("iso6"), []byte("mp41"))
	moovParts := [][]byte{mvhd(created), trak(1, "vide", created, 0, 0)}
	mvex := [][]byte{trex(1)}
	if opts.Metadata {
		moovParts = append(moovParts, trak(2, "mdta", created, 0, 0))
		mvex = append(mvex, trex(2))
	}
	moov := Box("moov", append(moovParts, Box("mvex", mvex...))...)

	samples := [][]byte{bytes.Repeat([]byte{0xA1}, VideoSampleSize)}
	if opts.Metadata {
		samples = append(samples, []byte(GPSSample))
	}
	moof := buildMoof(opts, 0)
	moof = buildMoof(opts, uint32(len(moof)+8))

	out := append(ftyp, moov...)
	out = append(out, moof...)
	return append(out, Box("mdat", samples...)...)
}

// buildMoof lays out one fragment. dataOffset is the distance from the moof
// start to the first sample byte; every traf uses default-base-is-moof.
func buildMoof(opts MovieOptions, dataOffset uint32) []byte {
	const defaultBaseIsMoof = 0x020000
	parts := [][]byte{
		FullBox("mfhd", 0, 0, U32(1)),
		Box("traf",
			FullBox("tfhd", 0, defaultBaseIsMoof, U32(1)),
			FullBox("tfdt", 0, 0, U32(0)),
			// data_offset and per-sample sizes
			FullBox("trun", 0, 0x000201, U32(1), U32(dataOffset), U32(VideoSampleSize)),
		),
	}
	if opts.Metadata {
		parts = append(parts,
			Box("traf",
				// default_sample_size in tfhd, data_offset only in trun
				FullBox("tfhd", 0, defaultBaseIsMoof|0x000010, U32(2), U32(uint32(len(GPSSample)))),
				FullBox("trun", 0, 0x000001, U32(1), U32(dataOffset+VideoSampleSize)),
			),
			Box("udta", Box("\xa9xyz", qtText(GPSSample))),
		)
	}
	return Box("moof", parts...)
}

func trex(id uint32) []byte {
	return FullBox("trex", 0, 0, U32(id), U32(1), U32(0), U32(0), U32(0))
}

func identityMatrix() []byte {
	return bytes.Join([][]byte{
		U32(0x00010000), U32(0), U32(0),
		U32(0), U32(0x00010000), U32(0),
		U32(0), U32(0), U32(0x40000000),
	}, nil)
}

func qtText(s string) []byte {
	return bytes.Join([][]byte{U16(uint16(len(s))), U16(0x15C7), []byte(s)}, nil)
}

func mdtaKey(name string) []byte {
	return bytes.Join([][]byte{U32(uint32(8 + len(name))), []byte("mdta"), []byte(name)}, nil)
}

// BuildHEIC returns the structural skeleton of a HEIF still image: ftyp and
// a meta box listing a coded image item plus an Exif item. It carries no
// decodable pixels.
func BuildHEIC() []byte {
	ftyp := Box("ftyp", []byte("heic"), U32(0), []byte("mif1"), []byte("heic"))
	meta := FullBox("meta", 0, 0,
		FullBox("hdlr", 0, 0, U32(0), []byte("pict"), make([]byte, 12), []byte{0}),
		FullBox("pitm", 0, 0, U16(1)),
		FullBox("iinf", 0, 0, U16(2),
			FullBox("infe", 2, 0, U16(1), U16(0), []byte("hvc1"), []byte{0}),
			FullBox("infe", 2, 0, U16(2), U16(0), []byte("Exif"), []byte{0}),
		),
	)
	return append(append(ftyp, meta...), Box("mdat", bytes.Repeat([]byte{0xC3}, 16))...)
}
