package bmff

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

const (
	tfhdBaseDataOffset    = 0x000001
	tfhdSampleDescIndex   = 0x000002
	tfhdDefaultDuration   = 0x000008
	tfhdDefaultSize       = 0x000010
	tfhdDefaultBaseIsMoof = 0x020000

	trunDataOffset       = 0x000001
	trunFirstSampleFlags = 0x000004
	trunPerSampleFields  = 0x000F00
	trunSampleDuration   = 0x000100
	trunSampleSize       = 0x000200
)

// TrackFragment is one traf box of a movie fragment with the file ranges its
// samples occupy.
type TrackFragment struct {
	TrackID uint32
	Box     *Box
	Samples []ByteRange
	// ChainedBase is set when the data base is the end of the previous
	// traf's data rather than an explicit offset or the moof start.
	ChainedBase bool
}

// TrackExtends returns the default sample size of each track declared in
// moov/mvex/trex.
func TrackExtends(data []byte, moov *Box) map[uint32]uint32 {
	out := map[uint32]uint32{}
	mvex := moov.Child("mvex")
	if mvex == nil {
		return out
	}
	for _, trex := range mvex.ChildrenOf("trex") {
		p := trex.Payload(data)
		// version/flags, track_ID, description index, duration, size, flags
		if len(p) < 24 {
			continue
		}
		out[binary.BigEndian.Uint32(p[4:])] = binary.BigEndian.Uint32(p[16:])
	}
	return out
}

// BoxTrackID returns the track_ID that follows the full box header of trex,
// tfhd, and tfra boxes, or 0 when unreadable.
func BoxTrackID(data []byte, b *Box) uint32 {
	p := b.Payload(data)
	if len(p) < 8 {
		return 0
	}
	return binary.BigEndian.Uint32(p[4:])
}

type tfhd struct {
	trackID     uint32
	flags       uint32
	baseOffset  uint64
	defaultSize uint32
}

func readTfhd(data []byte, b *Box) (tfhd, error) {
	p := b.Payload(data)
	if len(p) < 8 {
		return tfhd{}, fmt.Errorf("%w: tfhd too short", ErrMalformed)
	}
	h := tfhd{
		flags:   uint32(p[1])<<16 | uint32(p[2])<<8 | uint32(p[3]),
		trackID: binary.BigEndian.Uint32(p[4:]),
	}
	pos := 8
	need := func(n int) bool { return pos+n <= len(p) }
	if h.flags&tfhdBaseDataOffset != 0 {
		if !need(8) {
			return h, fmt.Errorf("%w: tfhd base_data_offset truncated", ErrMalformed)
		}
		h.baseOffset = binary.BigEndian.Uint64(p[pos:])
		pos += 8
	}
	for _, flag := range []uint32{tfhdSampleDescIndex, tfhdDefaultDuration} {
		if h.flags&flag != 0 {
			pos += 4
		}
	}
	if h.flags&tfhdDefaultSize != 0 {
		if !need(4) {
			return h, fmt.Errorf("%w: tfhd default_sample_size truncated", ErrMalformed)
		}
		h.defaultSize = binary.BigEndian.Uint32(p[pos:])
	}
	return h, nil
}

// FragmentRanges resolves the sample data of every traf in moof. defaults
// supplies trex sample sizes for tracks whose tfhd and trun carry none.
func FragmentRanges(data []byte, moof *Box, defaults map[uint32]uint32) ([]TrackFragment, error) {
	var (
		out     []TrackFragment
		prevEnd = moof.Offset
	)
	for i, traf := range moof.ChildrenOf("traf") {
		hb := traf.Child("tfhd")
		if hb == nil {
			return nil, fmt.Errorf("%w: traf without tfhd", ErrMalformed)
		}
		h, err := readTfhd(data, hb)
		if err != nil {
			return nil, err
		}
		frag := TrackFragment{TrackID: h.trackID, Box: traf}
		var base int64
		switch {
		case h.flags&tfhdBaseDataOffset != 0:
			if h.baseOffset > uint64(len(data)) {
				return nil, fmt.Errorf("%w: track %d base offset %d outside file", ErrMalformed, h.trackID, h.baseOffset)
			}
			base = int64(h.baseOffset)
		case h.flags&tfhdDefaultBaseIsMoof != 0 || i == 0:
			base = moof.Offset
		default:
			base = prevEnd
			frag.ChainedBase = true
		}
		size := h.defaultSize
		if h.flags&tfhdDefaultSize == 0 {
			size = defaults[h.trackID]
		}

		cursor := base
		for _, trun := range traf.ChildrenOf("trun") {
			r, err := trunRange(data, trun, base, cursor, size)
			if err != nil {
				return nil, fmt.Errorf("track %d: %w", h.trackID, err)
			}
			if r.Length > 0 {
				frag.Samples = append(frag.Samples, r)
			}
			cursor = r.Offset + r.Length
		}
		prevEnd = cursor
		out = append(out, frag)
	}
	return out, nil
}

// trunRange returns the contiguous span of one track run. A run without
// data_offset continues at cursor.
func trunRange(data []byte, trun *Box, base, cursor int64, defaultSize uint32) (ByteRange, error) {
	p := trun.Payload(data)
	if len(p) < 8 {
		return ByteRange{}, fmt.Errorf("%w: trun too short", ErrMalformed)
	}
	flags := uint32(p[1])<<16 | uint32(p[2])<<8 | uint32(p[3])
	count := int64(binary.BigEndian.Uint32(p[4:]))
	pos := 8
	start := cursor
	if flags&trunDataOffset != 0 {
		if len(p) < pos+4 {
			return ByteRange{}, fmt.Errorf("%w: trun data_offset truncated", ErrMalformed)
		}
		start = base + int64(int32(binary.BigEndian.Uint32(p[pos:])))
		pos += 4
	}
	if flags&trunFirstSampleFlags != 0 {
		pos += 4
	}
	if start < 0 || start > int64(len(data)) {
		return ByteRange{}, fmt.Errorf("%w: trun data at %d outside file", ErrMalformed, start)
	}
	avail := int64(len(data)) - start

	if flags&trunSampleSize == 0 {
		if count > 0 && defaultSize == 0 {
			return ByteRange{}, fmt.Errorf("%w: trun without sample sizes", ErrMalformed)
		}
		if defaultSize != 0 && count > avail/int64(defaultSize) {
			return ByteRange{}, fmt.Errorf("%w: trun of %d samples overruns file", ErrMalformed, count)
		}
		return ByteRange{Offset: start, Length: count * int64(defaultSize)}, nil
	}

	entry := 4 * bits.OnesCount32(flags&trunPerSampleFields)
	body := p[min(pos, len(p)):]
	if count > int64(len(body)/entry) {
		return ByteRange{}, fmt.Errorf("%w: trun declares %d samples", ErrMalformed, count)
	}
	// Per-sample fields are ordered duration, size, flags, composition offset.
	sizeAt := 0
	if flags&trunSampleDuration != 0 {
		sizeAt = 4
	}
	var length int64
	for i := int64(0); i < count; i++ {
		length += int64(binary.BigEndian.Uint32(body[int(i)*entry+sizeAt:]))
		if length > avail {
			return ByteRange{}, fmt.Errorf("%w: trun data at %d+%d outside file", ErrMalformed, start, length)
		}
	}
	return ByteRange{Offset: start, Length: length}, nil
}
