package bmff

import (
	"encoding/binary"
	"fmt"
)

// ByteRange is a half-open span [Offset, Offset+Length) of the file.
type ByteRange struct {
	Offset int64
	Length int64
}

// ChunkOffsets locates the stco or co64 box of a track and decodes it.
func ChunkOffsets(data []byte, trak *Box) (*Box, []uint64, error) {
	stbl := trak.Find("mdia", "minf", "stbl")
	if stbl == nil {
		return nil, nil, fmt.Errorf("%w: trak without stbl", ErrMalformed)
	}
	if stco := stbl.Child("stco"); stco != nil {
		offsets, err := readOffsets(data, stco, 4)
		return stco, offsets, err
	}
	if co64 := stbl.Child("co64"); co64 != nil {
		offsets, err := readOffsets(data, co64, 8)
		return co64, offsets, err
	}
	return nil, nil, nil
}

func readOffsets(data []byte, b *Box, width int) ([]uint64, error) {
	payload := b.Payload(data)
	if len(payload) < 8 {
		return nil, fmt.Errorf("%w: %s too short", ErrMalformed, b.Type)
	}
	count := int(binary.BigEndian.Uint32(payload[4:]))
	body := payload[8:]
	if count < 0 || count > len(body)/width {
		return nil, fmt.Errorf("%w: %s declares %d entries", ErrMalformed, b.Type, count)
	}
	out := make([]uint64, count)
	for i := range out {
		if width == 4 {
			out[i] = uint64(binary.BigEndian.Uint32(body[i*4:]))
		} else {
			out[i] = binary.BigEndian.Uint64(body[i*8:])
		}
	}
	return out, nil
}

type stscEntry struct {
	firstChunk      uint32
	samplesPerChunk uint32
}

// ChunkRanges computes the byte range of every chunk of a track from its
// sample-to-chunk, sample size, and chunk offset tables.
func ChunkRanges(data []byte, trak *Box) ([]ByteRange, error) {
	stbl := trak.Find("mdia", "minf", "stbl")
	if stbl == nil {
		return nil, fmt.Errorf("%w: trak without stbl", ErrMalformed)
	}
	_, offsets, err := ChunkOffsets(data, trak)
	if err != nil {
		return nil, err
	}
	if len(offsets) == 0 {
		return nil, nil
	}

	stsc := stbl.Child("stsc")
	stsz := stbl.Child("stsz")
	if stsc == nil || stsz == nil {
		return nil, fmt.Errorf("%w: sample table missing stsc or stsz", ErrMalformed)
	}
	runs, err := readStsc(data, stsc)
	if err != nil {
		return nil, err
	}
	constant, sizes, count, err := readStsz(data, stsz)
	if err != nil {
		return nil, err
	}

	ranges := make([]ByteRange, 0, len(offsets))
	sample := 0
	run := 0
	perChunk := uint32(0)
	for i, off := range offsets {
		chunk := uint32(i + 1)
		for run < len(runs) && runs[run].firstChunk <= chunk {
			perChunk = runs[run].samplesPerChunk
			run++
		}
		if off > uint64(len(data)) {
			return nil, fmt.Errorf("%w: chunk %d at %d outside file", ErrMalformed, chunk, off)
		}
		avail := int64(len(data)) - int64(off)
		n := min(int64(perChunk), int64(count-sample))
		var length int64
		if constant != 0 {
			if n > avail/int64(constant) {
				return nil, fmt.Errorf("%w: chunk %d of %d samples overruns file", ErrMalformed, chunk, n)
			}
			length = n * int64(constant)
			sample += int(n)
		} else {
			for ; n > 0; n-- {
				length += int64(sizes[sample])
				sample++
				if length > avail {
					return nil, fmt.Errorf("%w: chunk %d at %d+%d outside file", ErrMalformed, chunk, off, length)
				}
			}
		}
		ranges = append(ranges, ByteRange{Offset: int64(off), Length: length})
	}
	return ranges, nil
}

func readStsc(data []byte, b *Box) ([]stscEntry, error) {
	payload := b.Payload(data)
	if len(payload) < 8 {
		return nil, fmt.Errorf("%w: stsc too short", ErrMalformed)
	}
	count := int(binary.BigEndian.Uint32(payload[4:]))
	body := payload[8:]
	if count > len(body)/12 {
		return nil, fmt.Errorf("%w: stsc declares %d entries", ErrMalformed, count)
	}
	out := make([]stscEntry, count)
	for i := range out {
		out[i] = stscEntry{
			firstChunk:      binary.BigEndian.Uint32(body[i*12:]),
			samplesPerChunk: binary.BigEndian.Uint32(body[i*12+4:]),
		}
	}
	return out, nil
}

func readStsz(data []byte, b *Box) (constant uint32, sizes []uint32, count int, err error) {
	payload := b.Payload(data)
	if len(payload) < 12 {
		return 0, nil, 0, fmt.Errorf("%w: stsz too short", ErrMalformed)
	}
	constant = binary.BigEndian.Uint32(payload[4:])
	count = int(binary.BigEndian.Uint32(payload[8:]))
	if constant != 0 {
		return constant, nil, count, nil
	}
	body := payload[12:]
	if count > len(body)/4 {
		return 0, nil, 0, fmt.Errorf("%w: stsz declares %d entries", ErrMalformed, count)
	}
	sizes = make([]uint32, count)
	for i := range sizes {
		sizes[i] = binary.BigEndian.Uint32(body[i*4:])
	}
	return 0, sizes, count, nil
}
