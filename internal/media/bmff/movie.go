package bmff

import (
	"encoding/binary"
	"fmt"
)

// Movie summarizes the playback-relevant structure of a moov box.
type Movie struct {
	Timescale        uint32
	Duration         uint64
	CreationTime     uint64
	ModificationTime uint64
	Tracks           []Track
}

// Track summarizes one trak box.
type Track struct {
	ID               uint32
	Handler          string
	HandlerName      string
	Timescale        uint32
	Duration         uint64
	MediaDuration    uint64
	CreationTime     uint64
	ModificationTime uint64
	Box              *Box
}

// IsTimedMetadata reports whether the track carries timed metadata samples
// (location, device motion, camera state) rather than audio or video.
func (t Track) IsTimedMetadata() bool {
	return t.Handler == "meta" || t.Handler == "mdta"
}

// DurationSeconds returns the movie duration in seconds.
func (m Movie) DurationSeconds() float64 {
	if m.Timescale == 0 {
		return 0
	}
	return float64(m.Duration) / float64(m.Timescale)
}

// ReadMovie parses data and summarizes its moov box.
func ReadMovie(data []byte) (Movie, []*Box, error) {
	boxes, err := Parse(data)
	if err != nil {
		return Movie{}, nil, err
	}
	moov := Top(boxes, "moov")
	if moov == nil {
		return Movie{}, boxes, fmt.Errorf("%w: no moov box", ErrMalformed)
	}
	movie, err := SummarizeMovie(data, moov)
	return movie, boxes, err
}

// SummarizeMovie extracts header fields of moov and its tracks.
func SummarizeMovie(data []byte, moov *Box) (Movie, error) {
	var movie Movie
	mvhd := moov.Child("mvhd")
	if mvhd == nil {
		return movie, fmt.Errorf("%w: moov without mvhd", ErrMalformed)
	}
	times, err := ReadMediaHeader(data, mvhd)
	if err != nil {
		return movie, err
	}
	movie.CreationTime = times.Creation
	movie.ModificationTime = times.Modification
	movie.Timescale = times.Timescale
	movie.Duration = times.Duration

	for _, trak := range moov.ChildrenOf("trak") {
		track, err := summarizeTrack(data, trak)
		if err != nil {
			return movie, err
		}
		movie.Tracks = append(movie.Tracks, track)
	}
	return movie, nil
}

func summarizeTrack(data []byte, trak *Box) (Track, error) {
	track := Track{Box: trak}
	tkhd := trak.Child("tkhd")
	if tkhd == nil {
		return track, fmt.Errorf("%w: trak without tkhd", ErrMalformed)
	}
	th, err := ReadTrackHeader(data, tkhd)
	if err != nil {
		return track, err
	}
	track.ID = th.TrackID
	track.Duration = th.Duration
	track.CreationTime = th.Creation
	track.ModificationTime = th.Modification

	if mdhd := trak.Find("mdia", "mdhd"); mdhd != nil {
		mh, err := ReadMediaHeader(data, mdhd)
		if err != nil {
			return track, err
		}
		track.Timescale = mh.Timescale
		track.MediaDuration = mh.Duration
		if track.CreationTime == 0 {
			track.CreationTime = mh.Creation
		}
		if track.ModificationTime == 0 {
			track.ModificationTime = mh.Modification
		}
	}
	if hdlr := trak.Find("mdia", "hdlr"); hdlr != nil {
		track.Handler, track.HandlerName = ReadHandler(data, hdlr)
	}
	return track, nil
}

// MediaHeader holds the common fields of mvhd and mdhd.
type MediaHeader struct {
	Version      uint8
	Creation     uint64
	Modification uint64
	Timescale    uint32
	Duration     uint64
	// TimesOffset and TimesLen locate the creation and modification fields.
	TimesOffset int64
	TimesLen    int
}

// ReadMediaHeader decodes an mvhd or mdhd box.
func ReadMediaHeader(data []byte, b *Box) (MediaHeader, error) {
	payload := b.Payload(data)
	h := MediaHeader{TimesOffset: b.PayloadOffset() + 4}
	if len(payload) < 4 {
		return h, fmt.Errorf("%w: %s too short", ErrMalformed, b.Type)
	}
	h.Version = payload[0]
	body := payload[4:]
	switch h.Version {
	case 1:
		if len(body) < 28 {
			return h, fmt.Errorf("%w: %s v1 too short", ErrMalformed, b.Type)
		}
		h.Creation = binary.BigEndian.Uint64(body[0:])
		h.Modification = binary.BigEndian.Uint64(body[8:])
		h.Timescale = binary.BigEndian.Uint32(body[16:])
		h.Duration = binary.BigEndian.Uint64(body[20:])
		h.TimesLen = 16
	default:
		if len(body) < 16 {
			return h, fmt.Errorf("%w: %s v0 too short", ErrMalformed, b.Type)
		}
		h.Creation = uint64(binary.BigEndian.Uint32(body[0:]))
		h.Modification = uint64(binary.BigEndian.Uint32(body[4:]))
		h.Timescale = binary.BigEndian.Uint32(body[8:])
		h.Duration = uint64(binary.BigEndian.Uint32(body[12:]))
		h.TimesLen = 8
	}
	return h, nil
}

// TrackHeader holds the fields of tkhd used by the stripper.
type TrackHeader struct {
	Version      uint8
	Creation     uint64
	Modification uint64
	TrackID      uint32
	Duration     uint64
	TimesOffset  int64
	TimesLen     int
}

// ReadTrackHeader decodes a tkhd box.
func ReadTrackHeader(data []byte, b *Box) (TrackHeader, error) {
	payload := b.Payload(data)
	h := TrackHeader{TimesOffset: b.PayloadOffset() + 4}
	if len(payload) < 4 {
		return h, fmt.Errorf("%w: tkhd too short", ErrMalformed)
	}
	h.Version = payload[0]
	body := payload[4:]
	switch h.Version {
	case 1:
		if len(body) < 32 {
			return h, fmt.Errorf("%w: tkhd v1 too short", ErrMalformed)
		}
		h.Creation = binary.BigEndian.Uint64(body[0:])
		h.Modification = binary.BigEndian.Uint64(body[8:])
		h.TrackID = binary.BigEndian.Uint32(body[16:])
		h.Duration = binary.BigEndian.Uint64(body[24:])
		h.TimesLen = 16
	default:
		if len(body) < 20 {
			return h, fmt.Errorf("%w: tkhd v0 too short", ErrMalformed)
		}
		h.Creation = uint64(binary.BigEndian.Uint32(body[0:]))
		h.Modification = uint64(binary.BigEndian.Uint32(body[4:]))
		h.TrackID = binary.BigEndian.Uint32(body[8:])
		h.Duration = uint64(binary.BigEndian.Uint32(body[16:]))
		h.TimesLen = 8
	}
	return h, nil
}

// ReadHandler returns the handler type and name of an hdlr box.
func ReadHandler(data []byte, b *Box) (handler, name string) {
	payload := b.Payload(data)
	if len(payload) < 12 {
		return "", ""
	}
	handler = string(payload[8:12])
	if len(payload) > 24 {
		raw := payload[24:]
		for i, c := range raw {
			if c == 0 {
				raw = raw[:i]
				break
			}
		}
		name = string(raw)
	}
	return handler, name
}
