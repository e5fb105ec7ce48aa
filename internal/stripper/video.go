package stripper

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"kloak/internal/logging"
	"kloak/internal/media"
	"kloak/internal/media/bmff"
	"kloak/internal/media/container"
)

// copyChunk is the unit of output written between cancellation checks.
const copyChunk = 1 << 20

// StripVideo starts an asynchronous remux of blob into target and returns its
// handle immediately. The export is already Running when returned; cancelling
// ctx or calling Cancel ends it in the Cancelled state.
func (s *Stripper) StripVideo(ctx context.Context, blob container.Blob, target container.Kind) *Export {
	data := blob.Data
	export := newExport(ctx, int64(len(data)), s.logger, func(ctx context.Context, progress func(int64)) (Result, error) {
		return s.remux(ctx, data, target, progress)
	})
	export.start()
	return export
}

func (s *Stripper) remux(ctx context.Context, data []byte, target container.Kind, progress func(int64)) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, media.Wrap(media.ErrCancelled, "video", "plan", "", err)
	}
	if target != container.Mp4Mov {
		return Result{}, media.Wrap(media.ErrExport, "video", "plan", fmt.Sprintf("unsupported output container %s", target), nil)
	}
	plan, err := planRemux(ctx, data)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, media.Wrap(media.ErrCancelled, "video", "plan", "", err)
	}
	s.logger.Debug("remux planned",
		logging.Int("patches", len(plan.patches)),
		logging.Int("blanked_boxes", plan.blankedBoxes),
		logging.Int("kept_tracks", plan.keptTracks),
		logging.Int("dropped_tracks", plan.droppedTracks),
		logging.Bool("ftyp_added", len(plan.prefix) > 0),
	)

	f, err := s.scratch.Create(target.Extension())
	if err != nil {
		return Result{}, media.Wrap(media.ErrExport, "video", "create scratch", "", err)
	}
	path := f.Name()
	defer func() {
		if err := s.scratch.Release(path); err != nil {
			s.logger.Warn("scratch release failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "scratch_release_failed"),
				logging.String(logging.FieldErrorHint, "remove leftover files from the scratch directory"),
			)
		}
	}()

	writeErr := writePatched(ctx, f, data, plan, progress)
	closeErr := f.Close()
	if writeErr != nil {
		if errors.Is(writeErr, context.Canceled) || errors.Is(writeErr, context.DeadlineExceeded) {
			return Result{}, media.Wrap(media.ErrCancelled, "video", "write", "", writeErr)
		}
		return Result{}, media.Wrap(media.ErrExport, "video", "write", "", writeErr)
	}
	if closeErr != nil {
		return Result{}, media.Wrap(media.ErrExport, "video", "write", "", closeErr)
	}

	if err := ctx.Err(); err != nil {
		return Result{}, media.Wrap(media.ErrCancelled, "video", "finalize", "", err)
	}
	out, err := os.ReadFile(path)
	if err != nil {
		return Result{}, media.Wrap(media.ErrExport, "video", "read back", "", err)
	}
	return Result{Output: out, Kind: container.Mp4Mov}, nil
}

// patch overwrites input bytes starting at offset. A nil data patch writes
// zeros for length bytes.
type patch struct {
	offset int64
	data   []byte
	length int64
}

func (p patch) end() int64 {
	if p.data != nil {
		return p.offset + int64(len(p.data))
	}
	return p.offset + p.length
}

type remuxPlan struct {
	prefix        []byte
	patches       []patch
	blankedBoxes  int
	blanked       map[*bmff.Box]bool
	keptTracks    int
	droppedTracks int
}

func (p *remuxPlan) write(offset int64, data []byte) {
	p.patches = append(p.patches, patch{offset: offset, data: data})
}

func (p *remuxPlan) zero(offset, length int64) {
	if length > 0 {
		p.patches = append(p.patches, patch{offset: offset, length: length})
	}
}

// blank turns b into a free box of the same size with a zeroed body.
func (p *remuxPlan) blank(b *bmff.Box) {
	header := make([]byte, 8, 16)
	if b.ToEOF {
		binary.BigEndian.PutUint32(header, 0)
	} else if b.Size > math.MaxUint32 || isLargeHeader(b) {
		binary.BigEndian.PutUint32(header, 1)
		header = binary.BigEndian.AppendUint64(header, uint64(b.Size))
	} else {
		binary.BigEndian.PutUint32(header, uint32(b.Size))
	}
	copy(header[4:8], "free")
	p.write(b.Offset, header)
	p.zero(b.Offset+int64(len(header)), b.Size-int64(len(header)))
	p.blankedBoxes++
	if p.blanked == nil {
		p.blanked = make(map[*bmff.Box]bool)
	}
	p.blanked[b] = true
}

func isLargeHeader(b *bmff.Box) bool {
	if b.Type == "uuid" {
		return b.HeaderSize == 32
	}
	return b.HeaderSize == 16
}

// planRemux computes the edits that remove every non-required metadata item
// from a movie while leaving sample data where it is.
func planRemux(ctx context.Context, data []byte) (*remuxPlan, error) {
	boxes, err := bmff.Parse(data)
	if err != nil {
		return nil, media.Wrap(media.ErrDecode, "video", "parse", "", err)
	}
	moov := bmff.Top(boxes, "moov")
	if moov == nil {
		return nil, media.Wrap(media.ErrDecode, "video", "parse", "no moov box", nil)
	}
	movie, err := bmff.SummarizeMovie(data, moov)
	if err != nil {
		return nil, media.Wrap(media.ErrDecode, "video", "parse", "", err)
	}

	plan := &remuxPlan{}
	timed := make(map[uint32]bool)
	for _, track := range movie.Tracks {
		if track.IsTimedMetadata() {
			timed[track.ID] = true
			plan.droppedTracks++
		} else {
			plan.keptTracks++
		}
	}
	if plan.keptTracks == 0 {
		return nil, media.Wrap(media.ErrDecode, "video", "parse", "no audio or video tracks", nil)
	}

	for _, b := range boxes {
		switch b.Type {
		case "udta", "meta", "uuid":
			plan.blank(b)
		}
	}
	for _, b := range moov.Children {
		switch b.Type {
		case "udta", "meta", "uuid":
			plan.blank(b)
		}
	}

	mvhd, err := bmff.ReadMediaHeader(data, moov.Child("mvhd"))
	if err != nil {
		return nil, media.Wrap(media.ErrDecode, "video", "parse", "", err)
	}
	plan.zero(mvhd.TimesOffset, int64(mvhd.TimesLen))

	for _, track := range movie.Tracks {
		if err := ctx.Err(); err != nil {
			return nil, media.Wrap(media.ErrCancelled, "video", "plan", "", err)
		}
		if track.IsTimedMetadata() {
			ranges, err := bmff.ChunkRanges(data, track.Box)
			if err != nil {
				return nil, media.Wrap(media.ErrDecode, "video", "parse", fmt.Sprintf("track %d samples", track.ID), err)
			}
			for _, r := range ranges {
				plan.zero(r.Offset, r.Length)
			}
			plan.blank(track.Box)
			continue
		}
		if err := plan.scrubTrack(data, track.Box); err != nil {
			return nil, err
		}
	}

	if err := plan.scrubFragments(ctx, data, boxes, moov, timed); err != nil {
		return nil, err
	}

	if ftyp := bmff.Top(boxes, "ftyp"); ftyp != nil {
		plan.rewriteBrands(ftyp)
	} else {
		plan.prefix = mp4Ftyp()
		if err := plan.shiftOffsets(data, boxes, int64(len(plan.prefix))); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

func (p *remuxPlan) scrubTrack(data []byte, trak *bmff.Box) error {
	if tkhd := trak.Child("tkhd"); tkhd != nil {
		th, err := bmff.ReadTrackHeader(data, tkhd)
		if err != nil {
			return media.Wrap(media.ErrDecode, "video", "parse", "", err)
		}
		p.zero(th.TimesOffset, int64(th.TimesLen))
	}
	if mdhd := trak.Find("mdia", "mdhd"); mdhd != nil {
		mh, err := bmff.ReadMediaHeader(data, mdhd)
		if err != nil {
			return media.Wrap(media.ErrDecode, "video", "parse", "", err)
		}
		p.zero(mh.TimesOffset, int64(mh.TimesLen))
	}
	trak.Walk(func(b *bmff.Box) bool {
		switch b.Type {
		case "udta", "meta", "uuid":
			p.blank(b)
			return false
		}
		return true
	})
	return nil
}

// scrubFragments removes timed-metadata track fragments and their samples
// from every moof, and blanks user data carried inside fragments.
func (p *remuxPlan) scrubFragments(ctx context.Context, data []byte, boxes []*bmff.Box, moov *bmff.Box, timed map[uint32]bool) error {
	if mvex := moov.Child("mvex"); mvex != nil {
		for _, trex := range mvex.ChildrenOf("trex") {
			if timed[bmff.BoxTrackID(data, trex)] {
				p.blank(trex)
			}
		}
	}
	defaults := bmff.TrackExtends(data, moov)
	for _, b := range boxes {
		switch b.Type {
		case "moof":
		case "mfra":
			for _, tfra := range b.ChildrenOf("tfra") {
				if timed[bmff.BoxTrackID(data, tfra)] {
					p.blank(tfra)
				}
			}
			continue
		default:
			continue
		}
		if err := ctx.Err(); err != nil {
			return media.Wrap(media.ErrCancelled, "video", "plan", "", err)
		}
		frags, err := bmff.FragmentRanges(data, b, defaults)
		if err != nil {
			return media.Wrap(media.ErrDecode, "video", "parse", "movie fragment", err)
		}
		removed := false
		for _, frag := range frags {
			if frag.ChainedBase && removed {
				return media.Wrap(media.ErrDecode, "video", "parse",
					fmt.Sprintf("track %d fragment data follows a removed track", frag.TrackID), nil)
			}
			if !timed[frag.TrackID] {
				continue
			}
			for _, r := range frag.Samples {
				p.zero(r.Offset, r.Length)
			}
			p.blank(frag.Box)
			removed = true
		}
		b.Walk(func(c *bmff.Box) bool {
			if p.blanked[c] {
				return false
			}
			switch c.Type {
			case "udta", "meta", "uuid":
				p.blank(c)
				return false
			}
			return true
		})
	}
	return nil
}

var outputBrands = []string{"isom", "mp42", "mp41"}

// rewriteBrands declares the output as MP4 without resizing ftyp.
func (p *remuxPlan) rewriteBrands(ftyp *bmff.Box) {
	n := ftyp.Size - int64(ftyp.HeaderSize)
	if n < 8 {
		return
	}
	body := make([]byte, 8, n)
	copy(body, "mp42")
	for i := int64(0); i < (n-8)/4; i++ {
		body = append(body, outputBrands[i%int64(len(outputBrands))]...)
	}
	p.write(ftyp.PayloadOffset(), body)
}

func mp4Ftyp() []byte {
	out := binary.BigEndian.AppendUint32(nil, 24)
	out = append(out, "ftypmp42"...)
	out = binary.BigEndian.AppendUint32(out, 0)
	return append(out, "isommp42"...)
}

// shiftOffsets moves every absolute file offset by delta to account for a
// prepended box.
func (p *remuxPlan) shiftOffsets(data []byte, boxes []*bmff.Box, delta int64) error {
	var shiftErr error
	visit := func(b *bmff.Box) bool {
		if shiftErr != nil || p.blanked[b] {
			return false
		}
		switch b.Type {
		case "stco", "co64":
			shiftErr = p.shiftChunkOffsets(data, b, delta)
		case "tfhd":
			shiftErr = p.shiftBaseDataOffset(data, b, delta)
		}
		return true
	}
	for _, b := range boxes {
		b.Walk(visit)
	}
	return shiftErr
}

func (p *remuxPlan) shiftChunkOffsets(data []byte, b *bmff.Box, delta int64) error {
	payload := b.Payload(data)
	if len(payload) < 8 {
		return media.Wrap(media.ErrDecode, "video", "shift offsets", b.Type+" too short", nil)
	}
	width := 4
	if b.Type == "co64" {
		width = 8
	}
	count := int(binary.BigEndian.Uint32(payload[4:]))
	body := payload[8:]
	if count > len(body)/width {
		return media.Wrap(media.ErrDecode, "video", "shift offsets", fmt.Sprintf("%s declares %d entries", b.Type, count), nil)
	}
	shifted := make([]byte, count*width)
	for i := 0; i < count; i++ {
		if width == 4 {
			v := uint64(binary.BigEndian.Uint32(body[i*4:])) + uint64(delta)
			if v > math.MaxUint32 {
				return media.Wrap(media.ErrExport, "video", "shift offsets", "chunk offset overflows stco; file too large to prefix", nil)
			}
			binary.BigEndian.PutUint32(shifted[i*4:], uint32(v))
			continue
		}
		binary.BigEndian.PutUint64(shifted[i*8:], binary.BigEndian.Uint64(body[i*8:])+uint64(delta))
	}
	p.write(b.PayloadOffset()+8, shifted)
	return nil
}

const tfhdBaseDataOffsetPresent = 0x000001

func (p *remuxPlan) shiftBaseDataOffset(data []byte, b *bmff.Box, delta int64) error {
	_, flags, err := bmff.FullBoxHeader(data, b)
	if err != nil {
		return media.Wrap(media.ErrDecode, "video", "shift offsets", "", err)
	}
	if flags&tfhdBaseDataOffsetPresent == 0 {
		return nil
	}
	payload := b.Payload(data)
	// version/flags, track_ID, base_data_offset
	if len(payload) < 16 {
		return media.Wrap(media.ErrDecode, "video", "shift offsets", "tfhd too short", nil)
	}
	v := binary.BigEndian.Uint64(payload[8:]) + uint64(delta)
	p.write(b.PayloadOffset()+8, binary.BigEndian.AppendUint64(nil, v))
	return nil
}

// writePatched streams data with the plan applied, checking ctx between
// chunks.
func writePatched(ctx context.Context, w io.Writer, data []byte, plan *remuxPlan, progress func(int64)) error {
	var written int64
	if len(plan.prefix) > 0 {
		if _, err := w.Write(plan.prefix); err != nil {
			return err
		}
		written += int64(len(plan.prefix))
	}
	buf := make([]byte, copyChunk)
	for start := 0; start < len(data); start += copyChunk {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+copyChunk, len(data))
		chunk := buf[:end-start]
		copy(chunk, data[start:end])
		for _, pt := range plan.patches {
			applyPatch(chunk, int64(start), pt)
		}
		if _, err := w.Write(chunk); err != nil {
			return err
		}
		written += int64(len(chunk))
		if progress != nil {
			progress(written)
		}
	}
	return nil
}

func applyPatch(chunk []byte, base int64, pt patch) {
	lo := max(pt.offset, base)
	hi := min(pt.end(), base+int64(len(chunk)))
	if lo >= hi {
		return
	}
	dst := chunk[lo-base : hi-base]
	if pt.data == nil {
		clear(dst)
		return
	}
	copy(dst, pt.data[lo-pt.offset:hi-pt.offset])
}
