package bmff_test

import (
	"errors"
	"testing"
	"time"

	"kloak/internal/media/bmff"
	"kloak/internal/testsupport"
)

func TestReadMovieSummarizesTracks(t *testing.T) {
	data := testsupport.BuildMovie(testsupport.MovieOptions{Metadata: true})

	movie, boxes, err := bmff.ReadMovie(data)
	if err != nil {
		t.Fatalf("ReadMovie: %v", err)
	}
	if got := []string{boxes[0].Type, boxes[1].Type, boxes[2].Type, boxes[3].Type}; got[0] != "ftyp" || got[1] != "uuid" || got[2] != "moov" || got[3] != "mdat" {
		t.Fatalf("unexpected top-level layout %v", got)
	}
	if movie.Timescale != testsupport.MovieTimescale || movie.Duration != testsupport.MovieDuration {
		t.Fatalf("unexpected movie timing %d/%d", movie.Duration, movie.Timescale)
	}
	if movie.DurationSeconds() != 5 {
		t.Fatalf("expected 5s duration, got %v", movie.DurationSeconds())
	}
	if movie.CreationTime != testsupport.MovieCreationTime {
		t.Fatalf("unexpected creation time %d", movie.CreationTime)
	}
	if len(movie.Tracks) != 3 {
		t.Fatalf("expected 3 tracks, got %d", len(movie.Tracks))
	}
	handlers := []string{"vide", "soun", "mdta"}
	for i, track := range movie.Tracks {
		if track.ID != uint32(i+1) {
			t.Fatalf("track %d: unexpected id %d", i, track.ID)
		}
		if track.Handler != handlers[i] {
			t.Fatalf("track %d: handler %q, want %q", i, track.Handler, handlers[i])
		}
		if track.HandlerName != "Core Media" {
			t.Fatalf("track %d: handler name %q", i, track.HandlerName)
		}
		if track.Duration != testsupport.MovieDuration || track.MediaDuration != testsupport.MovieDuration {
			t.Fatalf("track %d: unexpected durations %d/%d", i, track.Duration, track.MediaDuration)
		}
	}
	if !movie.Tracks[2].IsTimedMetadata() || movie.Tracks[0].IsTimedMetadata() {
		t.Fatal("timed metadata detection mismatch")
	}
}

func TestParseDescendsQuickTimeAndISOMeta(t *testing.T) {
	data := testsupport.BuildMovie(testsupport.MovieOptions{Metadata: true})
	boxes, err := bmff.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	moov := bmff.Top(boxes, "moov")
	meta := moov.Child("meta")
	if meta == nil {
		t.Fatal("expected moov/meta")
	}
	if meta.Child("keys") == nil || meta.Child("ilst") == nil {
		t.Fatalf("expected QuickTime meta children, got %d children", len(meta.Children))
	}

	heic := testsupport.BuildHEIC()
	boxes, err = bmff.Parse(heic)
	if err != nil {
		t.Fatalf("Parse heic: %v", err)
	}
	iinf := bmff.Top(boxes, "meta").Child("iinf")
	if iinf == nil || len(iinf.ChildrenOf("infe")) != 2 {
		t.Fatal("expected two infe entries under ISO meta/iinf")
	}
}

func TestChunkRanges(t *testing.T) {
	data := testsupport.BuildMovie(testsupport.MovieOptions{Metadata: true})
	movie, _, err := bmff.ReadMovie(data)
	if err != nil {
		t.Fatalf("ReadMovie: %v", err)
	}
	ranges, err := bmff.ChunkRanges(data, movie.Tracks[2].Box)
	if err != nil {
		t.Fatalf("ChunkRanges: %v", err)
	}
	if len(ranges) != 1 {
		t.Fatalf("expected one chunk, got %d", len(ranges))
	}
	got := string(data[ranges[0].Offset : ranges[0].Offset+ranges[0].Length])
	if got != testsupport.GPSSample {
		t.Fatalf("chunk bytes %q, want %q", got, testsupport.GPSSample)
	}
}

func TestParseRejectsOverrunningBox(t *testing.T) {
	data := append(testsupport.U32(64), []byte("moov")...)
	data = append(data, make([]byte, 8)...)
	if _, err := bmff.Parse(data); !errors.Is(err, bmff.ErrMalformed) {
		t.Fatalf("expected malformed error, got %v", err)
	}
}

func TestParseLargeSizeAndToEOF(t *testing.T) {
	large := append(testsupport.U32(1), []byte("free")...)
	large = append(large, testsupport.U64(24)...)
	large = append(large, make([]byte, 8)...)
	tail := append(testsupport.U32(0), []byte("mdat")...)
	tail = append(tail, make([]byte, 12)...)
	data := append(large, tail...)

	boxes, err := bmff.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(boxes) != 2 {
		t.Fatalf("expected 2 boxes, got %d", len(boxes))
	}
	if boxes[0].HeaderSize != 16 || boxes[0].Size != 24 {
		t.Fatalf("unexpected large box header %d size %d", boxes[0].HeaderSize, boxes[0].Size)
	}
	if !boxes[1].ToEOF || boxes[1].End() != int64(len(data)) {
		t.Fatal("expected size-0 box to run to EOF")
	}
}

func TestOpaqueMetadataContainerDoesNotFailParse(t *testing.T) {
	udta := testsupport.Box("udta", []byte{0x00, 0x00, 0x00, 0xFF, 'j', 'u', 'n', 'k'})
	data := testsupport.Box("moov", udta)
	boxes, err := bmff.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if u := boxes[0].Child("udta"); u == nil || len(u.Children) != 0 {
		t.Fatal("expected udta kept as an opaque leaf")
	}
}

func TestChunkRangesRejectsHostileTablesPromptly(t *testing.T) {
	tests := []struct {
		name string
		stsc []byte
		stsz []byte
	}{
		{
			name: "constant size with huge counts",
			stsc: testsupport.FullBox("stsc", 0, 0, testsupport.U32(1), testsupport.U32(1), testsupport.U32(0xFFFFFFFF), testsupport.U32(1)),
			stsz: testsupport.FullBox("stsz", 0, 0, testsupport.U32(1), testsupport.U32(0xFFFFFFFF)),
		},
		{
			name: "oversized constant sample",
			stsc: testsupport.FullBox("stsc", 0, 0, testsupport.U32(1), testsupport.U32(1), testsupport.U32(1), testsupport.U32(1)),
			stsz: testsupport.FullBox("stsz", 0, 0, testsupport.U32(0xFFFFFFFF), testsupport.U32(1)),
		},
		{
			name: "variable sizes past end of file",
			stsc: testsupport.FullBox("stsc", 0, 0, testsupport.U32(1), testsupport.U32(1), testsupport.U32(0xFFFFFFFF), testsupport.U32(1)),
			stsz: testsupport.FullBox("stsz", 0, 0, testsupport.U32(0), testsupport.U32(2), testsupport.U32(64), testsupport.U32(64)),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := testsupport.Box("trak", testsupport.Box("mdia", testsupport.Box("minf", testsupport.Box("stbl",
				tt.stsc,
				tt.stsz,
				testsupport.FullBox("stco", 0, 0, testsupport.U32(1), testsupport.U32(0)),
			))))
			boxes, err := bmff.Parse(data)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			done := make(chan error, 1)
			go func() {
				_, err := bmff.ChunkRanges(data, boxes[0])
				done <- err
			}()
			select {
			case err := <-done:
				if !errors.Is(err, bmff.ErrMalformed) {
					t.Fatalf("expected malformed error, got %v", err)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("ChunkRanges did not return promptly")
			}
		})
	}
}

func TestFragmentRanges(t *testing.T) {
	data := testsupport.BuildFragmentedMovie(testsupport.MovieOptions{Metadata: true})
	boxes, err := bmff.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	moov := bmff.Top(boxes, "moov")
	defaults := bmff.TrackExtends(data, moov)
	if len(defaults) != 2 {
		t.Fatalf("expected trex defaults for two tracks, got %v", defaults)
	}
	frags, err := bmff.FragmentRanges(data, bmff.Top(boxes, "moof"), defaults)
	if err != nil {
		t.Fatalf("FragmentRanges: %v", err)
	}
	if len(frags) != 2 {
		t.Fatalf("expected two track fragments, got %d", len(frags))
	}
	if frags[0].TrackID != 1 || frags[1].TrackID != 2 {
		t.Fatalf("unexpected track ids %d, %d", frags[0].TrackID, frags[1].TrackID)
	}
	for _, frag := range frags {
		if frag.ChainedBase {
			t.Fatalf("track %d: expected moof-relative base", frag.TrackID)
		}
		if len(frag.Samples) != 1 {
			t.Fatalf("track %d: expected one run, got %d", frag.TrackID, len(frag.Samples))
		}
	}
	video := frags[0].Samples[0]
	if video.Length != testsupport.VideoSampleSize || data[video.Offset] != 0xA1 {
		t.Fatalf("unexpected video run %+v", video)
	}
	gps := frags[1].Samples[0]
	if got := string(data[gps.Offset : gps.Offset+gps.Length]); got != testsupport.GPSSample {
		t.Fatalf("timed metadata run %q, want %q", got, testsupport.GPSSample)
	}
}

func TestFragmentRangesRejectsOverrunningRun(t *testing.T) {
	moof := testsupport.Box("moof", testsupport.Box("traf",
		testsupport.FullBox("tfhd", 0, 0x020010, testsupport.U32(1), testsupport.U32(0xFFFFFFFF)),
		testsupport.FullBox("trun", 0, 0x000001, testsupport.U32(0xFFFFFFFF), testsupport.U32(0)),
	))
	boxes, err := bmff.Parse(moof)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := bmff.FragmentRanges(moof, boxes[0], nil); !errors.Is(err, bmff.ErrMalformed) {
		t.Fatalf("expected malformed error, got %v", err)
	}

	missing := testsupport.Box("moof", testsupport.Box("traf",
		testsupport.FullBox("tfhd", 0, 0x020000, testsupport.U32(1)),
		testsupport.FullBox("trun", 0, 0x000001, testsupport.U32(1), testsupport.U32(0)),
	))
	boxes, err = bmff.Parse(missing)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := bmff.FragmentRanges(missing, boxes[0], nil); !errors.Is(err, bmff.ErrMalformed) {
		t.Fatalf("expected malformed error without sample sizes, got %v", err)
	}
}
