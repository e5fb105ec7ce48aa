package stripper_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"kloak/internal/media"
	"kloak/internal/media/bmff"
	"kloak/internal/media/container"
	"kloak/internal/media/metascan"
	"kloak/internal/stripper"
	"kloak/internal/testsupport"
)

func stripMovie(t *testing.T, s *stripper.Stripper, input []byte) stripper.Result {
	t.Helper()
	blob, err := container.Classify(input)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if blob.Kind != container.Mp4Mov {
		t.Fatalf("expected movie, got %s", blob.Kind)
	}
	export := s.StripVideo(context.Background(), blob, container.Mp4Mov)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := export.Wait(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if export.State() != stripper.StateCompleted {
		t.Fatalf("expected completed, got %s", export.State())
	}
	return result
}

func trackSamples(t *testing.T, data []byte, track bmff.Track) []byte {
	t.Helper()
	ranges, err := bmff.ChunkRanges(data, track.Box)
	if err != nil {
		t.Fatalf("ChunkRanges: %v", err)
	}
	var out []byte
	for _, r := range ranges {
		out = append(out, data[r.Offset:r.Offset+r.Length]...)
	}
	return out
}

func TestStripVideoRemovesMetadata(t *testing.T) {
	s, dir := newStripper(t, nil)
	input := testsupport.BuildMovie(testsupport.MovieOptions{Metadata: true})
	original := bytes.Clone(input)

	result := stripMovie(t, s, input)
	if result.Kind != container.Mp4Mov {
		t.Fatalf("expected mp4 output, got %s", result.Kind)
	}
	if !bytes.Equal(input, original) {
		t.Fatal("input was modified")
	}
	if len(result.Output) != len(input) {
		t.Fatalf("in-place remux changed size: %d -> %d", len(input), len(result.Output))
	}

	report, err := metascan.Scan(result.Output)
	if err != nil {
		t.Fatalf("scan output: %v", err)
	}
	if !report.Clean() {
		t.Fatalf("expected only required items, got %+v", report.Removable())
	}
	for _, secret := range []string{testsupport.GPSSample, testsupport.FixtureDeviceModel, "Example Corp", "Birthday party"} {
		if bytes.Contains(result.Output, []byte(secret)) {
			t.Fatalf("%q survived in output bytes", secret)
		}
	}

	before, _, err := bmff.ReadMovie(input)
	if err != nil {
		t.Fatalf("read input: %v", err)
	}
	after, _, err := bmff.ReadMovie(result.Output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if after.Duration != before.Duration || after.Timescale != before.Timescale {
		t.Fatalf("movie timing changed: %d/%d -> %d/%d", before.Duration, before.Timescale, after.Duration, after.Timescale)
	}
	if after.CreationTime != 0 || after.ModificationTime != 0 {
		t.Fatal("movie timestamps were not cleared")
	}

	var mediaTracks []bmff.Track
	for _, tr := range before.Tracks {
		if !tr.IsTimedMetadata() {
			mediaTracks = append(mediaTracks, tr)
		}
	}
	if len(after.Tracks) != len(mediaTracks) {
		t.Fatalf("expected %d media tracks, got %d", len(mediaTracks), len(after.Tracks))
	}
	for i, tr := range after.Tracks {
		want := mediaTracks[i]
		if tr.ID != want.ID || tr.Handler != want.Handler || tr.Duration != want.Duration || tr.MediaDuration != want.MediaDuration {
			t.Fatalf("track %d changed: %+v -> %+v", i, want, tr)
		}
		if tr.CreationTime != 0 {
			t.Fatalf("track %d creation time not cleared", tr.ID)
		}
		if !bytes.Equal(trackSamples(t, input, want), trackSamples(t, result.Output, tr)) {
			t.Fatalf("track %d sample data changed", tr.ID)
		}
	}
	assertScratchEmpty(t, dir)
}

func TestStripVideoPrependsMissingFtyp(t *testing.T) {
	s, _ := newStripper(t, nil)
	input := testsupport.BuildMovie(testsupport.MovieOptions{OmitFtyp: true})

	result := stripMovie(t, s, input)
	if string(result.Output[4:8]) != "ftyp" || string(result.Output[8:12]) != "mp42" {
		t.Fatalf("expected mp42 ftyp prefix, got %q", result.Output[:16])
	}
	if len(result.Output) != len(input)+24 {
		t.Fatalf("expected 24 byte prefix, got %d -> %d", len(input), len(result.Output))
	}

	before, _, err := bmff.ReadMovie(input)
	if err != nil {
		t.Fatalf("read input: %v", err)
	}
	after, _, err := bmff.ReadMovie(result.Output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	for i := range after.Tracks {
		if !bytes.Equal(trackSamples(t, input, before.Tracks[i]), trackSamples(t, result.Output, after.Tracks[i])) {
			t.Fatalf("track %d samples not found at shifted offsets", after.Tracks[i].ID)
		}
	}
}

func TestStripVideoRewritesQuickTimeBrand(t *testing.T) {
	s, _ := newStripper(t, nil)
	input := testsupport.BuildMovie(testsupport.MovieOptions{MajorBrand: "qt  ", Metadata: true})

	result := stripMovie(t, s, input)
	if got := string(result.Output[8:12]); got != "mp42" {
		t.Fatalf("expected major brand mp42, got %q", got)
	}
	if bytes.Contains(result.Output[:32], []byte("qt  ")) {
		t.Fatal("QuickTime brand survived in ftyp")
	}
}

func TestStripVideoWithoutMoovFails(t *testing.T) {
	s, dir := newStripper(t, nil)
	input := append(
		testsupport.Box("ftyp", []byte("isom"), testsupport.U32(0), []byte("isom")),
		testsupport.Box("mdat", bytes.Repeat([]byte{0x01}, 64))...,
	)
	_, err := s.StripBytes(context.Background(), input)
	if !errors.Is(err, media.ErrDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}
	assertScratchEmpty(t, dir)
}

func TestStripVideoCancelledContext(t *testing.T) {
	s, dir := newStripper(t, nil)
	blob, err := container.Classify(testsupport.BuildMovie(testsupport.MovieOptions{Metadata: true}))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	export := s.StripVideo(ctx, blob, container.Mp4Mov)
	<-export.Done()
	result, err := export.Wait(context.Background())
	if !errors.Is(err, media.ErrCancelled) {
		t.Fatalf("expected cancelled, got %v", err)
	}
	if export.State() != stripper.StateCancelled || result.Output != nil {
		t.Fatalf("unexpected terminal state %s", export.State())
	}
	if media.UserMessage(err) == media.UserMessage(media.ErrExport) {
		t.Fatal("cancellation should not read as an export failure")
	}
	assertScratchEmpty(t, dir)
}

func TestStripDispatchesVideoStrategy(t *testing.T) {
	s, _ := newStripper(t, nil)
	result, err := s.StripBytes(context.Background(), testsupport.BuildMovie(testsupport.MovieOptions{Metadata: true}))
	if err != nil {
		t.Fatalf("StripBytes: %v", err)
	}
	report, err := metascan.Scan(result.Output)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !report.Clean() {
		t.Fatalf("expected clean output, got %+v", report.Removable())
	}
}

func TestStripVideoRemovesFragmentedTimedMetadata(t *testing.T) {
	s, dir := newStripper(t, nil)
	input := testsupport.BuildFragmentedMovie(testsupport.MovieOptions{Metadata: true})

	inputReport, err := metascan.Scan(input)
	if err != nil {
		t.Fatalf("scan input: %v", err)
	}
	if !inputReport.Has("timed_metadata_fragment") {
		t.Fatalf("expected fragment samples in input report, got %+v", inputReport.Items)
	}

	result := stripMovie(t, s, input)
	if bytes.Contains(result.Output, []byte(testsupport.GPSSample)) {
		t.Fatal("fragment GPS samples survived in output bytes")
	}
	report, err := metascan.Scan(result.Output)
	if err != nil {
		t.Fatalf("scan output: %v", err)
	}
	if !report.Clean() {
		t.Fatalf("expected only required items, got %+v", report.Removable())
	}

	boxes, err := bmff.Parse(result.Output)
	if err != nil {
		t.Fatalf("parse output: %v", err)
	}
	frags, err := bmff.FragmentRanges(result.Output, bmff.Top(boxes, "moof"), nil)
	if err != nil {
		t.Fatalf("FragmentRanges: %v", err)
	}
	if len(frags) != 1 || frags[0].TrackID != 1 || len(frags[0].Samples) != 1 {
		t.Fatalf("expected only the video fragment to remain, got %+v", frags)
	}
	video := frags[0].Samples[0]
	if !bytes.Equal(result.Output[video.Offset:video.Offset+video.Length], bytes.Repeat([]byte{0xA1}, testsupport.VideoSampleSize)) {
		t.Fatal("video fragment samples changed")
	}
	assertScratchEmpty(t, dir)
}
