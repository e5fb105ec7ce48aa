package metascan_test

import (
	"testing"

	"kloak/internal/media/container"
	"kloak/internal/media/metascan"
	"kloak/internal/testsupport"
)

func TestScanJPEGFindsExifFields(t *testing.T) {
	data := testsupport.JPEGWithExif(t, testsupport.Pattern(64, 48), testsupport.ScenarioExif())

	report, err := metascan.Scan(data)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if report.Kind != container.Jpeg {
		t.Fatalf("unexpected kind %s", report.Kind)
	}
	for _, key := range []string{"Make", "Model", "DateTime", "GPSLatitude", "GPSLongitude", "XMP", "Comment"} {
		if !report.Has(key) {
			t.Fatalf("expected %s in report, got %+v", key, report.Items)
		}
	}
	if report.Clean() {
		t.Fatal("expected report to contain removable items")
	}
	for _, item := range report.Items {
		if item.Key == "Model" && item.Value != testsupport.FixtureDeviceModel {
			t.Fatalf("unexpected model value %q", item.Value)
		}
	}
}

func TestScanPlainJPEGIsClean(t *testing.T) {
	report, err := metascan.Scan(testsupport.EncodeJPEG(t, testsupport.Pattern(16, 16)))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(report.Items) != 0 {
		t.Fatalf("expected no items in a bare encoder output, got %+v", report.Items)
	}
}

func TestScanPNGFindsTextAndExif(t *testing.T) {
	data := testsupport.PNGWithText(t, testsupport.Pattern(20, 20), testsupport.ScenarioExif())
	report, err := metascan.Scan(data)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	for _, key := range []string{"Author", "ModificationTime", "Model", "GPSLatitude"} {
		if !report.Has(key) {
			t.Fatalf("expected %s in report, got %+v", key, report.Items)
		}
	}
}

func TestScanHEICFindsExifItem(t *testing.T) {
	report, err := metascan.Scan(testsupport.BuildHEIC())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if report.Kind != container.Heic || !report.Has("Exif") {
		t.Fatalf("expected HEIF Exif item, got %+v", report.Items)
	}
}

func TestScanMovieScopes(t *testing.T) {
	data := testsupport.BuildMovie(testsupport.MovieOptions{Metadata: true})
	report, err := metascan.Scan(data)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	want := map[string]string{
		"©xyz": "container",
		"©mod": "container",
		"com.apple.quicktime.location.ISO6709": "container",
		"©nam":           "track 1",
		"timed_metadata": "track 3",
	}
	for key, scope := range want {
		found := false
		for _, item := range report.Items {
			if item.Key == key && item.Scope == scope {
				found = true
				if item.Required {
					t.Fatalf("%s should not be required", key)
				}
			}
		}
		if !found {
			t.Fatalf("expected %s in scope %s, got %+v", key, scope, report.Items)
		}
	}

	var creationTimes int
	for _, item := range report.Items {
		if item.Key == "creation_time" {
			creationTimes++
		}
		if item.Key == "com.apple.quicktime.model" && item.Value != testsupport.FixtureDeviceModel {
			t.Fatalf("unexpected keyed model value %q", item.Value)
		}
	}
	if creationTimes != 4 {
		t.Fatalf("expected creation time in movie and three tracks, got %d", creationTimes)
	}
}

func TestScanPlainMovieHasOnlyRequiredItems(t *testing.T) {
	report, err := metascan.Scan(testsupport.BuildMovie(testsupport.MovieOptions{}))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !report.Clean() {
		t.Fatalf("expected only required items, got %+v", report.Removable())
	}
	if !report.Has("duration") || !report.Has("timescale") {
		t.Fatal("expected required timing items")
	}
}

func TestOrientation(t *testing.T) {
	opts := testsupport.ExifOptions{Orientation: 6}
	if got := metascan.Orientation(testsupport.BuildExif(opts)); got != 6 {
		t.Fatalf("orientation = %d, want 6", got)
	}
	if got := metascan.Orientation(nil); got != 1 {
		t.Fatalf("orientation of empty block = %d, want 1", got)
	}
}

func TestScanFragmentedMovieReportsFragmentScopes(t *testing.T) {
	report, err := metascan.Scan(testsupport.BuildFragmentedMovie(testsupport.MovieOptions{Metadata: true}))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	want := map[string]string{
		"timed_metadata_fragment": "track 2",
		"©xyz":                    "container",
	}
	for key, scope := range want {
		found := false
		for _, item := range report.Items {
			if item.Key == key && item.Scope == scope && !item.Required {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected removable %s in scope %s, got %+v", key, scope, report.Items)
		}
	}

	plain, err := metascan.Scan(testsupport.BuildFragmentedMovie(testsupport.MovieOptions{}))
	if err != nil {
		t.Fatalf("Scan plain: %v", err)
	}
	if !plain.Clean() {
		t.Fatalf("expected plain fragmented movie to be clean, got %+v", plain.Removable())
	}
}

func TestSegmentAndChunkSplitters(t *testing.T) {
	jpeg := testsupport.JPEGWithExif(t, testsupport.Pattern(8, 8), testsupport.ScenarioExif())
	segments, err := metascan.JPEGSegments(jpeg)
	if err != nil {
		t.Fatalf("JPEGSegments: %v", err)
	}
	var comment string
	for _, seg := range segments {
		if seg.Marker == 0xFE {
			comment = string(seg.Payload)
		}
	}
	if comment == "" {
		t.Fatalf("expected a comment segment among %d segments", len(segments))
	}
	if metascan.ExifBlock(jpeg) == nil {
		t.Fatal("expected an Exif block")
	}
	if _, err := metascan.JPEGSegments([]byte("plain text")); err == nil {
		t.Fatal("expected an error for non-JPEG input")
	}

	png := testsupport.PNGWithText(t, testsupport.Pattern(4, 4), testsupport.ScenarioExif())
	chunks, err := metascan.PNGChunks(png)
	if err != nil {
		t.Fatalf("PNGChunks: %v", err)
	}
	if len(chunks) < 3 || chunks[0].Type != "IHDR" || chunks[len(chunks)-1].Type != "IEND" {
		t.Fatalf("unexpected chunk layout %+v", chunks)
	}
	if metascan.PNGExifBlock(png) == nil {
		t.Fatal("expected an eXIf chunk")
	}
}
