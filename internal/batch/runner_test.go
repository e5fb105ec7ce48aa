package batch_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"kloak/internal/batch"
	"kloak/internal/ledger"
	"kloak/internal/media"
	"kloak/internal/media/container"
	"kloak/internal/media/metascan"
	"kloak/internal/scratch"
	"kloak/internal/stripper"
	"kloak/internal/testsupport"
)

type fixture struct {
	runner *batch.Runner
	store  *ledger.Store
	out    string
	inputs []string
	seen   []batch.FileResult
}

func newFixture(t *testing.T, skipKnown bool) *fixture {
	t.Helper()
	base := t.TempDir()

	dir, err := scratch.Open(filepath.Join(base, "scratch"), nil)
	if err != nil {
		t.Fatalf("open scratch: %v", err)
	}
	t.Cleanup(func() { _ = dir.Close() })
	s, err := stripper.New(stripper.Options{Scratch: dir})
	if err != nil {
		t.Fatal(err)
	}
	store, err := ledger.Open(filepath.Join(base, "state", "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	in := filepath.Join(base, "in")
	inputs := []string{
		filepath.Join(in, "IMG_0001.JPG"),
		filepath.Join(in, "IMG_0002.PNG"),
		filepath.Join(in, "MOV_0003.MOV"),
		filepath.Join(in, "notes.txt"),
	}
	testsupport.WriteFile(t, inputs[0], testsupport.JPEGWithExif(t, testsupport.Pattern(32, 24), testsupport.ScenarioExif()))
	testsupport.WriteFile(t, inputs[1], testsupport.PNGWithText(t, testsupport.Pattern(16, 16), testsupport.ScenarioExif()))
	testsupport.WriteFile(t, inputs[2], testsupport.BuildMovie(testsupport.MovieOptions{Metadata: true}))
	testsupport.WriteFile(t, inputs[3], []byte("shopping list: eggs, flour, a new phone"))

	f := &fixture{store: store, out: filepath.Join(base, "out"), inputs: inputs}
	var mu sync.Mutex
	runner, err := batch.NewRunner(batch.Options{
		Stripper:  s,
		OutputDir: f.out,
		Jobs:      2,
		SkipKnown: skipKnown,
		Ledger:    store,
		Now:       func() time.Time { return time.Unix(1700000000, 0) },
		OnResult: func(r batch.FileResult) {
			mu.Lock()
			defer mu.Unlock()
			f.seen = append(f.seen, r)
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	f.runner = runner
	return f
}

func TestRunStripsMixedInputs(t *testing.T) {
	f := newFixture(t, false)
	summary, err := f.runner.Run(context.Background(), f.inputs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Completed != 3 || summary.Failed != 1 || summary.OK() {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(f.seen) != len(f.inputs) {
		t.Fatalf("OnResult called %d times", len(f.seen))
	}

	failed := summary.Results[3]
	if !errors.Is(failed.Err, media.ErrUnrecognizedContainer) || failed.Output != "" {
		t.Fatalf("expected unrecognized failure for text input, got %+v", failed)
	}

	for _, res := range summary.Results[:3] {
		if res.Outcome != ledger.OutcomeCompleted || res.RemovedItems == 0 {
			t.Fatalf("unexpected result %+v", res)
		}
		name := filepath.Base(res.Output)
		if strings.Contains(name, "IMG_") || strings.Contains(name, "MOV_") {
			t.Fatalf("output name leaks input name: %s", name)
		}
		data, err := os.ReadFile(res.Output)
		if err != nil {
			t.Fatalf("read output: %v", err)
		}
		report, err := metascan.Scan(data)
		if err != nil || !report.Clean() {
			t.Fatalf("output %s not clean: %+v %v", name, report.Removable(), err)
		}
		if bytes.Contains(data, []byte(testsupport.FixtureDeviceModel)) {
			t.Fatalf("output %s still carries the device model", name)
		}
	}
	if summary.Results[2].Kind != container.Mp4Mov || !strings.HasPrefix(filepath.Base(summary.Results[2].Output), "video_") {
		t.Fatalf("unexpected movie result %+v", summary.Results[2])
	}

	entries, err := f.store.ByRun(context.Background(), summary.RunID)
	if err != nil || len(entries) != 4 {
		t.Fatalf("expected 4 ledger entries, got %d (%v)", len(entries), err)
	}
	for _, e := range entries {
		if e.SourceHash == "" || strings.Contains(e.SourceName, string(filepath.Separator)) {
			t.Fatalf("unexpected ledger entry %+v", e)
		}
	}
}

func TestRunSkipsKnownInputs(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	if _, err := f.runner.Run(ctx, f.inputs); err != nil {
		t.Fatal(err)
	}
	summary, err := f.runner.Run(ctx, f.inputs)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Skipped != 3 || summary.Failed != 1 || summary.Completed != 0 {
		t.Fatalf("unexpected second run %+v", summary)
	}
	if got := testsupport.ListDir(t, f.out); len(got) != 3 {
		t.Fatalf("expected only first-run outputs, got %v", got)
	}
}

func TestRunWithoutSkipWritesUniqueNames(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	for range 2 {
		if _, err := f.runner.Run(ctx, f.inputs[:1]); err != nil {
			t.Fatal(err)
		}
	}
	got := testsupport.ListDir(t, f.out)
	if len(got) != 2 {
		t.Fatalf("expected two distinct outputs, got %v", got)
	}
}

func TestRunCancelled(t *testing.T) {
	f := newFixture(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := f.runner.Run(ctx, f.inputs)
	if !errors.Is(err, media.ErrCancelled) {
		t.Fatalf("expected cancelled run, got %v", err)
	}
	if summary.Cancelled != len(f.inputs) {
		t.Fatalf("expected every file cancelled, got %+v", summary)
	}
	if got := testsupport.ListDir(t, f.out); len(got) != 0 {
		t.Fatalf("cancelled run wrote %v", got)
	}
}

func TestRunMissingInput(t *testing.T) {
	f := newFixture(t, false)
	summary, err := f.runner.Run(context.Background(), []string{filepath.Join(t.TempDir(), "gone.jpg")})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Failed != 1 || summary.Results[0].Err == nil {
		t.Fatalf("expected read failure, got %+v", summary)
	}
}

func TestNewRunnerValidates(t *testing.T) {
	if _, err := batch.NewRunner(batch.Options{OutputDir: "x"}); err == nil {
		t.Fatal("expected error without stripper")
	}
}
