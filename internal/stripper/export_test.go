package stripper

import (
	"context"
	"errors"
	"testing"
	"time"

	"kloak/internal/media"
	"kloak/internal/media/container"
)

func waitExport(t *testing.T, e *Export) (Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := e.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("export did not reach a terminal state")
	}
	return result, err
}

func TestExportCompletes(t *testing.T) {
	e := newExport(context.Background(), 3, nil, func(ctx context.Context, progress func(int64)) (Result, error) {
		progress(3)
		return Result{Output: []byte("out"), Kind: container.Mp4Mov}, nil
	})
	if e.State() != StateCreated {
		t.Fatalf("expected created, got %s", e.State())
	}
	if !e.start() {
		t.Fatal("first start should succeed")
	}
	if e.start() {
		t.Fatal("second start should be ignored")
	}
	result, err := waitExport(t, e)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if string(result.Output) != "out" || e.State() != StateCompleted {
		t.Fatalf("unexpected outcome %q in state %s", result.Output, e.State())
	}
	if written, total := e.Progress(); written != 3 || total != 3 {
		t.Fatalf("unexpected progress %d/%d", written, total)
	}

	e.Cancel()
	if e.State() != StateCompleted {
		t.Fatalf("cancel after completion changed state to %s", e.State())
	}
}

func TestExportFailureIsMarked(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"marked", media.Wrap(media.ErrDecode, "video", "parse", "no moov box", nil), media.ErrDecode},
		{"unmarked", errors.New("disk full"), media.ErrExport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newExport(context.Background(), 0, nil, func(context.Context, func(int64)) (Result, error) {
				return Result{}, tt.err
			})
			e.start()
			_, err := waitExport(t, e)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if e.State() != StateFailed {
				t.Fatalf("expected failed, got %s", e.State())
			}
		})
	}
}

func TestExportCancelWhileRunning(t *testing.T) {
	running := make(chan struct{})
	e := newExport(context.Background(), 0, nil, func(ctx context.Context, _ func(int64)) (Result, error) {
		close(running)
		<-ctx.Done()
		return Result{}, ctx.Err()
	})
	e.start()
	<-running
	if e.State() != StateRunning {
		t.Fatalf("expected running, got %s", e.State())
	}
	e.Cancel()
	e.Cancel()

	result, err := waitExport(t, e)
	if !errors.Is(err, media.ErrCancelled) {
		t.Fatalf("expected cancelled error, got %v", err)
	}
	if result.Output != nil || e.State() != StateCancelled {
		t.Fatalf("unexpected outcome in state %s", e.State())
	}
	if media.Retryable(err) {
		t.Fatal("cancellation must not be retryable")
	}
}

func TestExportCancelBeforeStart(t *testing.T) {
	e := newExport(context.Background(), 0, nil, func(ctx context.Context, _ func(int64)) (Result, error) {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		return Result{Output: []byte("late")}, nil
	})
	e.Cancel()
	e.start()
	if _, err := waitExport(t, e); !errors.Is(err, media.ErrCancelled) {
		t.Fatalf("expected cancelled, got %v", err)
	}
	if e.State() != StateCancelled {
		t.Fatalf("expected cancelled, got %s", e.State())
	}
}

func TestExportDiscardsOutputCompletedAfterCancel(t *testing.T) {
	running := make(chan struct{})
	release := make(chan struct{})
	e := newExport(context.Background(), 0, nil, func(context.Context, func(int64)) (Result, error) {
		close(running)
		<-release
		return Result{Output: []byte("finished anyway")}, nil
	})
	e.start()
	<-running
	e.Cancel()
	close(release)

	result, err := waitExport(t, e)
	if !errors.Is(err, media.ErrCancelled) || result.Output != nil {
		t.Fatalf("expected discarded output, got %q, %v", result.Output, err)
	}
}

func TestExportParentContextCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := newExport(ctx, 0, nil, func(ctx context.Context, _ func(int64)) (Result, error) {
		<-ctx.Done()
		return Result{}, ctx.Err()
	})
	e.start()
	cancel()
	if _, err := waitExport(t, e); !errors.Is(err, media.ErrCancelled) {
		t.Fatalf("expected cancelled, got %v", err)
	}
}

func TestExportWaitHonoursCallerContext(t *testing.T) {
	release := make(chan struct{})
	e := newExport(context.Background(), 0, nil, func(context.Context, func(int64)) (Result, error) {
		<-release
		return Result{}, nil
	})
	e.start()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected caller context error, got %v", err)
	}
	if e.State() != StateRunning {
		t.Fatalf("waiting must not cancel the export, state %s", e.State())
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateCompleted, StateFailed, StateCancelled} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []State{StateCreated, StateRunning} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}
