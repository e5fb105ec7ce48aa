package stripper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"kloak/internal/logging"
	"kloak/internal/media"
)

// State is the lifecycle position of one video export.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

type exportJob func(ctx context.Context, progress func(written int64)) (Result, error)

// Export is a handle to one asynchronous video remux. All methods are safe
// for concurrent use.
type Export struct {
	job    exportJob
	total  int64
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	written atomic.Int64

	mu              sync.Mutex
	state           State
	cancelRequested bool
	result          Result
	err             error
}

func newExport(parent context.Context, total int64, logger *slog.Logger, job exportJob) *Export {
	if parent == nil {
		parent = context.Background()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Export{
		job:    job,
		total:  total,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateCreated,
	}
}

// start moves the export from Created to Running and launches the job. Only
// the first call has an effect.
func (e *Export) start() bool {
	e.mu.Lock()
	if e.state != StateCreated {
		e.mu.Unlock()
		return false
	}
	e.state = StateRunning
	e.mu.Unlock()

	e.logger.Debug("video export started", logging.Int64("input_bytes", e.total))
	go func() {
		result, err := e.job(e.ctx, e.written.Store)
		e.finish(result, err)
	}()
	return true
}

func (e *Export) finish(result Result, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Terminal() {
		return
	}

	cancelled := e.cancelRequested || e.ctx.Err() != nil || errors.Is(err, media.ErrCancelled) || errors.Is(err, context.Canceled)
	switch {
	case cancelled:
		e.state = StateCancelled
		e.err = media.Wrap(media.ErrCancelled, "video", "export", "export cancelled before completion", nil)
	case err != nil:
		e.state = StateFailed
		if media.KindOf(err) == media.KindInternal {
			err = media.Wrap(media.ErrExport, "video", "export", "", err)
		}
		e.err = err
	default:
		e.state = StateCompleted
		e.result = result
	}
	e.cancel()
	close(e.done)

	e.logger.Debug("video export finished",
		logging.String("state", e.state.String()),
		logging.Int("output_bytes", len(e.result.Output)),
	)
}

// Cancel requests cancellation. It is safe to call at any time; once the
// export is terminal it has no effect. An export that completes after Cancel
// was requested still ends Cancelled and its output is discarded.
func (e *Export) Cancel() {
	e.mu.Lock()
	if e.state.Terminal() {
		e.mu.Unlock()
		return
	}
	e.cancelRequested = true
	e.mu.Unlock()
	e.cancel()
}

// State returns the current lifecycle state.
func (e *Export) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Done is closed once the export reaches a terminal state.
func (e *Export) Done() <-chan struct{} {
	return e.done
}

// Progress returns the bytes written so far and the expected total.
func (e *Export) Progress() (written, total int64) {
	return e.written.Load(), e.total
}

// Wait blocks until the export is terminal or ctx ends. A ctx ending does not
// cancel the export. Once Done is closed Wait returns immediately.
func (e *Export) Wait(ctx context.Context) (Result, error) {
	select {
	case <-e.done:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result, e.err
}
