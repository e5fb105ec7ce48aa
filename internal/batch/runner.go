package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"kloak/internal/fileutil"
	"kloak/internal/ledger"
	"kloak/internal/logging"
	"kloak/internal/media"
	"kloak/internal/media/container"
	"kloak/internal/media/metascan"
	"kloak/internal/scratch"
	"kloak/internal/stripper"
)

// Recorder persists per-file outcomes. *ledger.Store satisfies it.
type Recorder interface {
	Record(ctx context.Context, e *ledger.Entry) error
	CompletedByHash(ctx context.Context, hash string) (*ledger.Entry, error)
}

// Options configures a Runner.
type Options struct {
	Stripper  *stripper.Stripper
	OutputDir string
	Jobs      int
	Overwrite bool
	// SkipKnown skips inputs whose hash already has a completed ledger entry.
	SkipKnown bool
	Ledger    Recorder
	Logger    *slog.Logger
	// OnResult is called once per input as it finishes. Calls are serialized.
	OnResult func(FileResult)
	// Now overrides the clock used for output names.
	Now func() time.Time
}

// FileResult is the outcome of one input.
type FileResult struct {
	Source       string
	Output       string
	Kind         container.Kind
	Outcome      ledger.Outcome
	RemovedItems int
	Duration     time.Duration
	Err          error
}

// Summary aggregates a run.
type Summary struct {
	RunID     string
	Results   []FileResult
	Completed int
	Failed    int
	Cancelled int
	Skipped   int
}

// OK reports whether every input completed or was skipped.
func (s Summary) OK() bool {
	return s.Failed == 0 && s.Cancelled == 0
}

// Runner strips batches of files.
type Runner struct {
	opts   Options
	logger *slog.Logger
	mu     sync.Mutex
}

// NewRunner validates opts and returns a Runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Stripper == nil {
		return nil, errors.New("batch runner requires a stripper")
	}
	if opts.OutputDir == "" {
		return nil, errors.New("batch runner requires an output directory")
	}
	if opts.Jobs <= 0 {
		opts.Jobs = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{opts: opts, logger: logging.NewComponentLogger(opts.Logger, "batch")}, nil
}

// Run strips every path. Per-file failures are reported in the Summary; the
// returned error is non-nil only when ctx ended the run early.
func (r *Runner) Run(ctx context.Context, paths []string) (Summary, error) {
	runID := uuid.NewString()
	logger := r.logger.With(logging.String(logging.FieldRunID, runID))
	logger.Info("batch started",
		logging.Int("files", len(paths)),
		logging.Int("jobs", r.opts.Jobs),
		logging.String(logging.FieldEventType, "batch_started"),
	)

	results := make([]FileResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Jobs)
	for i, path := range paths {
		g.Go(func() error {
			res := r.stripFile(gctx, runID, path)
			results[i] = res
			r.report(res)
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{RunID: runID, Results: results}
	for _, res := range results {
		switch res.Outcome {
		case ledger.OutcomeCompleted:
			summary.Completed++
		case ledger.OutcomeSkipped:
			summary.Skipped++
		case ledger.OutcomeCancelled:
			summary.Cancelled++
		default:
			summary.Failed++
		}
	}
	logger.Info("batch finished",
		logging.Int("completed", summary.Completed),
		logging.Int("failed", summary.Failed),
		logging.Int("cancelled", summary.Cancelled),
		logging.Int("skipped", summary.Skipped),
		logging.String(logging.FieldEventType, "batch_finished"),
	)
	if err := ctx.Err(); err != nil {
		return summary, media.Wrap(media.ErrCancelled, "batch", "run", "", err)
	}
	return summary, nil
}

func (r *Runner) report(res FileResult) {
	if r.opts.OnResult == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts.OnResult(res)
}

func (r *Runner) stripFile(ctx context.Context, runID, path string) FileResult {
	start := time.Now()
	res := FileResult{Source: path}
	entry := &ledger.Entry{RunID: runID, SourceName: path}

	finish := func(err error) FileResult {
		res.Duration = time.Since(start)
		res.Err = err
		if res.Outcome == "" {
			res.Outcome = ledger.OutcomeOf(err)
		}
		entry.Outcome = res.Outcome
		entry.ErrorKind = media.KindOf(err)
		entry.Duration = res.Duration
		entry.RemovedItems = res.RemovedItems
		entry.SourceKind = res.Kind.String()
		r.record(ctx, entry)
		return res
	}

	if err := ctx.Err(); err != nil {
		entry.SourceHash = "-"
		return finish(media.Wrap(media.ErrCancelled, "batch", "queue", "", err))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		entry.SourceHash = "-"
		return finish(fmt.Errorf("read input: %w", err))
	}
	entry.SourceHash = fileutil.HashBytes(data)
	entry.SourceBytes = int64(len(data))

	if r.opts.SkipKnown && r.opts.Ledger != nil {
		if prior, err := r.opts.Ledger.CompletedByHash(ctx, entry.SourceHash); err == nil && prior != nil {
			res.Outcome = ledger.OutcomeSkipped
			res.Output = prior.OutputPath
			if kind, err := container.ParseKind(prior.SourceKind); err == nil {
				res.Kind = kind
			}
			entry.OutputPath = prior.OutputPath
			entry.OutputHash = prior.OutputHash
			return finish(nil)
		}
	}

	if before, err := metascan.Scan(data); err == nil {
		res.Kind = before.Kind
		res.RemovedItems = len(before.Removable())
	}

	s := r.opts.Stripper.WithHint(filepath.Base(path))
	result, err := s.StripBytes(ctx, data)
	if err != nil {
		return finish(err)
	}
	if strategy, serr := container.SelectStrategy(res.Kind); serr == nil {
		entry.Strategy = strategy.Kind.String()
	}
	if err := verifyClean(result); err != nil {
		return finish(err)
	}

	name := scratch.CleanFilename(result.Kind, r.opts.Now())
	out, err := fileutil.WriteUnique(r.opts.OutputDir, name, result.Output, r.opts.Overwrite)
	if err != nil {
		return finish(fmt.Errorf("write output: %w", err))
	}
	res.Output = out
	entry.OutputPath = out
	entry.OutputHash = fileutil.HashBytes(result.Output)
	entry.OutputBytes = int64(len(result.Output))
	return finish(nil)
}

// verifyClean rescans stripped output and rejects anything that still
// carries removable metadata.
func verifyClean(result stripper.Result) error {
	marker := media.ErrEncode
	if result.Kind.IsVideo() {
		marker = media.ErrExport
	}
	report, err := metascan.Scan(result.Output)
	if err != nil {
		return media.Wrap(marker, "verify", "scan", "stripped output is unreadable", err)
	}
	if left := report.Removable(); len(left) > 0 {
		return media.Wrap(marker, "verify", "scan",
			fmt.Sprintf("%d metadata items remain (first %s/%s)", len(left), left[0].Scope, left[0].Key), nil)
	}
	return nil
}

func (r *Runner) record(ctx context.Context, e *ledger.Entry) {
	if r.opts.Ledger == nil {
		return
	}
	if err := r.opts.Ledger.Record(context.WithoutCancel(ctx), e); err != nil {
		logging.WarnWithContext(r.logger, "ledger write failed", "ledger_write_failed",
			logging.String(logging.FieldRunID, e.RunID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the state directory is writable"),
			logging.String(logging.FieldImpact, "history is missing this file"),
		)
	}
}
