package stripper

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"kloak/internal/logging"
	"kloak/internal/media"
	"kloak/internal/media/container"
	"kloak/internal/scratch"
)

// Result is a successful strip: the clean bytes and their container kind.
type Result struct {
	Output []byte
	Kind   container.Kind
}

// FrameDecoder decodes the first frame of containers the Go image packages
// cannot read.
type FrameDecoder interface {
	DecodeFrame(ctx context.Context, data []byte, ext string) (image.Image, error)
}

// Options configures a Stripper.
type Options struct {
	// Scratch holds export output until it is read back. Required.
	Scratch *scratch.Dir
	// Decoder handles HEIF frames. Without one, HEIC input fails to decode.
	Decoder FrameDecoder
	// Quality overrides the default JPEG quality used by StripBytes.
	Quality float64
	Logger  *slog.Logger
}

// Stripper executes strip strategies. It holds no mutable state and may be
// shared across goroutines.
type Stripper struct {
	scratch *scratch.Dir
	decoder FrameDecoder
	quality float64
	logger  *slog.Logger
}

// New constructs a Stripper.
func New(opts Options) (*Stripper, error) {
	if opts.Scratch == nil {
		return nil, errors.New("stripper requires a scratch directory")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	quality := opts.Quality
	if quality == 0 {
		quality = container.DefaultImageQuality
	}
	return &Stripper{
		scratch: opts.Scratch,
		decoder: opts.Decoder,
		quality: quality,
		logger:  logging.NewComponentLogger(logger, "stripper"),
	}, nil
}

// WithHint returns a Stripper whose log lines carry the source name. The hint
// never affects classification or output.
func (s *Stripper) WithHint(name string) *Stripper {
	if name == "" {
		return s
	}
	clone := *s
	clone.logger = s.logger.With(logging.String(logging.FieldSource, name))
	return &clone
}

// Strip executes strategy against blob. Video strategies block until the
// export reaches a terminal state; use StripVideo for the non-blocking form.
func (s *Stripper) Strip(ctx context.Context, blob container.Blob, strategy container.Strategy) (Result, error) {
	s.logger.Info("strip started",
		logging.String("kind", blob.Kind.String()),
		logging.String("strategy", strategy.Kind.String()),
		logging.Int("input_bytes", blob.Len()),
	)

	var (
		result Result
		err    error
	)
	switch strategy.Kind {
	case container.ReencodeImage:
		result, err = s.StripImage(ctx, blob, strategy.Quality)
	case container.RemuxVideo:
		result, err = s.awaitExport(s.StripVideo(ctx, blob, strategy.Target))
	default:
		err = media.Wrap(media.ErrUnrecognizedContainer, "strip", "dispatch", fmt.Sprintf("unsupported strategy %s", strategy), nil)
	}

	if err != nil {
		s.logFailure(blob, err)
		return Result{}, err
	}
	s.logger.Info("strip completed",
		logging.String("kind", result.Kind.String()),
		logging.Int("output_bytes", len(result.Output)),
		logging.String(logging.FieldEventType, "strip_completed"),
	)
	return result, nil
}

// progressInterval spaces the debug progress lines of a blocking video strip.
var progressInterval = time.Second

// awaitExport blocks until export is terminal, logging progress while the
// remux runs. Cancellation reaches the export through the context it was
// started with.
func (s *Stripper) awaitExport(export *Export) (Result, error) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-export.Done():
			return export.Wait(context.Background())
		case <-ticker.C:
			written, total := export.Progress()
			s.logger.Debug("video export progress",
				logging.Int64("written_bytes", written),
				logging.Int64("total_bytes", total),
			)
		}
	}
}

// StripBytes classifies data, selects the default strategy, and strips it.
func (s *Stripper) StripBytes(ctx context.Context, data []byte) (Result, error) {
	blob, err := container.Classify(data)
	if err != nil {
		s.logFailure(container.Blob{Data: data}, err)
		return Result{}, err
	}
	strategy, err := container.SelectStrategy(blob.Kind)
	if err != nil {
		return Result{}, err
	}
	if strategy.Kind == container.ReencodeImage {
		strategy.Quality = s.quality
	}
	return s.Strip(ctx, blob, strategy)
}

func (s *Stripper) logFailure(blob container.Blob, err error) {
	attrs := []logging.Attr{
		logging.String("kind", blob.Kind.String()),
		logging.String("error_kind", string(media.KindOf(err))),
		logging.Error(err),
	}
	if media.IsCancelled(err) {
		s.logger.Info("strip cancelled", logging.Args(attrs...)...)
		return
	}
	hint := "input could not be processed; verify the file opens in a media player"
	if media.Retryable(err) {
		hint = "retry once; check free space in the scratch directory"
	}
	logging.WarnWithContext(s.logger, "strip failed", "strip_failed",
		append(attrs, logging.String(logging.FieldErrorHint, hint))...)
}
