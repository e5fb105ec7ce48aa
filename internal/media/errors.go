package media

import (
	"errors"
	"fmt"
	"strings"
)

// Markers for every expected failure mode of a strip invocation. Errors
// returned by the engine wrap exactly one of these so callers can classify
// them with errors.Is.
var (
	ErrUnrecognizedContainer = errors.New("unrecognized container")
	ErrTruncatedInput        = errors.New("truncated input")
	ErrDecode                = errors.New("decode error")
	ErrEncode                = errors.New("encode error")
	ErrExport                = errors.New("export error")
	ErrCancelled             = errors.New("cancelled")
)

// ErrorKind is the stable name of a failure marker, suitable for persistence
// and machine-readable output.
type ErrorKind string

const (
	KindNone                  ErrorKind = ""
	KindUnrecognizedContainer ErrorKind = "unrecognized_container"
	KindTruncatedInput        ErrorKind = "truncated_input"
	KindDecode                ErrorKind = "decode_error"
	KindEncode                ErrorKind = "encode_error"
	KindExport                ErrorKind = "export_error"
	KindCancelled             ErrorKind = "cancelled"
	KindInternal              ErrorKind = "internal"
)

var markers = []struct {
	marker  error
	kind    ErrorKind
	message string
}{
	{ErrCancelled, KindCancelled, "Stripping was cancelled. Nothing was written."},
	{ErrUnrecognizedContainer, KindUnrecognizedContainer, "This file is not a supported photo or video."},
	{ErrTruncatedInput, KindTruncatedInput, "The file is too short to be a photo or video."},
	{ErrDecode, KindDecode, "The file looks damaged and could not be read."},
	{ErrEncode, KindEncode, "A clean copy could not be produced from this image."},
	{ErrExport, KindExport, "The video could not be rewritten. Trying again may help."},
}

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker. The marker should be one of the exported sentinel
// errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrExport
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf maps err to its failure kind. Errors carrying no marker report
// KindInternal; nil reports KindNone.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, m := range markers {
		if errors.Is(err, m.marker) {
			return m.kind
		}
	}
	return KindInternal
}

// Retryable reports whether repeating the invocation with identical input
// may succeed. Only export backend failures qualify.
func Retryable(err error) bool {
	return KindOf(err) == KindExport
}

// IsCancelled reports whether err represents a caller-initiated cancellation.
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled
}

// UserMessage returns a short human-readable message for err. Each kind maps
// to a distinct message; cancellation is not phrased as a failure.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	for _, m := range markers {
		if errors.Is(err, m.marker) {
			return m.message
		}
	}
	return "Something unexpected went wrong while stripping metadata."
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "strip failure"
	}
	return strings.Join(parts, ": ")
}
