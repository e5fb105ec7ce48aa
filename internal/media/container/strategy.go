package container

import (
	"fmt"

	"kloak/internal/media"
)

// DefaultImageQuality is the JPEG quality used for still images.
const DefaultImageQuality = 0.9

// StrategyKind discriminates the Strategy variants.
type StrategyKind int

const (
	// ReencodeImage decodes the first frame and encodes it afresh.
	ReencodeImage StrategyKind = iota + 1
	// RemuxVideo rewrites the container structure without touching samples.
	RemuxVideo
)

func (k StrategyKind) String() string {
	switch k {
	case ReencodeImage:
		return "reencode_image"
	case RemuxVideo:
		return "remux_video"
	default:
		return "none"
	}
}

// Strategy is the stripping approach chosen for one invocation. Quality is
// only meaningful for ReencodeImage.
type Strategy struct {
	Kind    StrategyKind
	Target  Kind
	Quality float64
}

func (s Strategy) String() string {
	switch s.Kind {
	case ReencodeImage:
		return fmt.Sprintf("%s(%s, quality=%.2f)", s.Kind, s.Target, s.Quality)
	case RemuxVideo:
		return fmt.Sprintf("%s(%s)", s.Kind, s.Target)
	default:
		return "none"
	}
}

// NewReencodeImage returns the still-image strategy targeting JPEG.
func NewReencodeImage(quality float64) Strategy {
	return Strategy{Kind: ReencodeImage, Target: Jpeg, Quality: quality}
}

// NewRemuxVideo returns the video strategy for target.
func NewRemuxVideo(target Kind) Strategy {
	return Strategy{Kind: RemuxVideo, Target: target}
}

// SelectStrategy maps a container kind to its stripping strategy. Every still
// image is normalized to JPEG; movies are remuxed to MP4.
func SelectStrategy(kind Kind) (Strategy, error) {
	switch kind {
	case Jpeg, Png, Heic:
		return NewReencodeImage(DefaultImageQuality), nil
	case Mp4Mov:
		return NewRemuxVideo(Mp4Mov), nil
	default:
		return Strategy{}, media.Wrap(media.ErrUnrecognizedContainer, "strategy", "", fmt.Sprintf("no strategy for %s", kind), nil)
	}
}
