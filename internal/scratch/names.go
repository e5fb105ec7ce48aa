package scratch

import (
	"fmt"
	"time"

	"kloak/internal/media/container"
)

// CleanFilename returns the user-facing name for stripped output of kind,
// stamped with now in Unix seconds.
func CleanFilename(kind container.Kind, now time.Time) string {
	ts := now.Unix()
	switch kind {
	case container.Jpeg, container.Heic:
		return fmt.Sprintf("image_%d.jpg", ts)
	case container.Png:
		return fmt.Sprintf("image_%d.png", ts)
	case container.Mp4Mov:
		return fmt.Sprintf("video_%d.mp4", ts)
	default:
		return fmt.Sprintf("media_%d.%s", ts, kind.Extension())
	}
}
