package container

import (
	"fmt"
	"strings"
)

// Kind is the closed set of container families the engine understands.
type Kind int

const (
	Unknown Kind = iota
	Jpeg
	Png
	Heic
	Mp4Mov
)

var kindNames = map[Kind]string{
	Unknown: "unknown",
	Jpeg:    "jpeg",
	Png:     "png",
	Heic:    "heic",
	Mp4Mov:  "mp4",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Extension returns the canonical file extension, without a dot.
func (k Kind) Extension() string {
	switch k {
	case Jpeg:
		return "jpg"
	case Png:
		return "png"
	case Heic:
		return "heic"
	case Mp4Mov:
		return "mp4"
	default:
		return "bin"
	}
}

// IsImage reports whether k is a still-image container.
func (k Kind) IsImage() bool {
	return k == Jpeg || k == Png || k == Heic
}

// IsVideo reports whether k is a movie container.
func (k Kind) IsVideo() bool {
	return k == Mp4Mov
}

// ParseKind maps a kind name back to its value.
func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "jpeg", "jpg":
		return Jpeg, nil
	case "png":
		return Png, nil
	case "heic", "heif":
		return Heic, nil
	case "mp4", "mov":
		return Mp4Mov, nil
	}
	return Unknown, fmt.Errorf("unknown container kind %q", value)
}

// Blob is an immutable input buffer plus its classified kind. The engine
// never writes to Data.
type Blob struct {
	Data []byte
	Kind Kind
}

// Len returns the size of the blob in bytes.
func (b Blob) Len() int { return len(b.Data) }
