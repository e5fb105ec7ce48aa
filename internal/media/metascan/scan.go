package metascan

import (
	"fmt"

	"kloak/internal/media/container"
)

// Item is one metadata key/value pair tied to a container or track scope.
// Required marks fields needed for correct playback or rendering.
type Item struct {
	Scope    string `json:"scope"`
	Key      string `json:"key"`
	Value    string `json:"value,omitempty"`
	Required bool   `json:"required"`
}

// Report lists the metadata items found in one file.
type Report struct {
	Kind  container.Kind `json:"-"`
	Items []Item         `json:"items"`
}

// Removable returns the items not required for playback.
func (r Report) Removable() []Item {
	var out []Item
	for _, item := range r.Items {
		if !item.Required {
			out = append(out, item)
		}
	}
	return out
}

// Clean reports whether nothing removable remains.
func (r Report) Clean() bool {
	return len(r.Removable()) == 0
}

// Has reports whether any item carries key, regardless of scope.
func (r Report) Has(key string) bool {
	for _, item := range r.Items {
		if item.Key == key {
			return true
		}
	}
	return false
}

func (r *Report) add(scope, key, value string, required bool) {
	r.Items = append(r.Items, Item{Scope: scope, Key: key, Value: value, Required: required})
}

// Scan classifies data and enumerates every metadata item it carries. The
// same scan is used to describe inputs and to verify stripped outputs.
func Scan(data []byte) (Report, error) {
	blob, err := container.Classify(data)
	if err != nil {
		return Report{}, err
	}
	return ScanBlob(blob)
}

// ScanBlob enumerates metadata items of an already classified blob.
func ScanBlob(blob container.Blob) (Report, error) {
	report := Report{Kind: blob.Kind}
	var err error
	switch blob.Kind {
	case container.Jpeg:
		err = scanJPEG(blob.Data, &report)
	case container.Png:
		err = scanPNG(blob.Data, &report)
	case container.Heic:
		err = scanHEIF(blob.Data, &report)
	case container.Mp4Mov:
		err = scanMovie(blob.Data, &report)
	default:
		err = fmt.Errorf("metascan: unsupported kind %s", blob.Kind)
	}
	return report, err
}
