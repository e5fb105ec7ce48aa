package metascan

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

type fieldCollector struct {
	fields map[string]string
}

func (c *fieldCollector) Walk(name exif.FieldName, tag *tiff.Tag) error {
	c.fields[string(name)] = strings.Trim(tag.String(), "\"")
	return nil
}

// ExifFields decodes a raw TIFF/EXIF block (or a JPEG carrying one) and
// returns every field by name.
func ExifFields(raw []byte) (fields map[string]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("exif: malformed block: %v", r)
		}
	}()
	x, err := exif.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	collector := &fieldCollector{fields: map[string]string{}}
	if err := x.Walk(collector); err != nil {
		return nil, err
	}
	return collector.fields, nil
}

// Orientation returns the EXIF orientation (1-8) of raw, or 1 when absent or
// unreadable.
func Orientation(raw []byte) (orientation int) {
	defer func() {
		if recover() != nil {
			orientation = 1
		}
	}()
	x, err := exif.Decode(bytes.NewReader(raw))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

func addExif(report *Report, scope string, raw []byte) {
	fields, err := ExifFields(raw)
	if err != nil || len(fields) == 0 {
		report.add(scope, "Exif", fmt.Sprintf("%d bytes", len(raw)), false)
		return
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		report.add(scope, name, fields[name], false)
	}
}
