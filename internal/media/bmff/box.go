package bmff

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformed marks structural problems in a box stream.
var ErrMalformed = errors.New("malformed box structure")

// Box describes one box located inside a byte slice. Offsets are absolute
// positions in the slice passed to Parse.
type Box struct {
	Type       string
	UserType   [16]byte
	Offset     int64
	Size       int64
	HeaderSize int
	// ToEOF is set when the size field was zero.
	ToEOF    bool
	Children []*Box
}

// End returns the offset one past the last byte of the box.
func (b *Box) End() int64 { return b.Offset + b.Size }

// PayloadOffset returns the offset of the first byte after the header.
func (b *Box) PayloadOffset() int64 { return b.Offset + int64(b.HeaderSize) }

// Payload returns the bytes following the header.
func (b *Box) Payload(data []byte) []byte {
	return data[b.PayloadOffset():b.End()]
}

// Child returns the first direct child of the given type.
func (b *Box) Child(typ string) *Box {
	for _, c := range b.Children {
		if c.Type == typ {
			return c
		}
	}
	return nil
}

// ChildrenOf returns every direct child of the given type.
func (b *Box) ChildrenOf(typ string) []*Box {
	var out []*Box
	for _, c := range b.Children {
		if c.Type == typ {
			out = append(out, c)
		}
	}
	return out
}

// Find follows a path of box types below b, returning the first match.
func (b *Box) Find(path ...string) *Box {
	cur := b
	for _, typ := range path {
		if cur = cur.Child(typ); cur == nil {
			return nil
		}
	}
	return cur
}

// Walk visits b and every descendant depth first. Returning false from fn
// skips the children of the visited box.
func (b *Box) Walk(fn func(*Box) bool) {
	if !fn(b) {
		return
	}
	for _, c := range b.Children {
		c.Walk(fn)
	}
}

// containers lists box types whose payload is a plain sequence of boxes.
var containers = map[string]bool{
	"moov": true, "trak": true, "mdia": true, "minf": true, "stbl": true,
	"edts": true, "dinf": true, "udta": true, "mvex": true, "moof": true,
	"traf": true, "mfra": true, "tref": true, "ilst": true, "iprp": true,
	"ipco": true, "meta": true, "iinf": true,
}

// opaqueOnError lists containers that are kept as leaves when their payload
// does not parse as boxes.
var opaqueOnError = map[string]bool{"udta": true, "meta": true, "ilst": true, "iinf": true, "iprp": true, "ipco": true}

// Parse reads the sequence of top-level boxes in data, descending into known
// container types.
func Parse(data []byte) ([]*Box, error) {
	return parseRange(data, 0, int64(len(data)), 0)
}

// Top returns the first box of typ in a top-level list.
func Top(boxes []*Box, typ string) *Box {
	for _, b := range boxes {
		if b.Type == typ {
			return b
		}
	}
	return nil
}

const maxDepth = 16

func parseRange(data []byte, start, end int64, depth int) ([]*Box, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrMalformed, maxDepth)
	}
	var boxes []*Box
	pos := start
	for pos < end {
		if end-pos < 8 {
			// Trailing padding shorter than a header is tolerated.
			break
		}
		box, err := readHeader(data, pos, end)
		if err != nil {
			return nil, err
		}
		if containers[box.Type] {
			childStart := box.PayloadOffset() + childSkip(data, box)
			if childStart <= box.End() {
				children, err := parseRange(data, childStart, box.End(), depth+1)
				switch {
				case err == nil:
					box.Children = children
				case opaqueOnError[box.Type]:
					// Vendor metadata layouts vary; treat them as leaves.
					box.Children = nil
				default:
					return nil, fmt.Errorf("%s: %w", box.Type, err)
				}
			}
		}
		boxes = append(boxes, box)
		pos = box.End()
	}
	return boxes, nil
}

// ReadHeader decodes the box header at pos without descending.
func ReadHeader(data []byte, pos int64) (*Box, error) {
	return readHeader(data, pos, int64(len(data)))
}

func readHeader(data []byte, pos, end int64) (*Box, error) {
	if pos+8 > end {
		return nil, fmt.Errorf("%w: header at %d exceeds bounds", ErrMalformed, pos)
	}
	size := int64(binary.BigEndian.Uint32(data[pos:]))
	box := &Box{
		Type:       string(data[pos+4 : pos+8]),
		Offset:     pos,
		HeaderSize: 8,
	}
	switch size {
	case 0:
		box.ToEOF = true
		size = end - pos
	case 1:
		if pos+16 > end {
			return nil, fmt.Errorf("%w: %q large size at %d exceeds bounds", ErrMalformed, box.Type, pos)
		}
		large := binary.BigEndian.Uint64(data[pos+8:])
		if large > uint64(end-pos) {
			return nil, fmt.Errorf("%w: %q size %d exceeds parent", ErrMalformed, box.Type, large)
		}
		size = int64(large)
		box.HeaderSize = 16
	}
	if box.Type == "uuid" {
		if pos+int64(box.HeaderSize)+16 > end {
			return nil, fmt.Errorf("%w: uuid box at %d truncated", ErrMalformed, pos)
		}
		copy(box.UserType[:], data[pos+int64(box.HeaderSize):])
		box.HeaderSize += 16
	}
	if size < int64(box.HeaderSize) {
		return nil, fmt.Errorf("%w: %q size %d smaller than header", ErrMalformed, box.Type, size)
	}
	if pos+size > end {
		return nil, fmt.Errorf("%w: %q size %d exceeds parent", ErrMalformed, box.Type, size)
	}
	box.Size = size
	return box, nil
}

// childSkip returns how many payload bytes precede the first child box.
func childSkip(data []byte, box *Box) int64 {
	payload := box.Payload(data)
	switch box.Type {
	case "meta":
		// QuickTime meta boxes are plain containers; ISO ones are full boxes.
		if len(payload) >= 8 && string(payload[4:8]) == "hdlr" {
			return 0
		}
		return 4
	case "iinf":
		if len(payload) < 4 {
			return int64(len(payload))
		}
		if payload[0] == 0 {
			return 6
		}
		return 8
	}
	return 0
}

// FullBoxHeader returns the version and flags of a full box.
func FullBoxHeader(data []byte, b *Box) (version uint8, flags uint32, err error) {
	payload := b.Payload(data)
	if len(payload) < 4 {
		return 0, 0, fmt.Errorf("%w: %q missing full box header", ErrMalformed, b.Type)
	}
	return payload[0], uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3]), nil
}
