package stripper

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"kloak/internal/logging"
	"kloak/internal/media"
	"kloak/internal/media/container"
	"kloak/internal/media/metascan"
)

// maxPixels bounds decoded frames so a hostile header cannot force a huge
// allocation before decoding starts.
const maxPixels = 256 << 20

// StripImage decodes the first frame of blob and encodes it as a JPEG with no
// metadata segments. EXIF orientation is baked into the pixels.
func (s *Stripper) StripImage(ctx context.Context, blob container.Blob, quality float64) (Result, error) {
	if math.IsNaN(quality) || quality <= 0 || quality > 1 {
		return Result{}, media.Wrap(media.ErrEncode, "image", "validate", fmt.Sprintf("quality %v outside (0, 1]", quality), nil)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, media.Wrap(media.ErrCancelled, "image", "decode", "", err)
	}

	frame, orientation, err := s.decodeFrame(ctx, blob)
	if err != nil {
		return Result{}, err
	}
	b := frame.Bounds()
	if b.Empty() {
		return Result{}, media.Wrap(media.ErrEncode, "image", "encode", "frame has zero size", nil)
	}

	upright := orient(frame, orientation)
	if err := ctx.Err(); err != nil {
		return Result{}, media.Wrap(media.ErrCancelled, "image", "encode", "", err)
	}

	var buf bytes.Buffer
	buf.Grow(b.Dx() * b.Dy() / 4)
	if err := jpeg.Encode(&buf, upright, &jpeg.Options{Quality: jpegQuality(quality)}); err != nil {
		return Result{}, media.Wrap(media.ErrEncode, "image", "encode", "", err)
	}

	s.logger.Debug("image re-encoded",
		logging.String("source_kind", blob.Kind.String()),
		logging.Int("width", upright.Bounds().Dx()),
		logging.Int("height", upright.Bounds().Dy()),
		logging.Int("orientation", orientation),
		logging.Int("output_bytes", buf.Len()),
	)
	return Result{Output: buf.Bytes(), Kind: container.Jpeg}, nil
}

func jpegQuality(q float64) int {
	v := int(math.Round(q * 100))
	return max(1, min(100, v))
}

// decodeFrame returns the first frame and the EXIF orientation to apply.
func (s *Stripper) decodeFrame(ctx context.Context, blob container.Blob) (image.Image, int, error) {
	data := blob.Data
	switch blob.Kind {
	case container.Jpeg:
		if err := checkDimensions(data, jpeg.DecodeConfig); err != nil {
			return nil, 0, err
		}
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, 0, media.Wrap(media.ErrDecode, "image", "decode jpeg", "", err)
		}
		return img, metascan.Orientation(metascan.ExifBlock(data)), nil
	case container.Png:
		if err := checkDimensions(data, png.DecodeConfig); err != nil {
			return nil, 0, err
		}
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, 0, media.Wrap(media.ErrDecode, "image", "decode png", "", err)
		}
		return img, metascan.Orientation(metascan.PNGExifBlock(data)), nil
	case container.Heic:
		if s.decoder == nil {
			return nil, 0, media.Wrap(media.ErrDecode, "image", "decode heic", "no HEIF decoder configured", nil)
		}
		img, err := s.decoder.DecodeFrame(ctx, data, blob.Kind.Extension())
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, media.Wrap(media.ErrCancelled, "image", "decode heic", "", ctx.Err())
			}
			return nil, 0, media.Wrap(media.ErrDecode, "image", "decode heic", "", err)
		}
		// ffmpeg applies the irot/imir transforms itself.
		return img, 1, nil
	default:
		return nil, 0, media.Wrap(media.ErrUnrecognizedContainer, "image", "decode", fmt.Sprintf("%s is not a still image", blob.Kind), nil)
	}
}

func checkDimensions(data []byte, decodeConfig func(r io.Reader) (image.Config, error)) error {
	cfg, err := decodeConfig(bytes.NewReader(data))
	if err != nil {
		return media.Wrap(media.ErrDecode, "image", "read header", "", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return media.Wrap(media.ErrEncode, "image", "read header", "frame has zero size", nil)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return media.Wrap(media.ErrEncode, "image", "read header", fmt.Sprintf("frame %dx%d exceeds pixel limit", cfg.Width, cfg.Height), nil)
	}
	return nil
}

// orient returns an opaque RGBA copy of src with the EXIF orientation applied.
// Transparent pixels are composited onto white.
func orient(src image.Image, orientation int) *image.RGBA {
	b := src.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	dw, dh := b.Dx(), b.Dy()
	if orientation >= 5 && orientation <= 8 {
		dw, dh = dh, dw
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)

	var m f64.Aff3
	switch orientation {
	case 2:
		m = f64.Aff3{-1, 0, w, 0, 1, 0}
	case 3:
		m = f64.Aff3{-1, 0, w, 0, -1, h}
	case 4:
		m = f64.Aff3{1, 0, 0, 0, -1, h}
	case 5:
		m = f64.Aff3{0, 1, 0, 1, 0, 0}
	case 6:
		m = f64.Aff3{0, -1, h, 1, 0, 0}
	case 7:
		m = f64.Aff3{0, -1, h, -1, 0, w}
	case 8:
		m = f64.Aff3{0, 1, 0, -1, 0, w}
	default:
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
		return dst
	}
	// Translate so the source origin is (0, 0).
	mx, my := float64(b.Min.X), float64(b.Min.Y)
	m[2] -= m[0]*mx + m[1]*my
	m[5] -= m[3]*mx + m[4]*my
	draw.NearestNeighbor.Transform(dst, m, src, b, draw.Over, nil)
	return dst
}
