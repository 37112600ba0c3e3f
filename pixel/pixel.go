// Package pixel describes packed RGB pixel buffers and copies decoded pixels into caller-owned
// destinations.
package pixel

import (
	"errors"
	"fmt"
)

// Errors returned by Image.Validate and WriteInto.
var (
	ErrBufferTooSmall    = errors.New("avif: destination buffer too small")
	ErrUnsupportedFormat = errors.New("avif: unsupported pixel format")
)

// Format is a packed pixel layout.
type Format int

const (
	// FormatUnknown is the zero value and is never a valid target.
	FormatUnknown Format = iota
	// RGBA8 stores R, G, B, A as one byte each.
	RGBA8
	// ABGR8 stores A, B, G, R as one byte each.
	ABGR8
	// RGBA16 stores R, G, B, A as big-endian 16-bit values, matching image.NRGBA64.
	RGBA16
	// RGB565 stores a little-endian 16-bit word with red in the high 5 bits and blue in the low 5.
	RGB565
	// RGBAF16 stores R, G, B, A as little-endian IEEE 754 half-precision floats in [0, 1].
	RGBAF16
)

var formatNames = map[Format]string{
	RGBA8:   "RGBA8",
	ABGR8:   "ABGR8",
	RGBA16:  "RGBA16",
	RGB565:  "RGB565",
	RGBAF16: "RGBAF16",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// Supported reports whether f is one of the enumerated formats.
func (f Format) Supported() bool {
	_, ok := formatNames[f]
	return ok
}

// BytesPerPixel returns the packed size of one pixel, or 0 for unsupported formats.
func (f Format) BytesPerPixel() int {
	switch f {
	case RGBA8, ABGR8:
		return 4
	case RGB565:
		return 2
	case RGBA16, RGBAF16:
		return 8
	default:
		return 0
	}
}

// Depth returns the nominal bits per channel.
func (f Format) Depth() int {
	switch f {
	case RGBA8, ABGR8, RGB565:
		return 8
	case RGBA16, RGBAF16:
		return 16
	default:
		return 0
	}
}

// HasAlpha reports whether the format stores an alpha channel.
func (f Format) HasAlpha() bool {
	return f.Supported() && f != RGB565
}

// ParseFormat returns the format with the given name, as printed by Format.String.
func ParseFormat(name string) (Format, error) {
	for f, n := range formatNames {
		if n == name {
			return f, nil
		}
	}
	return FormatUnknown, fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
}

// Image is a packed pixel buffer. Pix is owned by whoever allocated it.
type Image struct {
	Format Format
	Width  int
	Height int
	// RowBytes is the stride between rows; zero means Width*BytesPerPixel.
	RowBytes int
	Pix      []byte
}

// New allocates a tightly packed image.
func New(format Format, width, height int) (*Image, error) {
	if !format.Supported() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid image dimensions: %dx%d", width, height)
	}
	rowBytes := width * format.BytesPerPixel()
	return &Image{
		Format:   format,
		Width:    width,
		Height:   height,
		RowBytes: rowBytes,
		Pix:      make([]byte, rowBytes*height),
	}, nil
}

// Depth returns the bits per channel of the image's format.
func (img *Image) Depth() int {
	return img.Format.Depth()
}

// Stride returns RowBytes, resolving the zero default.
func (img *Image) Stride() int {
	if img.RowBytes == 0 {
		return img.Width * img.Format.BytesPerPixel()
	}
	return img.RowBytes
}

// Row returns the packed pixels of row y.
func (img *Image) Row(y int) []byte {
	off := y * img.Stride()
	return img.Pix[off : off+img.Width*img.Format.BytesPerPixel()]
}

// Validate checks the buffer contract: RowBytes ≥ Width×BytesPerPixel and
// len(Pix) ≥ RowBytes×Height.
func (img *Image) Validate() error {
	if !img.Format.Supported() {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, img.Format)
	}
	if img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrBufferTooSmall, img.Width, img.Height)
	}

	bpp := img.Format.BytesPerPixel()
	if img.Width > maxInt/bpp {
		return fmt.Errorf("%w: width %d overflows row size", ErrBufferTooSmall, img.Width)
	}
	stride := img.Stride()
	if stride < img.Width*bpp {
		return fmt.Errorf("%w: row bytes %d < %d", ErrBufferTooSmall, stride, img.Width*bpp)
	}
	if stride > maxInt/img.Height {
		return fmt.Errorf("%w: %d rows of %d bytes overflow", ErrBufferTooSmall, img.Height, stride)
	}
	if need := stride * img.Height; len(img.Pix) < need {
		return fmt.Errorf("%w: buffer holds %d bytes, need %d", ErrBufferTooSmall, len(img.Pix), need)
	}
	return nil
}

const maxInt = int(^uint(0) >> 1)

// WriteInto copies src into the top-left corner of dst, row by row, honoring both strides.
// dst may be larger than src. Every check runs before the first byte is written, so a rejected
// call leaves dst untouched.
func WriteInto(src, dst *Image) error {
	if !dst.Format.Supported() {
		return fmt.Errorf("%w: destination format %s", ErrUnsupportedFormat, dst.Format)
	}
	if dst.Format != src.Format {
		return fmt.Errorf("%w: destination format %s does not match %s", ErrUnsupportedFormat, dst.Format, src.Format)
	}
	if err := src.Validate(); err != nil {
		return fmt.Errorf("invalid source image: %w", err)
	}
	if dst.Width < src.Width || dst.Height < src.Height {
		return fmt.Errorf("%w: destination %dx%d is smaller than %dx%d",
			ErrBufferTooSmall, dst.Width, dst.Height, src.Width, src.Height)
	}
	if err := dst.Validate(); err != nil {
		return err
	}

	rowLen := src.Width * src.Format.BytesPerPixel()
	srcStride, dstStride := src.Stride(), dst.Stride()
	for y := 0; y < src.Height; y++ {
		copy(dst.Pix[y*dstStride:y*dstStride+rowLen], src.Pix[y*srcStride:y*srcStride+rowLen])
	}
	return nil
}
