// Package colorconv converts reconstructed YUV frames into packed RGB pixels.
//
// Conversion runs in four steps: chroma upsampling, inverse matrix, range expansion and
// packing. Samples are normalized to float32 before any arithmetic, so narrowing to 8 bits
// happens exactly once, in the packer, with round-to-nearest.
package colorconv

import (
	"encoding/binary"
	"fmt"

	"github.com/x448/float16"

	"github.com/DND-IT/avif-go/av1"
	"github.com/DND-IT/avif-go/pixel"
)

// Upsampling selects how subsampled chroma is reconstructed at full resolution.
type Upsampling int

const (
	// Bilinear weights the nearest chroma sample 9:3:3:1 (4:2:0) or 3:1 (4:2:2) with its
	// neighbors toward the luma position.
	Bilinear Upsampling = iota
	// Nearest replicates the co-located chroma sample.
	Nearest
)

func (u Upsampling) String() string {
	if u == Nearest {
		return "nearest"
	}
	return "bilinear"
}

// Params carry the color description that applies to a frame.
type Params struct {
	Matrix     av1.MatrixCoefficients
	Range      av1.ColorRange
	Upsampling Upsampling
}

// Convert converts frame, and optionally its alpha frame, into a new image of the given format.
// alpha must have the same dimensions as frame; only its luma plane is read.
func Convert(frame, alpha *av1.Frame, p Params, format pixel.Format) (*pixel.Image, error) {
	pack, ok := packers[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", pixel.ErrUnsupportedFormat, format)
	}
	if alpha != nil && (alpha.Width != frame.Width || alpha.Height != frame.Height) {
		return nil, fmt.Errorf("alpha frame %dx%d does not match color frame %dx%d",
			alpha.Width, alpha.Height, frame.Width, frame.Height)
	}

	coeffs := coefficients{kind: transformYCbCr}
	if frame.Subsampling != av1.Monochrome {
		var err error
		if coeffs, err = lookupMatrix(p.Matrix); err != nil {
			return nil, err
		}
	}

	out, err := pixel.New(format, frame.Width, frame.Height)
	if err != nil {
		return nil, err
	}

	q := newQuantization(frame.BitDepth, p.Range)
	var aq quantization
	if alpha != nil {
		aq = newQuantization(alpha.BitDepth, alpha.Color.Range)
	}

	bpp := format.BytesPerPixel()
	up := newUpsampler(frame, p.Upsampling)
	for y := 0; y < frame.Height; y++ {
		row := out.Row(y)
		for x := 0; x < frame.Width; x++ {
			luma := q.luma(float32(frame.Sample(0, x, y)))

			var r, g, b float32
			switch {
			case frame.Subsampling == av1.Monochrome:
				r, g, b = luma, luma, luma
			case coeffs.kind == transformIdentity:
				u, v := up.at(x, y)
				r, g, b = coeffs.rgb(luma, q.luma(u), q.luma(v))
			default:
				u, v := up.at(x, y)
				r, g, b = coeffs.rgb(luma, q.chroma(u), q.chroma(v))
			}

			a := float32(1)
			if alpha != nil {
				a = aq.luma(float32(alpha.Sample(0, x, y)))
			}

			pack(row[x*bpp:], clamp(r), clamp(g), clamp(b), clamp(a))
		}
	}
	return out, nil
}

func clamp(v float32) float32 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// upsampler reconstructs chroma values at luma positions.
type upsampler struct {
	f      *av1.Frame
	mode   Upsampling
	shiftX int
	shiftY int
	cw, ch int
}

func newUpsampler(f *av1.Frame, mode Upsampling) *upsampler {
	u := &upsampler{f: f, mode: mode}
	if f.Subsampling != av1.Monochrome {
		u.shiftX, u.shiftY = f.Subsampling.Shift()
		u.cw, u.ch = f.PlaneSize(1)
	}
	return u
}

// neighbor returns the chroma index adjacent to c in the direction of the luma position.
func neighbor(pos, c, n int) int {
	if pos&1 == 0 {
		if c == 0 {
			return 0
		}
		return c - 1
	}
	if c+1 >= n {
		return n - 1
	}
	return c + 1
}

// at returns the U and V values for the luma sample at (x, y).
func (u *upsampler) at(x, y int) (float32, float32) {
	cx, cy := x>>u.shiftX, y>>u.shiftY
	f := u.f
	if u.mode == Nearest || (u.shiftX == 0 && u.shiftY == 0) {
		return float32(f.Sample(1, cx, cy)), float32(f.Sample(2, cx, cy))
	}

	if u.shiftY == 0 {
		nx := neighbor(x, cx, u.cw)
		cb := 3*uint32(f.Sample(1, cx, cy)) + uint32(f.Sample(1, nx, cy))
		cr := 3*uint32(f.Sample(2, cx, cy)) + uint32(f.Sample(2, nx, cy))
		return float32(cb) / 4, float32(cr) / 4
	}

	nx := neighbor(x, cx, u.cw)
	ny := neighbor(y, cy, u.ch)
	sum := func(n int) float32 {
		v := 9*uint32(f.Sample(n, cx, cy)) +
			3*uint32(f.Sample(n, nx, cy)) +
			3*uint32(f.Sample(n, cx, ny)) +
			uint32(f.Sample(n, nx, ny))
		return float32(v) / 16
	}
	return sum(1), sum(2)
}

// packer stores one normalized RGBA pixel at the start of dst.
type packer func(dst []byte, r, g, b, a float32)

var packers = map[pixel.Format]packer{
	pixel.RGBA8:   packRGBA8,
	pixel.ABGR8:   packABGR8,
	pixel.RGBA16:  packRGBA16,
	pixel.RGB565:  packRGB565,
	pixel.RGBAF16: packRGBAF16,
}

func to8(v float32) byte {
	return byte(v*255 + 0.5)
}

func to16(v float32) uint16 {
	return uint16(v*65535 + 0.5)
}

func packRGBA8(dst []byte, r, g, b, a float32) {
	dst[0], dst[1], dst[2], dst[3] = to8(r), to8(g), to8(b), to8(a)
}

func packABGR8(dst []byte, r, g, b, a float32) {
	dst[0], dst[1], dst[2], dst[3] = to8(a), to8(b), to8(g), to8(r)
}

func packRGBA16(dst []byte, r, g, b, a float32) {
	binary.BigEndian.PutUint16(dst[0:], to16(r))
	binary.BigEndian.PutUint16(dst[2:], to16(g))
	binary.BigEndian.PutUint16(dst[4:], to16(b))
	binary.BigEndian.PutUint16(dst[6:], to16(a))
}

func packRGB565(dst []byte, r, g, b, _ float32) {
	v := uint16(r*31+0.5)<<11 | uint16(g*63+0.5)<<5 | uint16(b*31+0.5)
	binary.LittleEndian.PutUint16(dst, v)
}

func packRGBAF16(dst []byte, r, g, b, a float32) {
	binary.LittleEndian.PutUint16(dst[0:], float16.Fromfloat32(r).Bits())
	binary.LittleEndian.PutUint16(dst[2:], float16.Fromfloat32(g).Bits())
	binary.LittleEndian.PutUint16(dst[4:], float16.Fromfloat32(b).Bits())
	binary.LittleEndian.PutUint16(dst[6:], float16.Fromfloat32(a).Bits())
}
