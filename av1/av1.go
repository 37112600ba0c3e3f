// Package av1 defines the boundary between the AVIF decoder and an AV1 bitstream decoder.
//
// The AVIF decoder never interprets coded tile data itself; it hands an item's payload to a
// FrameDecoder and receives reconstructed sample planes back.
package av1

import (
	"fmt"
)

// Subsampling is the chroma subsampling layout of a frame.
type Subsampling int

const (
	Subsampling444 Subsampling = iota
	Subsampling422
	Subsampling420
	Monochrome
)

func (s Subsampling) String() string {
	switch s {
	case Subsampling444:
		return "4:4:4"
	case Subsampling422:
		return "4:2:2"
	case Subsampling420:
		return "4:2:0"
	case Monochrome:
		return "4:0:0"
	default:
		return fmt.Sprintf("Subsampling(%d)", int(s))
	}
}

// Shift returns the horizontal and vertical chroma shifts of the layout.
func (s Subsampling) Shift() (x, y int) {
	switch s {
	case Subsampling422:
		return 1, 0
	case Subsampling420:
		return 1, 1
	default:
		return 0, 0
	}
}

// Planes returns the number of sample planes a frame of this layout carries.
func (s Subsampling) Planes() int {
	if s == Monochrome {
		return 1
	}
	return 3
}

// ColorRange is the quantization range of the samples.
type ColorRange int

const (
	// RangeLimited is "studio swing": luma in [16, 235] and chroma in [16, 240] at 8 bits.
	RangeLimited ColorRange = iota
	RangeFull
)

func (r ColorRange) String() string {
	if r == RangeFull {
		return "full"
	}
	return "limited"
}

// MatrixCoefficients are the CICP matrix coefficients of ITU-T H.273.
type MatrixCoefficients uint16

const (
	MatrixIdentity     MatrixCoefficients = 0
	MatrixBT709        MatrixCoefficients = 1
	MatrixUnspecified  MatrixCoefficients = 2
	MatrixFCC          MatrixCoefficients = 4
	MatrixBT470BG      MatrixCoefficients = 5
	MatrixBT601        MatrixCoefficients = 6
	MatrixSMPTE240     MatrixCoefficients = 7
	MatrixYCgCo        MatrixCoefficients = 8
	MatrixBT2020NCL    MatrixCoefficients = 9
	MatrixBT2020CL     MatrixCoefficients = 10
	MatrixSMPTE2085    MatrixCoefficients = 11
	MatrixChromaDerNCL MatrixCoefficients = 12
	MatrixChromaDerCL  MatrixCoefficients = 13
	MatrixICtCp        MatrixCoefficients = 14
)

// ColorInfo is the color description signalled in the sequence header.
type ColorInfo struct {
	Primaries uint16
	Transfer  uint16
	Matrix    MatrixCoefficients
	Range     ColorRange
}

// Plane is one sample plane. Samples wider than 8 bits occupy two bytes, little-endian.
type Plane struct {
	Pix []byte
	// Stride is the distance in bytes between vertically adjacent samples.
	Stride int
}

// Frame is a reconstructed picture.
type Frame struct {
	Width       int
	Height      int
	BitDepth    int
	Subsampling Subsampling
	Color       ColorInfo
	// Planes holds Y, U and V; monochrome frames only populate Planes[0].
	Planes [3]Plane
}

// BytesPerSample is 1 for 8-bit frames and 2 otherwise.
func (f *Frame) BytesPerSample() int {
	if f.BitDepth > 8 {
		return 2
	}
	return 1
}

// PlaneSize returns the width and height in samples of plane n.
func (f *Frame) PlaneSize(n int) (w, h int) {
	if n == 0 {
		return f.Width, f.Height
	}
	sx, sy := f.Subsampling.Shift()
	return (f.Width + sx) >> sx, (f.Height + sy) >> sy
}

// Sample returns the sample at (x, y) of plane n without bounds checks beyond the slice's own.
func (f *Frame) Sample(n, x, y int) uint16 {
	p := &f.Planes[n]
	if f.BitDepth > 8 {
		i := y*p.Stride + 2*x
		return uint16(p.Pix[i]) | uint16(p.Pix[i+1])<<8
	}
	return uint16(p.Pix[y*p.Stride+x])
}

// Validate checks that every plane holds at least the samples its dimensions require.
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame dimensions: %dx%d", f.Width, f.Height)
	}
	switch f.BitDepth {
	case 8, 10, 12:
	default:
		return fmt.Errorf("invalid frame bit depth: %d", f.BitDepth)
	}

	bps := f.BytesPerSample()
	for n := range f.Subsampling.Planes() {
		w, h := f.PlaneSize(n)
		p := f.Planes[n]
		if p.Stride < w*bps {
			return fmt.Errorf("plane %d stride %d is shorter than %d samples", n, p.Stride, w)
		}
		if need := p.Stride*(h-1) + w*bps; len(p.Pix) < need {
			return fmt.Errorf("plane %d holds %d bytes, need %d", n, len(p.Pix), need)
		}
	}
	return nil
}

// Options are per-call hints for a FrameDecoder.
type Options struct {
	// MaxThreads bounds the decoder's internal parallelism.
	MaxThreads int
	// Alpha is set when the payload is an alpha auxiliary image.
	Alpha bool
}

// FrameDecoder decodes a single AV1 coded image item.
//
// DecodeFrame may run for a long time and is not cancellable. Implementations must not retain
// payload after returning, and the returned frame must not alias memory the decoder reuses.
// Implementations must be safe for concurrent use by independent sessions.
type FrameDecoder interface {
	DecodeFrame(payload []byte, opts Options) (*Frame, error)
}

// StatusError carries a native decoder status verbatim.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("av1: decoder status %d: %s", e.Code, e.Message)
}
