package colorconv

import (
	"errors"
	"fmt"

	"github.com/DND-IT/avif-go/av1"
)

// ErrUnsupportedMatrix is returned for matrix coefficients without an inverse transform here.
var ErrUnsupportedMatrix = errors.New("avif: unsupported matrix coefficients")

type transform int

const (
	transformYCbCr transform = iota
	transformIdentity
	transformYCgCo
)

// coefficients hold the luma weights of a YCbCr matrix. kg is 1 - kr - kb.
type coefficients struct {
	kind       transform
	kr, kg, kb float32
}

func lookupMatrix(mc av1.MatrixCoefficients) (coefficients, error) {
	ycbcr := func(kr, kb float32) coefficients {
		return coefficients{kind: transformYCbCr, kr: kr, kb: kb, kg: 1 - kr - kb}
	}

	switch mc {
	case av1.MatrixIdentity:
		return coefficients{kind: transformIdentity}, nil
	case av1.MatrixYCgCo:
		return coefficients{kind: transformYCgCo}, nil
	case av1.MatrixBT709:
		return ycbcr(0.2126, 0.0722), nil
	case av1.MatrixFCC:
		return ycbcr(0.30, 0.11), nil
	case av1.MatrixBT470BG, av1.MatrixBT601, av1.MatrixUnspecified:
		return ycbcr(0.299, 0.114), nil
	case av1.MatrixSMPTE240:
		return ycbcr(0.212, 0.087), nil
	case av1.MatrixBT2020NCL, av1.MatrixBT2020CL:
		// The constant luminance variant is approximated with the non-constant matrix.
		return ycbcr(0.2627, 0.0593), nil
	default:
		return coefficients{}, fmt.Errorf("%w: %d", ErrUnsupportedMatrix, mc)
	}
}

// rgb maps a normalized sample triple to RGB. y is in [0, 1]; for YCbCr and YCgCo, cb and cr
// are centered on zero, for identity they are in [0, 1].
func (c coefficients) rgb(y, cb, cr float32) (r, g, b float32) {
	switch c.kind {
	case transformIdentity:
		return cr, y, cb
	case transformYCgCo:
		t := y - cb
		return t + cr, y + cb, t - cr
	default:
		r = y + 2*(1-c.kr)*cr
		b = y + 2*(1-c.kb)*cb
		g = y - (2*(c.kr*(1-c.kr)*cr+c.kb*(1-c.kb)*cb))/c.kg
		return r, g, b
	}
}

// quantization maps integer samples of one bit depth and range to normalized values.
type quantization struct {
	yOff, yScale float32
	cOff, cScale float32
}

func newQuantization(depth int, rng av1.ColorRange) quantization {
	maxV := float32(int(1)<<depth - 1)
	shift := float32(int(1) << (depth - 8))
	q := quantization{
		cOff: float32(int(1) << (depth - 1)),
	}
	if rng == av1.RangeFull {
		q.yScale = maxV
		q.cScale = maxV
	} else {
		q.yOff = 16 * shift
		q.yScale = 219 * shift
		q.cScale = 224 * shift
	}
	return q
}

func (q quantization) luma(v float32) float32 {
	return (v - q.yOff) / q.yScale
}

func (q quantization) chroma(v float32) float32 {
	return (v - q.cOff) / q.cScale
}
