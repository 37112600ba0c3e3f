// Package av1test provides a synthetic AV1 frame decoder for tests.
//
// Encode serializes raw planes into a trivial payload that Decoder understands, so container
// fixtures can carry known sample values without a real AV1 encoder.
package av1test

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/DND-IT/avif-go/av1"
)

var magic = [4]byte{'A', 'V', '1', 'T'}

const headerSize = 12

// ErrBadPayload is returned for payloads that were not produced by Encode.
var ErrBadPayload = errors.New("av1test: bad payload")

// NewFrame allocates a frame with tightly packed planes.
func NewFrame(width, height, depth int, sub av1.Subsampling, rng av1.ColorRange) *av1.Frame {
	f := &av1.Frame{
		Width:       width,
		Height:      height,
		BitDepth:    depth,
		Subsampling: sub,
		Color: av1.ColorInfo{
			Primaries: 1,
			Transfer:  13,
			Matrix:    av1.MatrixBT601,
			Range:     rng,
		},
	}
	bps := f.BytesPerSample()
	for n := range sub.Planes() {
		w, h := f.PlaneSize(n)
		f.Planes[n] = av1.Plane{Pix: make([]byte, w*h*bps), Stride: w * bps}
	}
	return f
}

// Set writes v to the sample at (x, y) of plane n.
func Set(f *av1.Frame, n, x, y int, v uint16) {
	p := &f.Planes[n]
	if f.BitDepth > 8 {
		binary.LittleEndian.PutUint16(p.Pix[y*p.Stride+2*x:], v)
		return
	}
	p.Pix[y*p.Stride+x] = uint8(v)
}

// Fill sets every sample of plane n to v.
func Fill(f *av1.Frame, n int, v uint16) {
	w, h := f.PlaneSize(n)
	for y := range h {
		for x := range w {
			Set(f, n, x, y, v)
		}
	}
}

// Encode serializes f into a payload for Decoder.
func Encode(f *av1.Frame) []byte {
	buf := make([]byte, headerSize)
	copy(buf, magic[:])
	binary.BigEndian.PutUint16(buf[4:], uint16(f.Width))
	binary.BigEndian.PutUint16(buf[6:], uint16(f.Height))
	buf[8] = uint8(f.BitDepth)
	buf[9] = uint8(f.Subsampling)
	buf[10] = uint8(f.Color.Range)
	buf[11] = uint8(f.Color.Matrix)

	bps := f.BytesPerSample()
	for n := range f.Subsampling.Planes() {
		w, h := f.PlaneSize(n)
		p := f.Planes[n]
		for y := range h {
			buf = append(buf, p.Pix[y*p.Stride:y*p.Stride+w*bps]...)
		}
	}
	return buf
}

// Decoder decodes payloads produced by Encode.
type Decoder struct {
	// Err, when set, is returned from every call.
	Err error

	calls atomic.Int64

	mu         sync.Mutex
	maxThreads []int
}

// DecodeFrame implements av1.FrameDecoder.
func (d *Decoder) DecodeFrame(payload []byte, opts av1.Options) (*av1.Frame, error) {
	d.calls.Add(1)
	d.mu.Lock()
	d.maxThreads = append(d.maxThreads, opts.MaxThreads)
	d.mu.Unlock()

	if d.Err != nil {
		return nil, d.Err
	}
	if len(payload) < headerSize || [4]byte(payload[:4]) != magic {
		return nil, &av1.StatusError{Code: -22, Message: "invalid payload"}
	}

	f := NewFrame(
		int(binary.BigEndian.Uint16(payload[4:])),
		int(binary.BigEndian.Uint16(payload[6:])),
		int(payload[8]),
		av1.Subsampling(payload[9]),
		av1.ColorRange(payload[10]),
	)
	f.Color.Matrix = av1.MatrixCoefficients(payload[11])

	rest := payload[headerSize:]
	for n := range f.Subsampling.Planes() {
		p := f.Planes[n]
		if len(rest) < len(p.Pix) {
			return nil, fmt.Errorf("%w: plane %d short by %d bytes", ErrBadPayload, n, len(p.Pix)-len(rest))
		}
		copy(p.Pix, rest)
		rest = rest[len(p.Pix):]
	}
	return f, nil
}

// Calls returns how many times DecodeFrame has been invoked.
func (d *Decoder) Calls() int {
	return int(d.calls.Load())
}

// MaxThreads returns the MaxThreads hint of every call so far, in call order.
func (d *Decoder) MaxThreads() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.maxThreads...)
}

// Func adapts a function to av1.FrameDecoder.
type Func func(payload []byte, opts av1.Options) (*av1.Frame, error)

func (fn Func) DecodeFrame(payload []byte, opts av1.Options) (*av1.Frame, error) {
	return fn(payload, opts)
}
