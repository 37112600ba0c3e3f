//go:build cgo && dav1d

// Package dav1d is an av1.FrameDecoder backed by the system dav1d library. Importing it
// installs the decoder as the package default of github.com/DND-IT/avif-go.
package dav1d

/*
#cgo pkg-config: dav1d

#include <errno.h>
#include <stdlib.h>
#include <string.h>
#include <dav1d/dav1d.h>

static int eagain(void) { return DAV1D_ERR(EAGAIN); }
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/DND-IT/avif-go"
	"github.com/DND-IT/avif-go/av1"
)

func init() {
	avif.SetFrameDecoder(&Decoder{})
}

// maxAttempts bounds the get_picture polling loop once all data has been sent.
const maxAttempts = 10

// Decoder decodes AV1 payloads with dav1d. Every call opens its own dav1d context, so a single
// Decoder is safe for concurrent use.
type Decoder struct {
	// ApplyGrain enables film grain synthesis.
	ApplyGrain bool
}

// Version returns the version string of the linked dav1d library.
func Version() string {
	return C.GoString(C.dav1d_version())
}

// DecodeFrame implements av1.FrameDecoder.
func (d *Decoder) DecodeFrame(payload []byte, opts av1.Options) (*av1.Frame, error) {
	if len(payload) == 0 {
		return nil, &av1.StatusError{Code: -int(C.EINVAL), Message: "no data provided"}
	}

	var settings C.Dav1dSettings
	C.dav1d_default_settings(&settings)
	settings.n_threads = C.int(max(opts.MaxThreads, 1))
	settings.max_frame_delay = 1
	settings.all_layers = 0
	settings.apply_grain = 0
	if d.ApplyGrain {
		settings.apply_grain = 1
	}

	var ctx *C.Dav1dContext
	if ret := C.dav1d_open(&ctx, &settings); ret < 0 {
		return nil, status(ret, "unable to create decoder")
	}
	defer C.dav1d_close(&ctx)

	var data C.Dav1dData
	buf := C.dav1d_data_create(&data, C.size_t(len(payload)))
	if buf == nil {
		return nil, &av1.StatusError{Code: -int(C.ENOMEM), Message: "failed to allocate data"}
	}
	C.memcpy(unsafe.Pointer(buf), unsafe.Pointer(&payload[0]), C.size_t(len(payload)))
	defer C.dav1d_data_unref(&data)

	var pic C.Dav1dPicture
	havePicture := false
	for attempt := 0; data.sz > 0 && !havePicture; attempt++ {
		if attempt == maxAttempts {
			return nil, status(C.eagain(), "decoder did not accept data")
		}
		ret := C.dav1d_send_data(ctx, &data)
		if ret == 0 {
			continue
		}
		if ret != C.eagain() {
			return nil, status(ret, "send_data")
		}

		// The decoder is full; drain a picture before sending the rest.
		ret = C.dav1d_get_picture(ctx, &pic)
		if ret == 0 {
			havePicture = true
		} else if ret != C.eagain() {
			return nil, status(ret, "get_picture")
		}
	}

	for attempt := 0; !havePicture; attempt++ {
		ret := C.dav1d_get_picture(ctx, &pic)
		if ret == 0 {
			havePicture = true
			break
		}
		if ret != C.eagain() {
			return nil, status(ret, "get_picture")
		}
		if attempt == maxAttempts-1 {
			return nil, status(ret, fmt.Sprintf("no picture after %d attempts", maxAttempts))
		}
	}
	defer C.dav1d_picture_unref(&pic)

	return copyFrame(&pic)
}

func status(ret C.int, msg string) error {
	return &av1.StatusError{Code: int(ret), Message: msg}
}

// copyFrame copies the picture planes into Go memory so nothing aliases dav1d's pool.
func copyFrame(pic *C.Dav1dPicture) (*av1.Frame, error) {
	f := &av1.Frame{
		Width:    int(pic.p.w),
		Height:   int(pic.p.h),
		BitDepth: int(pic.p.bpc),
	}

	switch pic.p.layout {
	case C.DAV1D_PIXEL_LAYOUT_I400:
		f.Subsampling = av1.Monochrome
	case C.DAV1D_PIXEL_LAYOUT_I420:
		f.Subsampling = av1.Subsampling420
	case C.DAV1D_PIXEL_LAYOUT_I422:
		f.Subsampling = av1.Subsampling422
	case C.DAV1D_PIXEL_LAYOUT_I444:
		f.Subsampling = av1.Subsampling444
	default:
		return nil, &av1.StatusError{Code: -int(C.EINVAL), Message: fmt.Sprintf("unsupported pixel layout %d", pic.p.layout)}
	}

	if seq := pic.seq_hdr; seq != nil {
		f.Color = av1.ColorInfo{
			Primaries: uint16(seq.pri),
			Transfer:  uint16(seq.trc),
			Matrix:    av1.MatrixCoefficients(seq.mtrx),
			Range:     av1.RangeLimited,
		}
		if seq.color_range != 0 {
			f.Color.Range = av1.RangeFull
		}
	}

	bps := f.BytesPerSample()
	for n := range f.Subsampling.Planes() {
		w, h := f.PlaneSize(n)
		srcStride := int(pic.stride[min(n, 1)])
		rowLen := w * bps

		pix := make([]byte, rowLen*h)
		src := unsafe.Slice((*byte)(pic.data[n]), srcStride*(h-1)+rowLen)
		for y := range h {
			copy(pix[y*rowLen:(y+1)*rowLen], src[y*srcStride:y*srcStride+rowLen])
		}
		f.Planes[n] = av1.Plane{Pix: pix, Stride: rowLen}
	}
	return f, nil
}
