// Package avif decodes AVIF still images into caller-provided pixel buffers.
//
// The package parses the ISO-BMFF container itself and hands the coded AV1 payload to an
// av1.FrameDecoder. Decode and DecodeConfig are registered with the image package, so a blank
// import together with a frame decoder backend is enough for image.Decode to read AVIF files.
package avif

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"sync"

	"github.com/DND-IT/avif-go/av1"
	"github.com/DND-IT/avif-go/internal/box"
	"github.com/DND-IT/avif-go/pixel"
)

func init() {
	image.RegisterFormat("avif", "????ftypavif", Decode, DecodeConfig)
	image.RegisterFormat("avif", "????ftypavis", Decode, DecodeConfig)
}

var (
	frameDecoderMu sync.RWMutex
	frameDecoder   av1.FrameDecoder
)

// SetFrameDecoder installs the AV1 frame decoder used by Decode, DecodeWithConfig and DecodeInto.
// Backends call it from their init function. Passing nil uninstalls the current decoder.
func SetFrameDecoder(dec av1.FrameDecoder) {
	frameDecoderMu.Lock()
	defer frameDecoderMu.Unlock()
	frameDecoder = dec
}

// FrameDecoder returns the installed AV1 frame decoder, or nil.
func FrameDecoder() av1.FrameDecoder {
	frameDecoderMu.RLock()
	defer frameDecoderMu.RUnlock()
	return frameDecoder
}

// IsAVIF reports whether data starts with an AVIF file type box. It only inspects a bounded
// prefix and does not allocate, whatever the verdict.
func IsAVIF(data []byte) bool {
	return box.Match(data)
}

// Decode reads an AVIF image from r. Images deeper than 8 bits are returned as *image.NRGBA64,
// all others as *image.NRGBA.
func Decode(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode AVIF data: %w", err)
	}

	return DecodeWithConfig(data, DefaultConfig())
}

// DecodeConfig returns the dimensions and color model of an AVIF image without decoding it.
func DecodeConfig(r io.Reader) (image.Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return image.Config{}, fmt.Errorf("failed to get config of AVIF data: %w", err)
	}

	s, err := NewSession(DefaultConfig(), nil)
	if err != nil {
		return image.Config{}, err
	}
	defer s.Close()

	if err := s.Parse(data); err != nil {
		return image.Config{}, err
	}

	model := color.NRGBAModel
	if s.Depth() > 8 {
		model = color.NRGBA64Model
	}
	return image.Config{
		ColorModel: model,
		Width:      s.Width(),
		Height:     s.Height(),
	}, nil
}

// DecodeWithConfig decodes data into a new image using cfg and the installed frame decoder.
func DecodeWithConfig(data []byte, cfg Config) (image.Image, error) {
	s, err := decodeSession(data, cfg)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	rect := image.Rect(0, 0, s.Width(), s.Height())
	if s.Depth() > 8 {
		img := image.NewNRGBA64(rect)
		dst := &pixel.Image{Format: pixel.RGBA16, Width: s.Width(), Height: s.Height(), RowBytes: img.Stride, Pix: img.Pix}
		if err := s.ToRGB(dst); err != nil {
			return nil, err
		}
		return img, nil
	}

	img := image.NewNRGBA(rect)
	dst := &pixel.Image{Format: pixel.RGBA8, Width: s.Width(), Height: s.Height(), RowBytes: img.Stride, Pix: img.Pix}
	if err := s.ToRGB(dst); err != nil {
		return nil, err
	}
	return img, nil
}

// DecodeInto decodes data into dst with the default configuration. dst must satisfy the buffer
// contract for the image's dimensions. The returned image views the written top-left region
// of dst.
func DecodeInto(data []byte, dst *pixel.Image) (*pixel.Image, error) {
	s, err := decodeSession(data, DefaultConfig())
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if err := s.ToRGB(dst); err != nil {
		return nil, err
	}

	stride := dst.Stride()
	return &pixel.Image{
		Format:   dst.Format,
		Width:    s.Width(),
		Height:   s.Height(),
		RowBytes: stride,
		Pix:      dst.Pix[:stride*s.Height()],
	}, nil
}

// decodeSession parses and decodes data, returning a session ready for ToRGB. The caller owns
// the returned session.
func decodeSession(data []byte, cfg Config) (*Session, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: cannot decode empty data", ErrTruncated)
	}

	s, err := NewSession(cfg, FrameDecoder())
	if err != nil {
		return nil, err
	}
	if err := s.Parse(data); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.DecodeNextFrame(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
