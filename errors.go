package avif

import (
	"errors"

	"github.com/DND-IT/avif-go/internal/box"
	"github.com/DND-IT/avif-go/pixel"
)

// Errors returned by the decoder. Every error a Session returns wraps exactly one of these,
// so callers can branch with errors.Is.
var (
	// ErrNotAVIF means the leading boxes do not carry an AVIF file type signature.
	ErrNotAVIF = box.ErrNotAVIF
	// ErrTruncated means a declared box or extent size exceeds the available data.
	ErrTruncated = box.ErrTruncated
	// ErrMalformedContainer means the box structure violates the format or a strict check.
	ErrMalformedContainer = box.ErrMalformedContainer
	// ErrUnsupportedFeature means the file is valid but uses something this decoder cannot handle.
	ErrUnsupportedFeature = box.ErrUnsupportedFeature
	// ErrBufferTooSmall means a destination buffer violates the size contract.
	ErrBufferTooSmall = pixel.ErrBufferTooSmall
	// ErrUnsupportedTargetFormat means the requested pixel format is not one of the enumerated ones.
	ErrUnsupportedTargetFormat = pixel.ErrUnsupportedFormat

	// ErrDimensionOverflow means the image exceeds a configured limit or its buffers would overflow.
	ErrDimensionOverflow = errors.New("avif: image dimensions exceed limits")
	// ErrBitstream wraps any failure of the AV1 frame decoder; the original error stays in the chain.
	ErrBitstream = errors.New("avif: AV1 bitstream decode failed")
	// ErrInvalidConfig means a Config field is out of range.
	ErrInvalidConfig = errors.New("avif: invalid decoder config")
	// ErrInvalidState means a Session method was called out of order.
	ErrInvalidState = errors.New("avif: operation not valid in the current session state")
	// ErrIndexOutOfRange means an image index past ImageCount was requested.
	ErrIndexOutOfRange = errors.New("avif: image index out of range")
	// ErrNoFrameDecoder means a decode was attempted without an AV1 frame decoder.
	ErrNoFrameDecoder = errors.New("avif: no AV1 frame decoder available")
)
