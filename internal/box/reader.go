package box

import (
	"encoding/binary"
	"fmt"
)

// reader is a bounds-checked big-endian cursor over a borrowed byte span.
// Every read that would run past the end fails with ErrTruncated instead of panicking.
type reader struct {
	buf []byte
	off int
	// base is the absolute offset of buf[0] within the encoded image.
	base int
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

// child returns a reader over a box payload that keeps absolute offsets intact.
func (r *reader) child(h header) *reader {
	return &reader{buf: h.Body, base: h.Offset}
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) need(n int) error {
	if n < 0 || r.remaining() < n {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, r.off, r.remaining())
	}
	return nil
}

func (r *reader) skip(n int) error {
	if err := r.need(n); err != nil {
		return err
	}
	r.off += n
	return nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

// uvar reads an n-byte big-endian unsigned integer; n is 0, 4 or 8 as used by iloc.
func (r *reader) uvar(n int) (uint64, error) {
	switch n {
	case 0:
		return 0, nil
	case 4:
		v, err := r.u32()
		return uint64(v), err
	case 8:
		return r.u64()
	default:
		return 0, fmt.Errorf("%w: unsupported iloc field size %d", ErrMalformedContainer, n)
	}
}

func (r *reader) fourCC() (FourCC, error) {
	var f FourCC
	b, err := r.bytes(4)
	if err != nil {
		return f, err
	}
	copy(f[:], b)
	return f, nil
}

// fullBox reads the version and 24-bit flags of an ISO-BMFF FullBox.
func (r *reader) fullBox() (version uint8, flags uint32, err error) {
	v, err := r.u32()
	if err != nil {
		return 0, 0, err
	}
	return uint8(v >> 24), v & 0xffffff, nil
}

// cstring reads a NUL-terminated string. A missing terminator consumes the rest of the span.
func (r *reader) cstring() string {
	start := r.off
	for r.off < len(r.buf) {
		if r.buf[r.off] == 0 {
			s := string(r.buf[start:r.off])
			r.off++
			return s
		}
		r.off++
	}
	return string(r.buf[start:])
}

// header describes one box within the enclosing span.
type header struct {
	Type FourCC
	// Start is the offset of the box header within the parent span.
	Start int
	// Body is the box payload without the header.
	Body []byte
	// Offset is the absolute offset of Body within the encoded image.
	Offset int
}

// nextBox reads the next box header and returns the payload, advancing past the whole box.
func (r *reader) nextBox() (header, error) {
	h := header{Start: r.off}
	size32, err := r.u32()
	if err != nil {
		return h, err
	}
	if h.Type, err = r.fourCC(); err != nil {
		return h, err
	}

	headerLen := 8
	var size uint64
	switch size32 {
	case 0:
		size = uint64(len(r.buf) - h.Start)
	case 1:
		if size, err = r.u64(); err != nil {
			return h, err
		}
		headerLen = 16
	default:
		size = uint64(size32)
	}

	if size < uint64(headerLen) {
		return h, fmt.Errorf("%w: box %s declares size %d smaller than its header", ErrMalformedContainer, h.Type, size)
	}
	if size > uint64(len(r.buf)-h.Start) {
		return h, fmt.Errorf("%w: box %s declares %d bytes, %d available", ErrTruncated, h.Type, size, len(r.buf)-h.Start)
	}

	end := h.Start + int(size)
	h.Body = r.buf[h.Start+headerLen : end]
	h.Offset = r.base + h.Start + headerLen
	r.off = end
	return h, nil
}
