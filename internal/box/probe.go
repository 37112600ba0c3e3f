package box

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ProbeLimit is the largest prefix Probe ever looks at.
const ProbeLimit = 256

// Probe validates the leading ftyp box of data and describes why it is not AVIF. It looks at no
// more than ProbeLimit bytes. Use Match when only the answer is needed.
func Probe(data []byte) error {
	_, err := checkFileType(data)
	return err
}

// Match reports whether data starts with an ftyp box compatible with AVIF. It looks at no more
// than ProbeLimit bytes and does not allocate.
func Match(data []byte) bool {
	_, fail := scanFileType(data)
	return fail == ftypOK
}

type ftypFailure int

const (
	ftypOK ftypFailure = iota
	ftypShortHeader
	ftypNotFtyp
	ftypShortLargeSize
	ftypTooSmall
	ftypTruncated
	ftypNoBrand
)

// checkFileType validates the leading ftyp box and returns its total size.
func checkFileType(data []byte) (int, error) {
	size, fail := scanFileType(data)
	switch fail {
	case ftypOK:
		return size, nil
	case ftypShortHeader:
		return 0, fmt.Errorf("%w: %d bytes is shorter than a box header", ErrTruncated, len(data))
	case ftypNotFtyp:
		return 0, fmt.Errorf("%w: leading box is %q, not ftyp", ErrNotAVIF, data[4:8])
	case ftypShortLargeSize:
		return 0, fmt.Errorf("%w: ftyp large size header", ErrTruncated)
	case ftypTooSmall:
		return 0, fmt.Errorf("%w: ftyp box of %d bytes is too small", ErrNotAVIF, size)
	case ftypTruncated:
		return 0, fmt.Errorf("%w: ftyp declares %d bytes, %d available", ErrTruncated, size, len(data))
	default:
		return 0, fmt.Errorf("%w: no avif or avis brand in ftyp", ErrNotAVIF)
	}
}

// scanFileType returns the declared ftyp size and the first check it fails. The size is only
// meaningful for ftypOK, ftypTooSmall and ftypTruncated.
func scanFileType(data []byte) (int, ftypFailure) {
	if len(data) < 8 {
		return 0, ftypShortHeader
	}
	if FourCC(data[4:8]) != fccFtyp {
		return 0, ftypNotFtyp
	}

	headerLen := 8
	size := uint64(binary.BigEndian.Uint32(data))
	switch size {
	case 0:
		size = uint64(len(data))
	case 1:
		if len(data) < 16 {
			return 0, ftypShortLargeSize
		}
		size = binary.BigEndian.Uint64(data[8:])
		headerLen = 16
	}
	if size < uint64(headerLen)+8 {
		return int(size), ftypTooSmall
	}
	// Sizes that do not fit an int are past any slice and reported as truncated.
	if size > uint64(len(data)) {
		return int(min(size, uint64(math.MaxInt))), ftypTruncated
	}

	// Brands past the probe window are not considered.
	end := min(int(size), ProbeLimit)
	brands := data[headerLen:end]
	if FourCC(brands[0:4]) == BrandAVIF || FourCC(brands[0:4]) == BrandAVIS {
		return int(size), ftypOK
	}
	// Skip major brand and minor version.
	for i := 8; i+4 <= len(brands); i += 4 {
		b := FourCC(brands[i : i+4])
		if b == BrandAVIF || b == BrandAVIS {
			return int(size), ftypOK
		}
	}
	return int(size), ftypNoBrand
}
