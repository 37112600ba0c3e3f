// Package box locates the primary image item of an AVIF file within its ISO-BMFF box structure.
//
// The parser never copies coded data: it reports extents (offset/length pairs) into the caller's
// byte span together with the item properties needed to validate and decode it.
package box

import (
	"errors"
	"fmt"
)

// Errors returned by Probe and Parse.
var (
	// ErrNotAVIF means the leading ftyp box is missing or has no avif or avis brand.
	ErrNotAVIF = errors.New("avif: not an AVIF file")
	// ErrTruncated means a box or extent extends past the end of the data.
	ErrTruncated = errors.New("avif: truncated data")
	// ErrMalformedContainer means the box structure is invalid.
	ErrMalformedContainer = errors.New("avif: malformed container")
	// ErrUnsupportedFeature means the file is valid but uses something Parse does not handle.
	ErrUnsupportedFeature = errors.New("avif: unsupported feature")
)

// FourCC is a four-character box or brand code.
type FourCC [4]byte

func (f FourCC) String() string {
	return string(f[:])
}

var (
	fccFtyp = FourCC{'f', 't', 'y', 'p'}
	fccMeta = FourCC{'m', 'e', 't', 'a'}
	fccHdlr = FourCC{'h', 'd', 'l', 'r'}
	fccPict = FourCC{'p', 'i', 'c', 't'}
	fccPitm = FourCC{'p', 'i', 't', 'm'}
	fccIloc = FourCC{'i', 'l', 'o', 'c'}
	fccIinf = FourCC{'i', 'i', 'n', 'f'}
	fccInfe = FourCC{'i', 'n', 'f', 'e'}
	fccIref = FourCC{'i', 'r', 'e', 'f'}
	fccIdat = FourCC{'i', 'd', 'a', 't'}
	fccIprp = FourCC{'i', 'p', 'r', 'p'}
	fccIpco = FourCC{'i', 'p', 'c', 'o'}
	fccIpma = FourCC{'i', 'p', 'm', 'a'}
	fccAuxl = FourCC{'a', 'u', 'x', 'l'}
	fccCdsc = FourCC{'c', 'd', 's', 'c'}
	fccMime = FourCC{'m', 'i', 'm', 'e'}

	// BrandAVIF marks an AVIF still image, BrandAVIS an image sequence.
	BrandAVIF = FourCC{'a', 'v', 'i', 'f'}
	BrandAVIS = FourCC{'a', 'v', 'i', 's'}

	// ItemAV01 is the item type of an AV1 coded image item.
	ItemAV01 = FourCC{'a', 'v', '0', '1'}
	ItemGrid = FourCC{'g', 'r', 'i', 'd'}
	ItemExif = FourCC{'E', 'x', 'i', 'f'}
)

// AlphaURN identifies an alpha auxiliary image in an auxC property.
const AlphaURN = "urn:mpeg:mpegB:cicp:systems:auxiliary:alpha"

const xmpContentType = "application/rdf+xml"

// Extent is a contiguous byte range of item data within the encoded image.
type Extent struct {
	Offset uint64
	Length uint64
}

// Item is an image item with its resolved data location and associated properties.
type Item struct {
	ID         uint32
	Type       FourCC
	Extents    []Extent
	Properties Properties
}

// Size returns the total number of bytes covered by the item's extents.
func (it *Item) Size() uint64 {
	var n uint64
	for _, e := range it.Extents {
		n += e.Length
	}
	return n
}

// Payload returns the item's coded bytes. A single extent is returned as a sub-slice of data;
// multiple extents are concatenated into a new buffer.
func (it *Item) Payload(data []byte) ([]byte, error) {
	for _, e := range it.Extents {
		if e.Offset > uint64(len(data)) || e.Length > uint64(len(data))-e.Offset {
			return nil, fmt.Errorf("%w: item %d extent [%d,+%d) exceeds %d bytes",
				ErrTruncated, it.ID, e.Offset, e.Length, len(data))
		}
	}

	switch len(it.Extents) {
	case 0:
		return nil, fmt.Errorf("%w: item %d has no data", ErrMalformedContainer, it.ID)
	case 1:
		e := it.Extents[0]
		return data[e.Offset : e.Offset+e.Length], nil
	}

	buf := make([]byte, 0, it.Size())
	for _, e := range it.Extents {
		buf = append(buf, data[e.Offset:e.Offset+e.Length]...)
	}
	return buf, nil
}

// Image describes the primary image of an AVIF file.
type Image struct {
	MajorBrand       FourCC
	CompatibleBrands []FourCC

	Color Item
	// Alpha is the auxiliary alpha item, or nil.
	Alpha *Item

	// Exif and XMP are metadata items describing the primary item; they are located and
	// bounds-checked but never interpreted.
	Exif *Item
	XMP  *Item
}

// Options controls which optional items Parse resolves.
type Options struct {
	IgnoreExif bool
	IgnoreXMP  bool
}
