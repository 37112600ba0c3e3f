// Package avifbuild assembles minimal AVIF containers around arbitrary item payloads for tests
// and tooling.
package avifbuild

import (
	"encoding/binary"
)

// NCLX is a colr/nclx color description.
type NCLX struct {
	Primaries uint16
	Transfer  uint16
	Matrix    uint16
	FullRange bool
}

// Spec describes the container to build. Zero values produce a minimal valid AVIF file
// holding Payload as the primary item.
type Spec struct {
	// Brands overrides the ftyp brands; the first entry is the major brand.
	Brands []string

	Width, Height uint32
	Depth         int
	SubsamplingX  bool
	SubsamplingY  bool
	Monochrome    bool

	Payload []byte

	// Pixi adds a pixi property with Depth for each channel.
	Pixi bool
	NCLX *NCLX
	// Clap adds a clean aperture property with the given eight values.
	Clap *[8]uint32
	// Irot adds a rotation property.
	Irot *uint8

	// ItemType overrides the primary item type (default "av01").
	ItemType string
	// EssentialUnknown associates an unknown property marked essential with the primary item.
	EssentialUnknown bool
	// OmitISPE and OmitAV1C drop the mandatory properties of the primary item.
	OmitISPE bool
	OmitAV1C bool
	// Handler overrides the hdlr type (default "pict").
	Handler string

	// Alpha adds an alpha auxiliary item with this payload.
	Alpha         []byte
	AlphaDepth    int
	AlphaOmitISPE bool

	Exif []byte
	XMP  []byte

	// Split stores the primary payload as two extents.
	Split bool
	// InIdat stores the primary payload in idat (construction method 1).
	InIdat bool
}

const (
	colorID = 1
	alphaID = 2
	exifID  = 3
	xmpID   = 4
)

// Build returns the encoded file described by s.
func Build(s Spec) []byte {
	if s.Depth == 0 {
		s.Depth = 8
	}
	if s.AlphaDepth == 0 {
		s.AlphaDepth = s.Depth
	}

	ftyp := buildFtyp(s)
	items := s.items()

	// iloc has a fixed size, so a first pass with placeholder offsets yields the final meta size.
	meta := buildMeta(s, items, 0)
	mdatStart := uint32(len(ftyp) + len(meta) + 8)
	meta = buildMeta(s, items, mdatStart)

	var mdat []byte
	for _, it := range items {
		if !it.inIdat {
			mdat = append(mdat, it.data...)
		}
	}

	out := append([]byte{}, ftyp...)
	out = append(out, meta...)
	out = append(out, box("mdat", mdat)...)
	return out
}

type item struct {
	id          uint16
	typ         string
	contentType string
	data        []byte
	inIdat      bool
	split       bool
}

func (s Spec) items() []item {
	typ := s.ItemType
	if typ == "" {
		typ = "av01"
	}
	items := []item{{id: colorID, typ: typ, data: s.Payload, inIdat: s.InIdat, split: s.Split}}
	if s.Alpha != nil {
		items = append(items, item{id: alphaID, typ: "av01", data: s.Alpha})
	}
	if s.Exif != nil {
		items = append(items, item{id: exifID, typ: "Exif", data: s.Exif})
	}
	if s.XMP != nil {
		items = append(items, item{id: xmpID, typ: "mime", contentType: "application/rdf+xml", data: s.XMP})
	}
	return items
}

func buildFtyp(s Spec) []byte {
	brands := s.Brands
	if brands == nil {
		brands = []string{"avif", "mif1", "miaf"}
	}
	var body []byte
	body = append(body, brands[0]...)
	body = append(body, 0, 0, 0, 0)
	for _, b := range brands {
		body = append(body, b...)
	}
	return box("ftyp", body)
}

func buildMeta(s Spec, items []item, mdatStart uint32) []byte {
	handler := s.Handler
	if handler == "" {
		handler = "pict"
	}
	hdlr := fullBox("hdlr", 0, 0, u32(0), []byte(handler), make([]byte, 12), []byte{0})
	pitm := fullBox("pitm", 0, 0, u16(colorID))

	var infes []byte
	for _, it := range items {
		body := [][]byte{u16(it.id), u16(0), []byte(it.typ), []byte{0}}
		if it.contentType != "" {
			body = append(body, []byte(it.contentType), []byte{0})
		}
		infes = append(infes, fullBox("infe", 2, 0, body...)...)
	}
	iinf := fullBox("iinf", 0, 0, u16(uint16(len(items))), infes)

	iloc, idat := buildIloc(items, mdatStart)

	var irefs []byte
	for _, it := range items {
		switch it.id {
		case alphaID:
			irefs = append(irefs, box("auxl", cat(u16(alphaID), u16(1), u16(colorID)))...)
		case exifID, xmpID:
			irefs = append(irefs, box("cdsc", cat(u16(it.id), u16(1), u16(colorID)))...)
		}
	}

	parts := [][]byte{hdlr, pitm, iinf, iloc}
	if irefs != nil {
		parts = append(parts, fullBox("iref", 0, 0, irefs))
	}
	parts = append(parts, buildIprp(s))
	if idat != nil {
		parts = append(parts, box("idat", idat))
	}
	return fullBox("meta", 0, 0, parts...)
}

// buildIloc writes a version 1 iloc with 4-byte offsets and lengths.
func buildIloc(items []item, mdatStart uint32) (iloc, idat []byte) {
	body := [][]byte{{0x44, 0x00}, u16(uint16(len(items)))}
	off := mdatStart
	for _, it := range items {
		method := uint16(0)
		if it.inIdat {
			method = 1
		}
		extents := [][2]uint32{}
		base := off
		if it.inIdat {
			base = uint32(len(idat))
			idat = append(idat, it.data...)
		} else {
			off += uint32(len(it.data))
		}
		n := uint32(len(it.data))
		if it.split && n > 1 {
			extents = append(extents, [2]uint32{base, n / 2}, [2]uint32{base + n/2, n - n/2})
		} else {
			extents = append(extents, [2]uint32{base, n})
		}

		body = append(body, u16(it.id), u16(method), u16(0), u16(uint16(len(extents))))
		for _, e := range extents {
			body = append(body, u32(e[0]), u32(e[1]))
		}
	}
	return fullBox("iloc", 1, 0, body...), idat
}

func buildIprp(s Spec) []byte {
	var props [][]byte
	add := func(p []byte) byte {
		props = append(props, p)
		return byte(len(props))
	}

	var color []byte
	if !s.OmitISPE {
		color = append(color, add(ispe(s.Width, s.Height)))
	}
	if !s.OmitAV1C {
		color = append(color, 0x80|add(av1C(s.Depth, s.Monochrome, s.SubsamplingX, s.SubsamplingY)))
	}
	if s.Pixi {
		channels := 3
		if s.Monochrome {
			channels = 1
		}
		depths := make([]byte, channels)
		for i := range depths {
			depths[i] = byte(s.Depth)
		}
		color = append(color, add(fullBox("pixi", 0, 0, []byte{byte(channels)}, depths)))
	}
	if s.NCLX != nil {
		flags := byte(0)
		if s.NCLX.FullRange {
			flags = 0x80
		}
		color = append(color, add(box("colr", cat([]byte("nclx"), u16(s.NCLX.Primaries), u16(s.NCLX.Transfer), u16(s.NCLX.Matrix), []byte{flags}))))
	}
	if s.Clap != nil {
		var body []byte
		for _, v := range s.Clap {
			body = append(body, u32(v)...)
		}
		color = append(color, 0x80|add(box("clap", body)))
	}
	if s.Irot != nil {
		color = append(color, 0x80|add(box("irot", []byte{*s.Irot})))
	}
	if s.EssentialUnknown {
		color = append(color, 0x80|add(box("zzzz", []byte{1, 2, 3})))
	}

	assoc := [][]byte{u32(1), u16(colorID), {byte(len(color))}, color}

	if s.Alpha != nil {
		var alpha []byte
		if !s.AlphaOmitISPE {
			alpha = append(alpha, add(ispe(s.Width, s.Height)))
		}
		alpha = append(alpha, 0x80|add(av1C(s.AlphaDepth, true, false, false)))
		alpha = append(alpha, 0x80|add(fullBox("auxC", 0, 0, []byte("urn:mpeg:mpegB:cicp:systems:auxiliary:alpha"), []byte{0})))
		assoc[0] = u32(2)
		assoc = append(assoc, u16(alphaID), []byte{byte(len(alpha))}, alpha)
	}

	ipco := box("ipco", cat(props...))
	ipma := fullBox("ipma", 0, 0, assoc...)
	return box("iprp", cat(ipco, ipma))
}

func ispe(w, h uint32) []byte {
	return fullBox("ispe", 0, 0, u32(w), u32(h))
}

func av1C(depth int, mono, subX, subY bool) []byte {
	b2 := byte(0)
	if depth > 8 {
		b2 |= 0x40
	}
	if depth == 12 {
		b2 |= 0x20
	}
	if mono {
		b2 |= 0x10 | 0x08 | 0x04
	} else {
		if subX {
			b2 |= 0x08
		}
		if subY {
			b2 |= 0x04
		}
	}
	return box("av1C", []byte{0x81, 0x00, b2, 0x00})
}

func box(typ string, body []byte) []byte {
	out := u32(uint32(8 + len(body)))
	out = append(out, typ...)
	return append(out, body...)
}

func fullBox(typ string, version uint8, flags uint32, body ...[]byte) []byte {
	return box(typ, cat(append([][]byte{u32(uint32(version)<<24 | flags)}, body...)...))
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func u16(v uint16) []byte {
	return binary.BigEndian.AppendUint16(nil, v)
}

func u32(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}
