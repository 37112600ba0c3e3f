package box

import (
	"fmt"
)

var (
	fccIspe = FourCC{'i', 's', 'p', 'e'}
	fccPixi = FourCC{'p', 'i', 'x', 'i'}
	fccAv1C = FourCC{'a', 'v', '1', 'C'}
	fccColr = FourCC{'c', 'o', 'l', 'r'}
	fccClap = FourCC{'c', 'l', 'a', 'p'}
	fccIrot = FourCC{'i', 'r', 'o', 't'}
	fccImir = FourCC{'i', 'm', 'i', 'r'}
	fccPasp = FourCC{'p', 'a', 's', 'p'}
	fccAuxC = FourCC{'a', 'u', 'x', 'C'}

	fccNclx = FourCC{'n', 'c', 'l', 'x'}
	fccProf = FourCC{'p', 'r', 'o', 'f'}
	fccRICC = FourCC{'r', 'I', 'C', 'C'}
)

// Properties are the item properties the decoder understands.
// A nil pointer means the property is not associated with the item.
type Properties struct {
	ISPE *ISPE
	Pixi *Pixi
	AV1C *AV1Config
	NCLX *NCLX
	// ICC locates an embedded ICC profile.
	ICC  *Extent
	Clap *Clap
	// Irot is the counter-clockwise rotation in units of 90 degrees.
	Irot *uint8
	// Imir is the mirror axis: 0 vertical, 1 horizontal.
	Imir *uint8
	Pasp *Pasp

	AuxType string
}

// ISPE is the image spatial extents property.
type ISPE struct {
	Width  uint32
	Height uint32
}

// Pixi lists the bit depth of each channel.
type Pixi struct {
	Depths []uint8
}

// AV1Config is the subset of the AV1 codec configuration record used to validate decoded frames.
type AV1Config struct {
	Profile        uint8
	Level          uint8
	Tier           uint8
	HighBitDepth   bool
	TwelveBit      bool
	Monochrome     bool
	SubsamplingX   bool
	SubsamplingY   bool
	SamplePosition uint8
}

// Depth returns the sample bit depth signalled by the configuration record.
func (c *AV1Config) Depth() int {
	switch {
	case c.TwelveBit:
		return 12
	case c.HighBitDepth:
		return 10
	default:
		return 8
	}
}

// NCLX carries CICP color description values from a colr box.
type NCLX struct {
	ColorPrimaries          uint16
	TransferCharacteristics uint16
	MatrixCoefficients      uint16
	FullRange               bool
}

// Clap is the clean aperture property; each value is a numerator/denominator pair.
type Clap struct {
	WidthN, WidthD       uint32
	HeightN, HeightD     uint32
	HorizOffN, HorizOffD uint32
	VertOffN, VertOffD   uint32
}

// Pasp is the pixel aspect ratio property.
type Pasp struct {
	HSpacing uint32
	VSpacing uint32
}

// Rect is an integer crop rectangle.
type Rect struct {
	X, Y          int
	Width, Height int
}

// CropRect converts the clean aperture into a crop rectangle for an image of the given size.
// The conversion fails if any value is non-integral, the rectangle leaves the image, or the
// origin is not aligned to the chroma subsampling grid.
func (c *Clap) CropRect(imageW, imageH uint32, subX, subY bool) (Rect, error) {
	fail := func(format string, args ...any) (Rect, error) {
		return Rect{}, fmt.Errorf("%w: clap "+format, append([]any{ErrMalformedContainer}, args...)...)
	}

	if c.WidthD == 0 || c.HeightD == 0 || c.HorizOffD == 0 || c.VertOffD == 0 {
		return fail("has a zero denominator")
	}
	if c.WidthN%c.WidthD != 0 || c.HeightN%c.HeightD != 0 {
		return fail("width or height is not an integer")
	}
	w := int64(c.WidthN / c.WidthD)
	h := int64(c.HeightN / c.HeightD)
	if w == 0 || h == 0 || w > int64(imageW) || h > int64(imageH) {
		return fail("size %dx%d does not fit %dx%d", w, h, imageW, imageH)
	}

	// The aperture is centred at (imageW-1)/2 + horizOff; its left edge is
	// horizOff + (imageW - w) / 2, evaluated over the common denominator 2*horizOffD.
	x, ok := cropOrigin(int64(int32(c.HorizOffN)), int64(c.HorizOffD), int64(imageW), w)
	if !ok {
		return fail("horizontal offset is not an integer")
	}
	y, ok := cropOrigin(int64(int32(c.VertOffN)), int64(c.VertOffD), int64(imageH), h)
	if !ok {
		return fail("vertical offset is not an integer")
	}
	if x < 0 || y < 0 || x+w > int64(imageW) || y+h > int64(imageH) {
		return fail("rectangle (%d,%d %dx%d) leaves the image", x, y, w, h)
	}
	if (subX && x%2 != 0) || (subY && y%2 != 0) {
		return fail("origin (%d,%d) is not aligned to chroma subsampling", x, y)
	}
	return Rect{X: int(x), Y: int(y), Width: int(w), Height: int(h)}, nil
}

func cropOrigin(offN, offD, imageSize, cropSize int64) (int64, bool) {
	num := 2*offN + (imageSize-cropSize)*offD
	den := 2 * offD
	if num%den != 0 {
		return 0, false
	}
	return num / den, true
}

// property is one ipco entry. Unknown properties keep only their type.
type property struct {
	typ   FourCC
	apply func(*Properties)
}

func parseProperty(r *reader, h header) (property, error) {
	p := property{typ: h.Type}
	br := r.child(h)

	switch h.Type {
	case fccIspe:
		if _, _, err := br.fullBox(); err != nil {
			return p, err
		}
		w, err := br.u32()
		if err != nil {
			return p, err
		}
		hgt, err := br.u32()
		if err != nil {
			return p, err
		}
		v := &ISPE{Width: w, Height: hgt}
		p.apply = func(ps *Properties) { ps.ISPE = v }

	case fccPixi:
		if _, _, err := br.fullBox(); err != nil {
			return p, err
		}
		n, err := br.u8()
		if err != nil {
			return p, err
		}
		depths, err := br.bytes(int(n))
		if err != nil {
			return p, err
		}
		v := &Pixi{Depths: append([]uint8(nil), depths...)}
		p.apply = func(ps *Properties) { ps.Pixi = v }

	case fccAv1C:
		b, err := br.bytes(4)
		if err != nil {
			return p, err
		}
		if b[0] != 0x81 {
			return p, fmt.Errorf("%w: av1C marker/version byte 0x%02x", ErrMalformedContainer, b[0])
		}
		v := &AV1Config{
			Profile:        b[1] >> 5,
			Level:          b[1] & 0x1f,
			Tier:           b[2] >> 7,
			HighBitDepth:   b[2]&0x40 != 0,
			TwelveBit:      b[2]&0x20 != 0,
			Monochrome:     b[2]&0x10 != 0,
			SubsamplingX:   b[2]&0x08 != 0,
			SubsamplingY:   b[2]&0x04 != 0,
			SamplePosition: b[2] & 0x03,
		}
		p.apply = func(ps *Properties) { ps.AV1C = v }

	case fccColr:
		kind, err := br.fourCC()
		if err != nil {
			return p, err
		}
		switch kind {
		case fccNclx:
			var v NCLX
			if v.ColorPrimaries, err = br.u16(); err != nil {
				return p, err
			}
			if v.TransferCharacteristics, err = br.u16(); err != nil {
				return p, err
			}
			if v.MatrixCoefficients, err = br.u16(); err != nil {
				return p, err
			}
			flags, err := br.u8()
			if err != nil {
				return p, err
			}
			v.FullRange = flags&0x80 != 0
			p.apply = func(ps *Properties) {
				if ps.NCLX == nil {
					ps.NCLX = &v
				}
			}
		case fccProf, fccRICC:
			v := &Extent{Offset: uint64(br.base + br.off), Length: uint64(br.remaining())}
			p.apply = func(ps *Properties) {
				if ps.ICC == nil {
					ps.ICC = v
				}
			}
		}

	case fccClap:
		var vals [8]uint32
		for i := range vals {
			v, err := br.u32()
			if err != nil {
				return p, err
			}
			vals[i] = v
		}
		v := &Clap{
			WidthN: vals[0], WidthD: vals[1],
			HeightN: vals[2], HeightD: vals[3],
			HorizOffN: vals[4], HorizOffD: vals[5],
			VertOffN: vals[6], VertOffD: vals[7],
		}
		p.apply = func(ps *Properties) { ps.Clap = v }

	case fccIrot:
		b, err := br.u8()
		if err != nil {
			return p, err
		}
		v := b & 0x03
		p.apply = func(ps *Properties) { ps.Irot = &v }

	case fccImir:
		b, err := br.u8()
		if err != nil {
			return p, err
		}
		v := b & 0x01
		p.apply = func(ps *Properties) { ps.Imir = &v }

	case fccPasp:
		hs, err := br.u32()
		if err != nil {
			return p, err
		}
		vs, err := br.u32()
		if err != nil {
			return p, err
		}
		v := &Pasp{HSpacing: hs, VSpacing: vs}
		p.apply = func(ps *Properties) { ps.Pasp = v }

	case fccAuxC:
		if _, _, err := br.fullBox(); err != nil {
			return p, err
		}
		v := br.cstring()
		p.apply = func(ps *Properties) { ps.AuxType = v }
	}

	return p, nil
}

// known reports whether the decoder honors the property when it is marked essential.
func (p property) known() bool {
	if p.apply != nil {
		return true
	}
	// colr boxes of other kinds are informational.
	return p.typ == fccColr
}
