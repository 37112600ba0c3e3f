package box

import (
	"fmt"
)

type itemInfo struct {
	id          uint32
	typ         FourCC
	contentType string
}

type itemLocation struct {
	constructionMethod uint8
	baseOffset         uint64
	extents            []Extent
}

type propertyLink struct {
	index     int
	essential bool
}

type reference struct {
	typ  FourCC
	from uint32
	to   []uint32
}

// meta collects the contents of the meta box before items are resolved, so box order inside
// meta does not matter.
type meta struct {
	handler   FourCC
	primaryID uint32
	hasPitm   bool
	infos     map[uint32]itemInfo
	locations map[uint32]itemLocation
	refs      []reference
	props     []property
	links     map[uint32][]propertyLink
	idat      *header
}

// Parse locates the primary image item and its auxiliary items.
func Parse(data []byte, opts Options) (*Image, error) {
	ftypSize, err := checkFileType(data)
	if err != nil {
		return nil, err
	}

	img := &Image{}
	fr := newReader(data[8:ftypSize])
	if data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1 {
		fr = newReader(data[16:ftypSize])
	}
	if img.MajorBrand, err = fr.fourCC(); err != nil {
		return nil, err
	}
	if err = fr.skip(4); err != nil {
		return nil, err
	}
	for fr.remaining() >= 4 {
		b, _ := fr.fourCC()
		img.CompatibleBrands = append(img.CompatibleBrands, b)
	}

	r := newReader(data)
	r.off = ftypSize

	var m *meta
	for r.remaining() > 0 {
		h, err := r.nextBox()
		if err != nil {
			return nil, err
		}
		if h.Type != fccMeta {
			continue
		}
		if m != nil {
			return nil, fmt.Errorf("%w: multiple meta boxes", ErrMalformedContainer)
		}
		if m, err = parseMeta(r.child(h)); err != nil {
			return nil, err
		}
	}
	if m == nil {
		return nil, fmt.Errorf("%w: missing meta box", ErrMalformedContainer)
	}

	if err := m.resolve(img, data, opts); err != nil {
		return nil, err
	}
	return img, nil
}

func parseMeta(r *reader) (*meta, error) {
	if _, _, err := r.fullBox(); err != nil {
		return nil, err
	}

	m := &meta{
		infos:     make(map[uint32]itemInfo),
		locations: make(map[uint32]itemLocation),
		links:     make(map[uint32][]propertyLink),
	}

	for r.remaining() > 0 {
		h, err := r.nextBox()
		if err != nil {
			return nil, err
		}
		br := r.child(h)

		switch h.Type {
		case fccHdlr:
			if _, _, err := br.fullBox(); err != nil {
				return nil, err
			}
			if err := br.skip(4); err != nil {
				return nil, err
			}
			if m.handler, err = br.fourCC(); err != nil {
				return nil, err
			}
		case fccPitm:
			version, _, err := br.fullBox()
			if err != nil {
				return nil, err
			}
			if version == 0 {
				id, err := br.u16()
				if err != nil {
					return nil, err
				}
				m.primaryID = uint32(id)
			} else if m.primaryID, err = br.u32(); err != nil {
				return nil, err
			}
			m.hasPitm = true
		case fccIloc:
			if err := m.parseIloc(br); err != nil {
				return nil, err
			}
		case fccIinf:
			if err := m.parseIinf(br); err != nil {
				return nil, err
			}
		case fccIref:
			if err := m.parseIref(br); err != nil {
				return nil, err
			}
		case fccIprp:
			if err := m.parseIprp(br); err != nil {
				return nil, err
			}
		case fccIdat:
			h := h
			m.idat = &h
		}
	}

	return m, nil
}

func (m *meta) parseIloc(r *reader) error {
	version, _, err := r.fullBox()
	if err != nil {
		return err
	}
	if version > 2 {
		return fmt.Errorf("%w: iloc version %d", ErrUnsupportedFeature, version)
	}

	sizes, err := r.u16()
	if err != nil {
		return err
	}
	offsetSize := int(sizes >> 12)
	lengthSize := int(sizes >> 8 & 0xf)
	baseOffsetSize := int(sizes >> 4 & 0xf)
	indexSize := 0
	if version == 1 || version == 2 {
		indexSize = int(sizes & 0xf)
	}

	var count uint32
	if version < 2 {
		c, err := r.u16()
		if err != nil {
			return err
		}
		count = uint32(c)
	} else if count, err = r.u32(); err != nil {
		return err
	}

	for range count {
		var id uint32
		if version < 2 {
			v, err := r.u16()
			if err != nil {
				return err
			}
			id = uint32(v)
		} else if id, err = r.u32(); err != nil {
			return err
		}

		var loc itemLocation
		if version == 1 || version == 2 {
			cm, err := r.u16()
			if err != nil {
				return err
			}
			loc.constructionMethod = uint8(cm & 0xf)
		}
		if loc.constructionMethod > 1 {
			return fmt.Errorf("%w: iloc construction method %d", ErrUnsupportedFeature, loc.constructionMethod)
		}
		// data_reference_index
		if err := r.skip(2); err != nil {
			return err
		}
		if loc.baseOffset, err = r.uvar(baseOffsetSize); err != nil {
			return err
		}

		extentCount, err := r.u16()
		if err != nil {
			return err
		}
		for range extentCount {
			if _, err := r.uvar(indexSize); err != nil {
				return err
			}
			var e Extent
			if e.Offset, err = r.uvar(offsetSize); err != nil {
				return err
			}
			if e.Length, err = r.uvar(lengthSize); err != nil {
				return err
			}
			loc.extents = append(loc.extents, e)
		}

		if _, dup := m.locations[id]; dup {
			return fmt.Errorf("%w: duplicate iloc entry for item %d", ErrMalformedContainer, id)
		}
		m.locations[id] = loc
	}
	return nil
}

func (m *meta) parseIinf(r *reader) error {
	version, _, err := r.fullBox()
	if err != nil {
		return err
	}
	if version == 0 {
		if _, err := r.u16(); err != nil {
			return err
		}
	} else if _, err := r.u32(); err != nil {
		return err
	}

	for r.remaining() > 0 {
		h, err := r.nextBox()
		if err != nil {
			return err
		}
		if h.Type != fccInfe {
			continue
		}
		br := r.child(h)
		v, _, err := br.fullBox()
		if err != nil {
			return err
		}
		if v < 2 {
			// Pre-v2 infe entries cannot describe image items.
			continue
		}

		var info itemInfo
		if v == 2 {
			id, err := br.u16()
			if err != nil {
				return err
			}
			info.id = uint32(id)
		} else if info.id, err = br.u32(); err != nil {
			return err
		}
		// item_protection_index
		if err := br.skip(2); err != nil {
			return err
		}
		if info.typ, err = br.fourCC(); err != nil {
			return err
		}
		_ = br.cstring()
		if info.typ == fccMime {
			info.contentType = br.cstring()
		}

		if _, dup := m.infos[info.id]; dup {
			return fmt.Errorf("%w: duplicate infe for item %d", ErrMalformedContainer, info.id)
		}
		m.infos[info.id] = info
	}
	return nil
}

func (m *meta) parseIref(r *reader) error {
	version, _, err := r.fullBox()
	if err != nil {
		return err
	}
	readID := func(br *reader) (uint32, error) {
		if version == 0 {
			v, err := br.u16()
			return uint32(v), err
		}
		return br.u32()
	}

	for r.remaining() > 0 {
		h, err := r.nextBox()
		if err != nil {
			return err
		}
		br := r.child(h)
		ref := reference{typ: h.Type}
		if ref.from, err = readID(br); err != nil {
			return err
		}
		n, err := br.u16()
		if err != nil {
			return err
		}
		for range n {
			to, err := readID(br)
			if err != nil {
				return err
			}
			ref.to = append(ref.to, to)
		}
		m.refs = append(m.refs, ref)
	}
	return nil
}

func (m *meta) parseIprp(r *reader) error {
	for r.remaining() > 0 {
		h, err := r.nextBox()
		if err != nil {
			return err
		}
		br := r.child(h)

		switch h.Type {
		case fccIpco:
			for br.remaining() > 0 {
				ph, err := br.nextBox()
				if err != nil {
					return err
				}
				p, err := parseProperty(br, ph)
				if err != nil {
					return err
				}
				m.props = append(m.props, p)
			}
		case fccIpma:
			if err := m.parseIpma(br); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *meta) parseIpma(r *reader) error {
	version, flags, err := r.fullBox()
	if err != nil {
		return err
	}
	count, err := r.u32()
	if err != nil {
		return err
	}

	for range count {
		var id uint32
		if version < 1 {
			v, err := r.u16()
			if err != nil {
				return err
			}
			id = uint32(v)
		} else if id, err = r.u32(); err != nil {
			return err
		}

		n, err := r.u8()
		if err != nil {
			return err
		}
		for range n {
			var link propertyLink
			if flags&1 != 0 {
				v, err := r.u16()
				if err != nil {
					return err
				}
				link = propertyLink{index: int(v & 0x7fff), essential: v&0x8000 != 0}
			} else {
				v, err := r.u8()
				if err != nil {
					return err
				}
				link = propertyLink{index: int(v & 0x7f), essential: v&0x80 != 0}
			}
			m.links[id] = append(m.links[id], link)
		}
	}
	return nil
}

// item builds the Item for id, resolving its extents to absolute offsets and applying its
// associated properties.
func (m *meta) item(id uint32, data []byte) (Item, error) {
	info, ok := m.infos[id]
	if !ok {
		return Item{}, fmt.Errorf("%w: item %d has no infe", ErrMalformedContainer, id)
	}
	it := Item{ID: id, Type: info.typ}

	loc, ok := m.locations[id]
	if !ok {
		return Item{}, fmt.Errorf("%w: item %d has no iloc entry", ErrMalformedContainer, id)
	}

	var base, limit uint64 = loc.baseOffset, uint64(len(data))
	if loc.constructionMethod == 1 {
		if m.idat == nil {
			return Item{}, fmt.Errorf("%w: item %d references a missing idat", ErrMalformedContainer, id)
		}
		base += uint64(m.idat.Offset)
		limit = uint64(m.idat.Offset + len(m.idat.Body))
	}
	for _, e := range loc.extents {
		start := base + e.Offset
		if start < base || start > limit {
			return Item{}, fmt.Errorf("%w: item %d extent starts at %d beyond %d", ErrTruncated, id, start, limit)
		}
		length := e.Length
		if length == 0 {
			length = limit - start
		}
		if length > limit-start {
			return Item{}, fmt.Errorf("%w: item %d extent [%d,+%d) exceeds %d bytes", ErrTruncated, id, start, length, limit)
		}
		it.Extents = append(it.Extents, Extent{Offset: start, Length: length})
	}

	for _, link := range m.links[id] {
		if link.index == 0 {
			continue
		}
		if link.index > len(m.props) {
			return Item{}, fmt.Errorf("%w: item %d references property %d of %d", ErrMalformedContainer, id, link.index, len(m.props))
		}
		p := m.props[link.index-1]
		if link.essential && !p.known() {
			return Item{}, fmt.Errorf("%w: essential property %s on item %d", ErrUnsupportedFeature, p.typ, id)
		}
		if p.apply != nil {
			p.apply(&it.Properties)
		}
	}
	return it, nil
}

// referencing returns the ids of items with a reference of type typ pointing at id.
func (m *meta) referencing(typ FourCC, id uint32) []uint32 {
	var ids []uint32
	for _, ref := range m.refs {
		if ref.typ != typ {
			continue
		}
		for _, to := range ref.to {
			if to == id {
				ids = append(ids, ref.from)
				break
			}
		}
	}
	return ids
}

func (m *meta) resolve(img *Image, data []byte, opts Options) error {
	if m.handler != fccPict {
		return fmt.Errorf("%w: handler %q is not pict", ErrMalformedContainer, m.handler.String())
	}
	if !m.hasPitm {
		return fmt.Errorf("%w: missing pitm box", ErrMalformedContainer)
	}

	info, ok := m.infos[m.primaryID]
	if !ok {
		return fmt.Errorf("%w: primary item %d has no infe", ErrMalformedContainer, m.primaryID)
	}
	switch info.typ {
	case ItemAV01:
	case ItemGrid:
		return fmt.Errorf("%w: grid primary items", ErrUnsupportedFeature)
	default:
		return fmt.Errorf("%w: primary item type %s", ErrUnsupportedFeature, info.typ)
	}

	color, err := m.item(m.primaryID, data)
	if err != nil {
		return err
	}
	if color.Properties.AV1C == nil {
		return fmt.Errorf("%w: primary item has no av1C", ErrMalformedContainer)
	}
	if color.Properties.ISPE == nil {
		return fmt.Errorf("%w: primary item has no ispe", ErrMalformedContainer)
	}
	img.Color = color

	for _, id := range m.referencing(fccAuxl, m.primaryID) {
		if m.infos[id].typ != ItemAV01 {
			continue
		}
		aux, err := m.item(id, data)
		if err != nil {
			return err
		}
		if aux.Properties.AuxType != AlphaURN {
			continue
		}
		if aux.Properties.AV1C == nil {
			return fmt.Errorf("%w: alpha item has no av1C", ErrMalformedContainer)
		}
		img.Alpha = &aux
		break
	}

	for _, id := range m.referencing(fccCdsc, m.primaryID) {
		info := m.infos[id]
		switch {
		case info.typ == ItemExif && !opts.IgnoreExif && img.Exif == nil:
			it, err := m.item(id, data)
			if err != nil {
				return err
			}
			img.Exif = &it
		case info.typ == fccMime && info.contentType == xmpContentType && !opts.IgnoreXMP && img.XMP == nil:
			it, err := m.item(id, data)
			if err != nil {
				return err
			}
			img.XMP = &it
		}
	}

	return nil
}
