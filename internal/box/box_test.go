package box_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DND-IT/avif-go/internal/avifbuild"
	"github.com/DND-IT/avif-go/internal/box"
)

func TestProbe(t *testing.T) {
	valid := avifbuild.Build(avifbuild.Spec{Width: 4, Height: 4, Payload: []byte{1, 2, 3}})

	t.Run("valid AVIF file", func(t *testing.T) {
		assert.NoError(t, box.Probe(valid))
	})

	t.Run("sequence brand", func(t *testing.T) {
		data := avifbuild.Build(avifbuild.Spec{Brands: []string{"avis"}, Width: 1, Height: 1, Payload: []byte{1}})
		assert.NoError(t, box.Probe(data))
	})

	t.Run("compatible brand only", func(t *testing.T) {
		data := avifbuild.Build(avifbuild.Spec{Brands: []string{"mif1", "miaf", "avif"}, Width: 1, Height: 1, Payload: []byte{1}})
		assert.NoError(t, box.Probe(data))
	})

	t.Run("heic brand", func(t *testing.T) {
		data := avifbuild.Build(avifbuild.Spec{Brands: []string{"heic", "mif1"}, Width: 1, Height: 1, Payload: []byte{1}})
		assert.ErrorIs(t, box.Probe(data), box.ErrNotAVIF)
	})

	t.Run("invalid data", func(t *testing.T) {
		assert.ErrorIs(t, box.Probe([]byte("not a valid AVIF file")), box.ErrNotAVIF)
	})

	t.Run("empty data", func(t *testing.T) {
		assert.ErrorIs(t, box.Probe(nil), box.ErrTruncated)
	})

	t.Run("truncated ftyp", func(t *testing.T) {
		assert.ErrorIs(t, box.Probe(valid[:10]), box.ErrTruncated)
	})

	t.Run("only the prefix is read", func(t *testing.T) {
		// A huge trailing garbage region does not change the verdict.
		data := append(append([]byte{}, valid[:32]...), bytes.Repeat([]byte{0xff}, 1<<20)...)
		assert.NoError(t, box.Probe(data))
	})

	t.Run("does not allocate", func(t *testing.T) {
		allocs := testing.AllocsPerRun(100, func() {
			_ = box.Probe(valid)
		})
		assert.Zero(t, allocs)
	})
}

func TestMatch(t *testing.T) {
	valid := avifbuild.Build(avifbuild.Spec{Width: 4, Height: 4, Payload: []byte{1, 2, 3}})
	heic := avifbuild.Build(avifbuild.Spec{Brands: []string{"heic", "mif1"}, Width: 1, Height: 1, Payload: []byte{1}})
	tooSmall := []byte{0, 0, 0, 8, 'f', 't', 'y', 'p'}

	inputs := map[string]struct {
		data []byte
		want bool
	}{
		"valid":           {valid, true},
		"heic brand":      {heic, false},
		"not ftyp":        {[]byte("not a valid AVIF file"), false},
		"empty":           {nil, false},
		"truncated ftyp":  {valid[:10], false},
		"ftyp too small":  {tooSmall, false},
		"large size head": {[]byte{0, 0, 0, 1, 'f', 't', 'y', 'p', 0, 0}, false},
	}

	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, in.want, box.Match(in.data))
			assert.Equal(t, in.want, box.Probe(in.data) == nil)

			allocs := testing.AllocsPerRun(100, func() {
				_ = box.Match(in.data)
			})
			assert.Zero(t, allocs)
		})
	}
}

func TestParse(t *testing.T) {
	payload := []byte("coded-color-payload")

	t.Run("primary item", func(t *testing.T) {
		data := avifbuild.Build(avifbuild.Spec{
			Width: 640, Height: 480, Depth: 10, SubsamplingX: true, SubsamplingY: true,
			Payload: payload, Pixi: true,
			NCLX: &avifbuild.NCLX{Primaries: 1, Transfer: 13, Matrix: 6, FullRange: true},
		})

		img, err := box.Parse(data, box.Options{})
		require.NoError(t, err)

		assert.Equal(t, box.BrandAVIF, img.MajorBrand)
		assert.Equal(t, box.ItemAV01, img.Color.Type)
		require.NotNil(t, img.Color.Properties.ISPE)
		assert.Equal(t, uint32(640), img.Color.Properties.ISPE.Width)
		assert.Equal(t, uint32(480), img.Color.Properties.ISPE.Height)

		av1C := img.Color.Properties.AV1C
		require.NotNil(t, av1C)
		assert.Equal(t, 10, av1C.Depth())
		assert.True(t, av1C.SubsamplingX)
		assert.True(t, av1C.SubsamplingY)
		assert.False(t, av1C.Monochrome)

		require.NotNil(t, img.Color.Properties.Pixi)
		assert.Equal(t, []uint8{10, 10, 10}, img.Color.Properties.Pixi.Depths)

		require.NotNil(t, img.Color.Properties.NCLX)
		assert.Equal(t, uint16(6), img.Color.Properties.NCLX.MatrixCoefficients)
		assert.True(t, img.Color.Properties.NCLX.FullRange)

		got, err := img.Color.Payload(data)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
		assert.Nil(t, img.Alpha)
	})

	t.Run("split extents", func(t *testing.T) {
		data := avifbuild.Build(avifbuild.Spec{Width: 1, Height: 1, Payload: payload, Split: true})

		img, err := box.Parse(data, box.Options{})
		require.NoError(t, err)
		assert.Len(t, img.Color.Extents, 2)

		got, err := img.Color.Payload(data)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})

	t.Run("payload in idat", func(t *testing.T) {
		data := avifbuild.Build(avifbuild.Spec{Width: 1, Height: 1, Payload: payload, InIdat: true})

		img, err := box.Parse(data, box.Options{})
		require.NoError(t, err)

		got, err := img.Color.Payload(data)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})

	t.Run("alpha item", func(t *testing.T) {
		data := avifbuild.Build(avifbuild.Spec{Width: 2, Height: 2, Payload: payload, Alpha: []byte("alpha")})

		img, err := box.Parse(data, box.Options{})
		require.NoError(t, err)
		require.NotNil(t, img.Alpha)
		assert.Equal(t, box.AlphaURN, img.Alpha.Properties.AuxType)
		assert.True(t, img.Alpha.Properties.AV1C.Monochrome)

		got, err := img.Alpha.Payload(data)
		require.NoError(t, err)
		assert.Equal(t, []byte("alpha"), got)
	})

	t.Run("metadata items", func(t *testing.T) {
		spec := avifbuild.Spec{Width: 1, Height: 1, Payload: payload, Exif: []byte("exif"), XMP: []byte("<x/>")}

		img, err := box.Parse(avifbuild.Build(spec), box.Options{})
		require.NoError(t, err)
		assert.NotNil(t, img.Exif)
		assert.NotNil(t, img.XMP)

		img, err = box.Parse(avifbuild.Build(spec), box.Options{IgnoreExif: true, IgnoreXMP: true})
		require.NoError(t, err)
		assert.Nil(t, img.Exif)
		assert.Nil(t, img.XMP)
	})

	t.Run("rotation", func(t *testing.T) {
		angle := uint8(1)
		img, err := box.Parse(avifbuild.Build(avifbuild.Spec{Width: 1, Height: 1, Payload: payload, Irot: &angle}), box.Options{})
		require.NoError(t, err)
		require.NotNil(t, img.Color.Properties.Irot)
		assert.Equal(t, uint8(1), *img.Color.Properties.Irot)
	})
}

func TestParse_Errors(t *testing.T) {
	payload := []byte{1, 2, 3, 4}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty data", nil, box.ErrTruncated},
		{"not a container", []byte("not a valid AVIF file"), box.ErrNotAVIF},
		{"truncated header", []byte{0, 0, 0, 0x1c, 'f', 't', 'y', 'p', 'a', 'v'}, box.ErrTruncated},
		{"grid primary item", avifbuild.Build(avifbuild.Spec{Width: 1, Height: 1, Payload: payload, ItemType: "grid"}), box.ErrUnsupportedFeature},
		{"unknown item type", avifbuild.Build(avifbuild.Spec{Width: 1, Height: 1, Payload: payload, ItemType: "hvc1"}), box.ErrUnsupportedFeature},
		{"essential unknown property", avifbuild.Build(avifbuild.Spec{Width: 1, Height: 1, Payload: payload, EssentialUnknown: true}), box.ErrUnsupportedFeature},
		{"missing ispe", avifbuild.Build(avifbuild.Spec{Width: 1, Height: 1, Payload: payload, OmitISPE: true}), box.ErrMalformedContainer},
		{"missing av1C", avifbuild.Build(avifbuild.Spec{Width: 1, Height: 1, Payload: payload, OmitAV1C: true}), box.ErrMalformedContainer},
		{"wrong handler", avifbuild.Build(avifbuild.Spec{Width: 1, Height: 1, Payload: payload, Handler: "vide"}), box.ErrMalformedContainer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := box.Parse(tt.data, box.Options{})
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, img)
		})
	}

	t.Run("truncated mdat", func(t *testing.T) {
		data := avifbuild.Build(avifbuild.Spec{Width: 1, Height: 1, Payload: bytes.Repeat([]byte{7}, 64)})
		_, err := box.Parse(data[:len(data)-10], box.Options{})
		assert.ErrorIs(t, err, box.ErrTruncated)
	})

	t.Run("every prefix fails cleanly", func(t *testing.T) {
		data := avifbuild.Build(avifbuild.Spec{Width: 3, Height: 3, Payload: payload, Alpha: []byte{9}, Pixi: true})
		for n := range len(data) {
			assert.NotPanics(t, func() {
				_, err := box.Parse(data[:n], box.Options{})
				assert.Error(t, err, "prefix of %d bytes", n)
			})
		}
	})
}

func TestClapCropRect(t *testing.T) {
	tests := []struct {
		name    string
		clap    box.Clap
		w, h    uint32
		subX    bool
		want    box.Rect
		wantErr bool
	}{
		{
			name: "centered full image",
			clap: box.Clap{WidthN: 100, WidthD: 1, HeightN: 50, HeightD: 1, HorizOffN: 0, HorizOffD: 1, VertOffN: 0, VertOffD: 1},
			w:    100,
			h:    50,
			want: box.Rect{X: 0, Y: 0, Width: 100, Height: 50},
		},
		{
			name: "centered crop",
			clap: box.Clap{WidthN: 60, WidthD: 1, HeightN: 40, HeightD: 1, HorizOffN: 0, HorizOffD: 1, VertOffN: 0, VertOffD: 1},
			w:    100,
			h:    50,
			want: box.Rect{X: 20, Y: 5, Width: 60, Height: 40},
		},
		{
			name: "negative offset",
			clap: box.Clap{WidthN: 60, WidthD: 1, HeightN: 40, HeightD: 1, HorizOffN: uint32(0xfffffff6), HorizOffD: 1, VertOffN: 0, VertOffD: 1},
			w:    100,
			h:    50,
			want: box.Rect{X: 10, Y: 5, Width: 60, Height: 40},
		},
		{
			name:    "zero denominator",
			clap:    box.Clap{WidthN: 60, WidthD: 0, HeightN: 40, HeightD: 1, HorizOffD: 1, VertOffD: 1},
			w:       100,
			h:       50,
			wantErr: true,
		},
		{
			name:    "larger than image",
			clap:    box.Clap{WidthN: 200, WidthD: 1, HeightN: 40, HeightD: 1, HorizOffD: 1, VertOffD: 1},
			w:       100,
			h:       50,
			wantErr: true,
		},
		{
			name:    "half pixel origin",
			clap:    box.Clap{WidthN: 61, WidthD: 1, HeightN: 40, HeightD: 1, HorizOffD: 1, VertOffD: 1},
			w:       100,
			h:       50,
			wantErr: true,
		},
		{
			name:    "odd origin with subsampling",
			clap:    box.Clap{WidthN: 60, WidthD: 1, HeightN: 40, HeightD: 1, HorizOffN: 1, HorizOffD: 1, VertOffD: 1},
			w:       100,
			h:       50,
			subX:    true,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.clap.CropRect(tt.w, tt.h, tt.subX, false)
			if tt.wantErr {
				assert.ErrorIs(t, err, box.ErrMalformedContainer)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
