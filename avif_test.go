package avif_test

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DND-IT/avif-go"
	"github.com/DND-IT/avif-go/av1"
	"github.com/DND-IT/avif-go/av1/av1test"
	"github.com/DND-IT/avif-go/internal/avifbuild"
	"github.com/DND-IT/avif-go/pixel"
)

type errorReader struct {
	err error
}

func (r *errorReader) Read([]byte) (int, error) {
	return 0, r.err
}

// useFrameDecoder installs dec as the package decoder for the duration of the test.
func useFrameDecoder(t *testing.T, dec av1.FrameDecoder) {
	prev := avif.FrameDecoder()
	avif.SetFrameDecoder(dec)
	t.Cleanup(func() { avif.SetFrameDecoder(prev) })
}

func TestIsAVIF(t *testing.T) {
	valid := fixture(grayFrame(2, 2, 8, av1.Subsampling444), nil)

	t.Run("valid AVIF file", func(t *testing.T) {
		assert.True(t, avif.IsAVIF(valid))
	})

	t.Run("sequence brand", func(t *testing.T) {
		data := fixture(grayFrame(2, 2, 8, av1.Subsampling444), func(s *avifbuild.Spec) { s.Brands = []string{"avis", "msf1"} })
		assert.True(t, avif.IsAVIF(data))
	})

	t.Run("invalid data", func(t *testing.T) {
		assert.False(t, avif.IsAVIF([]byte("not a valid AVIF file")))
		assert.False(t, avif.IsAVIF(nil))
	})

	t.Run("does not allocate", func(t *testing.T) {
		invalid := []byte("not a valid AVIF file")
		assert.Zero(t, testing.AllocsPerRun(100, func() { avif.IsAVIF(valid) }))
		assert.Zero(t, testing.AllocsPerRun(100, func() { avif.IsAVIF(invalid) }))
		assert.Zero(t, testing.AllocsPerRun(100, func() { avif.IsAVIF(valid[:10]) }))
	})

	t.Run("never panics", func(t *testing.T) {
		for n := range len(valid) {
			assert.NotPanics(t, func() { avif.IsAVIF(valid[:n]) })
		}

		rng := rand.New(rand.NewSource(1))
		buf := make([]byte, 64)
		for range 1000 {
			rng.Read(buf)
			copy(buf[4:], "ftyp")
			assert.NotPanics(t, func() { avif.IsAVIF(buf[:rng.Intn(len(buf))]) })
		}
	})
}

func TestDecode(t *testing.T) {
	useFrameDecoder(t, &av1test.Decoder{})

	t.Run("8-bit image", func(t *testing.T) {
		data := fixture(grayFrame(6, 4, 8, av1.Subsampling420), nil)

		img, err := avif.Decode(bytes.NewReader(data))
		require.NoError(t, err)
		require.IsType(t, &image.NRGBA{}, img)
		assert.Equal(t, 6, img.Bounds().Dx())
		assert.Equal(t, 4, img.Bounds().Dy())
		assert.Equal(t, color.NRGBA{R: 128, G: 128, B: 128, A: 255}, img.(*image.NRGBA).NRGBAAt(5, 3))
	})

	t.Run("10-bit image", func(t *testing.T) {
		data := fixture(grayFrame(3, 3, 10, av1.Subsampling444), nil)

		img, err := avif.Decode(bytes.NewReader(data))
		require.NoError(t, err)
		require.IsType(t, &image.NRGBA64{}, img)

		c := img.(*image.NRGBA64).NRGBA64At(1, 1)
		assert.InDelta(t, 0x8020, c.R, 0x40)
		assert.Equal(t, c.R, c.G)
		assert.Equal(t, uint16(0xffff), c.A)
	})

	t.Run("with image package", func(t *testing.T) {
		data := fixture(grayFrame(2, 2, 8, av1.Subsampling444), nil)

		img, format, err := image.Decode(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, "avif", format)
		assert.NotNil(t, img)
	})

	t.Run("reader error", func(t *testing.T) {
		img, err := avif.Decode(&errorReader{err: errors.New("read error")})

		assert.Error(t, err)
		assert.Nil(t, img)
		assert.Contains(t, err.Error(), "failed to decode AVIF data")
	})

	t.Run("invalid data", func(t *testing.T) {
		img, err := avif.Decode(bytes.NewReader([]byte("not a valid AVIF file")))

		assert.ErrorIs(t, err, avif.ErrNotAVIF)
		assert.Nil(t, img)
	})

	t.Run("empty data", func(t *testing.T) {
		img, err := avif.Decode(bytes.NewReader([]byte{}))

		assert.ErrorIs(t, err, avif.ErrTruncated)
		assert.Nil(t, img)
	})

	t.Run("consistency with DecodeConfig", func(t *testing.T) {
		data := fixture(grayFrame(5, 7, 8, av1.Subsampling420), nil)

		config, err := avif.DecodeConfig(bytes.NewReader(data))
		require.NoError(t, err)

		img, err := avif.Decode(bytes.NewReader(data))
		require.NoError(t, err)

		assert.Equal(t, config.Width, img.Bounds().Dx())
		assert.Equal(t, config.Height, img.Bounds().Dy())
	})
}

func TestDecode_NoFrameDecoder(t *testing.T) {
	useFrameDecoder(t, nil)
	data := fixture(grayFrame(2, 2, 8, av1.Subsampling444), nil)

	_, err := avif.Decode(bytes.NewReader(data))
	assert.ErrorIs(t, err, avif.ErrNoFrameDecoder)

	config, err := avif.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err, "DecodeConfig only parses")
	assert.Equal(t, 2, config.Width)
}

func TestDecodeConfig(t *testing.T) {
	t.Run("valid AVIF file", func(t *testing.T) {
		config, err := avif.DecodeConfig(bytes.NewReader(fixture(grayFrame(9, 5, 8, av1.Subsampling420), nil)))

		assert.NoError(t, err)
		assert.Equal(t, 9, config.Width)
		assert.Equal(t, 5, config.Height)
		assert.Equal(t, color.NRGBAModel, config.ColorModel)
	})

	t.Run("high bit depth", func(t *testing.T) {
		config, err := avif.DecodeConfig(bytes.NewReader(fixture(grayFrame(2, 2, 12, av1.Monochrome), nil)))

		assert.NoError(t, err)
		assert.Equal(t, color.NRGBA64Model, config.ColorModel)
	})

	t.Run("with image package", func(t *testing.T) {
		config, format, err := image.DecodeConfig(bytes.NewReader(fixture(grayFrame(3, 8, 8, av1.Subsampling444), nil)))

		assert.NoError(t, err)
		assert.Equal(t, "avif", format)
		assert.Equal(t, 3, config.Width)
		assert.Equal(t, 8, config.Height)
	})

	t.Run("reader error", func(t *testing.T) {
		config, err := avif.DecodeConfig(&errorReader{err: errors.New("read error")})

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get config of AVIF data")
		assert.Equal(t, 0, config.Width)
		assert.Equal(t, 0, config.Height)
	})

	t.Run("invalid data", func(t *testing.T) {
		config, err := avif.DecodeConfig(bytes.NewReader([]byte("not a valid AVIF file")))

		assert.Error(t, err)
		assert.Equal(t, 0, config.Width)
		assert.Equal(t, 0, config.Height)
	})

	t.Run("empty data", func(t *testing.T) {
		config, err := avif.DecodeConfig(bytes.NewReader([]byte{}))

		assert.ErrorIs(t, err, avif.ErrTruncated)
		assert.Equal(t, 0, config.Width)
	})
}

func TestDecodeInto(t *testing.T) {
	useFrameDecoder(t, &av1test.Decoder{})
	data := fixture(grayFrame(3, 2, 8, av1.Subsampling444), nil)

	t.Run("writes top-left region", func(t *testing.T) {
		dst := &pixel.Image{Format: pixel.ABGR8, Width: 4, Height: 4, Pix: bytes.Repeat([]byte{0xaa}, 64)}

		out, err := avif.DecodeInto(data, dst)
		require.NoError(t, err)
		assert.Equal(t, 3, out.Width)
		assert.Equal(t, 2, out.Height)
		assert.Equal(t, 16, out.RowBytes)
		assert.NoError(t, out.Validate())
		assert.Equal(t, []byte{255, 128, 128, 128}, out.Row(1)[8:12])
		assert.Equal(t, byte(0xaa), dst.Pix[12], "column outside the image")
		assert.Equal(t, byte(0xaa), dst.Pix[32], "row outside the image")
	})

	t.Run("result is a valid source", func(t *testing.T) {
		dst := &pixel.Image{Format: pixel.RGBA8, Width: 4, Height: 4, Pix: make([]byte, 64)}

		out, err := avif.DecodeInto(data, dst)
		require.NoError(t, err)
		require.NoError(t, out.Validate())
		assert.Len(t, out.Pix, 16*2)

		copied, err := pixel.New(pixel.RGBA8, out.Width, out.Height)
		require.NoError(t, err)
		require.NoError(t, pixel.WriteInto(out, copied))
		assert.Equal(t, []byte{128, 128, 128, 255}, copied.Row(1)[8:12])
	})

	t.Run("buffer too small", func(t *testing.T) {
		dst := &pixel.Image{Format: pixel.RGBA8, Width: 3, Height: 1, Pix: make([]byte, 12)}

		_, err := avif.DecodeInto(data, dst)
		assert.ErrorIs(t, err, avif.ErrBufferTooSmall)
	})

	t.Run("unsupported format", func(t *testing.T) {
		dst := &pixel.Image{Format: pixel.Format(99), Width: 3, Height: 2, Pix: make([]byte, 64)}

		_, err := avif.DecodeInto(data, dst)
		assert.ErrorIs(t, err, avif.ErrUnsupportedTargetFormat)
	})
}

func TestDecodeWithConfig(t *testing.T) {
	dec := &av1test.Decoder{}
	useFrameDecoder(t, dec)

	cfg := avif.DefaultConfig()
	cfg.MaxThreads = 3
	cfg.ChromaUpsampling = avif.ChromaUpsamplingNearest

	img, err := avif.DecodeWithConfig(fixture(grayFrame(4, 4, 8, av1.Subsampling420), nil), cfg)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 4), img.Bounds())
	assert.Equal(t, []int{3}, dec.MaxThreads())

	cfg.MaxThreads = 0
	_, err = avif.DecodeWithConfig(fixture(grayFrame(4, 4, 8, av1.Subsampling420), nil), cfg)
	assert.ErrorIs(t, err, avif.ErrInvalidConfig)
}
