package av1_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DND-IT/avif-go/av1"
	"github.com/DND-IT/avif-go/av1/av1test"
)

func TestSubsampling(t *testing.T) {
	tests := []struct {
		sub    av1.Subsampling
		name   string
		sx, sy int
		planes int
	}{
		{av1.Subsampling444, "4:4:4", 0, 0, 3},
		{av1.Subsampling422, "4:2:2", 1, 0, 3},
		{av1.Subsampling420, "4:2:0", 1, 1, 3},
		{av1.Monochrome, "4:0:0", 0, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.sub.String())
			sx, sy := tt.sub.Shift()
			assert.Equal(t, tt.sx, sx)
			assert.Equal(t, tt.sy, sy)
			assert.Equal(t, tt.planes, tt.sub.Planes())
		})
	}
}

func TestFrame_PlaneSize(t *testing.T) {
	f := av1test.NewFrame(5, 3, 8, av1.Subsampling420, av1.RangeFull)

	w, h := f.PlaneSize(0)
	assert.Equal(t, [2]int{5, 3}, [2]int{w, h})
	w, h = f.PlaneSize(1)
	assert.Equal(t, [2]int{3, 2}, [2]int{w, h}, "odd sizes round up")
}

func TestFrame_Sample(t *testing.T) {
	f := av1test.NewFrame(2, 2, 10, av1.Subsampling444, av1.RangeFull)
	av1test.Set(f, 2, 1, 1, 1023)

	assert.Equal(t, uint16(1023), f.Sample(2, 1, 1))
	assert.Equal(t, []byte{0xff, 0x03}, f.Planes[2].Pix[6:8], "little-endian")
}

func TestFrame_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*av1.Frame)
		wantErr bool
	}{
		{"valid", func(*av1.Frame) {}, false},
		{"zero width", func(f *av1.Frame) { f.Width = 0 }, true},
		{"bad depth", func(f *av1.Frame) { f.BitDepth = 9 }, true},
		{"short stride", func(f *av1.Frame) { f.Planes[0].Stride = 3 }, true},
		{"short plane", func(f *av1.Frame) { f.Planes[1].Pix = f.Planes[1].Pix[:3] }, true},
		{"padded stride", func(f *av1.Frame) {
			f.Planes[0] = av1.Plane{Pix: make([]byte, 8*3+4), Stride: 8}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := av1test.NewFrame(4, 4, 8, av1.Subsampling420, av1.RangeFull)
			tt.mutate(f)

			err := f.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestStatusError(t *testing.T) {
	err := &av1.StatusError{Code: -22, Message: "invalid argument"}
	assert.Equal(t, "av1: decoder status -22: invalid argument", err.Error())
}

func TestAV1TestRoundTrip(t *testing.T) {
	f := av1test.NewFrame(3, 2, 12, av1.Subsampling422, av1.RangeLimited)
	av1test.Set(f, 0, 2, 1, 4000)
	av1test.Set(f, 1, 1, 0, 77)

	dec := &av1test.Decoder{}
	got, err := dec.DecodeFrame(av1test.Encode(f), av1.Options{MaxThreads: 2})
	require.NoError(t, err)
	assert.Equal(t, f, got)
	assert.Equal(t, 1, dec.Calls())
	assert.Equal(t, []int{2}, dec.MaxThreads())

	_, err = dec.DecodeFrame([]byte("junk"), av1.Options{})
	var status *av1.StatusError
	assert.ErrorAs(t, err, &status)
}
