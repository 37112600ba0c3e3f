//go:build cgo && dav1d

package dav1d_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/DND-IT/avif-go"
	"github.com/DND-IT/avif-go/av1"
	"github.com/DND-IT/avif-go/av1/dav1d"
)

func TestInstalledAsDefault(t *testing.T) {
	assert.IsType(t, &dav1d.Decoder{}, avif.FrameDecoder())
	assert.NotEmpty(t, dav1d.Version())
}

func TestDecodeFrame_InvalidData(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"garbage", []byte("not an AV1 bitstream")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := (&dav1d.Decoder{}).DecodeFrame(tt.payload, av1.Options{MaxThreads: 2})

			assert.Nil(t, frame)
			var status *av1.StatusError
			assert.True(t, errors.As(err, &status))
			assert.Negative(t, status.Code)
		})
	}
}
