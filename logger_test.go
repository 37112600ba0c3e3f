package avif_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DND-IT/avif-go"
	"github.com/DND-IT/avif-go/av1"
	"github.com/DND-IT/avif-go/av1/av1test"
	"github.com/DND-IT/avif-go/internal/avifbuild"
)

func captureLogs(t *testing.T, level slog.Level) *bytes.Buffer {
	var buf bytes.Buffer
	avif.SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})))
	t.Cleanup(func() { avif.SetLogger(nil) })
	return &buf
}

func TestLogger_DefaultIsSilent(t *testing.T) {
	l := avif.Logger()
	require.NotNil(t, l)
	assert.False(t, l.Enabled(t.Context(), slog.LevelError))
}

func TestLogger_SetNilRestoresDefault(t *testing.T) {
	avif.SetLogger(slog.Default())
	avif.SetLogger(nil)

	assert.False(t, avif.Logger().Enabled(t.Context(), slog.LevelError))
}

func TestLogger_SessionTransitions(t *testing.T) {
	buf := captureLogs(t, slog.LevelDebug)

	s, err := avif.NewSession(testConfig(), &av1test.Decoder{})
	require.NoError(t, err)
	require.NoError(t, s.Parse(fixture(grayFrame(2, 2, 8, av1.Subsampling444), nil)))
	require.NoError(t, s.DecodeNextFrame())
	s.Close()

	out := buf.String()
	assert.Contains(t, out, "avif: session state")
	assert.Contains(t, out, "to=parsed")
	assert.Contains(t, out, "to=decoded")
	assert.Contains(t, out, "to=closed")
}

func TestLogger_RelaxedClap(t *testing.T) {
	buf := captureLogs(t, slog.LevelWarn)

	cfg := testConfig()
	cfg.Strict = avif.StrictNone
	s, err := avif.NewSession(cfg, &av1test.Decoder{})
	require.NoError(t, err)
	defer s.Close()

	data := fixture(grayFrame(4, 4, 8, av1.Subsampling444), func(s *avifbuild.Spec) {
		s.Clap = &[8]uint32{3, 2, 4, 1, 0, 1, 0, 1}
	})
	require.NoError(t, s.Parse(data))

	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "ignoring invalid clean aperture")
	assert.NotContains(t, buf.String(), "session state")
}
