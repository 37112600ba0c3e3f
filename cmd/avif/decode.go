package main

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/DND-IT/avif-go"
	"github.com/DND-IT/avif-go/pixel"
)

// rawExt marks a zstd-compressed dump of packed pixels in the --format layout.
const rawExt = ".zst"

type decodeOptions struct {
	config avif.Config
	// format is the pixel layout of raw dumps; image outputs pick RGBA8 or RGBA16 by depth.
	format pixel.Format
}

type result struct {
	output string
	info   avif.Info
	format pixel.Format
	size   int64
}

// decodeAvif decodes input and writes it to output, choosing the encoder by output extension.
func decodeAvif(input, output string, opts decodeOptions) (*result, error) {
	write, err := writerFor(output)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(input)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}
	if !avif.IsAVIF(data) {
		return nil, fmt.Errorf("%s: %w", input, avif.ErrNotAVIF)
	}

	s, err := avif.NewSession(opts.config, avif.FrameDecoder())
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if err := s.Parse(data); err != nil {
		return nil, err
	}
	if err := s.DecodeNextFrame(); err != nil {
		if errors.Is(err, avif.ErrNoFrameDecoder) {
			return nil, fmt.Errorf("%w (build with -tags dav1d)", err)
		}
		return nil, err
	}

	format := opts.format
	if !isRaw(output) {
		format = pixel.RGBA8
		if s.Depth() > 8 {
			format = pixel.RGBA16
		}
	}
	dst, err := pixel.New(format, s.Width(), s.Height())
	if err != nil {
		return nil, err
	}
	if err := s.ToRGB(dst); err != nil {
		return nil, err
	}

	if err := writeFile(output, func(w io.Writer) error { return write(w, dst) }); err != nil {
		return nil, err
	}

	stat, err := os.Stat(output)
	if err != nil {
		return nil, err
	}
	return &result{output: output, info: s.Info(), format: format, size: stat.Size()}, nil
}

// probeAvif parses input without decoding pixels.
func probeAvif(input string, cfg avif.Config) (avif.Info, error) {
	data, err := os.ReadFile(input)
	if err != nil {
		return avif.Info{}, fmt.Errorf("failed to read input file: %w", err)
	}

	s, err := avif.NewSession(cfg, nil)
	if err != nil {
		return avif.Info{}, err
	}
	defer s.Close()

	if err := s.Parse(data); err != nil {
		return avif.Info{}, err
	}
	return s.Info(), nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

type writer func(w io.Writer, img *pixel.Image) error

func isRaw(path string) bool {
	return strings.EqualFold(filepath.Ext(path), rawExt)
}

func writerFor(path string) (writer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return func(w io.Writer, img *pixel.Image) error { return png.Encode(w, toImage(img)) }, nil
	case ".jpg", ".jpeg":
		return func(w io.Writer, img *pixel.Image) error {
			return jpeg.Encode(w, toImage(img), &jpeg.Options{Quality: 90})
		}, nil
	case ".bmp":
		return func(w io.Writer, img *pixel.Image) error { return bmp.Encode(w, toImage(img)) }, nil
	case ".tif", ".tiff":
		return func(w io.Writer, img *pixel.Image) error {
			return tiff.Encode(w, toImage(img), &tiff.Options{Compression: tiff.Deflate})
		}, nil
	case rawExt:
		return writeRaw, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %q", filepath.Ext(path))
	}
}

// toImage wraps img without copying. Only RGBA8 and RGBA16 have an image package equivalent.
func toImage(img *pixel.Image) image.Image {
	rect := image.Rect(0, 0, img.Width, img.Height)
	if img.Format == pixel.RGBA16 {
		return &image.NRGBA64{Pix: img.Pix, Stride: img.Stride(), Rect: rect}
	}
	return &image.NRGBA{Pix: img.Pix, Stride: img.Stride(), Rect: rect}
}

// writeRaw writes the tightly packed rows of img through a zstd encoder.
func writeRaw(w io.Writer, img *pixel.Image) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return err
	}
	for y := range img.Height {
		if _, err := enc.Write(img.Row(y)); err != nil {
			enc.Close()
			return err
		}
	}
	return enc.Close()
}

// outputPath replaces the extension of input with ext.
func outputPath(input, ext string) string {
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return strings.TrimSuffix(input, filepath.Ext(input)) + ext
}
