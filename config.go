package avif

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/DND-IT/avif-go/internal/colorconv"
)

// StrictFlags is a set of optional validation checks. Values are immutable: With and Without
// return a new set, and a Session copies its flags when it is created.
type StrictFlags uint32

const (
	// StrictPixiRequired rejects images whose primary item has no pixi property.
	StrictPixiRequired StrictFlags = 1 << iota
	// StrictClapValid rejects images whose clap property does not describe a valid crop.
	StrictClapValid
	// StrictAlphaISPERequired rejects alpha items without their own ispe property.
	StrictAlphaISPERequired

	StrictNone StrictFlags = 0
	StrictAll              = StrictPixiRequired | StrictClapValid | StrictAlphaISPERequired
)

var strictNames = []struct {
	flag StrictFlags
	name string
}{
	{StrictPixiRequired, "pixi-required"},
	{StrictClapValid, "clap-valid"},
	{StrictAlphaISPERequired, "alpha-ispe-required"},
}

// Has reports whether every flag in f is set.
func (s StrictFlags) Has(f StrictFlags) bool {
	return s&f == f
}

// With returns s with f added.
func (s StrictFlags) With(f StrictFlags) StrictFlags {
	return s | f
}

// Without returns s with f removed.
func (s StrictFlags) Without(f StrictFlags) StrictFlags {
	return s &^ f
}

func (s StrictFlags) String() string {
	var names []string
	for _, n := range strictNames {
		if s.Has(n.flag) {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// ParseStrictFlags parses a comma-separated list as printed by StrictFlags.String.
// "all" and "none" are accepted as shorthands.
func ParseStrictFlags(s string) (StrictFlags, error) {
	var flags StrictFlags
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		switch part {
		case "", "none":
			continue
		case "all":
			flags = flags.With(StrictAll)
			continue
		}

		found := false
		for _, n := range strictNames {
			if n.name == part {
				flags = flags.With(n.flag)
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: unknown strict flag %q", ErrInvalidConfig, part)
		}
	}
	return flags, nil
}

// ChromaUpsampling selects how subsampled chroma planes are brought to full resolution.
type ChromaUpsampling int

const (
	// ChromaUpsamplingAutomatic currently means bilinear.
	ChromaUpsamplingAutomatic ChromaUpsampling = iota
	ChromaUpsamplingBilinear
	ChromaUpsamplingNearest
)

func (c ChromaUpsampling) mode() colorconv.Upsampling {
	if c == ChromaUpsamplingNearest {
		return colorconv.Nearest
	}
	return colorconv.Bilinear
}

const (
	// DefaultImageSizeLimit is the largest accepted width×height.
	DefaultImageSizeLimit = 16384 * 16384
	// DefaultImageDimensionLimit is the largest accepted width or height.
	DefaultImageDimensionLimit = 32768
)

// Config controls a decode session.
type Config struct {
	// MaxThreads bounds the parallelism of the AV1 frame decoder. It must be positive.
	MaxThreads int
	// Strict selects the optional validation checks.
	Strict StrictFlags
	// IgnoreExif and IgnoreXMP skip locating metadata items entirely.
	IgnoreExif bool
	IgnoreXMP  bool
	// IgnoreAlpha skips decoding the alpha auxiliary image; output is opaque.
	IgnoreAlpha bool

	ImageSizeLimit      uint32
	ImageDimensionLimit uint32

	ChromaUpsampling ChromaUpsampling
}

// DefaultConfig returns the configuration used by Decode.
//
// Clean aperture and pixel information checks are relaxed: many encoders in the wild emit
// files without pixi or with clap boxes that do not describe an exact crop.
func DefaultConfig() Config {
	return Config{
		MaxThreads:          runtime.NumCPU(),
		Strict:              StrictAll.Without(StrictClapValid | StrictPixiRequired),
		IgnoreExif:          true,
		IgnoreXMP:           true,
		ImageSizeLimit:      DefaultImageSizeLimit,
		ImageDimensionLimit: DefaultImageDimensionLimit,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.MaxThreads <= 0 {
		return fmt.Errorf("%w: max threads must be positive, got %d", ErrInvalidConfig, c.MaxThreads)
	}
	if c.Strict&^StrictAll != 0 {
		return fmt.Errorf("%w: unknown strict flags 0x%x", ErrInvalidConfig, uint32(c.Strict&^StrictAll))
	}
	if c.ImageSizeLimit == 0 || c.ImageDimensionLimit == 0 {
		return fmt.Errorf("%w: image limits must be positive", ErrInvalidConfig)
	}
	switch c.ChromaUpsampling {
	case ChromaUpsamplingAutomatic, ChromaUpsamplingBilinear, ChromaUpsamplingNearest:
	default:
		return fmt.Errorf("%w: chroma upsampling %d", ErrInvalidConfig, c.ChromaUpsampling)
	}
	return nil
}
