package avif

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/DND-IT/avif-go/av1"
	"github.com/DND-IT/avif-go/internal/box"
	"github.com/DND-IT/avif-go/internal/colorconv"
	"github.com/DND-IT/avif-go/pixel"
)

// State is the position of a Session in its lifecycle.
type State int

const (
	// StateCreated is the state of a new session.
	StateCreated State = iota
	// StateParsed follows a successful Parse.
	StateParsed
	// StateDecoded follows a successful DecodeNextFrame.
	StateDecoded
	// StateConverted follows the first successful ToRGB.
	StateConverted
	// StateClosed is final.
	StateClosed
	// StateErrored is entered when Parse, DecodeNextFrame or a conversion fails. Only Close
	// is valid afterwards.
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateParsed:
		return "parsed"
	case StateDecoded:
		return "decoded"
	case StateConverted:
		return "converted"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Rect is a pixel rectangle.
type Rect struct {
	X, Y          int
	Width, Height int
}

// Info describes a parsed image.
type Info struct {
	Width       int
	Height      int
	Depth       int
	Subsampling av1.Subsampling
	HasAlpha    bool

	// Color is the nclx color description when the container carries one; after
	// DecodeNextFrame it falls back to the values signalled in the bitstream.
	Color av1.ColorInfo
	// CleanAperture is the crop described by a valid clap property, or nil.
	CleanAperture *Rect
	// Rotation is the counter-clockwise rotation in units of 90 degrees.
	Rotation int
	// Mirror is the irot mirror axis, or -1 when the image is not mirrored.
	Mirror int

	HasICC  bool
	HasExif bool
	HasXMP  bool
}

// Session decodes one AVIF image. It walks Created → Parsed → Decoded → Converted and must
// be closed by its owner on every path, including failures.
//
// A Session is not safe for concurrent use. Independent sessions share nothing and may run
// in parallel, even over the same input bytes.
type Session struct {
	cfg Config
	dec av1.FrameDecoder
	log *slog.Logger

	state State
	err   error

	// data is borrowed from the caller between Parse and Close.
	data  []byte
	image *box.Image
	info  Info

	colorKnown bool
	frame      *av1.Frame
	alpha      *av1.Frame
	rgb        *pixel.Image
}

// NewSession returns a session configured with a copy of cfg. dec may be nil for sessions that
// only parse; DecodeNextFrame then fails with ErrNoFrameDecoder.
func NewSession(cfg Config, dec av1.FrameDecoder) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		cfg: cfg,
		dec: dec,
		log: Logger(),
	}, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Err returns the error that moved the session to StateErrored, if any.
func (s *Session) Err() error {
	return s.err
}

func (s *Session) transition(to State) {
	s.log.Debug("avif: session state", "from", s.state, "to", to)
	s.state = to
}

func (s *Session) fail(err error) error {
	s.err = err
	s.transition(StateErrored)
	return err
}

func (s *Session) expect(op string, states ...State) error {
	for _, st := range states {
		if s.state == st {
			return nil
		}
	}
	if s.state == StateErrored {
		return fmt.Errorf("%w: %s after failure: %v", ErrInvalidState, op, s.err)
	}
	return fmt.Errorf("%w: %s in state %s", ErrInvalidState, op, s.state)
}

// Parse validates the container and records the primary image's layout. data must stay
// unmodified until Close.
func (s *Session) Parse(data []byte) error {
	if err := s.expect("parse", StateCreated); err != nil {
		return err
	}

	img, err := box.Parse(data, box.Options{IgnoreExif: s.cfg.IgnoreExif, IgnoreXMP: s.cfg.IgnoreXMP})
	if err != nil {
		return s.fail(fmt.Errorf("failed to parse AVIF container: %w", err))
	}
	if err := s.validate(img); err != nil {
		return s.fail(err)
	}

	s.data = data
	s.image = img
	s.transition(StateParsed)
	s.log.Debug("avif: parsed",
		"width", s.info.Width, "height", s.info.Height, "depth", s.info.Depth,
		"subsampling", s.info.Subsampling, "alpha", s.info.HasAlpha)
	return nil
}

// validate applies dimension limits and strict checks. s.info is only set when all of them pass.
func (s *Session) validate(img *box.Image) error {
	props := img.Color.Properties
	ispe, av1C := props.ISPE, props.AV1C

	if ispe.Width == 0 || ispe.Height == 0 {
		return fmt.Errorf("%w: image dimensions %dx%d", ErrMalformedContainer, ispe.Width, ispe.Height)
	}
	if ispe.Width > s.cfg.ImageDimensionLimit || ispe.Height > s.cfg.ImageDimensionLimit {
		return fmt.Errorf("%w: %dx%d exceeds dimension limit %d",
			ErrDimensionOverflow, ispe.Width, ispe.Height, s.cfg.ImageDimensionLimit)
	}
	pixels := uint64(ispe.Width) * uint64(ispe.Height)
	if pixels > uint64(s.cfg.ImageSizeLimit) {
		return fmt.Errorf("%w: %d pixels exceeds size limit %d", ErrDimensionOverflow, pixels, s.cfg.ImageSizeLimit)
	}
	// The widest output format must be addressable with int arithmetic.
	if pixels > math.MaxInt/8 {
		return fmt.Errorf("%w: %dx%d overflows buffer size", ErrDimensionOverflow, ispe.Width, ispe.Height)
	}

	info := Info{
		Width:       int(ispe.Width),
		Height:      int(ispe.Height),
		Depth:       av1C.Depth(),
		Subsampling: subsamplingOf(av1C),
		HasAlpha:    img.Alpha != nil && !s.cfg.IgnoreAlpha,
		Mirror:      -1,
		HasICC:      props.ICC != nil,
		HasExif:     img.Exif != nil,
		HasXMP:      img.XMP != nil,
	}
	if props.Irot != nil {
		info.Rotation = int(*props.Irot)
	}
	if props.Imir != nil {
		info.Mirror = int(*props.Imir)
	}
	if nclx := props.NCLX; nclx != nil {
		info.Color = av1.ColorInfo{
			Primaries: nclx.ColorPrimaries,
			Transfer:  nclx.TransferCharacteristics,
			Matrix:    av1.MatrixCoefficients(nclx.MatrixCoefficients),
			Range:     av1.RangeLimited,
		}
		if nclx.FullRange {
			info.Color.Range = av1.RangeFull
		}
	}

	if err := s.checkPixi(props.Pixi, &info); err != nil {
		return err
	}
	if err := s.checkClap(props.Clap, ispe, av1C, &info); err != nil {
		return err
	}
	if info.HasAlpha {
		if err := s.checkAlpha(img.Alpha, &info); err != nil {
			return err
		}
	}

	s.info = info
	s.colorKnown = props.NCLX != nil
	return nil
}

func subsamplingOf(c *box.AV1Config) av1.Subsampling {
	switch {
	case c.Monochrome:
		return av1.Monochrome
	case c.SubsamplingX && c.SubsamplingY:
		return av1.Subsampling420
	case c.SubsamplingX:
		return av1.Subsampling422
	default:
		return av1.Subsampling444
	}
}

func (s *Session) checkPixi(pixi *box.Pixi, info *Info) error {
	if pixi == nil {
		if s.cfg.Strict.Has(StrictPixiRequired) {
			return fmt.Errorf("%w: [strict] pixi property is required", ErrMalformedContainer)
		}
		return nil
	}

	if want := info.Subsampling.Planes(); len(pixi.Depths) != want {
		return fmt.Errorf("%w: pixi lists %d channels, expected %d", ErrMalformedContainer, len(pixi.Depths), want)
	}
	for _, d := range pixi.Depths {
		if int(d) != info.Depth {
			return fmt.Errorf("%w: pixi depth %d does not match av1C depth %d", ErrMalformedContainer, d, info.Depth)
		}
	}
	return nil
}

func (s *Session) checkClap(clap *box.Clap, ispe *box.ISPE, av1C *box.AV1Config, info *Info) error {
	if clap == nil {
		return nil
	}

	rect, err := clap.CropRect(ispe.Width, ispe.Height, av1C.SubsamplingX && !av1C.Monochrome, av1C.SubsamplingY && !av1C.Monochrome)
	if err != nil {
		if s.cfg.Strict.Has(StrictClapValid) {
			return fmt.Errorf("[strict] %w", err)
		}
		s.log.Warn("avif: ignoring invalid clean aperture", "error", err)
		return nil
	}
	info.CleanAperture = &Rect{X: rect.X, Y: rect.Y, Width: rect.Width, Height: rect.Height}
	return nil
}

func (s *Session) checkAlpha(alpha *box.Item, info *Info) error {
	ispe := alpha.Properties.ISPE
	if ispe == nil {
		if s.cfg.Strict.Has(StrictAlphaISPERequired) {
			return fmt.Errorf("%w: [strict] alpha item has no ispe property", ErrMalformedContainer)
		}
		s.log.Warn("avif: alpha item has no ispe, assuming color dimensions")
		return nil
	}
	if int(ispe.Width) != info.Width || int(ispe.Height) != info.Height {
		return fmt.Errorf("%w: alpha %dx%d does not match color %dx%d",
			ErrMalformedContainer, ispe.Width, ispe.Height, info.Width, info.Height)
	}
	return nil
}

// Width returns the image width reported by the container. It is valid after Parse.
func (s *Session) Width() int {
	return s.info.Width
}

// Height returns the image height reported by the container. It is valid after Parse.
func (s *Session) Height() int {
	return s.info.Height
}

// Depth returns the sample bit depth (8, 10 or 12).
func (s *Session) Depth() int {
	return s.info.Depth
}

// HasAlpha reports whether the image has an alpha channel that will be decoded.
func (s *Session) HasAlpha() bool {
	return s.info.HasAlpha
}

// Info returns everything known about the image so far.
func (s *Session) Info() Info {
	return s.info
}

// ImageCount is always 1: only the primary still image is exposed.
func (s *Session) ImageCount() int {
	return 1
}

// DecodeNthFrame decodes image index. Only index 0 exists.
func (s *Session) DecodeNthFrame(index int) error {
	if index != 0 {
		return fmt.Errorf("%w: index %d, image count 1", ErrIndexOutOfRange, index)
	}
	return s.DecodeNextFrame()
}

// DecodeNextFrame runs the AV1 frame decoder over the primary item, and the alpha item if any.
// It blocks until the decoder returns and cannot be interrupted.
func (s *Session) DecodeNextFrame() error {
	if err := s.expect("decode", StateParsed); err != nil {
		return err
	}
	if s.dec == nil {
		return s.fail(ErrNoFrameDecoder)
	}

	frame, err := s.decodeItem(&s.image.Color, false)
	if err != nil {
		return s.fail(err)
	}
	if err := s.checkFrame(frame); err != nil {
		return s.fail(err)
	}

	var alpha *av1.Frame
	if s.info.HasAlpha {
		if alpha, err = s.decodeItem(s.image.Alpha, true); err != nil {
			return s.fail(err)
		}
		if alpha.Width != frame.Width || alpha.Height != frame.Height {
			return s.fail(fmt.Errorf("%w: decoded alpha %dx%d does not match color %dx%d",
				ErrMalformedContainer, alpha.Width, alpha.Height, frame.Width, frame.Height))
		}
	}

	if !s.colorKnown {
		s.info.Color = frame.Color
		s.colorKnown = true
	}
	s.frame, s.alpha = frame, alpha
	s.transition(StateDecoded)
	return nil
}

func (s *Session) decodeItem(it *box.Item, isAlpha bool) (*av1.Frame, error) {
	payload, err := it.Payload(s.data)
	if err != nil {
		return nil, err
	}

	frame, err := s.dec.DecodeFrame(payload, av1.Options{MaxThreads: s.cfg.MaxThreads, Alpha: isAlpha})
	if err != nil {
		return nil, fmt.Errorf("%w: item %d: %w", ErrBitstream, it.ID, err)
	}
	if frame == nil {
		return nil, fmt.Errorf("%w: item %d: decoder returned no frame", ErrBitstream, it.ID)
	}
	if err := frame.Validate(); err != nil {
		return nil, fmt.Errorf("%w: item %d: %w", ErrBitstream, it.ID, err)
	}

	s.log.Debug("avif: decoded item", "item", it.ID, "alpha", isAlpha,
		"width", frame.Width, "height", frame.Height, "depth", frame.BitDepth, "subsampling", frame.Subsampling)
	return frame, nil
}

// checkFrame verifies that the decoded frame has the layout the container declared.
func (s *Session) checkFrame(f *av1.Frame) error {
	if f.Width != s.info.Width || f.Height != s.info.Height {
		return fmt.Errorf("%w: decoded frame %dx%d does not match declared %dx%d",
			ErrMalformedContainer, f.Width, f.Height, s.info.Width, s.info.Height)
	}
	if f.BitDepth != s.info.Depth {
		return fmt.Errorf("%w: decoded depth %d does not match av1C depth %d", ErrMalformedContainer, f.BitDepth, s.info.Depth)
	}
	if f.Subsampling != s.info.Subsampling {
		return fmt.Errorf("%w: decoded subsampling %s does not match av1C %s",
			ErrMalformedContainer, f.Subsampling, s.info.Subsampling)
	}
	return nil
}

// ToRGB converts the decoded image into dst. dst.Format selects the pixel layout and dst.Pix
// must satisfy the buffer contract for at least Width()×Height() pixels; only the top-left
// region is written. Rejected destinations leave dst untouched and the session state unchanged,
// so the caller may retry with a corrected buffer.
func (s *Session) ToRGB(dst *pixel.Image) error {
	if err := s.expect("convert", StateDecoded, StateConverted); err != nil {
		return err
	}
	if dst == nil {
		return fmt.Errorf("%w: nil destination", ErrBufferTooSmall)
	}
	if !dst.Format.Supported() {
		return fmt.Errorf("%w: %s", ErrUnsupportedTargetFormat, dst.Format)
	}
	if dst.Width < s.info.Width || dst.Height < s.info.Height {
		return fmt.Errorf("%w: destination %dx%d is smaller than %dx%d",
			ErrBufferTooSmall, dst.Width, dst.Height, s.info.Width, s.info.Height)
	}
	if err := dst.Validate(); err != nil {
		return err
	}

	if s.rgb == nil || s.rgb.Format != dst.Format {
		params := colorconv.Params{
			Matrix:     s.info.Color.Matrix,
			Range:      s.info.Color.Range,
			Upsampling: s.cfg.ChromaUpsampling.mode(),
		}
		rgb, err := colorconv.Convert(s.frame, s.alpha, params, dst.Format)
		if err != nil {
			if errors.Is(err, colorconv.ErrUnsupportedMatrix) {
				err = fmt.Errorf("%w: %w", ErrUnsupportedFeature, err)
			}
			return s.fail(err)
		}
		s.rgb = rgb
	}

	if err := pixel.WriteInto(s.rgb, dst); err != nil {
		return s.fail(err)
	}
	if s.state != StateConverted {
		s.transition(StateConverted)
	}
	return nil
}

// Close releases every buffer and drops the reference to the input bytes. It is safe to call
// in any state, any number of times.
func (s *Session) Close() {
	if s.state == StateClosed {
		return
	}
	s.data = nil
	s.image = nil
	s.frame = nil
	s.alpha = nil
	s.rgb = nil
	s.transition(StateClosed)
}
