package decoder

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"

	"vinscan/internal/services"
)

// Symbology names a barcode family the reader understands.
type Symbology string

// SymbologyCode39 is the symbology printed on VIN plates and door-jamb labels.
const SymbologyCode39 Symbology = "code_39"

// ParseSymbology maps a configuration value onto a supported symbology.
func ParseSymbology(value string) (Symbology, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	switch normalized {
	case "code_39", "code39":
		return SymbologyCode39, nil
	default:
		return "", services.Wrap(services.ErrConfiguration, "decoder", "parse symbology", fmt.Sprintf("unsupported symbology %q", value), nil)
	}
}

// Options tune a single decode.
type Options struct {
	Symbology Symbology
	// TryHarder trades speed for accuracy.
	TryHarder bool
	// AutoRotate retries the still turned by 90, 180 and 270 degrees.
	AutoRotate bool
}

// DefaultOptions mirrors the capture session defaults.
func DefaultOptions() Options {
	return Options{Symbology: SymbologyCode39, TryHarder: true}
}

// Reader locates a single barcode in a pixel buffer.
type Reader struct{}

// NewReader returns a reader backed by gozxing.
func NewReader() *Reader {
	return &Reader{}
}

// Decode searches the buffer for one barcode. found is false when the image
// holds no readable barcode; err is reserved for unusable input.
func (r *Reader) Decode(pixels []byte, width, height int, format PixelFormat, opts Options) (string, bool, error) {
	img, err := newPixelImage(pixels, width, height, format)
	if err != nil {
		return "", false, services.Wrap(services.ErrValidation, "decoder", "decode barcode", "invalid pixel buffer", err)
	}
	return r.DecodeImage(img, opts)
}

// DecodeFrame decodes a frame produced by DecodeBGRA.
func (r *Reader) DecodeFrame(frame Frame, opts Options) (string, bool, error) {
	return r.Decode(frame.Pixels, frame.Width, frame.Height, frame.Format, opts)
}

// DecodeImage searches an arbitrary image for one barcode.
func (r *Reader) DecodeImage(img image.Image, opts Options) (string, bool, error) {
	if opts.Symbology == "" {
		opts.Symbology = SymbologyCode39
	}
	if opts.Symbology != SymbologyCode39 {
		return "", false, services.Wrap(services.ErrConfiguration, "decoder", "decode barcode", fmt.Sprintf("unsupported symbology %q", opts.Symbology), nil)
	}

	turns := []int{0}
	if opts.AutoRotate {
		turns = []int{0, 1, 2, 3}
	}
	for _, turn := range turns {
		candidate := img
		if turn != 0 {
			candidate = rotatedImage{src: img, turns: turn}
		}
		text, found, err := decodeCode39(candidate, opts.TryHarder)
		if err != nil {
			return "", false, err
		}
		if found {
			return text, true, nil
		}
	}
	return "", false, nil
}

func decodeCode39(img image.Image, tryHarder bool) (string, bool, error) {
	source := gozxing.NewLuminanceSourceFromImage(img)
	bitmap, err := gozxing.NewBinaryBitmap(gozxing.NewHybridBinarizer(source))
	if err != nil {
		return "", false, services.Wrap(services.ErrValidation, "decoder", "binarize", "could not binarize image", err)
	}

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_POSSIBLE_FORMATS: []gozxing.BarcodeFormat{gozxing.BarcodeFormat_CODE_39},
	}
	if tryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}

	result, err := oned.NewCode39Reader().Decode(bitmap, hints)
	if err != nil {
		if isMiss(err) {
			return "", false, nil
		}
		return "", false, services.Wrap(services.ErrTransient, "decoder", "decode barcode", "reader failed", err)
	}
	return result.GetText(), true, nil
}

// isMiss reports whether err only means no barcode was located.
func isMiss(err error) bool {
	var notFound gozxing.NotFoundException
	var checksum gozxing.ChecksumException
	var format gozxing.FormatException
	return errors.As(err, &notFound) || errors.As(err, &checksum) || errors.As(err, &format)
}
