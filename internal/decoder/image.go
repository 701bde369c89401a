package decoder

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"vinscan/internal/services"
)

// PixelFormat names the memory layout of a pixel buffer.
type PixelFormat int

const (
	// FormatBGRA32 stores four bytes per pixel in blue, green, red, alpha order.
	FormatBGRA32 PixelFormat = iota
	// FormatGray8 stores one luminance byte per pixel.
	FormatGray8
)

func (f PixelFormat) String() string {
	switch f {
	case FormatBGRA32:
		return "bgra32"
	case FormatGray8:
		return "gray8"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// BytesPerPixel reports the stride multiplier for the format.
func (f PixelFormat) BytesPerPixel() int {
	if f == FormatGray8 {
		return 1
	}
	return 4
}

// Frame is a decoded still.
type Frame struct {
	Pixels []byte
	Width  int
	Height int
	Format PixelFormat
}

// DecodeBGRA decodes an encoded still into a straight-alpha BGRA buffer.
func DecodeBGRA(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, services.Wrap(services.ErrValidation, "decoder", "decode image", "empty image data", nil)
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Frame{}, services.Wrap(services.ErrValidation, "decoder", "decode image", "unsupported or corrupt image", err)
	}

	bounds := src.Bounds()
	nrgba := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(nrgba, nrgba.Bounds(), src, bounds.Min, draw.Src)

	pixels := nrgba.Pix
	for i := 0; i+3 < len(pixels); i += 4 {
		pixels[i], pixels[i+2] = pixels[i+2], pixels[i]
	}
	return Frame{Pixels: pixels, Width: bounds.Dx(), Height: bounds.Dy(), Format: FormatBGRA32}, nil
}

// pixelImage exposes a raw buffer as an image.Image without copying.
type pixelImage struct {
	pix    []byte
	width  int
	height int
	format PixelFormat
}

func newPixelImage(pixels []byte, width, height int, format PixelFormat) (*pixelImage, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d", width, height)
	}
	switch format {
	case FormatBGRA32, FormatGray8:
	default:
		return nil, fmt.Errorf("unsupported pixel format %s", format)
	}
	want := width * height * format.BytesPerPixel()
	if len(pixels) < want {
		return nil, fmt.Errorf("pixel buffer too short: have %d bytes, want %d", len(pixels), want)
	}
	return &pixelImage{pix: pixels, width: width, height: height, format: format}, nil
}

func (p *pixelImage) ColorModel() color.Model {
	if p.format == FormatGray8 {
		return color.GrayModel
	}
	return color.NRGBAModel
}

func (p *pixelImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, p.width, p.height)
}

func (p *pixelImage) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= p.width || y >= p.height {
		return color.NRGBA{}
	}
	if p.format == FormatGray8 {
		return color.Gray{Y: p.pix[y*p.width+x]}
	}
	i := (y*p.width + x) * 4
	return color.NRGBA{R: p.pix[i+2], G: p.pix[i+1], B: p.pix[i], A: p.pix[i+3]}
}

// rotatedImage views src turned clockwise by quarter turns.
type rotatedImage struct {
	src   image.Image
	turns int
}

func (r rotatedImage) ColorModel() color.Model { return r.src.ColorModel() }

func (r rotatedImage) Bounds() image.Rectangle {
	b := r.src.Bounds()
	if r.turns%2 == 1 {
		return image.Rect(0, 0, b.Dy(), b.Dx())
	}
	return image.Rect(0, 0, b.Dx(), b.Dy())
}

func (r rotatedImage) At(x, y int) color.Color {
	b := r.src.Bounds()
	w, h := b.Dx(), b.Dy()
	var sx, sy int
	switch r.turns % 4 {
	case 1:
		sx, sy = y, h-1-x
	case 2:
		sx, sy = w-1-x, h-1-y
	case 3:
		sx, sy = w-1-y, x
	default:
		sx, sy = x, y
	}
	return r.src.At(b.Min.X+sx, b.Min.Y+sy)
}
