// Package preprocess - Converts encoded images into normalized CHW tensors for image
// classification models.
package preprocess

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/pkg/errors"
)

// Channels is the number of colour channels in every tensor produced by this package.
const Channels = 3

// ImageNet normalization constants for the R, G and B channels.
var (
	Mean = [Channels]float32{0.485, 0.456, 0.406}
	Std  = [Channels]float32{0.229, 0.224, 0.225}
)

// Tensor is a [1, 3, H, W] float32 buffer in row-major, channel-first order.
type Tensor struct {
	// Shape is always {1, 3, height, width}.
	Shape []int64
	// Data holds the normalized values; pixel (y, x) of channel c lives at c*H*W + y*W + x.
	Data []float32
}

// Width returns the tensor width.
func (t *Tensor) Width() int { return int(t.Shape[3]) }

// Height returns the tensor height.
func (t *Tensor) Height() int { return int(t.Shape[2]) }

// At returns the value of channel c at row y, column x.
func (t *Tensor) At(c, y, x int) float32 {
	w, h := t.Width(), t.Height()
	return t.Data[c*h*w+y*w+x]
}

// Config controls how a Preprocessor resamples images.
type Config struct {
	// Filter is the nfnt/resize filter; empty means DefaultFilter.
	Filter Filter `json:"filter" yaml:"filter"`
	// Resampler overrides Filter when set, e.g. with an OpenCV backed resampler.
	Resampler Resampler `json:"-" yaml:"-"`
	// MaxPixels caps the decoded image size; zero means DefaultMaxPixels.
	MaxPixels int `json:"max_pixels" yaml:"max_pixels"`
}

// Preprocessor turns encoded image bytes into model input tensors.
//
// A Preprocessor holds no mutable state and is safe for concurrent use.
type Preprocessor struct {
	resampler Resampler
	maxPixels int
}

// NewPreprocessor creates a preprocessor with the given configuration.
//
// Arguments:
//   - config: The resampling configuration.
//
// Returns:
//   - *Preprocessor: The configured preprocessor.
//   - error: An error if the configured filter is not supported.
//
// @example
//
//	p, err := preprocess.NewPreprocessor(preprocess.Config{Filter: preprocess.FilterLanczos3})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	t, err := p.Preprocess(jpegBytes, 224, 224)
func NewPreprocessor(config Config) (*Preprocessor, error) {
	if config.MaxPixels < 0 {
		return nil, errors.Errorf("invalid pixel limit %d", config.MaxPixels)
	}
	maxPixels := config.MaxPixels
	if maxPixels == 0 {
		maxPixels = DefaultMaxPixels
	}
	if config.Resampler != nil {
		return &Preprocessor{resampler: config.Resampler, maxPixels: maxPixels}, nil
	}
	filter, err := ParseFilter(string(config.Filter))
	if err != nil {
		return nil, err
	}
	r, err := NewResampler(filter)
	if err != nil {
		return nil, err
	}
	return &Preprocessor{resampler: r, maxPixels: maxPixels}, nil
}

var defaultPreprocessor = &Preprocessor{
	resampler: nfntResampler{interp: interpolations[DefaultFilter]},
	maxPixels: DefaultMaxPixels,
}

// Preprocess converts image bytes with the default bilinear preprocessor.
func Preprocess(data []byte, width, height int) (*Tensor, error) {
	return defaultPreprocessor.Preprocess(data, width, height)
}

// Preprocess decodes data, stretches it to width x height and normalizes it into a
// [1, 3, height, width] tensor.
//
// The alpha channel is discarded. Identical input bytes always produce
// bit-identical tensors.
//
// Arguments:
//   - data: The encoded image bytes.
//   - width: The target tensor width.
//   - height: The target tensor height.
//
// Returns:
//   - *Tensor: The normalized tensor.
//   - error: A *DecodeError for unreadable or oversized images, or an error for an invalid
//     target size.
func (p *Preprocessor) Preprocess(data []byte, width, height int) (*Tensor, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", width, height)
	}

	img, _, err := DecodeLimit(data, p.maxPixels)
	if err != nil {
		return nil, err
	}

	resized, err := p.resampler.Resample(opaqueNRGBA(img), width, height)
	if err != nil {
		return nil, errors.Wrap(err, "resample image")
	}
	if b := resized.Bounds(); b.Dx() != width || b.Dy() != height {
		return nil, errors.Errorf("resampler produced %dx%d, want %dx%d", b.Dx(), b.Dy(), width, height)
	}

	return &Tensor{
		Shape: []int64{1, Channels, int64(height), int64(width)},
		Data:  toCHW(toNRGBA(resized)),
	}, nil
}

// opaqueNRGBA copies img into an origin-anchored NRGBA image with every alpha forced
// to 255, so transparent pixels keep their stored colour through resampling.
func opaqueNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if src, ok := img.(*image.NRGBA); ok {
		rowLen := b.Dx() * 4
		for y := 0; y < b.Dy(); y++ {
			off := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+rowLen], src.Pix[off:off+rowLen])
		}
	} else {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	}
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

// toNRGBA returns the image as non-premultiplied 8-bit RGBA anchored at the origin.
func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// toCHW scales each channel to [0, 1] and applies the ImageNet mean/std.
func toCHW(img *image.NRGBA) []float32 {
	width, height := img.Rect.Dx(), img.Rect.Dy()
	plane := width * height
	data := make([]float32, Channels*plane)

	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < width; x++ {
			px := row[x*4 : x*4+4]
			i := y*width + x
			for c := 0; c < Channels; c++ {
				v := float32(px[c]) / 255
				data[c*plane+i] = (v - Mean[c]) / Std[c]
			}
		}
	}

	return data
}
