package preprocess

import (
	"bytes"
	"fmt"
	"image"
	// Register the standard raster decoders with image.Decode.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/chai2010/webp"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// DecodeError reports image bytes that could not be decoded into a bitmap.
type DecodeError struct {
	// Format is the detected container format, empty when it could not be sniffed.
	Format string
	// Err is the underlying decoder failure.
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Format != "" {
		return fmt.Sprintf("decode %s image: %v", e.Format, e.Err)
	}
	return fmt.Sprintf("decode image: %v", e.Err)
}

// Unwrap returns the underlying decoder failure.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// isWebP sniffs the RIFF container header used by WebP files.
func isWebP(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP"
}

// DefaultMaxPixels is the largest image, in pixels, that Decode accepts: 8192x8192.
const DefaultMaxPixels = 8192 * 8192

// Decode decodes encoded image bytes in any supported raster format, rejecting images
// larger than DefaultMaxPixels.
//
// Supported formats are JPEG, PNG, GIF, WebP, BMP and TIFF. Decoder panics on
// hostile input are recovered and reported as a *DecodeError.
//
// Arguments:
//   - data: The encoded image bytes.
//
// Returns:
//   - image.Image: The decoded bitmap.
//   - string: The detected format name.
//   - error: A *DecodeError if the bytes are empty, corrupt, oversized or unsupported.
func Decode(data []byte) (image.Image, string, error) {
	return DecodeLimit(data, DefaultMaxPixels)
}

// DecodeLimit decodes like Decode with a caller-chosen pixel limit.
//
// The header is read first and the dimensions it declares are checked against
// maxPixels before any pixel buffer is allocated, so a short file claiming a huge
// image fails fast instead of exhausting memory.
//
// Arguments:
//   - data: The encoded image bytes.
//   - maxPixels: The largest accepted width x height; zero or less means DefaultMaxPixels.
//
// Returns:
//   - image.Image: The decoded bitmap.
//   - string: The detected format name.
//   - error: A *DecodeError if the bytes are empty, corrupt, oversized or unsupported.
func DecodeLimit(data []byte, maxPixels int) (img image.Image, format string, err error) {
	if len(data) == 0 {
		return nil, "", &DecodeError{Err: errors.New("image data is empty")}
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	defer func() {
		if r := recover(); r != nil {
			img = nil
			err = &DecodeError{Format: format, Err: errors.Errorf("decoder panic: %v", r)}
		}
	}()

	var config image.Config
	if isWebP(data) {
		format = "webp"
		config, err = webp.DecodeConfig(bytes.NewReader(data))
	} else {
		config, format, err = image.DecodeConfig(bytes.NewReader(data))
	}
	if err != nil {
		return nil, format, &DecodeError{Format: format, Err: errors.WithStack(err)}
	}
	if config.Width <= 0 || config.Height <= 0 {
		return nil, format, &DecodeError{Format: format, Err: errors.New("image has no pixels")}
	}
	if pixels := int64(config.Width) * int64(config.Height); pixels > int64(maxPixels) {
		return nil, format, &DecodeError{
			Format: format,
			Err:    errors.Errorf("image is %dx%d, larger than the %d pixel limit", config.Width, config.Height, maxPixels),
		}
	}

	if format == "webp" {
		img, err = webp.Decode(bytes.NewReader(data))
	} else {
		img, format, err = image.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, format, &DecodeError{Format: format, Err: errors.WithStack(err)}
	}
	if img.Bounds().Empty() {
		return nil, format, &DecodeError{Format: format, Err: errors.New("image has no pixels")}
	}

	return img, format, nil
}
