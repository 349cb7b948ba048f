//go:build vips

package preprocess

import (
	"bytes"
	"image"
	"image/png"
	"sync"

	"github.com/cshum/vipsgen/vips"
	"github.com/pkg/errors"
)

var vipsStartup sync.Once

// VipsResampler resamples through libvips thumbnailing with the size forced to the target.
// It is only available in builds tagged with "vips".
type VipsResampler struct{}

// Resample implements Resampler.
func (VipsResampler) Resample(img image.Image, width, height int) (image.Image, error) {
	vipsStartup.Do(func() { vips.Startup(nil) })

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrap(err, "encode image for vips")
	}

	src, err := vips.NewImageFromBuffer(buf.Bytes(), &vips.LoadOptions{Access: vips.AccessSequential})
	if err != nil {
		return nil, errors.Wrap(err, "load image into vips")
	}
	defer src.Close()

	err = src.ThumbnailImage(width, &vips.ThumbnailImageOptions{
		Height: height,
		Size:   vips.SizeForce,
		FailOn: vips.FailOnError,
	})
	if err != nil {
		return nil, errors.Wrap(err, "vips thumbnail")
	}

	out, err := src.PngsaveBuffer(&vips.PngsaveBufferOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "save vips image")
	}
	resized, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, errors.Wrap(err, "decode vips output")
	}
	return resized, nil
}
