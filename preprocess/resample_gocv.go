//go:build gocv

package preprocess

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// OpenCVResampler resamples through OpenCV with bilinear interpolation.
// It is only available in builds tagged with "gocv".
type OpenCVResampler struct{}

// Resample implements Resampler.
func (OpenCVResampler) Resample(img image.Image, width, height int) (image.Image, error) {
	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, errors.Wrap(err, "convert image to mat")
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()

	gocv.Resize(src, &dst, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
	if dst.Empty() {
		return nil, errors.New("opencv resize produced an empty mat")
	}

	out, err := dst.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "convert mat to image")
	}
	return out, nil
}
