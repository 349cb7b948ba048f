package preprocess

import (
	"fmt"
	"image"
	"strings"

	"github.com/nfnt/resize"
)

// Filter names a resampling filter used when stretching an image to the model input size.
type Filter string

const (
	// FilterBilinear uses bilinear interpolation.
	FilterBilinear Filter = "bilinear"
	// FilterBicubic uses bicubic interpolation.
	FilterBicubic Filter = "bicubic"
	// FilterMitchell uses the Mitchell-Netravali cubic filter.
	FilterMitchell Filter = "mitchell"
	// FilterLanczos2 uses Lanczos resampling with a=2.
	FilterLanczos2 Filter = "lanczos2"
	// FilterLanczos3 uses Lanczos resampling with a=3.
	FilterLanczos3 Filter = "lanczos3"
)

// DefaultFilter is the filter used when none is configured.
const DefaultFilter = FilterBilinear

// Resampler stretches an image to exactly width x height pixels.
type Resampler interface {
	Resample(img image.Image, width, height int) (image.Image, error)
}

// interpolations maps each supported filter to its nfnt/resize implementation.
// Nearest-neighbour is intentionally absent.
var interpolations = map[Filter]resize.InterpolationFunction{
	FilterBilinear: resize.Bilinear,
	FilterBicubic:  resize.Bicubic,
	FilterMitchell: resize.MitchellNetravali,
	FilterLanczos2: resize.Lanczos2,
	FilterLanczos3: resize.Lanczos3,
}

// ParseFilter resolves a filter name, case-insensitively. An empty name yields DefaultFilter.
//
// Arguments:
//   - name: The filter name, e.g. "bilinear" or "lanczos3".
//
// Returns:
//   - Filter: The resolved filter.
//   - error: An error if the filter is unknown or not quality-biased.
func ParseFilter(name string) (Filter, error) {
	if name == "" {
		return DefaultFilter, nil
	}
	f := Filter(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := interpolations[f]; !ok {
		return "", fmt.Errorf("unsupported resample filter %q", name)
	}
	return f, nil
}

// NewResampler returns the nfnt/resize backed resampler for the filter.
func NewResampler(filter Filter) (Resampler, error) {
	interp, ok := interpolations[filter]
	if !ok {
		return nil, fmt.Errorf("unsupported resample filter %q", filter)
	}
	return nfntResampler{interp: interp}, nil
}

type nfntResampler struct {
	interp resize.InterpolationFunction
}

func (r nfntResampler) Resample(img image.Image, width, height int) (image.Image, error) {
	return resize.Resize(uint(width), uint(height), img, r.interp), nil
}
