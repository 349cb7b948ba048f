package preprocess

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/chai2010/webp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// normalized returns the expected tensor value for an 8-bit sample on channel c.
func normalized(c int, v uint8) float32 {
	return (float32(v)/255 - Mean[c]) / Std[c]
}

func uniformImage(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func encodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func TestPreprocessShape(t *testing.T) {
	data := encodePNG(t, uniformImage(64, 48, color.NRGBA{R: 10, G: 20, B: 30, A: 255}))

	tensor, err := Preprocess(data, 32, 16)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 3, 16, 32}, tensor.Shape, "shape should be [1, 3, H, W]")
	assert.Len(t, tensor.Data, 3*16*32)
	assert.Equal(t, 32, tensor.Width())
	assert.Equal(t, 16, tensor.Height())
}

func TestPreprocessNormalizesUniformColour(t *testing.T) {
	px := color.NRGBA{R: 128, G: 64, B: 32, A: 255}
	data := encodePNG(t, uniformImage(40, 40, px))

	tensor, err := Preprocess(data, 224, 224)
	require.NoError(t, err)

	want := []float32{normalized(0, px.R), normalized(1, px.G), normalized(2, px.B)}
	for c := 0; c < Channels; c++ {
		for _, pt := range []image.Point{{0, 0}, {223, 0}, {111, 111}, {223, 223}} {
			assert.InDelta(t, want[c], tensor.At(c, pt.Y, pt.X), 0.02,
				"channel %d at %v should match the ImageNet-normalized colour", c, pt)
		}
	}
}

func TestPreprocessChannelFirstLayout(t *testing.T) {
	// Left half pure red, right half pure blue.
	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			if x < 32 {
				img.SetNRGBA(x, y, color.NRGBA{R: 255, A: 255})
			} else {
				img.SetNRGBA(x, y, color.NRGBA{B: 255, A: 255})
			}
		}
	}

	tensor, err := Preprocess(encodePNG(t, img), 32, 32)
	require.NoError(t, err)

	plane := 32 * 32
	// Row 5, column 2 is red: channel 0 is high, channel 2 is low.
	assert.InDelta(t, normalized(0, 255), tensor.Data[0*plane+5*32+2], 0.02)
	assert.InDelta(t, normalized(2, 0), tensor.Data[2*plane+5*32+2], 0.02)
	// Row 5, column 29 is blue.
	assert.InDelta(t, normalized(0, 0), tensor.Data[0*plane+5*32+29], 0.02)
	assert.InDelta(t, normalized(2, 255), tensor.Data[2*plane+5*32+29], 0.02)
}

func TestPreprocessIsDeterministic(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 97, 61))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 31 % 251)
	}
	data := encodeJPEG(t, img)

	first, err := Preprocess(data, 224, 224)
	require.NoError(t, err)
	second, err := Preprocess(data, 224, 224)
	require.NoError(t, err)

	assert.Equal(t, first.Data, second.Data, "identical bytes must give bit-identical tensors")
}

func TestPreprocessDiscardsAlpha(t *testing.T) {
	transparent := encodePNG(t, uniformImage(16, 16, color.NRGBA{R: 200, G: 100, B: 50, A: 0}))
	opaque := encodePNG(t, uniformImage(16, 16, color.NRGBA{R: 200, G: 100, B: 50, A: 255}))

	a, err := Preprocess(transparent, 8, 8)
	require.NoError(t, err)
	b, err := Preprocess(opaque, 8, 8)
	require.NoError(t, err)

	assert.Equal(t, b.Data, a.Data, "alpha must not influence the tensor")
}

func TestPreprocessRejectsCorruptBytes(t *testing.T) {
	valid := encodePNG(t, uniformImage(32, 32, color.NRGBA{R: 1, G: 2, B: 3, A: 255}))
	validJPEG := encodeJPEG(t, uniformImage(32, 32, color.NRGBA{R: 1, G: 2, B: 3, A: 255}))

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "random bytes", data: []byte("\x13\x37this is definitely not an image\x00\xff")},
		{name: "truncated png", data: valid[:len(valid)/2]},
		{name: "truncated jpeg", data: validJPEG[:len(validJPEG)/3]},
		{name: "webp header only", data: []byte("RIFF\x10\x00\x00\x00WEBPVP8 ")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tensor, err := Preprocess(tt.data, 224, 224)
			require.Error(t, err)
			assert.Nil(t, tensor, "no partial tensor on failure")

			var decodeErr *DecodeError
			assert.True(t, errors.As(err, &decodeErr), "want *DecodeError, got %T: %v", err, err)
		})
	}
}

// pngChunk encodes one PNG chunk with its length and CRC.
func pngChunk(kind string, body []byte) []byte {
	chunk := make([]byte, 0, 12+len(body))
	chunk = binary.BigEndian.AppendUint32(chunk, uint32(len(body)))
	chunk = append(chunk, kind...)
	chunk = append(chunk, body...)
	return binary.BigEndian.AppendUint32(chunk, crc32.ChecksumIEEE(chunk[4:]))
}

// hugeTruncatedPNG declares a 40000x40000 16-bit RGBA image but carries only a zlib
// header as pixel data.
func hugeTruncatedPNG() []byte {
	ihdr := binary.BigEndian.AppendUint32(nil, 40000)
	ihdr = binary.BigEndian.AppendUint32(ihdr, 40000)
	ihdr = append(ihdr, 16, 6, 0, 0, 0)

	data := []byte("\x89PNG\r\n\x1a\n")
	data = append(data, pngChunk("IHDR", ihdr)...)
	return append(data, pngChunk("IDAT", []byte{0x78, 0x9c})...)
}

func TestPreprocessRejectsOversizedImageHeader(t *testing.T) {
	data := hugeTruncatedPNG()
	require.Len(t, data, 47)

	tensor, err := Preprocess(data, 224, 224)
	require.Error(t, err)
	assert.Nil(t, tensor)

	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr), "want *DecodeError, got %T: %v", err, err)
	assert.Equal(t, "png", decodeErr.Format)
	assert.Contains(t, err.Error(), "pixel limit")
}

func TestPreprocessorPixelLimit(t *testing.T) {
	data := encodePNG(t, uniformImage(20, 10, color.NRGBA{R: 9, G: 9, B: 9, A: 255}))

	strict, err := NewPreprocessor(Config{MaxPixels: 199})
	require.NoError(t, err)
	_, err = strict.Preprocess(data, 8, 8)
	var decodeErr *DecodeError
	assert.True(t, errors.As(err, &decodeErr), "200 pixels exceed a 199 pixel limit")

	exact, err := NewPreprocessor(Config{MaxPixels: 200})
	require.NoError(t, err)
	_, err = exact.Preprocess(data, 8, 8)
	assert.NoError(t, err)

	_, err = NewPreprocessor(Config{MaxPixels: -1})
	assert.Error(t, err)
}

func TestDecodeLimitWebP(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, webp.Encode(&buf, uniformImage(30, 30, color.NRGBA{A: 255}), &webp.Options{Lossless: true}))

	_, format, err := DecodeLimit(buf.Bytes(), 100)
	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr), "want *DecodeError, got %T", err)
	assert.Equal(t, "webp", format)
}

func TestPreprocessRejectsInvalidSize(t *testing.T) {
	data := encodePNG(t, uniformImage(4, 4, color.NRGBA{A: 255}))

	_, err := Preprocess(data, 0, 224)
	require.Error(t, err)

	var decodeErr *DecodeError
	assert.False(t, errors.As(err, &decodeErr), "an invalid size is not a decode failure")
}

func TestDecodeFormats(t *testing.T) {
	img := uniformImage(8, 8, color.NRGBA{R: 90, G: 60, B: 30, A: 255})

	encoders := map[string]func(*bytes.Buffer) error{
		"png":  func(b *bytes.Buffer) error { return png.Encode(b, img) },
		"jpeg": func(b *bytes.Buffer) error { return jpeg.Encode(b, img, nil) },
		"gif":  func(b *bytes.Buffer) error { return gif.Encode(b, img, nil) },
		"bmp":  func(b *bytes.Buffer) error { return bmp.Encode(b, img) },
		"tiff": func(b *bytes.Buffer) error { return tiff.Encode(b, img, nil) },
		"webp": func(b *bytes.Buffer) error { return webp.Encode(b, img, &webp.Options{Lossless: true}) },
	}

	for format, encode := range encoders {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, encode(&buf))

			decoded, got, err := Decode(buf.Bytes())
			require.NoError(t, err)
			assert.Equal(t, format, got)
			assert.Equal(t, 8, decoded.Bounds().Dx())
			assert.Equal(t, 8, decoded.Bounds().Dy())
		})
	}
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter("")
	require.NoError(t, err)
	assert.Equal(t, FilterBilinear, f)

	f, err = ParseFilter(" Lanczos3 ")
	require.NoError(t, err)
	assert.Equal(t, FilterLanczos3, f)

	_, err = ParseFilter("nearest")
	assert.Error(t, err, "nearest-neighbour is not a quality-biased filter")
}

func TestNewPreprocessorWithFilter(t *testing.T) {
	p, err := NewPreprocessor(Config{Filter: FilterLanczos3})
	require.NoError(t, err)

	data := encodePNG(t, uniformImage(50, 50, color.NRGBA{R: 255, G: 255, B: 255, A: 255}))
	tensor, err := p.Preprocess(data, 10, 10)
	require.NoError(t, err)
	assert.InDelta(t, normalized(1, 255), tensor.At(1, 5, 5), 0.02)

	_, err = NewPreprocessor(Config{Filter: "box"})
	assert.Error(t, err)
}

func BenchmarkPreprocess224(b *testing.B) {
	img := image.NewNRGBA(image.Rect(0, 0, 1280, 720))
	for i := range img.Pix {
		img.Pix[i] = uint8(i % 255)
	}
	data := encodeJPEG(b, img)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Preprocess(data, 224, 224); err != nil {
			b.Fatal(err)
		}
	}
}
