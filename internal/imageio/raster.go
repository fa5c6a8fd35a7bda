// Package imageio decodes submission and ground truth images into float
// rasters that the metric adapters operate on.
package imageio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/tiff"
)

// ErrBandMissing reports that a band file needed to compose an RGB truth image
// does not exist.
var ErrBandMissing = errors.New("band file missing")

// Raster is a dense row-major image with interleaved channels.
type Raster struct {
	Width    int
	Height   int
	Channels int
	Pix      []float64
}

// NewRaster allocates a zeroed raster.
func NewRaster(width, height, channels int) *Raster {
	return &Raster{Width: width, Height: height, Channels: channels, Pix: make([]float64, width*height*channels)}
}

// At returns the sample for channel c at (x, y).
func (r *Raster) At(x, y, c int) float64 {
	return r.Pix[(y*r.Width+x)*r.Channels+c]
}

// Set stores the sample for channel c at (x, y).
func (r *Raster) Set(x, y, c int, v float64) {
	r.Pix[(y*r.Width+x)*r.Channels+c] = v
}

// SameShape reports whether two rasters have identical dimensions.
func (r *Raster) SameShape(o *Raster) bool {
	return r != nil && o != nil && r.Width == o.Width && r.Height == o.Height && r.Channels == o.Channels
}

// Channel copies one channel into a single-band raster.
func (r *Raster) Channel(c int) *Raster {
	out := NewRaster(r.Width, r.Height, 1)
	for i := 0; i < r.Width*r.Height; i++ {
		out.Pix[i] = r.Pix[i*r.Channels+c]
	}
	return out
}

// Replicate turns a single-band raster into an n-channel raster by copying
// the band. Multi-band inputs are returned unchanged.
func (r *Raster) Replicate(n int) *Raster {
	if r.Channels != 1 || n <= 1 {
		return r
	}
	out := NewRaster(r.Width, r.Height, n)
	for i, v := range r.Pix {
		for c := 0; c < n; c++ {
			out.Pix[i*n+c] = v
		}
	}
	return out
}

func decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// LoadGray decodes the first band of an image as raw sample values. 8-bit
// images yield 0..255 and 16-bit images 0..65535, so label values survive
// unchanged.
func LoadGray(path string) (*Raster, error) {
	img, err := decode(path)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	wide := isWide(img.ColorModel())
	out := NewRaster(b.Dx(), b.Dy(), 1)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x-b.Min.X, y-b.Min.Y, 0, firstBand(img.At(x, y), wide))
		}
	}
	return out, nil
}

func isWide(model color.Model) bool {
	return model == color.Gray16Model || model == color.RGBA64Model || model == color.NRGBA64Model
}

func firstBand(c color.Color, wide bool) float64 {
	switch v := c.(type) {
	case color.Gray:
		return float64(v.Y)
	case color.Gray16:
		return float64(v.Y)
	}
	r, _, _, _ := c.RGBA()
	if wide {
		return float64(r)
	}
	return float64(r >> 8)
}

// LoadRGB decodes an image into three channels scaled to 0..255.
func LoadRGB(path string) (*Raster, error) {
	img, err := decode(path)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	out := NewRaster(b.Dx(), b.Dy(), 3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			px, py := x-b.Min.X, y-b.Min.Y
			out.Set(px, py, 0, float64(r)/257)
			out.Set(px, py, 1, float64(g)/257)
			out.Set(px, py, 2, float64(bl)/257)
		}
	}
	return out, nil
}

// Normalize rescales every channel independently to [0, 1]. A constant
// channel becomes all zeros.
func Normalize(r *Raster) *Raster {
	out := NewRaster(r.Width, r.Height, r.Channels)
	n := r.Width * r.Height
	for c := 0; c < r.Channels; c++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for i := 0; i < n; i++ {
			v := r.Pix[i*r.Channels+c]
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		span := hi - lo
		if span == 0 {
			span = 1
		}
		for i := 0; i < n; i++ {
			out.Pix[i*r.Channels+c] = (r.Pix[i*r.Channels+c] - lo) / span
		}
	}
	return out
}

// Binarize normalizes and truncates to {0, 1}: only the maximum value of a
// non-constant image maps to 1.
func Binarize(r *Raster) *Raster {
	out := Normalize(r)
	for i, v := range out.Pix {
		out.Pix[i] = math.Floor(v)
	}
	return out
}

// BandPath returns the file name of a spectral band for a truth file named
// "<prefix>_<rest>": the band file is "<prefix>_<band>_<rest>" in the same
// directory.
func BandPath(truthPath, band string) (string, bool) {
	dir, name := filepath.Split(truthPath)
	prefix, rest, ok := strings.Cut(name, "_")
	if !ok || prefix == "" || rest == "" {
		return "", false
	}
	return filepath.Join(dir, prefix+"_"+band+"_"+rest), true
}

// ComposeBands builds an RGB raster from the B4 (red), B3 (green), and B2
// (blue) band files that sit next to truthPath.
func ComposeBands(truthPath string) (*Raster, error) {
	var out *Raster
	for c, band := range []string{"B4", "B3", "B2"} {
		path, ok := BandPath(truthPath, band)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no band component", ErrBandMissing, filepath.Base(truthPath))
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrBandMissing, filepath.Base(path))
		}
		layer, err := LoadGray(path)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = NewRaster(layer.Width, layer.Height, 3)
		} else if layer.Width != out.Width || layer.Height != out.Height {
			return nil, fmt.Errorf("band %s size %dx%d differs from %dx%d", band, layer.Width, layer.Height, out.Width, out.Height)
		}
		for i, v := range layer.Pix {
			out.Pix[i*3+c] = v
		}
	}
	return out, nil
}

// LoadTruthRGB reads an RGB truth image, composing it from band files when
// the file itself is absent.
func LoadTruthRGB(path string) (*Raster, error) {
	if _, err := os.Stat(path); err == nil {
		return LoadRGB(path)
	}
	return ComposeBands(path)
}
