package imageio_test

import (
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"arbiter/internal/imageio"
	"arbiter/internal/testsupport"
)

func TestLoadGrayKeepsLabelValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chip.png")
	testsupport.WritePNG(t, path, testsupport.GrayImage(2, 2, 0, 1, 2, 255))

	r, err := imageio.LoadGray(path)
	if err != nil {
		t.Fatalf("LoadGray: %v", err)
	}
	if r.Width != 2 || r.Height != 2 || r.Channels != 1 {
		t.Fatalf("unexpected shape %dx%dx%d", r.Width, r.Height, r.Channels)
	}
	want := []float64{0, 1, 2, 255}
	for i, v := range want {
		if r.Pix[i] != v {
			t.Fatalf("pixel %d: got %v want %v", i, r.Pix[i], v)
		}
	}
}

func TestLoadGray16TIFF(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 2, 1))
	img.SetGray16(0, 0, color.Gray16{Y: 1000})
	img.SetGray16(1, 0, color.Gray16{Y: 60000})
	path := filepath.Join(t.TempDir(), "band.tiff")
	testsupport.WriteTIFF(t, path, img)

	r, err := imageio.LoadGray(path)
	if err != nil {
		t.Fatalf("LoadGray: %v", err)
	}
	if r.Pix[0] != 1000 || r.Pix[1] != 60000 {
		t.Fatalf("unexpected samples %v", r.Pix)
	}
}

func TestNormalizeAndBinarize(t *testing.T) {
	r := imageio.NewRaster(3, 1, 1)
	copy(r.Pix, []float64{10, 20, 30})
	n := imageio.Normalize(r)
	if n.Pix[0] != 0 || n.Pix[1] != 0.5 || n.Pix[2] != 1 {
		t.Fatalf("unexpected normalized %v", n.Pix)
	}
	b := imageio.Binarize(r)
	if b.Pix[0] != 0 || b.Pix[1] != 0 || b.Pix[2] != 1 {
		t.Fatalf("unexpected binarized %v", b.Pix)
	}

	constant := imageio.NewRaster(2, 1, 1)
	copy(constant.Pix, []float64{7, 7})
	if got := imageio.Normalize(constant).Pix; got[0] != 0 || got[1] != 0 {
		t.Fatalf("constant channel should normalize to zero, got %v", got)
	}
}

func TestComposeBandsBuildsRGB(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteTIFF(t, filepath.Join(dir, "tile_B4_2020.tiff"), testsupport.FilledGray(2, 2, 200))
	testsupport.WriteTIFF(t, filepath.Join(dir, "tile_B3_2020.tiff"), testsupport.FilledGray(2, 2, 100))
	testsupport.WriteTIFF(t, filepath.Join(dir, "tile_B2_2020.tiff"), testsupport.FilledGray(2, 2, 50))

	r, err := imageio.LoadTruthRGB(filepath.Join(dir, "tile_2020.tiff"))
	if err != nil {
		t.Fatalf("LoadTruthRGB: %v", err)
	}
	if r.Channels != 3 {
		t.Fatalf("expected rgb, got %d channels", r.Channels)
	}
	if r.At(1, 1, 0) != 200 || r.At(1, 1, 1) != 100 || r.At(1, 1, 2) != 50 {
		t.Fatalf("unexpected composed pixel %v %v %v", r.At(1, 1, 0), r.At(1, 1, 1), r.At(1, 1, 2))
	}

	_, err = imageio.LoadTruthRGB(filepath.Join(dir, "other_2020.tiff"))
	if !errors.Is(err, imageio.ErrBandMissing) {
		t.Fatalf("expected ErrBandMissing, got %v", err)
	}
}

func TestReplicate(t *testing.T) {
	r := imageio.NewRaster(1, 1, 1)
	r.Pix[0] = 0.25
	rgb := r.Replicate(3)
	if rgb.Channels != 3 || rgb.Pix[2] != 0.25 {
		t.Fatalf("unexpected replicate result %+v", rgb)
	}
	if back := rgb.Channel(1); back.Pix[0] != 0.25 {
		t.Fatalf("unexpected channel extract %v", back.Pix)
	}
}
