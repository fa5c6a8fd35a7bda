package metric_test

import (
	"errors"
	"math"
	"testing"

	"arbiter/internal/imageio"
	"arbiter/internal/metric"
)

func gray(w, h int, values ...float64) *imageio.Raster {
	r := imageio.NewRaster(w, h, 1)
	copy(r.Pix, values)
	return r
}

func TestPixelAccuracy(t *testing.T) {
	truth := gray(2, 2, 0, 1, 1, 0)
	pred := gray(2, 2, 0, 1, 0, 0)
	got, err := metric.PixelAccuracy(truth, pred)
	if err != nil {
		t.Fatalf("PixelAccuracy: %v", err)
	}
	if got != 75 {
		t.Fatalf("expected 75%%, got %v", got)
	}
}

func TestPixelAccuracyShapeMismatch(t *testing.T) {
	_, err := metric.PixelAccuracy(gray(2, 2), gray(3, 2))
	if !errors.Is(err, metric.ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestF1(t *testing.T) {
	// tp=1 fp=1 fn=1 -> 2/(2+1+1)
	truth := gray(4, 1, 1, 1, 0, 0)
	pred := gray(4, 1, 1, 0, 1, 0)
	got, err := metric.F1(truth, pred, 1)
	if err != nil {
		t.Fatalf("F1: %v", err)
	}
	if math.Abs(got-0.5) > 1e-12 {
		t.Fatalf("expected 0.5, got %v", got)
	}
}

func TestF1DegenerateLabelsScoreOne(t *testing.T) {
	truth := gray(3, 1, 0, 0, 0)
	pred := gray(3, 1, 0, 0, 0)
	got, err := metric.F1(truth, pred, 1)
	if err != nil {
		t.Fatalf("F1: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected exactly 1 for constant negative labels, got %v", got)
	}
}

func TestIoUEmptyUnionIsOne(t *testing.T) {
	got, err := metric.IoU(gray(2, 2, 0, 0, 0, 0), gray(2, 2, 0, 0, 0, 0), 1)
	if err != nil {
		t.Fatalf("IoU: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected exactly 1, got %v", got)
	}
}

func TestIoUPositiveLabelZero(t *testing.T) {
	// Positive class is 0: truth has 0 at idx 0,1; pred has 0 at idx 1,2.
	got, err := metric.IoU(gray(4, 1, 0, 0, 1, 1), gray(4, 1, 1, 0, 0, 1), 0)
	if err != nil {
		t.Fatalf("IoU: %v", err)
	}
	if math.Abs(got-1.0/3.0) > 1e-12 {
		t.Fatalf("expected 1/3, got %v", got)
	}
}
