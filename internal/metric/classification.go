package metric

import (
	"errors"
	"fmt"

	"arbiter/internal/imageio"
)

// ErrShapeMismatch reports that two rasters cannot be compared pixel by pixel.
var ErrShapeMismatch = errors.New("shape mismatch")

func checkShape(truth, pred *imageio.Raster) error {
	if truth == nil || pred == nil {
		return fmt.Errorf("%w: missing raster", ErrShapeMismatch)
	}
	if !truth.SameShape(pred) {
		return fmt.Errorf("%w: truth %dx%dx%d, prediction %dx%dx%d", ErrShapeMismatch,
			truth.Width, truth.Height, truth.Channels, pred.Width, pred.Height, pred.Channels)
	}
	return nil
}

// PixelAccuracy returns the percentage of samples with identical values.
func PixelAccuracy(truth, pred *imageio.Raster) (float64, error) {
	if err := checkShape(truth, pred); err != nil {
		return 0, err
	}
	if len(truth.Pix) == 0 {
		return 100, nil
	}
	equal := 0
	for i, v := range truth.Pix {
		if pred.Pix[i] == v {
			equal++
		}
	}
	return 100 * float64(equal) / float64(len(truth.Pix)), nil
}

type confusion struct {
	tp, fp, fn int
}

func countConfusion(truth, pred *imageio.Raster, positive float64) confusion {
	var c confusion
	for i, t := range truth.Pix {
		tPos := t == positive
		pPos := pred.Pix[i] == positive
		switch {
		case tPos && pPos:
			c.tp++
		case pPos:
			c.fp++
		case tPos:
			c.fn++
		}
	}
	return c
}

// F1 treats samples equal to positive as the positive class. When neither
// truth nor prediction contains a positive sample the score is 1.
func F1(truth, pred *imageio.Raster, positive float64) (float64, error) {
	if err := checkShape(truth, pred); err != nil {
		return 0, err
	}
	c := countConfusion(truth, pred, positive)
	denom := 2*c.tp + c.fp + c.fn
	if denom == 0 {
		return 1, nil
	}
	return float64(2*c.tp) / float64(denom), nil
}

// IoU is the intersection over union of the positive masks. An empty union
// yields 1.
func IoU(truth, pred *imageio.Raster, positive float64) (float64, error) {
	if err := checkShape(truth, pred); err != nil {
		return 0, err
	}
	c := countConfusion(truth, pred, positive)
	union := c.tp + c.fp + c.fn
	if union == 0 {
		return 1, nil
	}
	return float64(c.tp) / float64(union), nil
}
