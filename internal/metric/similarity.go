package metric

import (
	"math"

	"arbiter/internal/imageio"
)

// MaxPSNR is reported for identical images instead of +Inf so the value can
// be stored and averaged.
const MaxPSNR = 100.0

const (
	ssimWindow = 7
	ssimK1     = 0.01
	ssimK2     = 0.03
)

// MSE is the mean squared error over every sample.
func MSE(a, b *imageio.Raster) (float64, error) {
	if err := checkShape(a, b); err != nil {
		return 0, err
	}
	if len(a.Pix) == 0 {
		return 0, nil
	}
	var sum float64
	for i, v := range a.Pix {
		d := v - b.Pix[i]
		sum += d * d
	}
	return sum / float64(len(a.Pix)), nil
}

// PSNR returns the peak signal to noise ratio in dB for the given data range.
func PSNR(truth, pred *imageio.Raster, dataRange float64) (float64, error) {
	mse, err := MSE(truth, pred)
	if err != nil {
		return 0, err
	}
	if mse == 0 {
		return MaxPSNR, nil
	}
	return math.Min(MaxPSNR, 10*math.Log10(dataRange*dataRange/mse)), nil
}

// SSIM computes the mean structural similarity using a 7x7 uniform window
// with sample covariance, averaged over channels. Images smaller than the
// window are compared with a single window covering the whole image.
func SSIM(truth, pred *imageio.Raster, dataRange float64) (float64, error) {
	if err := checkShape(truth, pred); err != nil {
		return 0, err
	}
	if truth.Width == 0 || truth.Height == 0 {
		return 1, nil
	}
	var total float64
	for c := 0; c < truth.Channels; c++ {
		total += ssimChannel(truth, pred, c, dataRange)
	}
	return total / float64(truth.Channels), nil
}

func ssimChannel(x, y *imageio.Raster, c int, dataRange float64) float64 {
	win := ssimWindow
	if x.Width < win || x.Height < win {
		win = min(x.Width, x.Height)
	}
	c1 := math.Pow(ssimK1*dataRange, 2)
	c2 := math.Pow(ssimK2*dataRange, 2)
	np := float64(win * win)
	covNorm := 1.0
	if np > 1 {
		covNorm = np / (np - 1)
	}

	var sum float64
	count := 0
	for top := 0; top+win <= x.Height; top++ {
		for left := 0; left+win <= x.Width; left++ {
			var sx, sy, sxx, syy, sxy float64
			for j := top; j < top+win; j++ {
				for i := left; i < left+win; i++ {
					a := x.At(i, j, c)
					b := y.At(i, j, c)
					sx += a
					sy += b
					sxx += a * a
					syy += b * b
					sxy += a * b
				}
			}
			ux, uy := sx/np, sy/np
			vx := covNorm * (sxx/np - ux*ux)
			vy := covNorm * (syy/np - uy*uy)
			vxy := covNorm * (sxy/np - ux*uy)
			num := (2*ux*uy + c1) * (2*vxy + c2)
			den := (ux*ux + uy*uy + c1) * (vx + vy + c2)
			sum += num / den
			count++
		}
	}
	if count == 0 {
		return 1
	}
	return sum / float64(count)
}
