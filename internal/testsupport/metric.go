package testsupport

import (
	"context"
	"math"
	"sync"

	"arbiter/internal/imageio"
	"arbiter/internal/metric"
)

// FakePerceptual stands in for the LPIPS helper. It reports the mean absolute
// sample difference, which is 0 for identical rasters and grows with error.
type FakePerceptual struct {
	mu    sync.Mutex
	Calls int
	Err   error
}

func (f *FakePerceptual) Distance(_ context.Context, a, b *imageio.Raster) (float64, error) {
	f.mu.Lock()
	f.Calls++
	err := f.Err
	f.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if !a.SameShape(b) {
		return 0, metric.ErrShapeMismatch
	}
	if len(a.Pix) == 0 {
		return 0, nil
	}
	var sum float64
	for i, v := range a.Pix {
		sum += math.Abs(v - b.Pix[i])
	}
	return sum / float64(len(a.Pix)), nil
}

// FakeDistribution returns a fixed FID or error.
type FakeDistribution struct {
	Value float64
	Err   error
}

func (f FakeDistribution) Distance(context.Context, string, string) (float64, error) {
	return f.Value, f.Err
}
