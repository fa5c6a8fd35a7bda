package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"arbiter/internal/imageio"
	"arbiter/internal/logging"
	"arbiter/internal/metric"
	"arbiter/internal/services"
	"arbiter/internal/track"
)

const chipExt = ".png"

// classificationScorer handles the segmentation tracks: per-date folders of
// PNG chips scored by pixel accuracy, F1 and IoU for one positive label.
type classificationScorer struct {
	id        track.ID
	truthDir  string
	positive  float64
	binarize  bool
	allowFlat bool
	logger    *slog.Logger
}

type chipValues struct {
	pixel, f1, iou float64
}

func (v chipValues) object() map[string]any {
	return map[string]any{"pixel": v.pixel, "f1": v.f1, "iou": v.iou}
}

func (s *classificationScorer) Track() track.ID { return s.id }

func (s *classificationScorer) Score(ctx context.Context, imagesDir string) (Result, error) {
	dates, files, err := listEntries(s.truthDir)
	if err != nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "scoring", "list truth", s.truthDir, err)
	}

	type bucket struct{ name, truth, pred string }
	var buckets []bucket
	if s.allowFlat && len(dates) == 0 && len(files) > 0 && allChips(files) {
		buckets = append(buckets, bucket{flatBucket, s.truthDir, imagesDir})
	} else {
		for _, date := range dates {
			buckets = append(buckets, bucket{date, filepath.Join(s.truthDir, date), filepath.Join(imagesDir, date)})
		}
	}

	detail := make(map[string]any, len(buckets))
	var px, f1s, ious []float64
	for _, b := range buckets {
		folder, values, n, err := s.scoreDate(ctx, b.name, b.truth, b.pred)
		if err != nil {
			return Result{}, err
		}
		if n == 0 {
			s.logger.Debug("truth folder holds no chips; skipped", logging.String("folder", b.name))
			continue
		}
		detail[b.name] = folder
		px = append(px, values.pixel)
		f1s = append(f1s, values.f1)
		ious = append(ious, values.iou)
	}

	return Result{
		Values: map[string]float64{"pixel": mean(px), "f1": mean(f1s), "iou": mean(ious)},
		Detail: detail,
	}, nil
}

func allChips(files []string) bool {
	for _, f := range files {
		if !hasExt(f, chipExt) {
			return false
		}
	}
	return true
}

func (s *classificationScorer) load(path string) (*imageio.Raster, error) {
	r, err := imageio.LoadGray(path)
	if err != nil {
		return nil, err
	}
	if s.binarize {
		r = imageio.Binarize(r)
	}
	return r, nil
}

func (s *classificationScorer) scoreDate(ctx context.Context, name, truthDir, predDir string) (map[string]any, chipValues, int, error) {
	_, files, err := listEntries(truthDir)
	if err != nil {
		return nil, chipValues{}, 0, fmt.Errorf("list truth folder %s: %w", name, err)
	}
	out := make(map[string]any, len(files)+3)
	var px, f1s, ious []float64
	for _, chip := range files {
		if !hasExt(chip, chipExt) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, chipValues{}, 0, err
		}
		label := name + "/" + chip
		predPath := filepath.Join(predDir, chip)
		if err := requireFile(predPath, label); err != nil {
			return nil, chipValues{}, 0, err
		}
		truth, err := s.load(filepath.Join(truthDir, chip))
		if err != nil {
			return nil, chipValues{}, 0, fmt.Errorf("load truth %s: %w", label, err)
		}
		pred, err := s.load(predPath)
		if err != nil {
			return nil, chipValues{}, 0, services.Wrap(services.ErrValidation, "scoring", "decode submission", label, err)
		}

		var v chipValues
		if v.pixel, err = metric.PixelAccuracy(truth, pred); err != nil {
			return nil, chipValues{}, 0, classify(err, "pixel accuracy", label)
		}
		if v.f1, err = metric.F1(truth, pred, s.positive); err != nil {
			return nil, chipValues{}, 0, classify(err, "f1", label)
		}
		if v.iou, err = metric.IoU(truth, pred, s.positive); err != nil {
			return nil, chipValues{}, 0, classify(err, "iou", label)
		}
		out[chip] = v.object()
		px = append(px, v.pixel)
		f1s = append(f1s, v.f1)
		ious = append(ious, v.iou)
	}
	values := chipValues{pixel: mean(px), f1: mean(f1s), iou: mean(ious)}
	for k, v := range values.object() {
		out[k] = v
	}
	return out, values, len(px), nil
}
