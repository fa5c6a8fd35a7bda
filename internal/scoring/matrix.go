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

// flatBucket names the single bucket used when a truth root holds files
// directly instead of per-mode or per-date folders.
const flatBucket = "all"

type matrixScorer struct {
	truthDir     string
	perceptual   metric.Perceptual
	distribution metric.Distribution
	logger       *slog.Logger
}

type matrixValues struct {
	lpips, ssim, psnr, fid float64
}

func (v matrixValues) object() map[string]any {
	return map[string]any{"lpips": v.lpips, "ssim": v.ssim, "psnr": v.psnr, "fid": v.fid}
}

func (s *matrixScorer) Track() track.ID { return track.MatrixCompletion }

func (s *matrixScorer) Score(ctx context.Context, imagesDir string) (Result, error) {
	modes, files, err := listEntries(s.truthDir)
	if err != nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "scoring", "list truth", s.truthDir, err)
	}

	type bucket struct{ name, truth, pred string }
	var buckets []bucket
	for _, mode := range modes {
		buckets = append(buckets, bucket{mode, filepath.Join(s.truthDir, mode), filepath.Join(imagesDir, mode)})
	}
	if len(buckets) == 0 && len(files) > 0 {
		buckets = append(buckets, bucket{flatBucket, s.truthDir, imagesDir})
	}

	detail := make(map[string]any, len(buckets))
	var totals []matrixValues
	for _, b := range buckets {
		folder, values, err := s.scoreFolder(ctx, b.name, b.truth, b.pred)
		if err != nil {
			return Result{}, err
		}
		detail[b.name] = folder
		totals = append(totals, values)
	}

	overall := matrixValues{lpips: 1, fid: metric.FIDSentinel}
	if len(totals) > 0 {
		var lp, ss, ps, fd []float64
		for _, t := range totals {
			lp = append(lp, t.lpips)
			ss = append(ss, t.ssim)
			ps = append(ps, t.psnr)
			fd = append(fd, t.fid)
		}
		overall = matrixValues{lpips: mean(lp), ssim: mean(ss), psnr: mean(ps), fid: mean(fd)}
	}
	return Result{
		Values: map[string]float64{"lpips": overall.lpips, "ssim": overall.ssim, "psnr": overall.psnr, "fid": overall.fid},
		Detail: detail,
	}, nil
}

func (s *matrixScorer) scoreFolder(ctx context.Context, name, truthDir, predDir string) (map[string]any, matrixValues, error) {
	_, files, err := listEntries(truthDir)
	if err != nil {
		return nil, matrixValues{}, fmt.Errorf("list truth folder %s: %w", name, err)
	}
	out := make(map[string]any, len(files)+4)
	var lp, ss, ps []float64
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, matrixValues{}, err
		}
		label := name + "/" + file
		predPath := filepath.Join(predDir, file)
		if err := requireFile(predPath, label); err != nil {
			return nil, matrixValues{}, err
		}
		truth, err := imageio.LoadGray(filepath.Join(truthDir, file))
		if err != nil {
			return nil, matrixValues{}, fmt.Errorf("load truth %s: %w", label, err)
		}
		pred, err := imageio.LoadGray(predPath)
		if err != nil {
			return nil, matrixValues{}, services.Wrap(services.ErrValidation, "scoring", "decode submission", label, err)
		}
		truth, pred = imageio.Normalize(truth), imageio.Normalize(pred)

		lpips, err := s.perceptual.Distance(ctx, pred, truth)
		if err != nil {
			return nil, matrixValues{}, classify(err, "lpips", label)
		}
		ssim, err := metric.SSIM(truth, pred, 1.0)
		if err != nil {
			return nil, matrixValues{}, classify(err, "ssim", label)
		}
		psnr, err := metric.PSNR(truth, pred, 1.0)
		if err != nil {
			return nil, matrixValues{}, classify(err, "psnr", label)
		}
		out[file] = matrixValues{lpips: lpips, ssim: ssim, psnr: psnr}.object()
		lp = append(lp, lpips)
		ss = append(ss, ssim)
		ps = append(ps, psnr)
	}

	values := matrixValues{lpips: 1}
	if len(lp) > 0 {
		values = matrixValues{lpips: mean(lp), ssim: mean(ss), psnr: mean(ps)}
	}
	values.fid = metric.FIDOrSentinel(ctx, s.distribution, truthDir, predDir, s.logger)
	// A canceled FID run falls back to the sentinel; that value must not be saved.
	if err := ctx.Err(); err != nil {
		return nil, matrixValues{}, err
	}
	for k, v := range values.object() {
		out[k] = v
	}
	s.logger.Debug("matrix folder scored",
		logging.String("folder", name),
		logging.Int("files", len(lp)),
		logging.Float64("lpips", values.lpips),
		logging.Float64("fid", values.fid),
	)
	return out, values, nil
}
