package scoring

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"arbiter/internal/config"
	"arbiter/internal/logging"
	"arbiter/internal/metric"
	"arbiter/internal/services"
	"arbiter/internal/track"
)

// Result is the outcome of scoring one submission.
type Result struct {
	Values map[string]float64
	Detail map[string]any
}

// Scores merges Detail and Values into the object stored as metadata scores.
func (r Result) Scores() map[string]any {
	out := make(map[string]any, len(r.Detail)+len(r.Values))
	for k, v := range r.Detail {
		out[k] = v
	}
	for k, v := range r.Values {
		out[k] = v
	}
	return out
}

// Scorer scores one track.
type Scorer interface {
	Track() track.ID
	Score(ctx context.Context, imagesDir string) (Result, error)
}

// Options carries what a scorer needs besides the track id.
type Options struct {
	TruthDir          string
	Perceptual        metric.Perceptual
	Distribution      metric.Distribution
	TranslationMetric string
	Logger            *slog.Logger
}

// New builds the scorer for a track.
func New(id track.ID, opts Options) (Scorer, error) {
	if strings.TrimSpace(opts.TruthDir) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "scoring", "new scorer", fmt.Sprintf("%s has no truth directory", id), nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(logging.String(logging.FieldTrack, string(id)))

	switch id {
	case track.MatrixCompletion:
		if opts.Perceptual == nil {
			return nil, services.Wrap(services.ErrConfiguration, "scoring", "new scorer", "matrix-completion needs a perceptual network", nil)
		}
		return &matrixScorer{truthDir: opts.TruthDir, perceptual: opts.Perceptual, distribution: opts.Distribution, logger: logger}, nil
	case track.Estimation:
		return &classificationScorer{id: id, truthDir: opts.TruthDir, positive: 0, logger: logger}, nil
	case track.Fire:
		return &classificationScorer{id: id, truthDir: opts.TruthDir, positive: 1, binarize: true, allowFlat: true, logger: logger}, nil
	case track.Translation:
		distance, err := translationDistance(opts.TranslationMetric, opts.Perceptual)
		if err != nil {
			return nil, err
		}
		return &translationScorer{truthDir: opts.TruthDir, distance: distance, metricName: metricOrDefault(opts.TranslationMetric), logger: logger}, nil
	default:
		return nil, fmt.Errorf("%w: %q", track.ErrUnknown, id)
	}
}

// ForConfig builds a scorer for every enabled track.
func ForConfig(cfg *config.Config, perceptual metric.Perceptual, distribution metric.Distribution, logger *slog.Logger) (map[track.ID]Scorer, error) {
	out := make(map[track.ID]Scorer)
	for _, id := range cfg.EnabledTracks() {
		scorer, err := New(id, Options{
			TruthDir:          cfg.TrackTruthDir(id),
			Perceptual:        perceptual,
			Distribution:      distribution,
			TranslationMetric: cfg.Translation.Metric,
			Logger:            logger,
		})
		if err != nil {
			return nil, err
		}
		out[id] = scorer
	}
	return out, nil
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// listEntries returns the visible entries of dir split into folders and files,
// each sorted by name.
func listEntries(dir string) (dirs, files []string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if entry.IsDir() {
			dirs = append(dirs, name)
		} else {
			files = append(files, name)
		}
	}
	sort.Strings(dirs)
	sort.Strings(files)
	return dirs, files, nil
}

func hasExt(name, ext string) bool {
	return strings.EqualFold(filepath.Ext(name), ext)
}

// requireFile fails with a validation error when a submission file the truth
// tree expects is absent.
func requireFile(path, label string) error {
	info, err := os.Stat(path)
	if err == nil && !info.IsDir() {
		return nil
	}
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return services.Wrap(services.ErrValidation, "scoring", "locate submission file", "missing "+label, fs.ErrNotExist)
	}
	return fmt.Errorf("stat %s: %w", label, err)
}

// classify marks shape mismatches and decoding failures of submitted files as
// validation errors so the submission is not retried forever.
func classify(err error, operation, label string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, metric.ErrShapeMismatch) {
		return services.Wrap(services.ErrValidation, "scoring", operation, label, err)
	}
	return fmt.Errorf("%s %s: %w", operation, label, err)
}
