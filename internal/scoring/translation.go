package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"arbiter/internal/imageio"
	"arbiter/internal/logging"
	"arbiter/internal/metric"
	"arbiter/internal/services"
	"arbiter/internal/track"
)

const (
	// MappingFile maps candidate submission files to the truth items they
	// may reproduce.
	MappingFile = "files.json"
	// TranslationDir is the folder under images/ holding translation files,
	// and the folder under the truth root holding band files.
	TranslationDir = "translation"

	metricMSE   = "mse"
	metricLPIPS = "lpips"
)

type distanceFunc func(ctx context.Context, truth, pred *imageio.Raster) (float64, error)

func metricOrDefault(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return metricMSE
	}
	return name
}

func translationDistance(name string, perceptual metric.Perceptual) (distanceFunc, error) {
	switch metricOrDefault(name) {
	case metricMSE:
		return func(_ context.Context, truth, pred *imageio.Raster) (float64, error) {
			return metric.MSE(truth, pred)
		}, nil
	case metricLPIPS:
		if perceptual == nil {
			return nil, services.Wrap(services.ErrConfiguration, "scoring", "new scorer", "translation lpips needs a perceptual network", nil)
		}
		return func(ctx context.Context, truth, pred *imageio.Raster) (float64, error) {
			return perceptual.Distance(ctx, pred, truth)
		}, nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "scoring", "new scorer", fmt.Sprintf("unknown translation metric %q", name), nil)
	}
}

// Group is one entry of files.json: a set of interchangeable submission files
// and the truth items any of them may match.
type Group struct {
	Key        string
	Candidates []string
	Truth      []string
}

// LoadMapping reads files.json from a translation truth root. Keys are either
// a single file name or a list literal of file names (double or single
// quoted); groups come back sorted by key.
func LoadMapping(truthDir string) ([]Group, error) {
	data, err := os.ReadFile(filepath.Join(truthDir, MappingFile))
	if err != nil {
		return nil, err
	}
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", MappingFile, err)
	}
	groups := make([]Group, 0, len(raw))
	for key, truth := range raw {
		candidates, err := ParseCandidates(key)
		if err != nil {
			return nil, err
		}
		groups = append(groups, Group{Key: key, Candidates: candidates, Truth: truth})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Key < groups[j].Key })
	return groups, nil
}

// ParseCandidates decodes a files.json key into file names.
func ParseCandidates(key string) ([]string, error) {
	trimmed := strings.TrimSpace(key)
	if !strings.HasPrefix(trimmed, "[") {
		if trimmed == "" {
			return nil, fmt.Errorf("empty %s key", MappingFile)
		}
		return []string{trimmed}, nil
	}
	var names []string
	if err := json.Unmarshal([]byte(strings.ReplaceAll(trimmed, "'", `"`)), &names); err != nil {
		return nil, fmt.Errorf("parse %s key %q: %w", MappingFile, key, err)
	}
	return names, nil
}

type translationScorer struct {
	truthDir   string
	distance   distanceFunc
	metricName string
	logger     *slog.Logger
}

func (s *translationScorer) Track() track.ID { return track.Translation }

func (s *translationScorer) bandDir() string {
	nested := filepath.Join(s.truthDir, TranslationDir)
	if info, err := os.Stat(nested); err == nil && info.IsDir() {
		return nested
	}
	return s.truthDir
}

func (s *translationScorer) Score(ctx context.Context, imagesDir string) (Result, error) {
	groups, err := LoadMapping(s.truthDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{}, services.Wrap(services.ErrConfiguration, "scoring", "load mapping", "truth root has no "+MappingFile, err)
		}
		return Result{}, services.Wrap(services.ErrConfiguration, "scoring", "load mapping", "", err)
	}

	bandDir := s.bandDir()
	submitted := filepath.Join(imagesDir, TranslationDir)
	detail := make(map[string]any, len(groups)+2)
	var sums []float64
	items := 0
	for _, g := range groups {
		out, sum, err := s.scoreGroup(ctx, g, bandDir, submitted)
		if err != nil {
			return Result{}, err
		}
		detail[g.Key] = out
		sums = append(sums, sum)
		items += len(g.Truth)
	}

	score := track.TranslationEmptyScore
	if items > 0 {
		score = mean(sums)
	}
	detail["metric"] = s.metricName
	return Result{
		Values: map[string]float64{"score": score},
		Detail: detail,
	}, nil
}

func (s *translationScorer) scoreGroup(ctx context.Context, g Group, bandDir, submitted string) (map[string]any, float64, error) {
	if len(g.Truth) > 0 && len(g.Candidates) == 0 {
		return nil, 0, services.Wrap(services.ErrConfiguration, "scoring", "score group", fmt.Sprintf("%s key %q lists no files", MappingFile, g.Key), nil)
	}
	preds := make([]*imageio.Raster, len(g.Candidates))
	for i, name := range g.Candidates {
		path := filepath.Join(submitted, name)
		if err := requireFile(path, TranslationDir+"/"+name); err != nil {
			return nil, 0, err
		}
		r, err := imageio.LoadRGB(path)
		if err != nil {
			return nil, 0, services.Wrap(services.ErrValidation, "scoring", "decode submission", name, err)
		}
		preds[i] = imageio.Normalize(r)
	}

	out := make(map[string]any, len(g.Truth)+1)
	var sum float64
	for _, truthName := range g.Truth {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		truth, err := imageio.LoadTruthRGB(filepath.Join(bandDir, truthName))
		if err != nil {
			return nil, 0, services.Wrap(services.ErrConfiguration, "scoring", "load truth", truthName, err)
		}
		truth = imageio.Normalize(truth)

		best := math.Inf(1)
		distances := make(map[string]any, len(preds)+1)
		for i, pred := range preds {
			d, err := s.distance(ctx, truth, pred)
			if err != nil {
				return nil, 0, classify(err, "distance", truthName+" vs "+g.Candidates[i])
			}
			distances[g.Candidates[i]] = d
			best = math.Min(best, d)
		}
		distances["min"] = best
		out[truthName] = distances
		sum += best
		s.logger.Debug("translation item scored",
			logging.String("truth_file", truthName),
			logging.Float64("min", best),
		)
	}
	out["sum"] = sum
	return out, sum, nil
}
