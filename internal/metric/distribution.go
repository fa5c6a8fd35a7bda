package metric

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"arbiter/internal/logging"
	"arbiter/internal/services"
	"arbiter/internal/track"
)

// FIDSentinel is recorded when FID cannot be computed.
const FIDSentinel = track.FIDSentinel

// ErrInsufficientImages reports a folder with fewer than two images.
var ErrInsufficientImages = errors.New("fid needs at least two images per folder")

// Distribution computes a distributional distance between two image folders.
type Distribution interface {
	Distance(ctx context.Context, truthDir, predDir string) (float64, error)
}

var fidPattern = regexp.MustCompile(`FID:\s*([-+0-9.eE]+|nan|inf)`)

// FIDCommand runs the pytorch-fid command line tool.
type FIDCommand struct {
	Argv      []string
	Device    string
	BatchSize int
	Timeout   time.Duration
}

// Distance runs the tool over predDir and truthDir and parses its "FID:" line.
func (f FIDCommand) Distance(ctx context.Context, truthDir, predDir string) (float64, error) {
	if len(f.Argv) == 0 {
		return 0, services.Wrap(services.ErrConfiguration, "fid", "run", "metrics.fid_command is empty", nil)
	}
	for _, dir := range []string{truthDir, predDir} {
		n, err := countImages(dir)
		if err != nil {
			return 0, services.Wrap(services.ErrNotFound, "fid", "count images", dir, err)
		}
		if n < 2 {
			return 0, fmt.Errorf("%w: %s has %d", ErrInsufficientImages, dir, n)
		}
	}
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	args := append([]string(nil), f.Argv[1:]...)
	if f.Device != "" {
		args = append(args, "--device", f.Device)
	}
	if f.BatchSize > 0 {
		args = append(args, "--batch-size", strconv.Itoa(f.BatchSize))
	}
	args = append(args, predDir, truthDir)

	cmd := exec.CommandContext(ctx, f.Argv[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return 0, services.Wrap(services.ErrTimeout, "fid", "run", "", ctx.Err())
		}
		return 0, services.Wrap(services.ErrExternalTool, "fid", "run", truncate(strings.TrimSpace(stderr.String()), 500), err)
	}
	return parseFID(stdout.String())
}

func parseFID(output string) (float64, error) {
	match := fidPattern.FindStringSubmatch(output)
	if match == nil {
		return 0, services.Wrap(services.ErrExternalTool, "fid", "parse", fmt.Sprintf("no FID line in %q", truncate(output, 200)), nil)
	}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, services.Wrap(services.ErrExternalTool, "fid", "parse", match[1], err)
	}
	return value, nil
}

func countImages(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".webp", ".npy":
			n++
		}
	}
	return n, nil
}

// FIDOrSentinel never fails: any error, or a NaN/Inf result, is logged and
// replaced by FIDSentinel so one folder cannot abort a scan.
func FIDOrSentinel(ctx context.Context, d Distribution, truthDir, predDir string, logger *slog.Logger) float64 {
	if d == nil {
		return FIDSentinel
	}
	value, err := d.Distance(ctx, truthDir, predDir)
	if err == nil && !isNonFinite(value) {
		return value
	}
	if ctx.Err() != nil {
		return FIDSentinel
	}
	if err == nil {
		err = fmt.Errorf("non-finite fid %v", value)
	}
	logging.WarnWithContext(logging.WithContext(ctx, logger), "fid unavailable; using sentinel", "fid_sentinel",
		logging.Error(err),
		logging.String("pred_dir", predDir),
		logging.Float64("fid", FIDSentinel),
		logging.String(logging.FieldImpact, "folder fid recorded as worst case"),
		logging.String(logging.FieldErrorHint, "ensure each folder holds at least two images and pytorch-fid is installed"),
	)
	return FIDSentinel
}

func isNonFinite(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
