package metric_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"arbiter/internal/logging"
	"arbiter/internal/metric"
)

func imageDir(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		if err := os.WriteFile(filepath.Join(dir, filepath.Base(t.Name())+string(rune('a'+i))+".png"), []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return dir
}

func TestFIDCommandParsesOutput(t *testing.T) {
	t.Setenv(helperEnv, "fid")
	cmd := metric.FIDCommand{Argv: []string{os.Args[0]}, Device: "cpu", BatchSize: 2}
	got, err := cmd.Distance(context.Background(), imageDir(t, 2), imageDir(t, 3))
	if err != nil {
		t.Fatalf("Distance: %v", err)
	}
	if got != 12.5 {
		t.Fatalf("expected 12.5, got %v", got)
	}
}

func TestFIDCommandRequiresTwoImages(t *testing.T) {
	cmd := metric.FIDCommand{Argv: []string{os.Args[0]}}
	_, err := cmd.Distance(context.Background(), imageDir(t, 1), imageDir(t, 2))
	if !errors.Is(err, metric.ErrInsufficientImages) {
		t.Fatalf("expected ErrInsufficientImages, got %v", err)
	}
}

func TestFIDOrSentinelFallsBack(t *testing.T) {
	t.Setenv(helperEnv, "fid-fail")
	cmd := metric.FIDCommand{Argv: []string{os.Args[0]}}
	got := metric.FIDOrSentinel(context.Background(), cmd, imageDir(t, 2), imageDir(t, 2), logging.NewNop())
	if got != metric.FIDSentinel {
		t.Fatalf("expected sentinel, got %v", got)
	}
	if metric.FIDOrSentinel(context.Background(), nil, "", "", nil) != metric.FIDSentinel {
		t.Fatal("expected sentinel for nil distribution")
	}
}
