package metric_test

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"
	"time"

	"arbiter/internal/logging"
	"arbiter/internal/metric"
	"arbiter/internal/services"
)

func TestNetworkDistanceRoundTrip(t *testing.T) {
	t.Setenv(helperEnv, "lpips")
	net := metric.NewNetwork([]string{os.Args[0]}, "cpu", logging.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := net.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = net.Close() })

	a := gray(2, 2, 0, 0, 1, 1)
	b := gray(2, 2, 0, 0, 0, 1)
	same, err := net.Distance(ctx, a, a)
	if err != nil {
		t.Fatalf("Distance: %v", err)
	}
	if same != 0 {
		t.Fatalf("expected 0 for identical rasters, got %v", same)
	}
	diff, err := net.Distance(ctx, a, b)
	if err != nil {
		t.Fatalf("Distance: %v", err)
	}
	// One of four pixels differs by 1 in [0,1], i.e. 2 in [-1,1]; halved back.
	if math.Abs(diff-0.25) > 1e-6 {
		t.Fatalf("expected 0.25, got %v", diff)
	}

	if err := net.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if net.Running() {
		t.Fatal("expected helper to be stopped")
	}
	// The helper restarts lazily after Close.
	if _, err := net.Distance(ctx, a, b); err != nil {
		t.Fatalf("Distance after restart: %v", err)
	}
}

func TestNetworkRejectsShapeMismatch(t *testing.T) {
	net := metric.NewNetwork([]string{"does-not-matter"}, "cpu", nil)
	_, err := net.Distance(context.Background(), gray(2, 2), gray(1, 1))
	if !errors.Is(err, metric.ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestNetworkMissingBinary(t *testing.T) {
	net := metric.NewNetwork([]string{"/nonexistent/lpips-helper"}, "cpu", nil)
	err := net.Start(context.Background())
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}
