package track_test

import (
	"errors"
	"math"
	"testing"

	"arbiter/internal/track"
)

func TestParseAcceptsLegacySpelling(t *testing.T) {
	id, err := track.Parse(" Matrix_Completion ")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if id != track.MatrixCompletion {
		t.Fatalf("unexpected id %q", id)
	}
	if _, err := track.Parse("video"); !errors.Is(err, track.ErrUnknown) {
		t.Fatalf("expected ErrUnknown, got %v", err)
	}
}

func TestDirectionBetterIsStrict(t *testing.T) {
	if track.LowerIsBetter.Better(0.3, 0.3) {
		t.Fatal("equal values must not count as improvement")
	}
	if !track.LowerIsBetter.Better(0.31, 0.42) {
		t.Fatal("expected lower value to improve")
	}
	if track.HigherIsBetter.Better(80, 92.5) {
		t.Fatal("expected lower value not to improve a higher-is-better track")
	}
	if track.HigherIsBetter.Better(math.NaN(), 0) {
		t.Fatal("NaN must never improve a score")
	}
}

func TestDefinitionsExposeSentinels(t *testing.T) {
	def := track.MustLookup(track.MatrixCompletion)
	sentinels := def.Sentinels()
	if sentinels["lpips"] != 1 || sentinels["psnr"] != 0 || sentinels["fid"] != track.FIDSentinel {
		t.Fatalf("unexpected sentinels %#v", sentinels)
	}
	if def.Label() != "Matrix Completion" {
		t.Fatalf("unexpected label %q", def.Label())
	}
	if got := track.MustLookup(track.Translation).Sentinels()["score"]; got != math.MaxFloat64 {
		t.Fatalf("unexpected translation sentinel %v", got)
	}
	if len(track.IDs()) != 4 {
		t.Fatalf("expected four tracks, got %d", len(track.IDs()))
	}
}
