package leaderboard_test

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"arbiter/internal/leaderboard"
	"arbiter/internal/testsupport"
	"arbiter/internal/track"
)

func TestGetBestCreatesSentinelRow(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	row, err := store.GetBest(ctx, track.MatrixCompletion, "alpha")
	if err != nil {
		t.Fatalf("GetBest: %v", err)
	}
	want := map[string]float64{"lpips": 1, "psnr": 0, "ssim": 0, "fid": track.FIDSentinel}
	for k, v := range want {
		if row.Values[k] != v {
			t.Fatalf("column %s = %v, want %v", k, row.Values[k], v)
		}
	}
	if row.Scored() {
		t.Fatal("sentinel row should not be marked scored")
	}

	translation, err := store.GetBest(ctx, track.Translation, "alpha")
	if err != nil {
		t.Fatalf("GetBest translation: %v", err)
	}
	if translation.Values["score"] != math.MaxFloat64 {
		t.Fatalf("translation sentinel = %v", translation.Values["score"])
	}

	count, err := store.Teams(ctx, track.MatrixCompletion)
	if err != nil || count != 1 {
		t.Fatalf("Teams = %d, %v", count, err)
	}
}

func TestUpsertIfBetterLowerIsBetter(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	steps := []struct {
		lpips   float64
		written bool
		best    float64
	}{
		{0.42, true, 0.42},
		{0.31, true, 0.31},
		{0.55, false, 0.31},
		{0.31, false, 0.31},
	}
	for i, step := range steps {
		values := map[string]float64{"lpips": step.lpips, "psnr": 20, "ssim": 0.5, "fid": 12}
		written, err := store.UpsertIfBetter(ctx, track.MatrixCompletion, "alpha", values)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if written != step.written {
			t.Fatalf("step %d: written = %v, want %v", i, written, step.written)
		}
		row, err := store.GetBest(ctx, track.MatrixCompletion, "alpha")
		if err != nil {
			t.Fatal(err)
		}
		if row.Values["lpips"] != step.best {
			t.Fatalf("step %d: best lpips = %v, want %v", i, row.Values["lpips"], step.best)
		}
	}
}

func TestUpsertIfBetterHigherIsBetter(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if ok, err := store.UpsertIfBetter(ctx, track.Fire, "team-a", map[string]float64{"pixel": 92.5, "f1": 0.8, "iou": 0.7}); err != nil || !ok {
		t.Fatalf("first upsert = %v, %v", ok, err)
	}
	if ok, err := store.UpsertIfBetter(ctx, track.Fire, "team-a", map[string]float64{"pixel": 80, "f1": 0.9, "iou": 0.9}); err != nil || ok {
		t.Fatalf("worse upsert = %v, %v", ok, err)
	}
	row, err := store.GetBest(ctx, track.Fire, "team-a")
	if err != nil {
		t.Fatal(err)
	}
	if row.Values["pixel"] != 92.5 || row.Values["f1"] != 0.8 {
		t.Fatalf("unexpected row %+v", row.Values)
	}
	if !row.Scored() {
		t.Fatal("expected row to be marked scored")
	}
}

func TestUpsertMissingColumnsUseSentinel(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := store.UpsertIfBetter(ctx, track.MatrixCompletion, "a", map[string]float64{"lpips": 0.2}); err != nil {
		t.Fatal(err)
	}
	row, err := store.GetBest(ctx, track.MatrixCompletion, "a")
	if err != nil {
		t.Fatal(err)
	}
	if row.Values["fid"] != track.FIDSentinel {
		t.Fatalf("fid = %v, want sentinel", row.Values["fid"])
	}
	if _, err := store.UpsertIfBetter(ctx, track.MatrixCompletion, "a", map[string]float64{"psnr": 3}); err == nil {
		t.Fatal("expected error when primary column missing")
	}
}

func TestGetTopOrdering(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	empty, err := store.GetTop(ctx, track.Estimation, 10)
	if err != nil {
		t.Fatal(err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", empty)
	}

	for team, pixel := range map[string]float64{"c": 70, "a": 90, "b": 90, "d": 10} {
		if _, err := store.UpsertIfBetter(ctx, track.Estimation, team, map[string]float64{"pixel": pixel}); err != nil {
			t.Fatal(err)
		}
	}
	rows, err := store.GetTop(ctx, track.Estimation, 3)
	if err != nil {
		t.Fatal(err)
	}
	order := []string{"a", "b", "c"}
	if len(rows) != len(order) {
		t.Fatalf("expected %d rows, got %d", len(order), len(rows))
	}
	for i, team := range order {
		if rows[i].Team != team || rows[i].Rank != i+1 {
			t.Fatalf("row %d = %s rank %d, want %s rank %d", i, rows[i].Team, rows[i].Rank, team, i+1)
		}
	}

	all, err := store.GetTop(ctx, track.Estimation, 0)
	if err != nil || len(all) != 4 {
		t.Fatalf("GetTop(0) = %d rows, %v", len(all), err)
	}

	for team, lpips := range map[string]float64{"x": 0.5, "y": 0.1} {
		if _, err := store.UpsertIfBetter(ctx, track.MatrixCompletion, team, map[string]float64{"lpips": lpips}); err != nil {
			t.Fatal(err)
		}
	}
	mc, err := store.GetTop(ctx, track.MatrixCompletion, 5)
	if err != nil {
		t.Fatal(err)
	}
	if mc[0].Team != "y" {
		t.Fatalf("lower-is-better order wrong: %+v", mc)
	}
}

func TestUnknownTrack(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	if _, err := store.GetTop(context.Background(), track.ID("chess"), 5); !errors.Is(err, leaderboard.ErrUnknownTrack) {
		t.Fatalf("expected ErrUnknownTrack, got %v", err)
	}
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lb.db")
	store, err := leaderboard.OpenPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.UpsertIfBetter(context.Background(), track.Fire, "a", map[string]float64{"pixel": 50}); err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened, err := leaderboard.OpenPath(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	row, err := reopened.GetBest(context.Background(), track.Fire, "a")
	if err != nil || row.Values["pixel"] != 50 {
		t.Fatalf("row after reopen = %+v, %v", row, err)
	}
}

func TestConcurrentUpserts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()
			if _, err := store.UpsertIfBetter(ctx, track.Fire, "race", map[string]float64{"pixel": v}); err != nil {
				errs <- err
			}
		}(float64(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent upsert: %v", err)
	}
	row, err := store.GetBest(ctx, track.Fire, "race")
	if err != nil {
		t.Fatal(err)
	}
	if row.Values["pixel"] != 19 {
		t.Fatalf("best pixel = %v, want 19", row.Values["pixel"])
	}
}
