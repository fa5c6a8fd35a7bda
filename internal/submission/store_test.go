package submission_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"arbiter/internal/submission"
	"arbiter/internal/track"
)

func TestCreateLoadSave(t *testing.T) {
	store := submission.NewStore(t.TempDir())
	now := time.Date(2024, 5, 1, 12, 30, 45, 123456000, time.UTC)

	inst, meta, err := store.Create(track.Fire, "alpha", []string{"a@example.org"}, now)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if inst.Name != "2024-05-01T12-30-45.123456" {
		t.Fatalf("unexpected instance name %q", inst.Name)
	}
	if meta.Timestamp != "2024-05-01T12:30:45.123456" || meta.Evaluated {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	if info, err := os.Stat(inst.ImagesPath()); err != nil || !info.IsDir() {
		t.Fatalf("images folder missing: %v", err)
	}

	if _, err := store.Load(inst); !errors.Is(err, submission.ErrNotReady) {
		t.Fatalf("expected ErrNotReady before save, got %v", err)
	}
	if err := store.Save(inst, meta); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := store.Load(inst)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Team != "alpha" || loaded.Emails[0] != "a@example.org" {
		t.Fatalf("unexpected loaded metadata %+v", loaded)
	}

	teams, err := store.Teams(track.Fire)
	if err != nil || len(teams) != 1 || teams[0] != "alpha" {
		t.Fatalf("Teams = %v, %v", teams, err)
	}
	instances, err := store.Instances(track.Fire, "alpha")
	if err != nil || len(instances) != 1 || instances[0] != inst {
		t.Fatalf("Instances = %v, %v", instances, err)
	}
}

func TestCreateAvoidsCollisions(t *testing.T) {
	store := submission.NewStore(t.TempDir())
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	first, _, err := store.Create(track.Estimation, "beta", nil, now)
	if err != nil {
		t.Fatal(err)
	}
	second, _, err := store.Create(track.Estimation, "beta", nil, now)
	if err != nil {
		t.Fatal(err)
	}
	if first.Name == second.Name {
		t.Fatalf("expected distinct instance names, both %q", first.Name)
	}
}

func TestCreateRejectsBadTeam(t *testing.T) {
	store := submission.NewStore(t.TempDir())
	for _, team := range []string{"", "..", "a/b"} {
		if _, _, err := store.Create(track.Fire, team, nil, time.Now()); !errors.Is(err, submission.ErrInvalidTeam) {
			t.Fatalf("team %q: expected ErrInvalidTeam, got %v", team, err)
		}
	}
}

func TestLoadMalformedIsNotReady(t *testing.T) {
	root := t.TempDir()
	store := submission.NewStore(root)
	dir := filepath.Join(root, "fire", "alpha", "x")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, submission.MetadataFile), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	inst := submission.Instance{Track: track.Fire, Team: "alpha", Name: "x", Dir: dir}
	if _, err := store.Load(inst); !errors.Is(err, submission.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestTeamsMissingTrack(t *testing.T) {
	store := submission.NewStore(t.TempDir())
	teams, err := store.Teams(track.Translation)
	if err != nil || len(teams) != 0 {
		t.Fatalf("Teams on missing track = %v, %v", teams, err)
	}
}

func TestInstanceAt(t *testing.T) {
	root := t.TempDir()
	store := submission.NewStore(root)
	dir := filepath.Join(root, "matrix-completion", "gamma", "2024-01-01T00-00-00.000000")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	inst, err := store.InstanceAt(dir)
	if err != nil {
		t.Fatalf("InstanceAt: %v", err)
	}
	if inst.Track != track.MatrixCompletion || inst.Team != "gamma" {
		t.Fatalf("unexpected instance %+v", inst)
	}

	outside := t.TempDir()
	inst, err = store.InstanceAt(outside)
	if err != nil {
		t.Fatal(err)
	}
	if inst.Track != "" || inst.Dir == "" {
		t.Fatalf("unexpected outside instance %+v", inst)
	}
}
