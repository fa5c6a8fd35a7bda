package staging

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"arbiter/internal/logging"
)

func age(t *testing.T, path string, d time.Duration) {
	t.Helper()
	old := time.Now().Add(-d)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("set old time: %v", err)
	}
}

func TestCleanStaleInvalidPaths(t *testing.T) {
	for _, dir := range []string{"", "   ", "/nonexistent/path/12345"} {
		result := CleanStale(context.Background(), dir, time.Hour, logging.NewNop())
		if len(result.Removed) != 0 || len(result.Errors) != 0 {
			t.Errorf("expected empty result for path %q", dir)
		}
	}
}

func TestCleanStaleRemovesOldUploads(t *testing.T) {
	dir := t.TempDir()

	oldFile := filepath.Join(dir, "upload-1.zip")
	if err := os.WriteFile(oldFile, []byte("zip"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	age(t, oldFile, 2*time.Hour)

	oldDir := filepath.Join(dir, "leftover")
	if err := os.Mkdir(oldDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	age(t, oldDir, 2*time.Hour)

	recent := filepath.Join(dir, "upload-2.zip")
	if err := os.WriteFile(recent, []byte("zip"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	result := CleanStale(context.Background(), dir, time.Hour, logging.NewNop())
	if len(result.Removed) != 2 || len(result.Errors) != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	for _, p := range []string{oldFile, oldDir} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("%s should have been removed", p)
		}
	}
	if _, err := os.Stat(recent); err != nil {
		t.Fatal("recent upload should still exist")
	}
}

func TestListReportsSizes(t *testing.T) {
	dir := t.TempDir()
	if entries, err := List(filepath.Join(dir, "missing")); err != nil || len(entries) != 0 {
		t.Fatalf("missing spool: %v %v", entries, err)
	}

	if err := os.WriteFile(filepath.Join(dir, "upload-1.zip"), []byte("12345"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	nested := filepath.Join(dir, "partial")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(nested, "a.png"), []byte("abc"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	entries, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	sizes := map[string]int64{}
	for _, e := range entries {
		sizes[e.Name] = e.Size
	}
	if sizes["upload-1.zip"] != 5 || sizes["partial"] != 3 {
		t.Fatalf("unexpected sizes %v", sizes)
	}
}
