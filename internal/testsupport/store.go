package testsupport

import (
	"testing"

	"arbiter/internal/config"
	"arbiter/internal/leaderboard"
	"arbiter/internal/submission"
)

// MustOpenStore opens the leaderboard database of cfg and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *leaderboard.Store {
	t.Helper()

	store, err := leaderboard.Open(cfg)
	if err != nil {
		t.Fatalf("leaderboard.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// SubmissionStore returns a submission store rooted at cfg's submissions dir.
func SubmissionStore(cfg *config.Config) *submission.Store {
	return submission.NewStore(cfg.Paths.SubmissionsDir)
}
