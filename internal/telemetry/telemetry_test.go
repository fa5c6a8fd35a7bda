package telemetry_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"arbiter/internal/telemetry"
)

func TestCountersAndHandler(t *testing.T) {
	m := telemetry.New()
	m.Scored("fire", 2*time.Second)
	m.Scored("fire", time.Second)
	m.Failed("fire", "")
	m.Upload("fire", "accepted")
	m.LeaderboardUpdated("fire")
	m.Tick("fire", "poll", time.Millisecond)
	m.BestPrimary("fire", 92.5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{
		`arbiter_workflow_submissions_scored_total{track="fire"} 2`,
		`arbiter_workflow_submissions_failed_total{kind="unknown",track="fire"} 1`,
		`arbiter_gateway_uploads_total{outcome="accepted",track="fire"} 1`,
		`arbiter_leaderboard_best_primary{track="fire"} 92.5`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "arbiter_leaderboard_updates_total" {
			found = len(mf.GetMetric()) == 1
		}
	}
	if !found {
		t.Fatal("expected one leaderboard updates series")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *telemetry.Metrics
	m.Scored("fire", time.Second)
	m.Failed("fire", "timeout")
	m.Upload("fire", "rejected")
}
