package gateway_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbiter/internal/config"
	"arbiter/internal/gateway"
	"arbiter/internal/submission"
	"arbiter/internal/telemetry"
	"arbiter/internal/testsupport"
	"arbiter/internal/track"
)

type recordingTrigger struct {
	mu    sync.Mutex
	calls []track.ID
}

func (r *recordingTrigger) TriggerScan(id track.ID, _ string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, id)
	return true
}

type fixture struct {
	cfg     *config.Config
	server  *gateway.Server
	trigger *recordingTrigger
	subs    *submission.Store
}

func newFixture(t *testing.T, opts ...gateway.Option) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	truth := cfg.TrackTruthDir(track.Fire)
	testsupport.WritePNG(t, filepath.Join(truth, "a.png"), testsupport.FilledGray(2, 2, 0))
	testsupport.WritePNG(t, filepath.Join(truth, "b.png"), testsupport.FilledGray(2, 2, 255))
	testsupport.WriteFile(t, filepath.Join(truth, "notes.txt"), []byte("ignored"))

	f := &fixture{
		cfg:     cfg,
		trigger: &recordingTrigger{},
		subs:    testsupport.SubmissionStore(cfg),
	}
	board := testsupport.MustOpenStore(t, cfg)
	opts = append([]gateway.Option{gateway.WithTrigger(f.trigger), gateway.WithMetrics(telemetry.New())}, opts...)
	f.server = gateway.New(cfg, f.subs, board, nil, opts...)
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func uploadRequest(t *testing.T, trackName, team, emails string, archive []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("teamName", team))
	require.NoError(t, mw.WriteField("emails", emails))
	if archive != nil {
		part, err := mw.CreateFormFile("submission", "submission.zip")
		require.NoError(t, err)
		_, err = part.Write(archive)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/"+trackName+"/api/submit", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeErrors(t *testing.T, rec *httptest.ResponseRecorder) []string {
	t.Helper()
	var body struct {
		Errors []string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Errors
}

func TestExpectedFilesWalksTruthTree(t *testing.T) {
	f := newFixture(t)
	testsupport.WritePNG(t, filepath.Join(f.cfg.TrackTruthDir(track.Fire), "2021", "c.png"), testsupport.FilledGray(2, 2, 0))

	rec := f.do(httptest.NewRequest(http.MethodGet, "/fire/api/expected-files", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var expected gateway.Expected
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &expected))
	assert.Equal(t, 3, expected.Count)
	assert.Equal(t, ".png", expected.ImageType)
	assert.Equal(t, []string{"/2021/c.png", "/a.png", "/b.png"}, expected.Files)
}

func TestExpectedFilesTranslationUsesMapping(t *testing.T) {
	truth := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(truth, "files.json"), []byte(`{"['x.tiff', 'y.tiff']": ["t1.tiff"], "z.tiff": ["t2.tiff"]}`))

	expected, err := gateway.ExpectedFiles(track.MustLookup(track.Translation), truth)
	require.NoError(t, err)
	assert.Equal(t, 3, expected.Count)
	assert.Equal(t, []string{"/translation/x.tiff", "/translation/y.tiff", "/translation/z.tiff"}, expected.Files)
}

func TestSubmitPublishesInstance(t *testing.T) {
	f := newFixture(t)
	archive := zipArchive(t, map[string]string{
		"upload/a.png":      "first",
		"upload/b.png":      "second",
		"upload/readme.txt": "skipped",
	})

	rec := f.do(uploadRequest(t, "fire", "alpha", "a@example.com\r\nb@example.com", archive))
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	assert.Equal(t, "/fire/", rec.Header().Get("Location"))

	instances, err := f.subs.Instances(track.Fire, "alpha")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	inst := instances[0]
	assert.Equal(t, inst.Name, rec.Header().Get("X-Submission-Instance"))

	data, err := os.ReadFile(filepath.Join(inst.ImagesPath(), "a.png"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
	assert.NoFileExists(t, filepath.Join(inst.ImagesPath(), "readme.txt"))

	meta, err := f.subs.Load(inst)
	require.NoError(t, err)
	assert.Equal(t, "alpha", meta.Team)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, meta.Emails)
	assert.False(t, meta.Evaluated)
	assert.Len(t, meta.ArchiveHash, 64)

	assert.Equal(t, []track.ID{track.Fire}, f.trigger.calls)

	spooled, err := os.ReadDir(filepath.Join(f.cfg.Paths.StateDir, "uploads"))
	require.NoError(t, err)
	assert.Empty(t, spooled)
}

func TestSubmitRejectsWrongFileCount(t *testing.T) {
	f := newFixture(t)
	archive := zipArchive(t, map[string]string{"a.png": "only one"})

	rec := f.do(uploadRequest(t, "fire", "alpha", "", archive))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeErrors(t, rec), "Expected 2 files, received 1")

	teams, err := f.subs.Teams(track.Fire)
	require.NoError(t, err)
	assert.Empty(t, teams)
	assert.Empty(t, f.trigger.calls)
}

func TestSubmitRejectsUnsafePaths(t *testing.T) {
	f := newFixture(t)
	archive := zipArchive(t, map[string]string{"../a.png": "x", "b.png": "y"})

	rec := f.do(uploadRequest(t, "fire", "alpha", "", archive))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	problems := strings.Join(decodeErrors(t, rec), "\n")
	assert.Contains(t, problems, "unsafe")
}

func TestSubmitRejectsBadTeamAndMissingArchive(t *testing.T) {
	f := newFixture(t)
	archive := zipArchive(t, map[string]string{"a.png": "x", "b.png": "y"})

	rec := f.do(uploadRequest(t, "fire", "../escape", "", archive))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(uploadRequest(t, "fire", "alpha", "", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(uploadRequest(t, "fire", "alpha", "", []byte("not a zip")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeErrors(t, rec), "archive is not a readable zip file")
}

func TestSubmitRefusesWhenDiskIsFull(t *testing.T) {
	f := newFixture(t, gateway.WithFreeSpace(func(string) (uint64, error) { return 0, nil }))
	f.cfg.Gateway.MinFreeMiB = 10
	archive := zipArchive(t, map[string]string{"a.png": "x", "b.png": "y"})

	rec := f.do(uploadRequest(t, "fire", "alpha", "", archive))
	assert.Equal(t, http.StatusInsufficientStorage, rec.Code)
}

func TestLeaderboardRanksTeams(t *testing.T) {
	f := newFixture(t)
	board := testsupport.MustOpenStore(t, f.cfg)
	ctx := context.Background()
	_, err := board.UpsertIfBetter(ctx, track.Fire, "alpha", map[string]float64{"pixel": 80, "f1": 0.5, "iou": 0.4})
	require.NoError(t, err)
	_, err = board.UpsertIfBetter(ctx, track.Fire, "beta", map[string]float64{"pixel": 92.5, "f1": 0.9, "iou": 0.8})
	require.NoError(t, err)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/fire/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp gateway.LeaderboardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Fire", resp.Label)
	assert.Equal(t, "higher", resp.Direction)
	require.Len(t, resp.Ranks, 2)
	assert.Equal(t, "beta", resp.Ranks[0].Team)
	assert.Equal(t, 1, resp.Ranks[0].Rank)
	assert.Equal(t, 92.5, resp.Ranks[0].Values["pixel"])
	assert.Equal(t, "alpha", resp.Ranks[1].Team)
	assert.Equal(t, 2, resp.Ranks[1].Rank)
	assert.NotNil(t, resp.Ranks[0].UpdatedAt)
}

func TestLeaderboardEmptyAndUnknownTrack(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/estimation/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp gateway.LeaderboardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Ranks)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/chess/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	archive := zipArchive(t, map[string]string{"a.png": "x"})
	f.do(uploadRequest(t, "fire", "alpha", "", archive))

	rec = f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `arbiter_gateway_uploads_total{outcome="rejected",track="fire"} 1`)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Serve(ctx) }()

	require.Eventually(t, func() bool { return f.server.Addr() != nil }, testTimeout, pollEvery)
	resp, err := http.Get("http://" + f.server.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	require.NoError(t, <-done)
}

const (
	testTimeout = 5 * time.Second
	pollEvery   = 10 * time.Millisecond
)
