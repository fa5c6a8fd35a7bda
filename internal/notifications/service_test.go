package notifications

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/track"
)

type capturedRequest struct {
	title, tags, priority, body string
}

func newNtfyServer(t *testing.T, status int) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, capturedRequest{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func TestNewServiceReturnsNoopWhenUnconfigured(t *testing.T) {
	cfg := config.Default()
	svc := NewService(&cfg)
	if _, ok := svc.(noopService); !ok {
		t.Fatalf("expected noop service, got %T", svc)
	}
	if err := svc.NotifyScored(context.Background(), Scored{Track: track.Fire}); err != nil {
		t.Fatalf("noop returned %v", err)
	}
}

func TestNtfyScoredPayload(t *testing.T) {
	srv, reqs := newNtfyServer(t, http.StatusOK)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	svc := NewService(&cfg)

	err := svc.NotifyScored(context.Background(), Scored{
		Track:    track.Fire,
		Team:     "alpha",
		Values:   map[string]float64{"iou": 0.5, "pixel": 92.5, "f1": 0.8},
		Improved: true,
	})
	if err != nil {
		t.Fatalf("NotifyScored: %v", err)
	}
	if len(*reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(*reqs))
	}
	got := (*reqs)[0]
	if got.title != "Arbiter - Submission Scored" {
		t.Fatalf("unexpected title %q", got.title)
	}
	if !strings.Contains(got.body, "alpha scored on Fire: pixel=92.5000 f1=0.8000 iou=0.5000") {
		t.Fatalf("unexpected body %q", got.body)
	}
	if got.tags != "arbiter,fire,scored,trophy" {
		t.Fatalf("unexpected tags %q", got.tags)
	}
}

func TestNtfyErrorRespectsToggle(t *testing.T) {
	srv, reqs := newNtfyServer(t, http.StatusOK)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	cfg.Notifications.Errors = false
	svc := NewService(&cfg)
	if err := svc.NotifyError(context.Background(), errors.New("boom"), "scan"); err != nil {
		t.Fatal(err)
	}
	if len(*reqs) != 0 {
		t.Fatalf("expected no request with errors disabled, got %d", len(*reqs))
	}

	cfg.Notifications.Errors = true
	svc = NewService(&cfg)
	if err := svc.NotifyError(context.Background(), errors.New("boom"), "scan"); err != nil {
		t.Fatal(err)
	}
	if len(*reqs) != 1 || (*reqs)[0].body != "Error with scan: boom" || (*reqs)[0].priority != "high" {
		t.Fatalf("unexpected error notification %+v", *reqs)
	}
}

func TestNtfyServerErrorSurfaces(t *testing.T) {
	srv, _ := newNtfyServer(t, http.StatusInternalServerError)
	svc := newNtfyService(srv.URL, time.Second, true)
	if err := svc.TestNotification(context.Background()); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

type sentMail struct {
	addr string
	from string
	rcpt []string
	msg  string
}

func newTestMail(t *testing.T) (*mailService, *[]sentMail) {
	t.Helper()
	n := config.Notifications{
		SMTPHost: "mail.example.org",
		SMTPPort: 2525,
		MailFrom: "evals@example.org",
		MailCC:   []string{"ops@example.org"},
	}
	svc := newMailService(n, time.Second)
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	var sent []sentMail
	svc.send = func(_ context.Context, addr string, _ smtp.Auth, from string, rcpt []string, msg []byte) error {
		sent = append(sent, sentMail{addr: addr, from: from, rcpt: rcpt, msg: string(msg)})
		return nil
	}
	return svc, &sent
}

func TestMailScoreReport(t *testing.T) {
	svc, sent := newTestMail(t)
	err := svc.NotifyScored(context.Background(), Scored{
		Track:      track.Fire,
		Team:       "alpha",
		Recipients: []string{"a@example.org", "b@example.org"},
		Scores:     map[string]any{"pixel": 92.5},
	})
	if err != nil {
		t.Fatalf("NotifyScored: %v", err)
	}
	if len(*sent) != 1 {
		t.Fatalf("expected 1 mail, got %d", len(*sent))
	}
	mail := (*sent)[0]
	if mail.addr != "mail.example.org:2525" || mail.from != "evals@example.org" {
		t.Fatalf("unexpected envelope %+v", mail)
	}
	if strings.Join(mail.rcpt, ",") != "a@example.org,b@example.org,ops@example.org" {
		t.Fatalf("unexpected recipients %v", mail.rcpt)
	}
	for _, want := range []string{
		"To: a@example.org, b@example.org\r\n",
		"Cc: ops@example.org\r\n",
		"Subject: Fire Eval Update\r\n",
		"\"pixel\": 92.5",
	} {
		if !strings.Contains(mail.msg, want) {
			t.Fatalf("message missing %q:\n%s", want, mail.msg)
		}
	}
}

func TestMailSkipsEventsWithoutRecipients(t *testing.T) {
	svc, sent := newTestMail(t)
	if err := svc.NotifyScored(context.Background(), Scored{Track: track.Estimation, Team: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := svc.NotifyFailed(context.Background(), Failed{Track: track.Fire}); err != nil {
		t.Fatal(err)
	}
	if len(*sent) != 0 {
		t.Fatalf("expected no mail, got %d", len(*sent))
	}
}

func TestFanoutJoinsErrors(t *testing.T) {
	srv, reqs := newNtfyServer(t, http.StatusOK)
	mail, _ := newTestMail(t)
	mail.send = func(context.Context, string, smtp.Auth, string, []string, []byte) error {
		return errors.New("relay down")
	}
	svc := fanout{mail, newNtfyService(srv.URL, time.Second, true)}
	err := svc.TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "relay down") {
		t.Fatalf("expected joined relay error, got %v", err)
	}
	if len(*reqs) != 1 {
		t.Fatalf("ntfy should still be notified, got %d requests", len(*reqs))
	}
}
