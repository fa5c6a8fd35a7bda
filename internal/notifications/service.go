package notifications

import (
	"context"
	"errors"
	"strings"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/track"
)

const userAgent = "arbiter/0.1"

// Scored describes a freshly scored submission.
type Scored struct {
	Track    track.ID
	Team     string
	Instance string
	// Recipients receive the score report by mail. Empty means no mail.
	Recipients []string
	Values     map[string]float64
	Scores     map[string]any
	Improved   bool
}

// Failed describes a submission the worker gave up on.
type Failed struct {
	Track    track.ID
	Team     string
	Instance string
	Attempts int
	Kind     string
	Err      error
}

// Service defines the notification surface exposed to workflow components.
type Service interface {
	NotifyScored(ctx context.Context, event Scored) error
	NotifyFailed(ctx context.Context, event Failed) error
	NotifyError(ctx context.Context, err error, contextLabel string) error
	TestNotification(ctx context.Context) error
}

// NewService builds the configured notifiers. With neither SMTP nor ntfy
// configured a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	n := cfg.Notifications
	timeout := time.Duration(n.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var services []Service
	if cfg.MailEnabled() {
		services = append(services, newMailService(n, timeout))
	}
	if topic := strings.TrimSpace(n.NtfyTopic); topic != "" {
		services = append(services, newNtfyService(topic, timeout, n.Errors))
	}
	switch len(services) {
	case 0:
		return noopService{}
	case 1:
		return services[0]
	default:
		return fanout(services)
	}
}

// fanout delivers to every notifier and joins their errors.
type fanout []Service

func (f fanout) each(fn func(Service) error) error {
	var errs []error
	for _, svc := range f {
		if err := fn(svc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) NotifyScored(ctx context.Context, event Scored) error {
	return f.each(func(s Service) error { return s.NotifyScored(ctx, event) })
}

func (f fanout) NotifyFailed(ctx context.Context, event Failed) error {
	return f.each(func(s Service) error { return s.NotifyFailed(ctx, event) })
}

func (f fanout) NotifyError(ctx context.Context, err error, contextLabel string) error {
	return f.each(func(s Service) error { return s.NotifyError(ctx, err, contextLabel) })
}

func (f fanout) TestNotification(ctx context.Context) error {
	return f.each(func(s Service) error { return s.TestNotification(ctx) })
}

type noopService struct{}

func (noopService) NotifyScored(context.Context, Scored) error       { return nil }
func (noopService) NotifyFailed(context.Context, Failed) error       { return nil }
func (noopService) NotifyError(context.Context, error, string) error { return nil }
func (noopService) TestNotification(context.Context) error           { return nil }

// NewNoop returns a Service that drops every event.
func NewNoop() Service { return noopService{} }

func trackLabel(id track.ID) string {
	if def, ok := track.Lookup(id); ok {
		return def.Label()
	}
	return string(id)
}
