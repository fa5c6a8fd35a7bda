package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"arbiter/internal/track"
)

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	errors   bool
}

func newNtfyService(endpoint string, timeout time.Duration, errors bool) *ntfyService {
	return &ntfyService{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		errors:   errors,
	}
}

func (n *ntfyService) NotifyScored(ctx context.Context, event Scored) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s scored on %s", strings.TrimSpace(event.Team), trackLabel(event.Track))
	if line := formatValues(event.Track, event.Values); line != "" {
		b.WriteString(": ")
		b.WriteString(line)
	}
	if event.Improved {
		b.WriteString("\nNew team best")
	}
	tags := []string{"arbiter", string(event.Track), "scored"}
	if event.Improved {
		tags = append(tags, "trophy")
	}
	return n.send(ctx, payload{
		title:   "Arbiter - Submission Scored",
		message: b.String(),
		tags:    tags,
	})
}

func (n *ntfyService) NotifyFailed(ctx context.Context, event Failed) error {
	message := fmt.Sprintf("%s on %s gave up after %d attempt(s)", event.Team, trackLabel(event.Track), event.Attempts)
	if event.Instance != "" {
		message += "\nInstance: " + event.Instance
	}
	if event.Err != nil {
		message += "\nError: " + strings.TrimSpace(event.Err.Error())
	}
	tags := []string{"arbiter", string(event.Track), "failed"}
	if event.Kind != "" {
		tags = append(tags, event.Kind)
	}
	return n.send(ctx, payload{
		title:    "Arbiter - Submission Failed",
		message:  message,
		tags:     tags,
		priority: "high",
	})
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}
	return n.send(ctx, payload{
		title:    "Arbiter - Error",
		message:  builder.String(),
		tags:     []string{"arbiter", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "Arbiter - Test",
		message:  "Notification system test",
		tags:     []string{"arbiter", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// formatValues renders leaderboard columns in track order, unknown keys last.
func formatValues(id track.ID, values map[string]float64) string {
	if len(values) == 0 {
		return ""
	}
	var order []string
	seen := make(map[string]bool, len(values))
	if def, ok := track.Lookup(id); ok {
		for _, name := range def.ColumnNames() {
			if _, present := values[name]; present {
				order = append(order, name)
				seen[name] = true
			}
		}
	}
	var rest []string
	for k := range values {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	order = append(order, rest...)

	parts := make([]string, 0, len(order))
	for _, k := range order {
		parts = append(parts, fmt.Sprintf("%s=%.4f", k, values[k]))
	}
	return strings.Join(parts, " ")
}
