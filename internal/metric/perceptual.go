package metric

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"strings"
	"sync"
	"time"

	"arbiter/internal/imageio"
	"arbiter/internal/logging"
	"arbiter/internal/services"
)

// Perceptual computes a learned perceptual distance (LPIPS) between two
// rasters with values in [0, 1]. Lower means more similar.
type Perceptual interface {
	Distance(ctx context.Context, a, b *imageio.Raster) (float64, error)
}

const (
	maxHelperLine   = 64 << 20
	helperStopGrace = 5 * time.Second
)

// Network drives a long-lived LPIPS helper process. The helper loads the
// pretrained network once, prints a ready line, then answers one JSON request
// per line on stdin with one JSON response per line on stdout.
//
// Request:  {"id":1,"shape":[3,H,W],"a":"<base64 float32 LE>","b":"..."}
// Response: {"id":1,"distance":0.12} or {"id":1,"error":"..."}
//
// Samples are sent channel-first and scaled to [-1, 1]. Calls are serialized.
// A helper that dies or times out is restarted on the next call.
type Network struct {
	argv   []string
	device string
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	scanner *bufio.Scanner
	stderr  *tailBuffer
	nextID  int64
}

// NewNetwork prepares a helper for argv. The process is not started until
// Start or the first Distance call.
func NewNetwork(argv []string, device string, logger *slog.Logger) *Network {
	return &Network{
		argv:   append([]string(nil), argv...),
		device: device,
		logger: logging.NewComponentLogger(logger, "lpips"),
	}
}

type helperReady struct {
	Ready  bool   `json:"ready"`
	Net    string `json:"net"`
	Device string `json:"device"`
}

type helperRequest struct {
	ID    int64  `json:"id"`
	Shape [3]int `json:"shape"`
	A     string `json:"a"`
	B     string `json:"b"`
}

type helperResponse struct {
	ID       int64    `json:"id"`
	Distance *float64 `json:"distance"`
	Error    string   `json:"error"`
}

// Start launches the helper and waits for its ready line.
func (n *Network) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.startLocked(ctx)
}

func (n *Network) startLocked(ctx context.Context) error {
	if n.cmd != nil {
		return nil
	}
	if len(n.argv) == 0 {
		return services.Wrap(services.ErrConfiguration, "lpips", "start", "metrics.lpips_command is empty", nil)
	}
	args := append(append([]string(nil), n.argv[1:]...), "--device", n.device)
	cmd := exec.Command(n.argv[0], args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "lpips", "stdin pipe", "", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "lpips", "stdout pipe", "", err)
	}
	tail := &tailBuffer{limit: 4096}
	cmd.Stderr = tail
	if err := cmd.Start(); err != nil {
		return services.Wrap(services.ErrExternalTool, "lpips", "start", strings.Join(n.argv, " "), err)
	}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxHelperLine)

	n.cmd, n.stdin, n.scanner, n.stderr = cmd, stdin, scanner, tail

	line, err := n.readLineLocked(ctx)
	if err != nil {
		n.killLocked()
		return services.Wrap(services.ErrExternalTool, "lpips", "await ready", tail.String(), err)
	}
	var ready helperReady
	if err := json.Unmarshal(line, &ready); err != nil || !ready.Ready {
		n.killLocked()
		return services.Wrap(services.ErrExternalTool, "lpips", "await ready", fmt.Sprintf("unexpected greeting %q", truncate(string(line), 200)), err)
	}
	n.logger.Info("lpips helper ready",
		logging.String(logging.FieldEventType, "lpips_ready"),
		logging.String("net", ready.Net),
		logging.String("device", ready.Device),
		logging.Int("pid", cmd.Process.Pid),
	)
	return nil
}

// Distance returns the LPIPS distance between a and b.
func (n *Network) Distance(ctx context.Context, a, b *imageio.Raster) (float64, error) {
	if err := checkShape(a, b); err != nil {
		return 0, err
	}
	a, b = a.Replicate(3), b.Replicate(3)
	if a.Channels != 3 {
		return 0, fmt.Errorf("%w: lpips needs 1 or 3 channels, got %d", ErrShapeMismatch, a.Channels)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.startLocked(ctx); err != nil {
		return 0, err
	}

	n.nextID++
	req := helperRequest{
		ID:    n.nextID,
		Shape: [3]int{3, a.Height, a.Width},
		A:     encodePlanar(a),
		B:     encodePlanar(b),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("encode lpips request: %w", err)
	}
	payload = append(payload, '\n')
	if _, err := n.stdin.Write(payload); err != nil {
		n.killLocked()
		return 0, services.Wrap(services.ErrExternalTool, "lpips", "write request", "", err)
	}
	line, err := n.readLineLocked(ctx)
	if err != nil {
		stderr := n.stderr.String()
		n.killLocked()
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, services.Wrap(services.ErrTimeout, "lpips", "read response", "", err)
		}
		return 0, services.Wrap(services.ErrExternalTool, "lpips", "read response", stderr, err)
	}
	var resp helperResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		n.killLocked()
		return 0, services.Wrap(services.ErrExternalTool, "lpips", "decode response", truncate(string(line), 200), err)
	}
	if resp.ID != req.ID {
		n.killLocked()
		return 0, services.Wrap(services.ErrExternalTool, "lpips", "decode response", fmt.Sprintf("response id %d, want %d", resp.ID, req.ID), nil)
	}
	if resp.Error != "" {
		return 0, services.Wrap(services.ErrExternalTool, "lpips", "distance", resp.Error, nil)
	}
	if resp.Distance == nil || math.IsNaN(*resp.Distance) {
		return 0, services.Wrap(services.ErrExternalTool, "lpips", "distance", "helper returned no distance", nil)
	}
	return *resp.Distance, nil
}

// Close stops the helper, killing it if it does not exit after stdin closes.
func (n *Network) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cmd == nil {
		return nil
	}
	cmd := n.cmd
	_ = n.stdin.Close()
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		n.reset()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			return fmt.Errorf("wait for lpips helper: %w", err)
		}
		return nil
	case <-time.After(helperStopGrace):
		_ = cmd.Process.Kill()
		<-done
		n.reset()
		return nil
	}
}

// Running reports whether the helper process is alive.
func (n *Network) Running() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cmd != nil
}

func (n *Network) readLineLocked(ctx context.Context) ([]byte, error) {
	type result struct {
		line []byte
		err  error
	}
	scanner := n.scanner
	ch := make(chan result, 1)
	go func() {
		if scanner.Scan() {
			ch <- result{line: append([]byte(nil), scanner.Bytes()...)}
			return
		}
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}
		ch <- result{err: err}
	}()
	select {
	case r := <-ch:
		return r.line, r.err
	case <-ctx.Done():
		n.killLocked()
		<-ch
		return nil, ctx.Err()
	}
}

func (n *Network) killLocked() {
	if n.cmd == nil {
		return
	}
	if n.cmd.Process != nil {
		_ = n.cmd.Process.Kill()
	}
	_ = n.stdin.Close()
	_ = n.cmd.Wait()
	logging.WarnWithContext(n.logger, "lpips helper stopped", "lpips_helper_stopped",
		logging.String(logging.FieldImpact, "helper restarts on the next distance request"),
		logging.String(logging.FieldErrorHint, "check metrics.lpips_command and helper stderr"),
		logging.String("stderr", truncate(n.stderr.String(), 500)),
	)
	n.reset()
}

func (n *Network) reset() {
	n.cmd, n.stdin, n.scanner = nil, nil, nil
}

func encodePlanar(r *imageio.Raster) string {
	plane := r.Width * r.Height
	buf := make([]byte, 4*len(r.Pix))
	for c := 0; c < r.Channels; c++ {
		for i := 0; i < plane; i++ {
			v := float32(2*r.Pix[i*r.Channels+c] - 1)
			binary.LittleEndian.PutUint32(buf[4*(c*plane+i):], math.Float32bits(v))
		}
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	data  []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = append(t.data, p...)
	if over := len(t.data) - t.limit; over > 0 {
		t.data = append([]byte(nil), t.data[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.data))
}
