package daemon

import (
	"context"
	"log/slog"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/deps"
	"arbiter/internal/imageio"
	"arbiter/internal/metric"
	"arbiter/internal/scoring"
	"arbiter/internal/track"
	"arbiter/internal/workflow"
)

// Metrics bundles the external metric helpers built from configuration.
type Metrics struct {
	Network      *metric.Network
	Perceptual   metric.Perceptual
	Distribution metric.Distribution
}

// NewMetrics prepares the LPIPS helper and FID command. The helper process
// is not started here.
func NewMetrics(cfg *config.Config, logger *slog.Logger) Metrics {
	network := metric.NewNetwork(cfg.LPIPSArgv(), cfg.Metrics.Device, logger)
	return Metrics{
		Network:    network,
		Perceptual: withTimeout(network, cfg.MetricTimeout()),
		Distribution: metric.FIDCommand{
			Argv:      cfg.FIDArgv(),
			Device:    cfg.Metrics.Device,
			BatchSize: cfg.Metrics.FIDBatchSize,
			Timeout:   cfg.MetricTimeout(),
		},
	}
}

// Scorers builds one scorer per enabled track.
func (m Metrics) Scorers(cfg *config.Config, logger *slog.Logger) (map[track.ID]scoring.Scorer, error) {
	return scoring.ForConfig(cfg, m.Perceptual, m.Distribution, logger)
}

// Probe reports whether the LPIPS helper is up.
func (m Metrics) Probe() workflow.Probe {
	return func(context.Context) workflow.Health {
		if m.Network == nil {
			return workflow.Unhealthy("lpips", "not configured")
		}
		if !m.Network.Running() {
			return workflow.Unhealthy("lpips", "helper not running; it starts on the next scoring call")
		}
		return workflow.Healthy("lpips")
	}
}

// FIDProbe reports whether the FID command can be found. The command runs
// per scoring call, so resolving it is all there is to check.
func (m Metrics) FIDProbe(cfg *config.Config) workflow.Probe {
	argv := cfg.FIDArgv()
	return func(context.Context) workflow.Health {
		status := deps.CheckBinaries([]deps.Requirement{{Name: "fid", Argv: argv}})[0]
		if !status.Available {
			return workflow.Unhealthy("fid", status.Detail)
		}
		return workflow.Healthy("fid")
	}
}

type timeoutPerceptual struct {
	inner   metric.Perceptual
	timeout time.Duration
}

func withTimeout(p metric.Perceptual, timeout time.Duration) metric.Perceptual {
	if timeout <= 0 {
		return p
	}
	return timeoutPerceptual{inner: p, timeout: timeout}
}

func (t timeoutPerceptual) Distance(ctx context.Context, a, b *imageio.Raster) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Distance(ctx, a, b)
}
