package workflow

import (
	"context"
	"slices"
	"strings"
)

// Health summarizes the readiness of a lane or a shared dependency.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// Probe reports the health of a dependency the lanes share, such as the
// perceptual metric helper.
type Probe func(ctx context.Context) Health

func sortHealth(items []Health) {
	slices.SortFunc(items, func(a, b Health) int { return strings.Compare(a.Name, b.Name) })
}
