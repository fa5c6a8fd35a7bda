// Package deps checks that the external metric helpers arbiter shells out to
// can be found and, for python module commands, imported.
package deps

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Requirement defines an external command arbiter relies on.
type Requirement struct {
	Name        string
	Argv        []string
	Description string
	Optional    bool
}

// Status reports the availability of a requirement.
type Status struct {
	Name        string
	Command     string
	Path        string
	Module      string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

const moduleProbeTimeout = 20 * time.Second

// CheckBinaries resolves the executable of every requirement on PATH.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		status := Status{
			Name:        req.Name,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if len(req.Argv) == 0 || strings.TrimSpace(req.Argv[0]) == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		status.Command = strings.Join(req.Argv, " ")
		status.Module = pythonModule(req.Argv)
		path, err := exec.LookPath(req.Argv[0])
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", req.Argv[0])
			results = append(results, status)
			continue
		}
		status.Path = path
		status.Available = true
		results = append(results, status)
	}
	return results
}

// CheckModules narrows available statuses whose command is "<python> -m
// <module>" down to those whose interpreter can locate the module.
func CheckModules(ctx context.Context, statuses []Status) []Status {
	out := make([]Status, len(statuses))
	copy(out, statuses)
	for i := range out {
		s := &out[i]
		if !s.Available || s.Module == "" {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, moduleProbeTimeout)
		script := "import importlib.util, sys; sys.exit(importlib.util.find_spec(sys.argv[1]) is None)"
		err := exec.CommandContext(probeCtx, s.Path, "-c", script, s.Module).Run()
		cancel()
		if err != nil {
			s.Available = false
			s.Detail = fmt.Sprintf("python module %q not importable", s.Module)
		}
	}
	return out
}

func pythonModule(argv []string) string {
	if len(argv) < 3 || argv[1] != "-m" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(argv[0]), "python") {
		return ""
	}
	return argv[2]
}
