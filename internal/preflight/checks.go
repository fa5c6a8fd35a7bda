package preflight

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"arbiter/internal/config"
	"arbiter/internal/deps"
	"arbiter/internal/fileutil"
	"arbiter/internal/scoring"
	"arbiter/internal/track"
)

const mailDialTimeout = 5 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	return checkDirectory(name, path, unix.R_OK|unix.W_OK|unix.X_OK, "read/write ok")
}

func checkDirectory(name, path string, mode uint32, okDetail string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, mode); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", path, okDetail)}
}

// CheckTruth verifies a track's ground truth directory is readable and holds
// something to score against. The translation track also needs a parseable
// mapping file.
func CheckTruth(id track.ID, dir string) Result {
	name := truthLabel(id)
	result := checkDirectory(name, dir, unix.R_OK|unix.X_OK, "readable")
	if !result.Passed {
		return result
	}
	def, ok := track.Lookup(id)
	if !ok {
		return Result{Name: name, Detail: fmt.Sprintf("unknown track %q", id)}
	}
	if id == track.Translation {
		groups, err := scoring.LoadMapping(dir)
		if err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: mapping: %v)", dir, err)}
		}
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d mapping groups)", dir, len(groups))}
	}
	count, err := countFiles(dir, def.Extension)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: walk: %v)", dir, err)}
	}
	if count == 0 {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: no %s files)", dir, def.Extension)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d %s files)", dir, count, def.Extension)}
}

func countFiles(dir, ext string) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != dir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && strings.EqualFold(filepath.Ext(d.Name()), ext) {
			count++
		}
		return nil
	})
	return count, err
}

// CheckFreeSpace verifies at least minMiB are available on the filesystem
// holding path.
func CheckFreeSpace(name, path string, minMiB int) Result {
	free, err := fileutil.FreeBytes(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	freeMiB := free / (1 << 20)
	if freeMiB < uint64(minMiB) {
		return Result{Name: name, Detail: fmt.Sprintf("%d MiB free, uploads need %d MiB", freeMiB, minMiB)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d MiB free", freeMiB)}
}

// CheckMailRelay verifies the SMTP relay accepts TCP connections.
func CheckMailRelay(ctx context.Context, host string, port int) Result {
	const name = "Mail relay"

	host = strings.TrimSpace(host)
	if host == "" {
		return Result{Name: name, Detail: "missing smtp_host"}
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	dialCtx, cancel := context.WithTimeout(ctx, mailDialTimeout)
	defer cancel()
	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return Result{Name: name, Detail: summarizeDialError(addr, err)}
	}
	_ = conn.Close()
	return Result{Name: name, Passed: true, Detail: addr + " reachable"}
}

// CheckSystemDeps evaluates the metric helper commands for the given config.
// A helper is optional when no enabled track needs it.
func CheckSystemDeps(ctx context.Context, cfg *config.Config) []deps.Status {
	needLPIPS, needFID := false, false
	for _, id := range cfg.EnabledTracks() {
		switch id {
		case track.MatrixCompletion:
			needLPIPS, needFID = true, true
		case track.Translation:
			if cfg.Translation.Metric == "lpips" {
				needLPIPS = true
			}
		}
	}
	requirements := []deps.Requirement{
		{
			Name:        "LPIPS helper",
			Argv:        cfg.LPIPSArgv(),
			Description: "Perceptual distance for matrix completion and lpips translation",
			Optional:    !needLPIPS,
		},
		{
			Name:        "FID command",
			Argv:        cfg.FIDArgv(),
			Description: "Distribution distance for matrix completion",
			Optional:    !needFID,
		},
	}
	return deps.CheckModules(ctx, deps.CheckBinaries(requirements))
}

func summarizeDialError(addr string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return addr + " timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return addr + " timed out"
	}
	return fmt.Sprintf("%s unreachable (%v)", addr, err)
}
