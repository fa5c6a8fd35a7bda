package gateway

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/fileutil"
	"arbiter/internal/logging"
	"arbiter/internal/services"
	"arbiter/internal/submission"
	"arbiter/internal/textutil"
	"arbiter/internal/track"
)

const (
	mib = 1 << 20
	// expansionFactor bounds the extracted size relative to the upload limit.
	expansionFactor = 8
)

// ValidationError lists every problem found in an upload. It unwraps to
// services.ErrValidation.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid submission: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error { return services.ErrValidation }

func invalid(problems ...string) error {
	return &ValidationError{Problems: problems}
}

// Intake validates submission archives and publishes them into the
// submission store.
type Intake struct {
	cfg    *config.Config
	store  *submission.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewIntake builds an Intake writing into store.
func NewIntake(cfg *config.Config, store *submission.Store, logger *slog.Logger) *Intake {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Intake{cfg: cfg, store: store, logger: logger, now: time.Now}
}

// MaxUpload is the largest accepted archive in bytes.
func (in *Intake) MaxUpload() int64 {
	return int64(in.cfg.Gateway.MaxUploadMiB) * mib
}

// Spool copies an uploaded archive into the state directory and returns its
// path. The caller removes the file.
func (in *Intake) Spool(r io.Reader) (string, error) {
	dir := in.cfg.SpoolDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create spool directory: %w", err)
	}
	f, err := os.CreateTemp(dir, "upload-*.zip")
	if err != nil {
		return "", fmt.Errorf("create spool file: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	if _, err := fileutil.CopyLimited(name, r, in.MaxUpload(), 0o600); err != nil {
		if errors.Is(err, fileutil.ErrTooLarge) {
			return "", invalid(fmt.Sprintf("archive exceeds %d MiB", in.cfg.Gateway.MaxUploadMiB))
		}
		return "", fmt.Errorf("spool upload: %w", err)
	}
	return name, nil
}

type entry struct {
	file *zip.File
	rel  string
}

// Accept validates the archive at archivePath against the track's expected
// files and publishes it as a new instance of team. Metadata is written last
// so the worker never sees a half extracted submission.
func (in *Intake) Accept(ctx context.Context, id track.ID, team string, emails []string, archivePath string) (submission.Instance, error) {
	def, ok := track.Lookup(id)
	if !ok {
		return submission.Instance{}, fmt.Errorf("%w: %q", track.ErrUnknown, id)
	}
	if err := submission.ValidateTeam(team); err != nil {
		return submission.Instance{}, invalid(fmt.Sprintf("team name %q is not allowed", team))
	}
	expected, err := ExpectedFiles(def, in.cfg.TrackTruthDir(id))
	if err != nil {
		return submission.Instance{}, err
	}

	zr, err := zip.OpenReader(archivePath)
	if errors.Is(err, zip.ErrInsecurePath) {
		_ = zr.Close()
		return submission.Instance{}, invalid("archive contains unsafe paths")
	}
	if err != nil {
		return submission.Instance{}, invalid("archive is not a readable zip file")
	}
	defer zr.Close()

	entries, problems := selectEntries(zr.File, def.Extension)
	if len(entries) != expected.Count {
		problems = append(problems, fmt.Sprintf("Expected %d files, received %d", expected.Count, len(entries)))
	}
	var total uint64
	for _, e := range entries {
		total += e.file.UncompressedSize64
	}
	budget := in.MaxUpload() * expansionFactor
	if total > uint64(budget) {
		problems = append(problems, fmt.Sprintf("archive expands to more than %d MiB", budget/mib))
	}
	if len(problems) > 0 {
		return submission.Instance{}, invalid(problems...)
	}
	stripWrapper(entries, expected.Files)

	hash, err := fileutil.HashFile(archivePath)
	if err != nil {
		return submission.Instance{}, fmt.Errorf("hash archive: %w", err)
	}

	inst, meta, err := in.store.Create(id, team, emails, in.now())
	if err != nil {
		return submission.Instance{}, err
	}
	if err := extract(ctx, entries, inst.ImagesPath(), budget); err != nil {
		_ = in.store.Discard(inst)
		return submission.Instance{}, err
	}
	meta.ArchiveHash = hash
	if err := in.store.Save(inst, meta); err != nil {
		_ = in.store.Discard(inst)
		return submission.Instance{}, err
	}
	in.logger.Info("submission accepted",
		logging.String(logging.FieldEventType, "submission_accepted"),
		logging.String(logging.FieldTrack, string(id)),
		logging.String(logging.FieldTeam, team),
		logging.String(logging.FieldInstance, inst.Name),
		logging.Int("files", len(entries)),
		logging.String("archive_sha256", hash),
	)
	return inst, nil
}

// selectEntries keeps regular files with the track extension and reports
// entries whose path could escape the images folder.
func selectEntries(files []*zip.File, ext string) ([]entry, []string) {
	var entries []entry
	var problems []string
	for _, f := range files {
		if f.FileInfo().IsDir() || !f.Mode().IsRegular() {
			continue
		}
		name := strings.ReplaceAll(f.Name, `\`, "/")
		if !strings.EqualFold(path.Ext(name), ext) {
			continue
		}
		if !safeArchivePath(name) {
			problems = append(problems, fmt.Sprintf("unsafe path %q", f.Name))
			continue
		}
		entries = append(entries, entry{file: f, rel: path.Clean(name)})
	}
	return entries, problems
}

func safeArchivePath(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") {
		return false
	}
	for _, seg := range strings.Split(path.Clean(name), "/") {
		if !textutil.SafeSegment(seg) {
			return false
		}
	}
	return true
}

// stripWrapper removes a single top level folder that wraps every entry when
// no expected file lives under a folder of that name.
func stripWrapper(entries []entry, expected []string) {
	if len(entries) == 0 {
		return
	}
	wrapper, _, ok := strings.Cut(entries[0].rel, "/")
	if !ok {
		return
	}
	for _, e := range entries {
		head, _, ok := strings.Cut(e.rel, "/")
		if !ok || head != wrapper {
			return
		}
	}
	for _, f := range expected {
		if strings.HasPrefix(strings.TrimPrefix(f, "/"), wrapper+"/") {
			return
		}
	}
	for i := range entries {
		entries[i].rel = strings.TrimPrefix(entries[i].rel, wrapper+"/")
	}
}

func extract(ctx context.Context, entries []entry, dest string, budget int64) error {
	remaining := budget
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if remaining <= 0 {
			return invalid("archive expands beyond the size limit")
		}
		target := filepath.Join(dest, filepath.FromSlash(e.rel))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create folder for %s: %w", e.rel, err)
		}
		rc, err := e.file.Open()
		if err != nil {
			return invalid(fmt.Sprintf("cannot read %s from archive", e.file.Name))
		}
		written, err := fileutil.CopyLimited(target, rc, remaining, 0o644)
		_ = rc.Close()
		switch {
		case errors.Is(err, fileutil.ErrTooLarge):
			return invalid("archive expands beyond the size limit")
		case errors.Is(err, os.ErrExist):
			return invalid(fmt.Sprintf("duplicate entry %s", e.rel))
		case errors.Is(err, zip.ErrChecksum), errors.Is(err, zip.ErrFormat):
			return invalid(fmt.Sprintf("corrupt entry %s", e.file.Name))
		case err != nil:
			return fmt.Errorf("extract %s: %w", e.rel, err)
		}
		remaining -= written
	}
	return nil
}
