package submission

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"arbiter/internal/fileutil"
	"arbiter/internal/textutil"
	"arbiter/internal/track"
)

const (
	// MetadataFile is the per-instance metadata file name.
	MetadataFile = "metadata.json"
	// ImagesDir holds the extracted submission files.
	ImagesDir = "images"

	instanceLayout = "2006-01-02T15:04:05.000000"
	createAttempts = 16
)

var (
	// ErrNotReady reports an instance whose metadata is missing or unreadable.
	// The worker skips such instances and retries on a later tick.
	ErrNotReady = errors.New("submission metadata not ready")
	// ErrInvalidTeam reports a team name that cannot be used as a directory.
	ErrInvalidTeam = errors.New("invalid team name")
)

// Instance addresses one upload of one team on one track.
type Instance struct {
	Track track.ID
	Team  string
	Name  string
	Dir   string
}

// MetadataPath returns the path of the instance's metadata.json.
func (i Instance) MetadataPath() string { return filepath.Join(i.Dir, MetadataFile) }

// ImagesPath returns the folder holding the submitted files.
func (i Instance) ImagesPath() string { return filepath.Join(i.Dir, ImagesDir) }

// Key identifies the instance in logs and status output.
func (i Instance) Key() string {
	return string(i.Track) + "/" + i.Team + "/" + i.Name
}

// Store reads and writes the submission tree rooted at a directory.
type Store struct {
	root string
}

// NewStore returns a store rooted at root.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the submissions directory.
func (s *Store) Root() string { return s.root }

// TrackDir returns the folder holding every team of a track.
func (s *Store) TrackDir(id track.ID) string {
	return filepath.Join(s.root, string(id))
}

// Teams lists team folders of a track in name order. A missing track folder
// yields no teams.
func (s *Store) Teams(id track.ID) ([]string, error) {
	return listDirs(s.TrackDir(id))
}

// Instances lists a team's instances in name order, which is upload order.
func (s *Store) Instances(id track.ID, team string) ([]Instance, error) {
	teamDir := filepath.Join(s.TrackDir(id), team)
	names, err := listDirs(teamDir)
	if err != nil {
		return nil, err
	}
	out := make([]Instance, 0, len(names))
	for _, name := range names {
		out = append(out, Instance{Track: id, Team: team, Name: name, Dir: filepath.Join(teamDir, name)})
	}
	return out, nil
}

// InstanceAt resolves an arbitrary instance folder. Folders inside the store
// get their track and team from the path; others only carry Dir and Name.
func (s *Store) InstanceAt(dir string) (Instance, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Instance{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Instance{}, err
	}
	if !info.IsDir() {
		return Instance{}, fmt.Errorf("%s is not a directory", abs)
	}
	inst := Instance{Name: filepath.Base(abs), Dir: abs}
	root, err := filepath.Abs(s.root)
	if err != nil {
		return inst, nil
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return inst, nil
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) == 3 {
		if id, perr := track.Parse(parts[0]); perr == nil {
			inst.Track = id
			inst.Team = parts[1]
		}
	}
	return inst, nil
}

// Load reads an instance's metadata. Missing or malformed metadata yields
// ErrNotReady.
func (s *Store) Load(inst Instance) (*Metadata, error) {
	data, err := os.ReadFile(inst.MetadataPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotReady, inst.Key())
		}
		return nil, fmt.Errorf("read metadata %s: %w", inst.Key(), err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotReady, inst.Key(), err)
	}
	return &meta, nil
}

// Save writes metadata atomically as indented JSON.
func (s *Store) Save(inst Instance, meta *Metadata) error {
	if meta == nil {
		return errors.New("nil metadata")
	}
	data, err := json.MarshalIndent(meta, "", "    ")
	if err != nil {
		return fmt.Errorf("encode metadata %s: %w", inst.Key(), err)
	}
	data = append(data, '\n')
	if err := fileutil.WriteFileAtomic(inst.MetadataPath(), data, 0o644); err != nil {
		return fmt.Errorf("write metadata %s: %w", inst.Key(), err)
	}
	return nil
}

// Create makes a fresh instance folder with an empty images/ directory and
// returns it with unevaluated metadata. Nothing is written to metadata.json:
// the caller saves it once the images are in place, which publishes the
// instance to the worker.
func (s *Store) Create(id track.ID, team string, emails []string, now time.Time) (Instance, *Metadata, error) {
	if err := ValidateTeam(team); err != nil {
		return Instance{}, nil, err
	}
	if _, ok := track.Lookup(id); !ok {
		return Instance{}, nil, fmt.Errorf("%w: %q", track.ErrUnknown, id)
	}
	teamDir := filepath.Join(s.TrackDir(id), team)
	if err := os.MkdirAll(teamDir, 0o755); err != nil {
		return Instance{}, nil, fmt.Errorf("create team folder: %w", err)
	}

	stamp := now.UTC()
	for attempt := 0; attempt < createAttempts; attempt++ {
		name := InstanceName(stamp)
		dir := filepath.Join(teamDir, name)
		err := os.Mkdir(dir, 0o755)
		if errors.Is(err, fs.ErrExist) {
			stamp = stamp.Add(time.Microsecond)
			continue
		}
		if err != nil {
			return Instance{}, nil, fmt.Errorf("create instance folder: %w", err)
		}
		inst := Instance{Track: id, Team: team, Name: name, Dir: dir}
		if err := os.Mkdir(inst.ImagesPath(), 0o755); err != nil {
			_ = os.RemoveAll(dir)
			return Instance{}, nil, fmt.Errorf("create images folder: %w", err)
		}
		return inst, NewMetadata(team, emails, stamp), nil
	}
	return Instance{}, nil, fmt.Errorf("create instance folder: %d name collisions under %s", createAttempts, teamDir)
}

// Discard removes an instance folder that never got its metadata.
func (s *Store) Discard(inst Instance) error {
	if inst.Dir == "" {
		return nil
	}
	return os.RemoveAll(inst.Dir)
}

// NewMetadata returns the metadata of a freshly uploaded instance.
func NewMetadata(team string, emails []string, uploaded time.Time) *Metadata {
	return &Metadata{
		Team:      team,
		Emails:    append([]string(nil), emails...),
		Timestamp: uploaded.UTC().Format(instanceLayout),
	}
}

// InstanceName formats an upload time as an instance folder name: ISO-8601
// with microseconds and ':' replaced by '-'.
func InstanceName(t time.Time) string {
	return strings.ReplaceAll(t.UTC().Format(instanceLayout), ":", "-")
}

// ValidateTeam rejects team names that are not a single safe path component.
func ValidateTeam(team string) error {
	if !textutil.SafeSegment(team) {
		return fmt.Errorf("%w: %q", ErrInvalidTeam, team)
	}
	return nil
}

func listDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}
