package gateway

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"arbiter/internal/scoring"
	"arbiter/internal/services"
	"arbiter/internal/track"
)

// Expected lists the files a submission for one track must contain.
type Expected struct {
	Count     int      `json:"count"`
	ImageType string   `json:"image_type"`
	Files     []string `json:"files"`
}

// ExpectedFiles derives the expected submission files from a track's truth
// tree. Paths are slash separated and rooted with a leading "/".
func ExpectedFiles(def track.Definition, truthDir string) (Expected, error) {
	var rel []string
	var err error
	if def.ID == track.Translation {
		rel, err = translationFiles(truthDir)
	} else {
		rel, err = truthFiles(truthDir, def.Extension)
	}
	if err != nil {
		return Expected{}, err
	}
	files := make([]string, len(rel))
	for i, name := range rel {
		files[i] = "/" + name
	}
	return Expected{Count: len(files), ImageType: def.Extension, Files: files}, nil
}

func truthFiles(root, ext string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ext) {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrConfiguration, "gateway", "expected files", "ground truth missing", err)
		}
		return nil, fmt.Errorf("walk truth %s: %w", root, err)
	}
	sort.Strings(out)
	return out, nil
}

func translationFiles(truthDir string) ([]string, error) {
	groups, err := scoring.LoadMapping(truthDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrConfiguration, "gateway", "expected files", "translation mapping missing", err)
		}
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, g := range groups {
		for _, name := range g.Candidates {
			rel := path.Join(scoring.TranslationDir, name)
			if seen[rel] {
				continue
			}
			seen[rel] = true
			out = append(out, rel)
		}
	}
	sort.Strings(out)
	return out, nil
}
