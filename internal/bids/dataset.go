// Package bids discovers subjects, sessions and acquisition parameters in a
// BIDS dataset, and locates the fMRIprep derivatives CONN imports.
package bids

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vk/conntool/internal/ctxlog"
	"github.com/vk/conntool/internal/fsutil"
)

const (
	subjectPrefix = "sub-"
	sessionPrefix = "ses-"

	descriptionFile = "dataset_description.json"
)

// ErrNotFound is returned when the dataset root does not exist.
var ErrNotFound = errors.New("BIDS directory not found")

// Dataset is a BIDS dataset rooted at Dir.
type Dataset struct {
	Dir string
}

// Metadata is the acquisition summary of a dataset.
type Metadata struct {
	NumSubjects        int      `json:"num_subjects" yaml:"num_subjects"`
	Subjects           []string `json:"subjects" yaml:"subjects"`
	TR                 *float64 `json:"tr" yaml:"tr"`
	Name               string   `json:"name,omitempty" yaml:"name,omitempty"`
	DatasetType        string   `json:"dataset_type,omitempty" yaml:"dataset_type,omitempty"`
	Sessions           []string `json:"sessions" yaml:"sessions"`
	NumFunctionalFiles int      `json:"num_functional_files" yaml:"num_functional_files"`
}

type description struct {
	Name        string `json:"Name"`
	DatasetType string `json:"DatasetType"`
}

type boldSidecar struct {
	RepetitionTime *float64 `json:"RepetitionTime"`
}

// Open returns the dataset at dir. A missing dataset_description.json is
// logged but not fatal.
func Open(ctx context.Context, dir string) (*Dataset, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
	}
	if _, err := os.Stat(filepath.Join(dir, descriptionFile)); err != nil {
		ctxlog.FromContext(ctx).Warn("No dataset_description.json found.", "dir", dir)
	}
	return &Dataset{Dir: dir}, nil
}

// Subjects returns the sorted sub-* directory names at the dataset root.
func (d *Dataset) Subjects() ([]string, error) {
	return prefixedDirs(d.Dir, subjectPrefix)
}

// Sessions returns the sorted union of ses-* directory names across subjects.
func (d *Dataset) Sessions() ([]string, error) {
	subjects, err := d.Subjects()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, sub := range subjects {
		sessions, err := prefixedDirs(filepath.Join(d.Dir, sub), sessionPrefix)
		if err != nil {
			return nil, err
		}
		for _, ses := range sessions {
			seen[ses] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for ses := range seen {
		out = append(out, ses)
	}
	sort.Strings(out)
	return out, nil
}

// RepetitionTime returns the RepetitionTime of the first *_bold.json sidecar,
// in walk order, that declares one. ok is false when none does.
func (d *Dataset) RepetitionTime() (tr float64, ok bool, err error) {
	errFound := errors.New("found")
	walkErr := filepath.WalkDir(d.Dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), "_bold.json") {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		var sidecar boldSidecar
		if json.Unmarshal(raw, &sidecar) != nil || sidecar.RepetitionTime == nil {
			return nil
		}
		tr, ok = *sidecar.RepetitionTime, true
		return errFound
	})
	if walkErr != nil && !errors.Is(walkErr, errFound) {
		return 0, false, fmt.Errorf("scan bold sidecars: %w", walkErr)
	}
	return tr, ok, nil
}

// FunctionalFileCount counts *_bold.nii and *_bold.nii.gz files in the tree.
func (d *Dataset) FunctionalFileCount() (int, error) {
	files, err := fsutil.FindFilesContaining(d.Dir, "_bold.nii")
	if err != nil {
		return 0, fmt.Errorf("count functional files: %w", err)
	}
	return len(files), nil
}

// Metadata collects the full acquisition summary.
func (d *Dataset) Metadata() (*Metadata, error) {
	subjects, err := d.Subjects()
	if err != nil {
		return nil, err
	}
	sessions, err := d.Sessions()
	if err != nil {
		return nil, err
	}
	m := &Metadata{
		NumSubjects: len(subjects),
		Subjects:    subjects,
		Sessions:    sessions,
	}

	tr, ok, err := d.RepetitionTime()
	if err != nil {
		return nil, err
	}
	if ok {
		m.TR = &tr
	}

	if raw, err := os.ReadFile(filepath.Join(d.Dir, descriptionFile)); err == nil {
		var desc description
		if json.Unmarshal(raw, &desc) == nil {
			m.Name = desc.Name
			if m.Name == "" {
				m.Name = "BIDS Dataset"
			}
			m.DatasetType = desc.DatasetType
			if m.DatasetType == "" {
				m.DatasetType = "raw"
			}
		}
	}

	if m.NumFunctionalFiles, err = d.FunctionalFileCount(); err != nil {
		return nil, err
	}
	return m, nil
}

// prefixedDirs lists the sorted names of directories in dir starting with prefix.
func prefixedDirs(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	out := []string{}
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			out = append(out, entry.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
