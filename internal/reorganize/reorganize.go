// Package reorganize normalises an fMRIprep derivatives tree so that CONN's
// importer finds anatomical images where it expects them.
package reorganize

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/vk/conntool/internal/ctxlog"
)

var sessionRE = regexp.MustCompile(`ses-([a-zA-Z0-9]+)`)

// Report lists what was changed.
type Report struct {
	// Standardized are single-session subjects whose anat folder was lifted
	// to the subject level.
	Standardized []string `json:"standardized"`
	// TransformsMoved are the new paths of relocated *_xfm.txt files.
	TransformsMoved []string `json:"transforms_moved"`
}

// Run reorganizes the derivatives tree rooted at baseDir in place.
func Run(ctx context.Context, baseDir string) (*Report, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Info(fmt.Sprintf("Starting reorganization in %s...", baseDir))

	if info, err := os.Stat(baseDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("derivatives directory not found: %s", baseDir)
	}

	report := &Report{Standardized: []string{}, TransformsMoved: []string{}}
	subjects, err := prefixedDirs(baseDir, "sub-")
	if err != nil {
		return nil, err
	}
	for _, sub := range subjects {
		lifted, err := liftSingleSession(ctx, baseDir, sub)
		if err != nil {
			return report, err
		}
		if lifted {
			report.Standardized = append(report.Standardized, sub)
		}
	}

	moved, err := moveSessionTransforms(ctx, baseDir)
	report.TransformsMoved = append(report.TransformsMoved, moved...)
	if err != nil {
		return report, err
	}

	logger.Info("Reorganization complete.", "standardized", len(report.Standardized), "transforms_moved", len(report.TransformsMoved))
	return report, nil
}

// liftSingleSession moves <sub>/<ses>/anat up to <sub>/anat when the subject
// has exactly one session and no subject-level anat folder.
func liftSingleSession(ctx context.Context, baseDir, sub string) (bool, error) {
	subPath := filepath.Join(baseDir, sub)
	sessions, err := prefixedDirs(subPath, "ses-")
	if err != nil || len(sessions) != 1 {
		return false, err
	}
	ses := sessions[0]
	sesAnat := filepath.Join(subPath, ses, "anat")
	subAnat := filepath.Join(subPath, "anat")
	if exists(subAnat) || !exists(sesAnat) {
		return false, nil
	}

	ctxlog.FromContext(ctx).Info(fmt.Sprintf("Standardizing single-session subject: %s", sub))
	if err := os.MkdirAll(subAnat, 0o755); err != nil {
		return false, err
	}

	entries, err := os.ReadDir(sesAnat)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasSuffix(e.Name(), "xfm.txt") {
			continue
		}
		newName := strings.ReplaceAll(e.Name(), "_"+ses+"_", "_")
		if err := os.Rename(filepath.Join(sesAnat, e.Name()), filepath.Join(subAnat, newName)); err != nil {
			return false, fmt.Errorf("move %s: %w", e.Name(), err)
		}
	}

	sidecars, err := filepath.Glob(filepath.Join(subAnat, "*.json"))
	if err != nil {
		return false, err
	}
	for _, path := range sidecars {
		if err := rewrite(path,
			ses+"/anat/"+sub+"_"+ses+"_", "anat/"+sub+"_",
			sub+"_"+ses+"_", sub+"_",
		); err != nil {
			return false, err
		}
	}

	if err := rewriteIfExists(filepath.Join(baseDir, sub+".html"),
		sub+"/"+ses+"/anat/"+sub+"_"+ses+"_", sub+"/anat/"+sub+"_",
		sub+"_"+ses+"_acq-mprage", sub+"_acq-mprage",
	); err != nil {
		return false, err
	}
	return true, nil
}

// moveSessionTransforms relocates session-specific *_xfm.txt files from a
// subject-level anat folder into <sub>/<ses>/anat and rewrites references.
func moveSessionTransforms(ctx context.Context, baseDir string) ([]string, error) {
	logger := ctxlog.FromContext(ctx)

	var candidates []string
	err := filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		name := d.Name()
		if !strings.Contains(name, "_ses-") || !strings.HasSuffix(name, "_xfm.txt") {
			return nil
		}
		anatDir := filepath.Dir(path)
		if filepath.Base(anatDir) != "anat" || !strings.HasPrefix(filepath.Base(filepath.Dir(anatDir)), "sub-") {
			return nil
		}
		candidates = append(candidates, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan transforms: %w", err)
	}

	var moved []string
	for _, path := range candidates {
		name := filepath.Base(path)
		m := sessionRE.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		ses := "ses-" + m[1]
		subPath := filepath.Dir(filepath.Dir(path))
		sub := filepath.Base(subPath)
		target := filepath.Join(subPath, ses, "anat")
		if err := os.MkdirAll(target, 0o755); err != nil {
			return moved, err
		}

		logger.Info(fmt.Sprintf("Ensuring co-registration transform is in session folder: %s/%s", sub, ses))
		dest := filepath.Join(target, name)
		if err := os.Rename(path, dest); err != nil {
			return moved, fmt.Errorf("move %s: %w", name, err)
		}
		moved = append(moved, dest)

		if err := rewriteIfExists(filepath.Join(baseDir, sub+".html"),
			sub+"/anat/"+sub+"_"+ses+"_", sub+"/"+ses+"/anat/"+sub+"_"+ses+"_",
		); err != nil {
			return moved, err
		}
		err := filepath.WalkDir(subPath, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() && strings.HasSuffix(d.Name(), ".json") {
				return rewrite(p,
					"anat/"+sub+"_"+ses+"_", ses+"/anat/"+sub+"_"+ses+"_",
					ses+"/"+ses+"/anat/", ses+"/anat/",
				)
			}
			return nil
		})
		if err != nil {
			return moved, fmt.Errorf("rewrite sidecars of %s: %w", sub, err)
		}
	}
	return moved, nil
}

// rewrite applies old/new pairs to the file at path, in order.
func rewrite(path string, pairs ...string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	content := string(raw)
	for i := 0; i+1 < len(pairs); i += 2 {
		content = strings.ReplaceAll(content, pairs[i], pairs[i+1])
	}
	if content == string(raw) {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), info.Mode().Perm())
}

func rewriteIfExists(path string, pairs ...string) error {
	if !exists(path) {
		return nil
	}
	return rewrite(path, pairs...)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func prefixedDirs(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
