// Package export copies a CONN project without the bulky per-subject data,
// keeping results and ROI data.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/vk/conntool/internal/ctxlog"
)

var (
	ErrProjectNotFound    = errors.New("project file not found")
	ErrProjectDirNotFound = errors.New("project directory not found")
	ErrDestinationOverlap = errors.New("destination overlaps the project")
)

// dataPrefixes are excluded from the project's data/ folder.
var dataPrefixes = []string{"DATA_Subject", "VV_DATA_", "BA_Subject"}

// Result describes a finished export.
type Result struct {
	ProjectFile string `json:"project_file"`
	ProjectDir  string `json:"project_dir"`
	Files       int    `json:"files"`
	Bytes       int64  `json:"bytes"`
	Skipped     int    `json:"skipped"`
	// Replaced is set when an earlier export of the project was removed.
	Replaced bool `json:"replaced"`
}

// Excluded reports whether rel, a slash-separated path relative to the
// project directory, is left out of the export.
func Excluded(rel string, isDir bool) bool {
	name := path.Base(rel)
	if name == "preprocessing" {
		return true
	}
	if !isDir && strings.HasSuffix(name, ".nii") {
		return true
	}
	if path.Dir(rel) == "data" {
		for _, p := range dataPrefixes {
			if strings.HasPrefix(name, p) {
				return true
			}
		}
	}
	return false
}

// Light exports the CONN project at matPath into destDir: the .mat file and
// a filtered copy of its sibling project directory.
func Light(ctx context.Context, matPath, destDir string) (*Result, error) {
	logger := ctxlog.FromContext(ctx)

	matPath, err := filepath.Abs(matPath)
	if err != nil {
		return nil, err
	}
	destDir, err = filepath.Abs(destDir)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(matPath); err != nil || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, matPath)
	}
	name := strings.TrimSuffix(filepath.Base(matPath), filepath.Ext(matPath))
	srcDir := filepath.Join(filepath.Dir(matPath), name)
	if info, err := os.Stat(srcDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrProjectDirNotFound, srcDir)
	}

	if err := checkDestination(matPath, srcDir, destDir); err != nil {
		return nil, err
	}

	logger.Info(fmt.Sprintf("--- Starting Lightweight Export of CONN Project: %s ---", name))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, err
	}

	res := &Result{
		ProjectFile: filepath.Join(destDir, filepath.Base(matPath)),
		ProjectDir:  filepath.Join(destDir, name),
	}

	logger.Info("Copying project file...")
	n, err := copyFile(matPath, res.ProjectFile)
	if err != nil {
		return nil, err
	}
	res.Files++
	res.Bytes += n

	logger.Info("Syncing results and ROI data...")
	if _, err := os.Stat(res.ProjectDir); err == nil {
		logger.Warn("Destination project folder already exists. Overwriting...", "path", res.ProjectDir)
		if err := os.RemoveAll(res.ProjectDir); err != nil {
			return nil, err
		}
		res.Replaced = true
	}

	err = filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		target := filepath.Join(res.ProjectDir, rel)
		if rel == "." {
			return os.MkdirAll(target, 0o755)
		}
		if Excluded(filepath.ToSlash(rel), d.IsDir()) {
			res.Skipped++
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		switch {
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm())
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			n, err := copyFile(p, target)
			if err != nil {
				return err
			}
			res.Files++
			res.Bytes += n
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("copy project directory: %w", err)
	}

	logger.Info("--- Export Complete ---", "files", res.Files, "bytes", res.Bytes)
	return res, nil
}

// copyFile copies src to dst preserving permission bits and modification time.
// checkDestination rejects destinations that would overwrite the project
// file or land inside the project directory.
func checkDestination(matPath, srcDir, destDir string) error {
	if destDir == filepath.Dir(matPath) {
		return fmt.Errorf("%w: %s already holds %s", ErrDestinationOverlap, destDir, filepath.Base(matPath))
	}
	rel, err := filepath.Rel(srcDir, destDir)
	if err != nil {
		return err
	}
	if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
		return fmt.Errorf("%w: %s is inside %s", ErrDestinationOverlap, destDir, srcDir)
	}
	return nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return 0, err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("copy %s: %w", src, err)
	}
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return n, err
	}
	return n, os.Chtimes(dst, info.ModTime(), info.ModTime())
}
