package bids

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/vk/conntool/internal/fsutil"
)

// Naming patterns of the fMRIprep outputs CONN consumes.
const (
	PreprocBoldPattern = "*space-MNI152NLin2009cAsym*desc-preproc_bold.nii.gz"
	MNIStructPattern   = "*space-MNI152NLin2009cAsym*T1w.nii.gz"
	NativeT1wPattern   = "*_T1w.nii.gz"
)

// derivativePatterns are integrity-checked before import.
var derivativePatterns = []string{
	"*desc-preproc_bold.nii.gz",
	MNIStructPattern,
	NativeT1wPattern,
}

// SubjectDirs returns the sorted sub-* directories of an fMRIprep tree.
func SubjectDirs(fmriprepDir string) ([]string, error) {
	names, err := prefixedDirs(fmriprepDir, subjectPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = filepath.Join(fmriprepDir, name)
	}
	return out, nil
}

// FunctionalFiles returns the MNI preprocessed BOLD runs of one session.
func FunctionalFiles(subjectDir, session string) ([]string, error) {
	return globSorted(filepath.Join(subjectDir, session, "func"), PreprocBoldPattern)
}

// StructuralFiles returns the MNI T1w images of a subject, falling back to
// any *_T1w.nii.gz when no MNI image exists.
func StructuralFiles(subjectDir string) ([]string, error) {
	anat := filepath.Join(subjectDir, "anat")
	files, err := globSorted(anat, MNIStructPattern)
	if err != nil || len(files) > 0 {
		return files, err
	}
	return globSorted(anat, NativeT1wPattern)
}

// DerivativeFiles walks the fMRIprep tree and returns every BOLD and T1w
// volume that should decompress cleanly before import.
func DerivativeFiles(fmriprepDir string) ([]string, error) {
	files, err := fsutil.FindFilesByPattern(fmriprepDir, derivativePatterns...)
	if err != nil {
		return nil, fmt.Errorf("scan derivatives: %w", err)
	}
	return files, nil
}

func globSorted(dir, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	sort.Strings(matches)
	return matches, nil
}
