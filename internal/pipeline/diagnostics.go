package pipeline

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/vk/conntool/internal/bids"
)

const (
	// tailLines is how much of each CONN project log is copied on failure.
	tailLines = 200

	connProjectDir = "conn_project"
)

var (
	connProjectLogs = []string{"logfile.txt", "statusfile.open"}

	subjectSessionRE = regexp.MustCompile(`Subject\s+(\d+)\s+Session\s+(\d+)`)
)

// VolumeReader reads a NIfTI header and returns the image dimensions.
type VolumeReader func(path string) ([]int, error)

// LastSubjectSession returns the 1-based indices of the last "Subject N
// Session M" mention in output.
func LastSubjectSession(output string) (subject, session int, ok bool) {
	matches := subjectSessionRE.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return 0, 0, false
	}
	last := matches[len(matches)-1]
	subject, err1 := strconv.Atoi(last[1])
	session, err2 := strconv.Atoi(last[2])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return subject, session, true
}

// tailFile returns the last n lines of path.
func tailFile(path string, n int) string {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Sprintf("[Unable to read %s: %v]\n", path, err)
	}
	defer f.Close()

	ring := make([]string, 0, n)
	br := bufio.NewReader(f)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			if len(ring) == n {
				ring = ring[1:]
			}
			ring = append(ring, line)
		}
		if err != nil {
			if err != io.EOF {
				ring = append(ring, fmt.Sprintf("[Unable to read %s: %v]\n", path, err))
			}
			break
		}
	}
	return strings.Join(ring, "")
}

// writeProjectLogs copies the tails of the CONN project logs into w.
func writeProjectLogs(w io.Writer, projectDir string) {
	dir := filepath.Join(projectDir, connProjectDir)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return
	}
	fmt.Fprint(w, "\n--- CONN project logs ---\n")
	for _, name := range connProjectLogs {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
			continue
		}
		fmt.Fprintf(w, "\n[%s]\n", name)
		fmt.Fprint(w, tailFile(path, tailLines))
	}
}

// diagnostics describes the input files of the subject and session CONN was
// working on when it failed.
type diagnostics struct {
	fmriprepDir string
	sessions    []string
	readVolume  VolumeReader
}

func (d diagnostics) write(w io.Writer, output string) {
	subject, session, ok := LastSubjectSession(output)
	if !ok {
		return
	}
	subjectDirs, err := bids.SubjectDirs(d.fmriprepDir)
	if err != nil || subject < 1 || subject > len(subjectDirs) {
		return
	}
	subjectDir := subjectDirs[subject-1]
	label := fmt.Sprintf("ses-%d", session)
	if session >= 1 && session <= len(d.sessions) {
		label = d.sessions[session-1]
	}

	funcFiles, _ := bids.FunctionalFiles(subjectDir, label)
	anatFiles, _ := bids.StructuralFiles(subjectDir)

	fmt.Fprint(w, "\n--- Subject/session diagnostics ---\n")
	fmt.Fprintf(w, "Subject index: %d\n", subject)
	fmt.Fprintf(w, "Session index: %d\n", session)
	fmt.Fprintf(w, "Subject dir: %s\n", subjectDir)
	fmt.Fprintf(w, "Session label: %s\n", label)

	writeFileList(w, "Functional files", funcFiles)
	writeFileList(w, "Structural files", anatFiles)

	if d.readVolume == nil {
		fmt.Fprint(w, "\n[NIfTI read check unavailable: no reader]\n")
		return
	}
	fmt.Fprint(w, "\n[NIfTI read check]\n")
	for _, path := range append(funcFiles, anatFiles...) {
		shape, err := d.readVolume(path)
		if err != nil {
			fmt.Fprintf(w, "  FAIL: %s error=%v\n", path, err)
			continue
		}
		fmt.Fprintf(w, "  OK: %s shape=%v\n", path, shape)
	}
}

func writeFileList(w io.Writer, title string, files []string) {
	fmt.Fprintf(w, "\n[%s]\n", title)
	if len(files) == 0 {
		fmt.Fprint(w, "  (none found)\n")
		return
	}
	for _, path := range files {
		var size int64
		if info, err := os.Stat(path); err == nil {
			size = info.Size()
		}
		fmt.Fprintf(w, "  %s (%d bytes)\n", path, size)
	}
}
