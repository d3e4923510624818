// Package connids maps BIDS participant ids to the subject numbers CONN
// assigned during import, using the CONN project log.
package connids

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/vk/conntool/internal/ctxlog"
)

const (
	// OutputFileName is written next to the project .mat file.
	OutputFileName = "participants_with_conn.tsv"

	column  = "conn_id"
	missing = "n/a"

	maxLineSize = 1 << 20
)

var (
	ErrProjectNotFound      = errors.New("CONN project file not found")
	ErrBIDSNotFound         = errors.New("BIDS directory not found")
	ErrLogNotFound          = errors.New("CONN log file not found")
	ErrParticipantsNotFound = errors.New("participants.tsv not found")
	ErrEmptyParticipants    = errors.New("participants.tsv is empty")
)

var importedRE = regexp.MustCompile(`sub-([A-Za-z0-9]+).*imported to subject ([0-9]+)`)

// Result describes a completed mapping.
type Result struct {
	LogFile    string `json:"log_file"`
	OutputFile string `json:"output_file"`
	Mappings   int    `json:"mappings"`
	Rows       int    `json:"rows"`
	// UpdatedExisting is set when participants.tsv already had a conn_id column.
	UpdatedExisting bool `json:"updated_existing"`
}

// LogPath returns the log CONN keeps for the project at matPath.
func LogPath(matPath string) string {
	stem := strings.TrimSuffix(filepath.Base(matPath), filepath.Ext(matPath))
	return filepath.Join(filepath.Dir(matPath), stem, "logfile.txt")
}

// Map reads the import log of the CONN project at matPath and writes
// participants_with_conn.tsv next to it.
func Map(ctx context.Context, matPath, bidsDir string) (*Result, error) {
	logger := ctxlog.FromContext(ctx)

	matPath, err := filepath.Abs(matPath)
	if err != nil {
		return nil, err
	}
	bidsDir, err = filepath.Abs(bidsDir)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(matPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, matPath)
	}
	if info, err := os.Stat(bidsDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrBIDSNotFound, bidsDir)
	}
	logPath := LogPath(matPath)
	if _, err := os.Stat(logPath); err != nil {
		return nil, fmt.Errorf("%w at expected location: %s", ErrLogNotFound, logPath)
	}
	participants := filepath.Join(bidsDir, "participants.tsv")
	if _, err := os.Stat(participants); err != nil {
		return nil, fmt.Errorf("%w in %s", ErrParticipantsNotFound, bidsDir)
	}

	logger.Info("Reading log file.", "path", logPath)
	mapping, err := parseLogFile(logPath)
	if err != nil {
		return nil, err
	}
	if len(mapping) == 0 {
		logger.Warn("No mappings found in log file. Check if data import is logged correctly.")
	} else {
		logger.Info(fmt.Sprintf("Found %d participant mappings.", len(mapping)))
	}

	logger.Info("Reading BIDS participants.", "path", participants)
	in, err := os.Open(participants)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	outPath := filepath.Join(filepath.Dir(matPath), OutputFileName)
	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".participants-*.tsv")
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	defer os.Remove(tmp.Name())

	rows, updated, err := Annotate(in, tmp, mapping)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	if updated {
		logger.Info("'conn_id' column already exists. Updating values.")
	}
	if err := os.Rename(tmp.Name(), outPath); err != nil {
		return nil, fmt.Errorf("write %s: %w", outPath, err)
	}
	logger.Info("Saved updated participants list.", "path", outPath, "rows", rows)

	return &Result{
		LogFile:         logPath,
		OutputFile:      outPath,
		Mappings:        len(mapping),
		Rows:            rows,
		UpdatedExisting: updated,
	}, nil
}

func parseLogFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseLog(f)
}

// ParseLog extracts participant to CONN subject assignments. Later lines
// win for repeated participants.
func ParseLog(r io.Reader) (map[string]string, error) {
	mapping := make(map[string]string)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		m := importedRE.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		mapping["sub-"+m[1]] = m[2]
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read CONN log: %w", err)
	}
	return mapping, nil
}

// Annotate copies the participants table from r to w with a conn_id column
// filled from mapping. It returns the number of data rows written and
// whether an existing conn_id column was updated.
func Annotate(r io.Reader, w io.Writer, mapping map[string]string) (rows int, updated bool, err error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return 0, false, err
		}
		return 0, false, ErrEmptyParticipants
	}

	header := strings.Split(strings.TrimSpace(sc.Text()), "\t")
	idx := indexOf(header, column)
	updated = idx >= 0
	if !updated {
		header = append(header, column)
		idx = len(header) - 1
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, strings.Join(header, "\t"))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		id, ok := mapping[parts[0]]
		if !ok {
			id = missing
		}
		for len(parts) <= idx {
			parts = append(parts, missing)
		}
		parts[idx] = id
		fmt.Fprintln(bw, strings.Join(parts, "\t"))
		rows++
	}
	if err := sc.Err(); err != nil {
		return rows, updated, fmt.Errorf("read participants.tsv: %w", err)
	}
	return rows, updated, bw.Flush()
}

func indexOf(items []string, want string) int {
	for i, v := range items {
		if v == want {
			return i
		}
	}
	return -1
}
