package gui

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/vk/conntool/internal/jobstore"
	"github.com/vk/conntool/internal/registry"
)

// entry is one item of a directory listing.
type entry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
}

type listing struct {
	CurrentPath string  `json:"current_path"`
	Parent      string  `json:"parent"`
	Items       []entry `json:"items"`
}

type mkdirRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

type startRequest struct {
	Tool   string            `json:"tool"`
	Params map[string]string `json:"params"`
}

// jobView is a job with its retained output.
type jobView struct {
	*jobstore.Job
	Output []string `json:"output,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps job start errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errUnknownTool), errors.Is(err, jobstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrInvalidParams):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.Tools())
}

// handleList lists a directory, directories first, then by case-insensitive
// name. A missing path falls back to the home directory.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("path")
	if dir == "" {
		if wd, err := os.Getwd(); err == nil {
			dir = wd
		}
	}
	if _, err := os.Stat(dir); err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		dir = home
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	items := make([]entry, 0, len(entries))
	for _, e := range entries {
		full := filepath.Join(dir, e.Name())
		isDir := e.IsDir()
		if e.Type()&os.ModeSymlink != 0 {
			if info, err := os.Stat(full); err == nil {
				isDir = info.IsDir()
			}
		}
		items = append(items, entry{Name: e.Name(), Path: full, IsDir: isDir})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].IsDir != items[j].IsDir {
			return items[i].IsDir
		}
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})

	writeJSON(w, http.StatusOK, listing{CurrentPath: dir, Parent: filepath.Dir(dir), Items: items})
}

func (s *Server) handleMkdir(w http.ResponseWriter, r *http.Request) {
	var req mkdirRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": fmt.Sprintf("invalid request: %v", err)})
		return
	}
	name := strings.TrimSpace(req.Name)
	if req.Path == "" || name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "path and a plain folder name are required"})
		return
	}
	target := filepath.Join(req.Path, name)
	if err := os.MkdirAll(target, 0o755); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
		return
	}
	s.logger.Info("Created directory.", "path", target)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "path": target})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := s.store.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	view := jobView{Job: job}
	if live, ok := s.jobs.lookup(job.ID); ok {
		view.Output = live.output()
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	job, _, err := s.jobs.start(s.withLogger(r), req.Tool, req.Params)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// handleRun starts a job from query parameters and streams its output as
// Server-Sent Events, ending with "data: [DONE]".
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	params := registry.Params{}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	job, live, err := s.jobs.start(s.withLogger(r), r.PathValue("tool"), params)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Job-Id", job.ID)
	w.WriteHeader(http.StatusOK)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}
	flush()

	_, err = live.follow(r.Context(), func(line string) {
		fmt.Fprintf(w, "data: %s\n\n", line)
		flush()
	})
	if err != nil {
		s.logger.Debug("Output stream closed by client.", "job", job.ID)
		return
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flush()
}
