// Package gui serves the browser front end of conntool: a small page listing
// the registered tools, a directory browser, job history and live job output
// over Server-Sent Events and Socket.IO.
package gui

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"github.com/vk/conntool/internal/ctxlog"
	"github.com/vk/conntool/internal/registry"
)

const (
	// DefaultPort is the first port tried.
	DefaultPort = 5000
	// DefaultPortAttempts is how many consecutive ports are tried.
	DefaultPortAttempts = 10

	shutdownTimeout = 5 * time.Second
)

//go:embed templates/index.html
var templatesFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templatesFS, "templates/index.html"))

// Options configure Serve.
type Options struct {
	Host         string
	Port         int
	PortAttempts int
	// OpenBrowser opens the GUI in the default browser once listening.
	OpenBrowser bool
	// Browser overrides how the browser is opened.
	Browser func(url string) error
	// Ready is called with the base URL once the server accepts connections.
	Ready func(url string)
}

// Server is the GUI HTTP server.
type Server struct {
	reg     *registry.Registry
	store   JobStore
	jobs    *jobRunner
	hub     *hub
	logger  *slog.Logger
	handler http.Handler
}

// New creates a GUI server running tools from reg and recording them in
// store. Job output is logged at level.
func New(reg *registry.Registry, store JobStore, logger *slog.Logger, level slog.Leveler) *Server {
	jobs := newJobRunner(reg, store, level)
	s := &Server{
		reg:    reg,
		store:  store,
		jobs:   jobs,
		hub:    newHub(jobs, store, logger),
		logger: logger,
	}
	s.handler = s.routes()
	return s
}

// Handler returns the HTTP handler of the GUI.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /api/tools", s.handleTools)
	mux.HandleFunc("GET /api/ls", s.handleList)
	mux.HandleFunc("POST /api/mkdir", s.handleMkdir)
	mux.HandleFunc("GET /api/jobs", s.handleJobs)
	mux.HandleFunc("POST /api/jobs", s.handleStartJob)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleJob)
	mux.HandleFunc("GET /run/{tool}", s.handleRun)
	mux.Handle("/socket.io/", s.hub.Handler())
	return mux
}

// withLogger puts the server logger into the request context.
func (s *Server) withLogger(r *http.Request) context.Context {
	return ctxlog.WithLogger(r.Context(), s.logger)
}

// healthHandler reports liveness.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, struct{ Tools []*registry.Tool }{s.reg.Tools()}); err != nil {
		s.logger.Error("Failed to render index.", "error", err)
	}
}

// Serve listens on opts.Host, trying consecutive ports when one is taken,
// and serves until ctx is cancelled. Running jobs are cancelled on shutdown.
func (s *Server) Serve(ctx context.Context, opts Options) error {
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.PortAttempts <= 0 {
		opts.PortAttempts = DefaultPortAttempts
	}

	ln, port, err := s.listen(opts.Host, opts.Port, opts.PortAttempts)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("http://localhost:%d", port)

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctxlog.WithLogger(context.Background(), s.logger) },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(fmt.Sprintf("🚀 Starting CONN Tool Manager at %s", url))
		errCh <- srv.Serve(ln)
	}()

	if opts.Ready != nil {
		opts.Ready(url)
	}
	if opts.OpenBrowser {
		open := opts.Browser
		if open == nil {
			open = OpenBrowser
		}
		if err := open(url); err != nil {
			s.logger.Warn("Could not open a browser.", "url", url, "error", err)
		}
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.jobs.cancel()
			return fmt.Errorf("gui server failed: %w", err)
		}
	}
	return s.shutdown(srv)
}

func (s *Server) shutdown(srv *http.Server) error {
	s.logger.Info("🏁 Shutting down CONN Tool Manager...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	jobsErr := s.jobs.stop(ctx)
	s.hub.close()
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Error("GUI server shutdown failed.", "error", err)
		return err
	}
	if jobsErr != nil {
		return jobsErr
	}
	s.logger.Debug("GUI server shut down gracefully.")
	return nil
}

// listen binds host:port, moving to the next port while the address is in
// use, for at most attempts ports.
func (s *Server) listen(host string, port, attempts int) (net.Listener, int, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		addr := net.JoinHostPort(host, strconv.Itoa(port+i))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, ln.Addr().(*net.TCPAddr).Port, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, 0, fmt.Errorf("listen on %s: %w", addr, err)
		}
		lastErr = err
		if i+1 < attempts {
			s.logger.Warn(fmt.Sprintf("Port %d is in use, trying %d...", port+i, port+i+1))
		}
	}
	return nil, 0, fmt.Errorf("no free port in %d-%d: %w", port, port+attempts-1, lastErr)
}
