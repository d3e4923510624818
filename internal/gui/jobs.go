package gui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/vk/conntool/internal/console"
	"github.com/vk/conntool/internal/ctxlog"
	"github.com/vk/conntool/internal/jobstore"
	"github.com/vk/conntool/internal/registry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "github.com/vk/conntool/internal/gui"

	// maxRetained is how many finished jobs keep their output in memory.
	maxRetained = 32
)

var errUnknownTool = errors.New("unknown tool")

// JobStore records the history of GUI jobs.
type JobStore interface {
	Create(ctx context.Context, tool string, params map[string]string) (*jobstore.Job, error)
	Finish(ctx context.Context, id string, runErr error, outputLines int) error
	Get(ctx context.Context, id string) (*jobstore.Job, error)
	List(ctx context.Context, limit int) ([]*jobstore.Job, error)
}

// jobResult is the final state of a job.
type jobResult struct {
	Status jobstore.Status
	Err    error
}

// liveJob buffers the output of a job for any number of followers.
type liveJob struct {
	id   string
	tool string

	mu      sync.Mutex
	lines   []string
	done    bool
	result  jobResult
	changed chan struct{}
}

func newLiveJob(id, tool string) *liveJob {
	return &liveJob{id: id, tool: tool, changed: make(chan struct{})}
}

func (j *liveJob) append(line string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lines = append(j.lines, line)
	close(j.changed)
	j.changed = make(chan struct{})
}

func (j *liveJob) finish(res jobResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.done = true
	j.result = res
	close(j.changed)
	j.changed = make(chan struct{})
}

// since returns the lines from index from onwards and a channel closed on
// the next change.
func (j *liveJob) since(from int) (lines []string, done bool, res jobResult, wait <-chan struct{}) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if from < len(j.lines) {
		lines = append([]string(nil), j.lines[from:]...)
	}
	return lines, j.done, j.result, j.changed
}

func (j *liveJob) output() []string {
	lines, _, _, _ := j.since(0)
	return lines
}

func (j *liveJob) finished() bool {
	_, done, _, _ := j.since(0)
	return done
}

// follow calls onLine for every line, past and future, and returns the job
// result once it is done.
func (j *liveJob) follow(ctx context.Context, onLine func(string)) (jobResult, error) {
	next := 0
	for {
		lines, done, res, wait := j.since(next)
		for _, line := range lines {
			onLine(line)
		}
		next += len(lines)
		if done {
			return res, nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return jobResult{}, ctx.Err()
		}
	}
}

// lineWriter splits written bytes into lines.
type lineWriter struct {
	mu      sync.Mutex
	partial strings.Builder
	emit    func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, b := range p {
		if b == '\n' {
			w.emit(strings.TrimRight(w.partial.String(), "\r"))
			w.partial.Reset()
			continue
		}
		w.partial.WriteByte(b)
	}
	return len(p), nil
}

// Flush emits a trailing line without a newline.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.partial.Len() > 0 {
		w.emit(strings.TrimRight(w.partial.String(), "\r"))
		w.partial.Reset()
	}
}

// jobRunner starts registry tools in the background and tracks their
// output.
type jobRunner struct {
	ctx    context.Context
	cancel context.CancelFunc
	reg    *registry.Registry
	store  JobStore
	level  slog.Leveler

	wg    sync.WaitGroup
	mu    sync.Mutex
	live  map[string]*liveJob
	order []string
}

func newJobRunner(reg *registry.Registry, store JobStore, level slog.Leveler) *jobRunner {
	ctx, cancel := context.WithCancel(context.Background())
	return &jobRunner{
		ctx:    ctx,
		cancel: cancel,
		reg:    reg,
		store:  store,
		level:  level,
		live:   make(map[string]*liveJob),
	}
}

// start validates params, records the job and runs the tool asynchronously.
func (r *jobRunner) start(ctx context.Context, name string, raw registry.Params) (*jobstore.Job, *liveJob, error) {
	tool, ok := r.reg.Tool(name)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", errUnknownTool, name)
	}
	params, err := tool.Validate(raw)
	if err != nil {
		return nil, nil, err
	}
	job, err := r.store.Create(ctx, tool.Name, params)
	if err != nil {
		return nil, nil, err
	}
	ctxlog.FromContext(ctx).Info("Job started.", "job", job.ID, "tool", tool.Name)

	live := newLiveJob(job.ID, tool.Name)
	r.retain(live)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctxlog.FromContext(ctx), tool, params, live)
	}()
	return job, live, nil
}

func (r *jobRunner) run(serverLogger *slog.Logger, tool *registry.Tool, params registry.Params, live *liveJob) {
	ctx, span := otel.Tracer(tracerName).Start(r.ctx, "gui.job", trace.WithAttributes(
		attribute.String("conntool.job.id", live.id),
		attribute.String("conntool.job.tool", tool.Name),
	))
	defer span.End()

	w := &lineWriter{emit: live.append}
	logger := slog.New(console.NewHandler(w, r.level))
	ctx = ctxlog.WithLogger(ctx, logger)

	err := runTool(ctx, tool, params, w)
	if err != nil {
		logger.Error(fmt.Sprintf("%s failed: %v", tool.Name, err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	w.Flush()

	res := jobResult{Status: jobstore.StatusSucceeded, Err: err}
	if err != nil {
		res.Status = jobstore.StatusFailed
	}
	if ferr := r.store.Finish(context.WithoutCancel(ctx), live.id, err, len(live.output())); ferr != nil {
		serverLogger.Error("Failed to record job result.", "job", live.id, "error", ferr)
	}
	live.finish(res)
	serverLogger.Info("Job finished.", "job", live.id, "tool", tool.Name, "status", res.Status)
}

// runTool runs tool, turning a panic into an error.
func runTool(ctx context.Context, tool *registry.Tool, params registry.Params, w *lineWriter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return tool.Run(ctx, params, w)
}

// retain keeps live in memory, evicting the oldest finished jobs.
func (r *jobRunner) retain(live *liveJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[live.id] = live
	r.order = append(r.order, live.id)
	for len(r.order) > maxRetained {
		evicted := false
		for i, id := range r.order {
			if r.live[id].finished() {
				delete(r.live, id)
				r.order = append(r.order[:i], r.order[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			return
		}
	}
}

func (r *jobRunner) lookup(id string) (*liveJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.live[id]
	return j, ok
}

// stop cancels running jobs and waits for them to record their result.
func (r *jobRunner) stop(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running jobs: %w", ctx.Err())
	}
}
