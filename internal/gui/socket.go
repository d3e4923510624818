package gui

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vk/conntool/internal/jobstore"
	"github.com/zishang520/socket.io/v2/socket"
)

// Socket.IO events of the live job stream.
const (
	eventSubscribe = "subscribe"
	eventOutput    = "output"
	eventDone      = "done"
	eventError     = "error"
)

// hub streams job output to Socket.IO clients. A client emits "subscribe"
// with a job id and receives one "output" event per line, past lines
// included, followed by a single "done".
type hub struct {
	io     *socket.Server
	jobs   *jobRunner
	store  JobStore
	logger *slog.Logger
}

func newHub(jobs *jobRunner, store JobStore, logger *slog.Logger) *hub {
	opts := socket.DefaultServerOptions()
	opts.SetServeClient(false)
	h := &hub{
		io:     socket.NewServer(nil, opts),
		jobs:   jobs,
		store:  store,
		logger: logger,
	}
	h.io.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		ctx, cancel := context.WithCancel(jobs.ctx)
		h.logger.Debug("Socket.IO client connected.", "sid", client.Id())

		client.On(eventSubscribe, func(args ...any) {
			if len(args) == 0 {
				return
			}
			id, _ := args[0].(string)
			go h.follow(ctx, client, id)
		})
		client.On("disconnect", func(...any) {
			h.logger.Debug("Socket.IO client disconnected.", "sid", client.Id())
			cancel()
		})
	})
	return h
}

// Handler returns the HTTP handler serving the Socket.IO endpoint.
func (h *hub) Handler() http.Handler {
	return h.io.ServeHandler(nil)
}

func (h *hub) follow(ctx context.Context, client *socket.Socket, id string) {
	live, ok := h.jobs.lookup(id)
	if !ok {
		job, err := h.store.Get(ctx, id)
		if err != nil {
			msg := err.Error()
			if errors.Is(err, jobstore.ErrNotFound) {
				msg = "job not found"
			}
			client.Emit(eventError, map[string]any{"job": id, "error": msg})
			return
		}
		client.Emit(eventDone, map[string]any{"job": id, "status": string(job.Status), "error": job.Error})
		return
	}

	res, err := live.follow(ctx, func(line string) {
		client.Emit(eventOutput, map[string]any{"job": id, "line": line})
	})
	if err != nil {
		return
	}
	done := map[string]any{"job": id, "status": string(res.Status)}
	if res.Err != nil {
		done["error"] = res.Err.Error()
	}
	client.Emit(eventDone, done)
}

func (h *hub) close() {
	h.io.Close(nil)
}
