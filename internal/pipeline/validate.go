package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"
)

// ErrCorruptDerivatives is returned when a derivative fails the integrity check.
var ErrCorruptDerivatives = errors.New("corrupt fMRIprep derivatives")

// DefaultFileTimeout bounds the integrity check of a single file.
const DefaultFileTimeout = 20 * time.Second

// CorruptFile is a derivative that did not decompress cleanly.
type CorruptFile struct {
	Path   string
	Detail string
}

// Validator decompresses derivative files to catch truncated or corrupt
// volumes before CONN tries to import them.
type Validator struct {
	// FileTimeout bounds each file; zero means DefaultFileTimeout.
	FileTimeout time.Duration
	// Workers bounds parallel checks; zero means GOMAXPROCS.
	Workers int
}

// Check tests every file and returns the failures in input order. The
// returned error is non-nil only when ctx is cancelled.
func (v Validator) Check(ctx context.Context, files []string) ([]CorruptFile, error) {
	timeout := v.FileTimeout
	if timeout <= 0 {
		timeout = DefaultFileTimeout
	}
	workers := v.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	details := make([]string, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fileCtx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()
			if err := testGzip(fileCtx, path); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				details[i] = describe(err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var corrupt []CorruptFile
	for i, d := range details {
		if d != "" {
			corrupt = append(corrupt, CorruptFile{Path: files[i], Detail: d})
		}
	}
	return corrupt, nil
}

func describe(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return err.Error()
}

// testGzip fully decompresses path, discarding the output.
func testGzip(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zr, err := gzip.NewReader(&ctxReader{ctx: ctx, r: f})
	if err != nil {
		return fmt.Errorf("not in gzip format: %w", err)
	}
	defer zr.Close()

	if _, err := io.Copy(io.Discard, zr); err != nil {
		return err
	}
	return nil
}

// ctxReader fails reads once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
