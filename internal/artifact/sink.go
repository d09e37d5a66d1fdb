package artifact

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sink stores a rendered artifact and returns where it ended up.
type Sink interface {
	// Put stores r under name. A negative size means the length is unknown.
	Put(ctx context.Context, name string, r io.Reader, size int64) (string, error)
	Type() string
}

// Downloader streams the artifact of a finished job.
type Downloader interface {
	Download(ctx context.Context, id, format string, dst io.Writer) (int64, error)
}

// Name is the object name used for the artifact of a job.
func Name(jobID, format string) string {
	return fmt.Sprintf("montage-%s-%s.mp4", jobID, format)
}

// Save streams the artifact of jobID from d into sink without buffering it in
// memory.
func Save(ctx context.Context, d Downloader, sink Sink, jobID, format string) (string, int64, error) {
	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)

	var (
		written  int64
		location string
	)
	g.Go(func() error {
		n, err := d.Download(gctx, jobID, format, pw)
		written = n
		_ = pw.CloseWithError(err)
		if err != nil {
			return errors.Wrapf(err, "failed to download artifact of job %s", jobID)
		}
		return nil
	})
	g.Go(func() error {
		loc, err := sink.Put(gctx, Name(jobID, format), pr, -1)
		// unblocks the download if the sink gave up early
		_ = pr.CloseWithError(err)
		if err != nil {
			return errors.Wrapf(err, "failed to store artifact in %s", sink.Type())
		}
		location = loc
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", written, err
	}

	zap.S().Named("artifact").Infow("artifact saved", "job_id", jobID, "format", format, "sink", sink.Type(), "location", location, "bytes", written)
	return location, written, nil
}
