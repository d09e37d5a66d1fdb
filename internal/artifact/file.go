package artifact

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// FileSink writes artifacts into a local directory.
type FileSink struct {
	dir string
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// PathFor returns the full path for the provided artifact name.
func (s *FileSink) PathFor(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

// Put writes into a temporary file next to the destination and renames it
// once complete, so a partial artifact never shows up under its final name.
func (s *FileSink) Put(ctx context.Context, name string, r io.Reader, size int64) (string, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", errors.Wrap(err, "failed to create artifact directory")
	}

	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(name)+".*")
	if err != nil {
		return "", errors.Wrap(err, "failed to create temporary file")
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	written, err := io.Copy(tmp, &contextReader{ctx: ctx, r: r})
	if err != nil {
		_ = tmp.Close()
		return "", errors.Wrap(err, "failed to write artifact")
	}
	if size >= 0 && written != size {
		_ = tmp.Close()
		return "", errors.Errorf("failed to write the entire artifact. expected bytes %d written %d", size, written)
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrap(err, "failed to close artifact")
	}

	dst := s.PathFor(name)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", errors.Wrap(err, "failed to move artifact into place")
	}
	return dst, nil
}

func (s *FileSink) Type() string {
	return "file"
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
