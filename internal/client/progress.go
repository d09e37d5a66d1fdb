package client

import (
	"io"
	"sync/atomic"
)

// UploadListener receives the number of request body bytes handed to the
// transport so far.
type UploadListener interface {
	OnUploadProgress(sent, total int64)
}

// UploadListenerFunc adapts a plain function to UploadListener.
type UploadListenerFunc func(sent, total int64)

func (f UploadListenerFunc) OnUploadProgress(sent, total int64) {
	f(sent, total)
}

// countingReader is a wrapper around the request body to report upload
// progress.
type countingReader struct {
	r        io.Reader
	sent     atomic.Int64
	total    int64
	listener UploadListener
}

func newCountingReader(r io.Reader, total int64, listener UploadListener) *countingReader {
	return &countingReader{r: r, total: total, listener: listener}
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		sent := c.sent.Add(int64(n))
		if c.listener != nil {
			c.listener.OnUploadProgress(sent, c.total)
		}
	}
	return n, err
}

func (c *countingReader) Sent() int64 {
	return c.sent.Load()
}
