package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/montagehq/montage/internal/job"
	"github.com/montagehq/montage/pkg/metrics"
	"github.com/montagehq/montage/pkg/requestid"
)

const (
	createJobOperation   = "create_job"
	getJobOperation      = "get_job"
	downloadJobOperation = "download_job"

	// error bodies are only read for their detail field
	maxErrorBodyBytes = 64 << 10
)

// JobClient talks to the montage backend job endpoints.
type JobClient struct {
	baseURL        string
	token          string
	requestTimeout time.Duration
	httpClient     *http.Client
}

type JobClientOpts func(c *JobClient)

func WithHTTPClient(httpClient *http.Client) JobClientOpts {
	return func(c *JobClient) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithToken(token string) JobClientOpts {
	return func(c *JobClient) {
		c.token = strings.TrimSpace(token)
	}
}

// WithRequestTimeout bounds status requests. Zero keeps the default.
func WithRequestTimeout(timeout time.Duration) JobClientOpts {
	return func(c *JobClient) {
		if timeout > 0 {
			c.requestTimeout = timeout
		}
	}
}

func NewJobClient(baseURL string, opts ...JobClientOpts) (*JobClient, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q: scheme and host are required", baseURL)
	}

	c := &JobClient{
		baseURL:        strings.TrimRight(u.String(), "/"),
		requestTimeout: DefaultRequestTimeout,
		httpClient:     &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *JobClient) BaseURL() string {
	return c.baseURL
}

// CreateJob uploads the request as one multipart body. The listener, when
// set, observes the bytes read by the transport.
func (c *JobClient) CreateJob(ctx context.Context, r *job.Request, listener UploadListener) (*job.Created, error) {
	body, contentType, err := r.Encode()
	if err != nil {
		return nil, err
	}

	total := int64(body.Len())
	reader := newCountingReader(body, total, listener)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.jobsURL(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.ContentLength = total
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req, createJobOperation)
	metrics.AddUploadBytesMetric(reader.Sent())
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var created job.Created
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if created.ID == "" {
		return nil, errors.New("backend accepted the upload without a job id")
	}

	zap.S().Named("client").Debugw("job created", "job_id", created.ID, "status", created.Status, "bytes", total, "items", len(r.Items))
	return &created, nil
}

// GetJob reads the status of one job. It is bounded by the request timeout.
func (c *JobClient) GetJob(ctx context.Context, id string) (*job.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jobURL(id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req, getJobOperation)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var status job.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &status, nil
}

// DownloadURL is the artifact location of a job. It depends only on the
// configured base, the job id and the format.
func (c *JobClient) DownloadURL(id, format string) string {
	q := url.Values{}
	q.Set("format", format)
	return fmt.Sprintf("%s/download?%s", c.jobURL(id), q.Encode())
}

// Download streams the artifact into dst and returns the number of bytes
// written.
func (c *JobClient) Download(ctx context.Context, id, format string, dst io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.DownloadURL(id, format), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.do(req, downloadJobOperation)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	written, err := io.Copy(dst, resp.Body)
	if err != nil {
		return written, fmt.Errorf("failed to read artifact: %w", err)
	}
	if resp.ContentLength >= 0 && written != resp.ContentLength {
		return written, fmt.Errorf("artifact truncated: got %d of %d bytes", written, resp.ContentLength)
	}

	zap.S().Named("client").Debugw("artifact downloaded", "job_id", id, "format", format, "bytes", written)
	return written, nil
}

// do sends the request and turns any non 2xx answer into ErrUnexpectedStatus.
// On success the caller owns the body.
func (c *JobClient) do(req *http.Request, operation string) (*http.Response, error) {
	reqID := requestid.Inject(req)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveRequestDuration(operation, 0, time.Since(start))
		return nil, fmt.Errorf("failed to call backend: %w", err)
	}
	metrics.ObserveRequestDuration(operation, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() {
			_ = resp.Body.Close()
		}()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		zap.S().Named("client").Debugw("backend rejected request", "operation", operation, "status", resp.StatusCode, "request_id", reqID)
		return nil, NewErrUnexpectedStatus(resp.StatusCode, body)
	}
	return resp, nil
}

func (c *JobClient) jobsURL() string {
	return c.baseURL + "/jobs"
}

func (c *JobClient) jobURL(id string) string {
	return c.jobsURL() + "/" + url.PathEscape(id)
}
