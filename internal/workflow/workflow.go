package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/montagehq/montage/internal/client"
	"github.com/montagehq/montage/internal/job"
	"github.com/montagehq/montage/internal/media"
	"github.com/montagehq/montage/pkg/metrics"
)

const (
	DefaultPollInterval = 3 * time.Second
	DefaultPollTimeout  = 10 * time.Minute
)

// JobAPI is the part of the backend the workflow depends on.
type JobAPI interface {
	CreateJob(ctx context.Context, r *job.Request, listener client.UploadListener) (*job.Created, error)
	GetJob(ctx context.Context, id string) (*job.Status, error)
	DownloadURL(id, format string) string
}

// Params are the user chosen output parameters of a submission.
type Params struct {
	TargetDuration int
	Style          string
	Format         string
}

type WorkflowOpts func(w *Workflow)

func WithPollInterval(d time.Duration) WorkflowOpts {
	return func(w *Workflow) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

func WithPollTimeout(d time.Duration) WorkflowOpts {
	return func(w *Workflow) {
		if d > 0 {
			w.pollTimeout = d
		}
	}
}

// WithPollJitter adds normally distributed jitter with the given standard
// deviation to every poll tick. The deviation is capped at half the poll
// interval.
func WithPollJitter(stdev time.Duration) WorkflowOpts {
	return func(w *Workflow) {
		if stdev > 0 {
			w.pollJitter = stdev
		}
	}
}

func WithMaxArchiveBytes(n int64) WorkflowOpts {
	return func(w *Workflow) {
		if n > 0 {
			w.maxArchiveBytes = n
		}
	}
}

func WithListener(l Listener) WorkflowOpts {
	return func(w *Workflow) {
		if l != nil {
			w.listeners = append(w.listeners, l)
		}
	}
}

// Workflow selects media, submits one job and tracks it until it reaches a
// terminal state. Only one job is tracked at a time.
type Workflow struct {
	api             JobAPI
	log             *zap.SugaredLogger
	pollInterval    time.Duration
	pollTimeout     time.Duration
	pollJitter      time.Duration
	maxArchiveBytes int64
	listeners       []Listener

	mu          sync.Mutex
	state       State
	selection   *media.Selection
	jobID       string
	format      string
	snapshot    job.Snapshot
	stage       string
	artifactURL string
	failure     *Failure
	stopErr     error
	seq         uint64
	closed      bool
	// done is closed once the current submission or tracking session ends
	done     chan struct{}
	cancel   context.CancelFunc
	loopDone chan struct{}

	notifyMu  sync.Mutex
	delivered uint64
}

func New(api JobAPI, opts ...WorkflowOpts) *Workflow {
	w := &Workflow{
		api:             api,
		log:             zap.S().Named("workflow"),
		pollInterval:    DefaultPollInterval,
		pollTimeout:     DefaultPollTimeout,
		maxArchiveBytes: media.DefaultMaxArchiveBytes,
		state:           StateIdle,
	}
	for _, o := range opts {
		o(w)
	}
	// keep ticks from collapsing into back to back requests
	if limit := w.pollInterval / 2; w.pollJitter > limit {
		w.log.Debugw("poll jitter capped", "jitter", w.pollJitter, "limit", limit)
		w.pollJitter = limit
	}
	return w
}

// Select validates src and replaces the current selection. On error the
// selection is cleared and the failure is reported to listeners.
func (w *Workflow) Select(src media.Source) (*media.Selection, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrClosed
	}
	if w.state.InFlight() {
		w.mu.Unlock()
		return nil, ErrSubmissionInFlight
	}

	selection, err := media.Select(src, media.WithMaxArchiveBytes(w.maxArchiveBytes))
	w.resetLocked()
	if err != nil {
		w.selection = nil
		w.state = StateFailed
		w.failure = newSelectionFailure(err)
		w.log.Infow("input rejected", "source", src.Name, "kind", w.failure.Kind, "error", err)
	} else {
		w.selection = selection
		w.state = StateIdle
	}
	view := w.viewLocked()
	w.mu.Unlock()

	w.notify(view)
	if err != nil {
		return nil, view.Failure
	}
	return selection, nil
}

// CanSubmit reports whether Submit would be accepted.
func (w *Workflow) CanSubmit() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.closed && w.selection != nil && !w.state.InFlight()
}

// Submit uploads the current selection and starts polling the created job.
// It returns once the job is created or the submission failed; use Wait or
// Done for the outcome.
func (w *Workflow) Submit(ctx context.Context, p Params) (*job.Created, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrClosed
	}
	if w.state.InFlight() {
		w.mu.Unlock()
		return nil, ErrSubmissionInFlight
	}
	if w.selection == nil {
		w.mu.Unlock()
		return nil, ErrNothingSelected
	}

	selection := w.selection
	req, err := job.NewRequest(selection.Items,
		job.WithTargetDuration(p.TargetDuration),
		job.WithStyle(p.Style),
		job.WithFormat(p.Format),
	)
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}

	w.resetLocked()
	w.state = StateUploading
	w.format = req.Format
	done := make(chan struct{})
	w.done = done
	view := w.viewLocked()
	w.mu.Unlock()
	w.notify(view)

	w.log.Infow("submitting job", "source", selection.Source, "items", len(req.Items), "bytes", selection.TotalBytes(), "format", req.Format)

	created, err := w.api.CreateJob(ctx, req, client.UploadListenerFunc(w.onUploadProgress))
	if err != nil {
		metrics.IncreaseJobSubmissionsMetric(metrics.ResultFailure)

		w.mu.Lock()
		w.state = StateFailed
		w.failure = newSubmissionFailure(err)
		w.snapshot.Reset()
		view = w.viewLocked()
		w.mu.Unlock()
		close(done)

		w.log.Errorw("submission failed", "error", err)
		w.notify(view)
		return nil, view.Failure
	}
	metrics.IncreaseJobSubmissionsMetric(metrics.ResultSuccess)

	w.mu.Lock()
	w.jobID = created.ID
	w.state = StateProcessing
	w.snapshot.UploadDone()
	w.log.Infow("job created", "job_id", created.ID, "status", created.Status)

	switch {
	case job.Classify(created.Status).Terminal():
		w.applyStatusLocked(&job.Status{Status: created.Status})
		close(done)
	case w.closed:
		close(done)
	default:
		w.startPollingLocked(ctx, done)
	}
	view = w.viewLocked()
	w.mu.Unlock()

	w.notify(view)
	return created, nil
}

// Track resumes polling an existing job without uploading anything. An empty
// format falls back to the default one.
func (w *Workflow) Track(ctx context.Context, jobID string, format string) error {
	if jobID == "" {
		return errors.New("job id is required")
	}
	if format == "" {
		format = job.DefaultFormat
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.state.InFlight() {
		w.mu.Unlock()
		return ErrSubmissionInFlight
	}

	w.resetLocked()
	w.jobID = jobID
	w.format = format
	w.state = StateProcessing
	w.snapshot.UploadDone()
	done := make(chan struct{})
	w.done = done
	w.startPollingLocked(ctx, done)
	view := w.viewLocked()
	w.mu.Unlock()

	w.log.Infow("tracking job", "job_id", jobID)
	w.notify(view)
	return nil
}

// Snapshot returns the current view.
func (w *Workflow) Snapshot() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.viewLocked()
}

// Done is closed when the current submission or tracking session ends. It is
// nil before the first Submit or Track.
func (w *Workflow) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

// Wait blocks until the current job reaches a terminal state. The returned
// error is the failure of a failed or abandoned job, ErrClosed when polling
// was stopped by Close, the error of the context polling ran on when that was
// cancelled, or the error of ctx.
func (w *Workflow) Wait(ctx context.Context) (View, error) {
	w.mu.Lock()
	done := w.done
	view := w.viewLocked()
	w.mu.Unlock()

	if view.State.Terminal() {
		return view, view.Err()
	}
	if done == nil {
		return view, ErrNotTracking
	}

	select {
	case <-ctx.Done():
		return w.Snapshot(), ctx.Err()
	case <-done:
	}

	w.mu.Lock()
	view = w.viewLocked()
	stopErr := w.stopErr
	w.mu.Unlock()
	if !view.State.Terminal() {
		if stopErr != nil {
			return view, stopErr
		}
		return view, ErrClosed
	}
	return view, view.Err()
}

// Close stops polling and waits for the polling goroutine to exit. It is safe
// to call more than once.
func (w *Workflow) Close() {
	w.mu.Lock()
	w.closed = true
	cancel, loopDone := w.cancel, w.loopDone
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if loopDone != nil {
		<-loopDone
	}
}

func (w *Workflow) onUploadProgress(sent, total int64) {
	w.mu.Lock()
	if w.state != StateUploading {
		w.mu.Unlock()
		return
	}
	before := w.snapshot.Percent()
	w.snapshot.Upload(sent, total)
	if w.snapshot.Percent() == before {
		w.mu.Unlock()
		return
	}
	view := w.viewLocked()
	w.mu.Unlock()

	w.notify(view)
}

func (w *Workflow) resetLocked() {
	w.jobID = ""
	w.format = ""
	w.stage = ""
	w.artifactURL = ""
	w.failure = nil
	w.stopErr = nil
	w.snapshot.Reset()
}

func (w *Workflow) viewLocked() View {
	w.seq++
	return View{
		State:       w.state,
		Selection:   w.selection,
		JobID:       w.jobID,
		Format:      w.format,
		Progress:    w.snapshot.Value(),
		Stage:       w.stage,
		ArtifactURL: w.artifactURL,
		Failure:     w.failure,
		seq:         w.seq,
	}
}

// notify delivers views in the order they were taken and drops any view that
// was overtaken by a newer one.
func (w *Workflow) notify(view View) {
	if len(w.listeners) == 0 {
		return
	}
	w.notifyMu.Lock()
	defer w.notifyMu.Unlock()
	if view.seq <= w.delivered {
		return
	}
	w.delivered = view.seq
	for _, l := range w.listeners {
		l.OnUpdate(view)
	}
}
