package workflow

import (
	"context"
	"time"

	"github.com/lthibault/jitterbug/v2"

	"github.com/montagehq/montage/internal/job"
	"github.com/montagehq/montage/pkg/metrics"
)

// startPollingLocked runs the poll loop for the current job. The loop owns the
// ticker and stops it on exit, whatever the reason.
func (w *Workflow) startPollingLocked(ctx context.Context, done chan struct{}) {
	if w.cancel != nil {
		w.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	loopDone := make(chan struct{})
	w.cancel = cancel
	w.loopDone = loopDone

	go func(jobID string) {
		defer close(done)
		defer close(loopDone)
		defer cancel()
		w.poll(ctx, jobID)
	}(w.jobID)
}

func (w *Workflow) poll(ctx context.Context, jobID string) {
	ticker := jitterbug.New(w.pollInterval, &jitterbug.Norm{Stdev: w.pollJitter, Mean: 0})
	defer ticker.Stop()

	ceiling := time.NewTimer(w.pollTimeout)
	defer ceiling.Stop()

	metrics.IncreaseJobsTrackedMetric()
	defer metrics.DecreaseJobsTrackedMetric()

	for {
		select {
		case <-ctx.Done():
			w.log.Debugw("polling stopped", "job_id", jobID, "reason", ctx.Err())
			w.release(jobID, ctx.Err())
			return
		case <-ceiling.C:
			w.abandon(jobID)
			return
		case <-ticker.C:
		}

		status, err := w.api.GetJob(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			metrics.IncreaseJobPollsMetric(metrics.ResultFailure)
			w.log.Debugw("failed to poll job status, retrying on next tick", "job_id", jobID, "error", err)
			continue
		}
		metrics.IncreaseJobPollsMetric(metrics.ResultSuccess)

		if w.handleStatus(jobID, status) {
			return
		}
	}
}

// handleStatus applies one status response and reports whether polling must
// stop.
func (w *Workflow) handleStatus(jobID string, status *job.Status) bool {
	w.mu.Lock()
	// ignore responses that arrive after a terminal state or for a job that is
	// no longer tracked
	if w.state.Terminal() || w.jobID != jobID {
		w.mu.Unlock()
		return true
	}

	changed := w.applyStatusLocked(status)
	terminal := w.state.Terminal()
	if !changed {
		w.mu.Unlock()
		return terminal
	}
	view := w.viewLocked()
	w.mu.Unlock()

	w.notify(view)
	return terminal
}

// applyStatusLocked folds a status into the workflow and reports whether
// anything visible changed.
func (w *Workflow) applyStatusLocked(status *job.Status) bool {
	before := w.snapshot.Value()
	beforeStage := w.stage

	if progress, err := status.Progress.Normalize(); err == nil {
		if progress.Percentage != nil {
			w.snapshot.Processing(*progress.Percentage)
		}
		if label := progress.Label(); label != "" {
			w.stage = label
		}
	} else if status.Progress.Kind != job.PayloadAbsent {
		w.log.Debugw("ignoring progress payload", "job_id", w.jobID, "error", err)
	}

	switch status.Class() {
	case job.ClassSucceeded:
		w.state = StateDone
		w.snapshot.Complete()
		w.artifactURL = w.api.DownloadURL(w.jobID, w.format)
		w.log.Infow("job finished", "job_id", w.jobID, "artifact", w.artifactURL)
	case job.ClassFailed:
		w.state = StateFailed
		w.failure = newProcessingFailure(status.Error)
		w.log.Infow("job failed", "job_id", w.jobID, "status", status.Status, "error", status.Error)
	case job.ClassUnknown:
		w.log.Debugw("unrecognized job status", "job_id", w.jobID, "status", status.Status)
		return w.snapshot.Value() != before || w.stage != beforeStage
	default:
		return w.snapshot.Value() != before || w.stage != beforeStage
	}

	metrics.IncreaseJobTerminalMetric(string(w.state))
	return true
}

// release returns a job whose polling was cancelled by its caller to the idle
// state. The job id is kept so the job can be tracked again. A closed workflow
// is left as it is.
func (w *Workflow) release(jobID string, err error) {
	w.mu.Lock()
	if w.closed || w.state.Terminal() || w.jobID != jobID {
		w.mu.Unlock()
		return
	}
	w.state = StateIdle
	w.stopErr = err
	view := w.viewLocked()
	w.mu.Unlock()

	w.notify(view)
}

func (w *Workflow) abandon(jobID string) {
	w.mu.Lock()
	if w.state.Terminal() || w.jobID != jobID {
		w.mu.Unlock()
		return
	}
	w.state = StateAbandoned
	w.failure = newStalledFailure(jobID)
	view := w.viewLocked()
	w.mu.Unlock()

	metrics.IncreaseJobTerminalMetric(string(StateAbandoned))
	w.log.Infow("job is taking longer than expected, polling stopped", "job_id", jobID, "timeout", w.pollTimeout)
	w.notify(view)
}
