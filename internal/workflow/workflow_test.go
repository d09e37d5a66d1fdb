package workflow_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/klauspost/compress/zip"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/montagehq/montage/internal/client"
	"github.com/montagehq/montage/internal/job"
	"github.com/montagehq/montage/internal/media"
	"github.com/montagehq/montage/internal/workflow"
)

const pollInterval = 10 * time.Millisecond

func clip() media.Source {
	return media.Source{Name: "clip.mp4", MIMEType: "video/mp4", Data: make([]byte, 2<<20)}
}

func archive(names ...string) media.Source {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		Expect(err).To(BeNil())
		_, err = w.Write([]byte("content of " + name))
		Expect(err).To(BeNil())
	}
	Expect(zw.Close()).To(Succeed())
	return media.Source{Name: "archive.zip", MIMEType: "application/zip", Data: buf.Bytes()}
}

func encodedProgress(pct float64, message string) job.Payload {
	return job.NewEncodedPayload(job.Progress{Percentage: &pct, Message: message})
}

func rawStatus(body string) pollResult {
	var s job.Status
	Expect(json.Unmarshal([]byte(body), &s)).To(Succeed())
	return pollResult{status: &s}
}

var _ = Describe("workflow", func() {
	var (
		ctx context.Context
		api *fakeJobAPI
		rec *recorder
		w   *workflow.Workflow
	)

	newWorkflow := func(opts ...workflow.WorkflowOpts) *workflow.Workflow {
		opts = append([]workflow.WorkflowOpts{
			workflow.WithPollInterval(pollInterval),
			workflow.WithPollTimeout(5 * time.Second),
			workflow.WithListener(rec),
		}, opts...)
		wf := workflow.New(api, opts...)
		DeferCleanup(wf.Close)
		return wf
	}

	BeforeEach(func() {
		ctx = context.Background()
		api = newFakeJobAPI()
		rec = &recorder{}
		w = newWorkflow()
	})

	Context("select", func() {
		It("accepts a single video", func() {
			selection, err := w.Select(clip())
			Expect(err).To(BeNil())
			Expect(selection.Items).To(HaveLen(1))
			Expect(w.CanSubmit()).To(BeTrue())
			Expect(w.Snapshot().State).To(Equal(workflow.StateIdle))
		})

		It("rejects unsupported files and disables submission", func() {
			_, err := w.Select(media.Source{Name: "notes.txt", MIMEType: "text/plain", Data: []byte("hi")})

			var failure *workflow.Failure
			Expect(errors.As(err, &failure)).To(BeTrue())
			Expect(failure.Kind).To(Equal(workflow.FailureUnsupportedType))
			Expect(failure.Message).To(HavePrefix("unsupported file type"))
			Expect(w.CanSubmit()).To(BeFalse())

			_, err = w.Submit(ctx, workflow.Params{TargetDuration: 30})
			Expect(err).To(MatchError(workflow.ErrNothingSelected))
			Expect(api.CreateCalls()).To(BeZero())
		})

		It("reports an archive without videos and never calls the backend", func() {
			_, err := w.Select(archive("readme.txt", "notes.pdf"))

			var failure *workflow.Failure
			Expect(errors.As(err, &failure)).To(BeTrue())
			Expect(failure.Kind).To(Equal(workflow.FailureEmptyArchive))
			Expect(failure.Message).To(Equal("no video files found in archive"))
			Expect(w.Snapshot().Failure).To(Equal(failure))
			Expect(w.CanSubmit()).To(BeFalse())
			Expect(api.CreateCalls()).To(BeZero())
		})

		It("reports a corrupt archive", func() {
			_, err := w.Select(media.Source{Name: "broken.zip", MIMEType: "application/zip", Data: []byte("PK\x03\x04 nope")})

			var failure *workflow.Failure
			Expect(errors.As(err, &failure)).To(BeTrue())
			Expect(failure.Kind).To(Equal(workflow.FailureArchiveExtraction))
			Expect(failure.Message).To(HavePrefix("could not extract archive"))
		})

		It("replaces the previous selection", func() {
			_, err := w.Select(clip())
			Expect(err).To(BeNil())
			selection, err := w.Select(archive("a.mp4", "b.mov", "c.txt"))
			Expect(err).To(BeNil())
			Expect(selection.Items).To(HaveLen(2))
			Expect(w.Snapshot().Selection).To(Equal(selection))
		})
	})

	Context("submit", func() {
		It("completes the success scenario", func() {
			api.setResults(
				statusWithProgress("processing", encodedProgress(40, "analyzing")),
				status("success"),
			)
			_, err := w.Select(clip())
			Expect(err).To(BeNil())

			created, err := w.Submit(ctx, workflow.Params{TargetDuration: 30})
			Expect(err).To(BeNil())
			Expect(created.ID).To(Equal("job_1"))

			view, err := w.Wait(ctx)
			Expect(err).To(BeNil())
			Expect(view.State).To(Equal(workflow.StateDone))
			Expect(view.Progress).To(BeNumerically("==", 100))
			Expect(view.ArtifactURL).To(Equal("http://localhost:8000/jobs/job_1/download?format=landscape"))
			Expect(view.Stage).To(Equal("analyzing"))

			var sawSeventy bool
			for _, v := range rec.Views() {
				if v.Progress == 70 && v.Stage == "analyzing" {
					sawSeventy = true
				}
			}
			Expect(sawSeventy).To(BeTrue())
		})

		It("never decreases the progress and reaches 100 only at the end", func() {
			api.setResults(
				statusWithProgress("processing", encodedProgress(10, "analyzing")),
				statusWithProgress("processing", job.NewObjectPayload(job.Progress{Percentage: ptr(60.0), Stage: "encoding"})),
				statusWithProgress("processing", encodedProgress(30, "late")),
				statusWithProgress("processing", encodedProgress(100, "finalizing")),
				status("Completed"),
			)
			_, err := w.Select(clip())
			Expect(err).To(BeNil())
			_, err = w.Submit(ctx, workflow.Params{TargetDuration: 30})
			Expect(err).To(BeNil())

			_, err = w.Wait(ctx)
			Expect(err).To(BeNil())

			views := rec.Views()
			Expect(len(views)).To(BeNumerically(">", 3))
			for i := 1; i < len(views); i++ {
				Expect(views[i].Progress).To(BeNumerically(">=", views[i-1].Progress))
			}
			for _, v := range views[:len(views)-1] {
				Expect(v.Progress).To(BeNumerically("<", 100))
			}
			last := views[len(views)-1]
			Expect(last.State).To(Equal(workflow.StateDone))
			Expect(last.Progress).To(BeNumerically("==", 100))
		})

		It("keeps the upload within the first half", func() {
			api.setResults(status("processing"))
			_, err := w.Select(clip())
			Expect(err).To(BeNil())
			_, err = w.Submit(ctx, workflow.Params{TargetDuration: 30})
			Expect(err).To(BeNil())

			var uploading []float64
			for _, v := range rec.Views() {
				if v.State == workflow.StateUploading {
					uploading = append(uploading, v.Progress)
				}
			}
			Expect(uploading).To(ContainElement(BeNumerically("==", 25)))
			Expect(uploading).To(HaveEach(BeNumerically("<=", 50)))
			Expect(w.Snapshot().Progress).To(BeNumerically("==", 50))
		})

		It("sends the request parameters", func() {
			api.setResults(status("success"))
			_, err := w.Select(archive("a.mp4", "b.MOV"))
			Expect(err).To(BeNil())
			_, err = w.Submit(ctx, workflow.Params{TargetDuration: 45, Style: "hype", Format: "portrait"})
			Expect(err).To(BeNil())

			view, err := w.Wait(ctx)
			Expect(err).To(BeNil())
			Expect(view.ArtifactURL).To(HaveSuffix("format=portrait"))

			Expect(api.requests).To(HaveLen(1))
			r := api.requests[0]
			Expect(r.Items).To(HaveLen(2))
			Expect(r.Items[1].MIMEType).To(Equal("video/quicktime"))
			Expect(r.TargetDuration).To(Equal(45))
			Expect(r.Style).To(Equal("hype"))
			Expect(r.Format).To(Equal("portrait"))
		})

		It("rejects invalid parameters without calling the backend", func() {
			_, err := w.Select(clip())
			Expect(err).To(BeNil())
			_, err = w.Submit(ctx, workflow.Params{TargetDuration: 0})
			Expect(err).NotTo(BeNil())
			Expect(api.CreateCalls()).To(BeZero())
			Expect(w.CanSubmit()).To(BeTrue())
		})

		It("makes one network call when submitted twice", func() {
			gate := make(chan struct{})
			api.createGate = gate
			_, err := w.Select(clip())
			Expect(err).To(BeNil())

			first := make(chan error, 1)
			go func() {
				_, err := w.Submit(ctx, workflow.Params{TargetDuration: 30})
				first <- err
			}()
			Eventually(func() workflow.State { return w.Snapshot().State }).Should(Equal(workflow.StateUploading))

			_, err = w.Submit(ctx, workflow.Params{TargetDuration: 30})
			Expect(err).To(MatchError(workflow.ErrSubmissionInFlight))
			Expect(w.CanSubmit()).To(BeFalse())

			_, err = w.Select(clip())
			Expect(err).To(MatchError(workflow.ErrSubmissionInFlight))

			close(gate)
			Eventually(first).Should(Receive(BeNil()))
			Expect(api.CreateCalls()).To(Equal(1))
		})

		It("also rejects a submission while the job is processing", func() {
			_, err := w.Select(clip())
			Expect(err).To(BeNil())
			_, err = w.Submit(ctx, workflow.Params{TargetDuration: 30})
			Expect(err).To(BeNil())
			Expect(w.Snapshot().State).To(Equal(workflow.StateProcessing))

			_, err = w.Submit(ctx, workflow.Params{TargetDuration: 30})
			Expect(err).To(MatchError(workflow.ErrSubmissionInFlight))
			Expect(api.CreateCalls()).To(Equal(1))
		})

		It("releases the guard after a failed submission", func() {
			api.createErr = client.NewErrUnexpectedStatus(500, []byte(`{"detail":"quota exceeded"}`))
			_, err := w.Select(clip())
			Expect(err).To(BeNil())

			_, err = w.Submit(ctx, workflow.Params{TargetDuration: 30})
			var failure *workflow.Failure
			Expect(errors.As(err, &failure)).To(BeTrue())
			Expect(failure.Kind).To(Equal(workflow.FailureSubmission))
			Expect(failure.Message).To(Equal("upload failed: quota exceeded"))

			var statusErr *client.ErrUnexpectedStatus
			Expect(errors.As(err, &statusErr)).To(BeTrue())

			view := w.Snapshot()
			Expect(view.State).To(Equal(workflow.StateFailed))
			Expect(view.Progress).To(BeNumerically("==", 0))
			Expect(view.Selection).NotTo(BeNil())
			Expect(w.CanSubmit()).To(BeTrue())

			_, err = w.Wait(ctx)
			Expect(err).To(Equal(failure))

			api.createErr = nil
			api.setResults(status("success"))
			_, err = w.Submit(ctx, workflow.Params{TargetDuration: 30})
			Expect(err).To(BeNil())
			view, err = w.Wait(ctx)
			Expect(err).To(BeNil())
			Expect(view.State).To(Equal(workflow.StateDone))
			Expect(api.CreateCalls()).To(Equal(2))
		})

		It("uses the transport error when there is no server detail", func() {
			api.createErr = errors.New("connection reset by peer")
			_, err := w.Select(clip())
			Expect(err).To(BeNil())

			_, err = w.Submit(ctx, workflow.Params{TargetDuration: 30})
			Expect(err).To(MatchError("upload failed: connection reset by peer"))
		})

		It("applies a terminal creation status without polling", func() {
			api.created = &job.Created{ID: "job_2", Status: "COMPLETED"}
			_, err := w.Select(clip())
			Expect(err).To(BeNil())
			_, err = w.Submit(ctx, workflow.Params{TargetDuration: 30})
			Expect(err).To(BeNil())

			view, err := w.Wait(ctx)
			Expect(err).To(BeNil())
			Expect(view.State).To(Equal(workflow.StateDone))
			Expect(view.ArtifactURL).To(Equal("http://localhost:8000/jobs/job_2/download?format=landscape"))
			Consistently(api.GetCalls, 5*pollInterval).Should(BeZero())
		})
	})

	Context("poll", func() {
		BeforeEach(func() {
			_, err := w.Select(clip())
			Expect(err).To(BeNil())
		})

		It("surfaces a processing failure", func() {
			api.setResults(status("processing"), failedStatus("bad codec"))
			_, err := w.Submit(ctx, workflow.Params{TargetDuration: 30})
			Expect(err).To(BeNil())

			view, err := w.Wait(ctx)
			var failure *workflow.Failure
			Expect(errors.As(err, &failure)).To(BeTrue())
			Expect(failure.Kind).To(Equal(workflow.FailureProcessing))
			Expect(failure.Message).To(Equal("processing failed: bad codec"))
			Expect(view.State).To(Equal(workflow.StateFailed))
			Expect(view.ArtifactURL).To(BeEmpty())
		})

		It("uses a generic message when the backend gives no reason", func() {
			api.setResults(status("error"))
			_, err := w.Submit(ctx, workflow.Params{TargetDuration: 30})
			Expect(err).To(BeNil())

			_, err = w.Wait(ctx)
			Expect(err).To(MatchError("processing failed"))
		})

		It("stops polling once a terminal status is seen", func() {
			api.setResults(status("processing"), status("done"))
			_, err := w.Submit(ctx, workflow.Params{TargetDuration: 30})
			Expect(err).To(BeNil())
			_, err = w.Wait(ctx)
			Expect(err).To(BeNil())

			calls := api.GetCalls()
			Expect(calls).To(Equal(2))
			Consistently(api.GetCalls, 10*pollInterval).Should(Equal(calls))
		})

		It("swallows a transient poll failure", func() {
			api.setResults(
				pollResult{err: errors.New("network is unreachable")},
				pollResult{err: client.NewErrUnexpectedStatus(503, nil)},
				status("processing"),
				status("success"),
			)
			_, err := w.Submit(ctx, workflow.Params{TargetDuration: 30})
			Expect(err).To(BeNil())

			view, err := w.Wait(ctx)
			Expect(err).To(BeNil())
			Expect(view.State).To(Equal(workflow.StateDone))
			Expect(rec.States()).NotTo(ContainElement(workflow.StateFailed))
			for _, v := range rec.Views() {
				Expect(v.Failure).To(BeNil())
			}
			Expect(api.GetCalls()).To(Equal(4))
		})

		It("ignores malformed progress payloads", func() {
			api.setResults(
				rawStatus(`{"status":"processing","progress":"{not json"}`),
				rawStatus(`{"status":"processing","progress":{"percentage":400}}`),
				rawStatus(`{"status":"processing","progress":{"percentage":20,"message":"encoding"}}`),
				status("success"),
			)
			_, err := w.Submit(ctx, workflow.Params{TargetDuration: 30})
			Expect(err).To(BeNil())

			view, err := w.Wait(ctx)
			Expect(err).To(BeNil())
			Expect(view.State).To(Equal(workflow.StateDone))

			var progress []float64
			for _, v := range rec.Views() {
				if v.State == workflow.StateProcessing {
					progress = append(progress, v.Progress)
				}
			}
			Expect(progress).To(Equal([]float64{50, 60}))
		})

		It("treats unknown statuses as still running", func() {
			api.setResults(status("paused"), status("SUCCEEDED"))
			_, err := w.Submit(ctx, workflow.Params{TargetDuration: 30})
			Expect(err).To(BeNil())

			view, err := w.Wait(ctx)
			Expect(err).To(BeNil())
			Expect(view.State).To(Equal(workflow.StateDone))
		})

		It("abandons the job after the poll timeout", func() {
			w = newWorkflow(workflow.WithPollTimeout(100 * time.Millisecond))
			_, err := w.Select(clip())
			Expect(err).To(BeNil())
			_, err = w.Submit(ctx, workflow.Params{TargetDuration: 30})
			Expect(err).To(BeNil())

			view, err := w.Wait(ctx)
			var failure *workflow.Failure
			Expect(errors.As(err, &failure)).To(BeTrue())
			Expect(failure.Kind).To(Equal(workflow.FailureStalled))
			Expect(failure.Message).To(Equal("job job_1 is taking longer than expected, check back later"))
			Expect(view.State).To(Equal(workflow.StateAbandoned))
			Expect(view.JobID).To(Equal("job_1"))

			calls := api.GetCalls()
			Consistently(api.GetCalls, 10*pollInterval).Should(Equal(calls))
			Expect(w.CanSubmit()).To(BeTrue())
		})

		It("stops polling on close", func() {
			_, err := w.Submit(ctx, workflow.Params{TargetDuration: 30})
			Expect(err).To(BeNil())
			Eventually(api.GetCalls).Should(BeNumerically(">=", 2))

			w.Close()
			calls := api.GetCalls()
			Consistently(api.GetCalls, 10*pollInterval).Should(Equal(calls))

			view, err := w.Wait(ctx)
			Expect(err).To(MatchError(workflow.ErrClosed))
			Expect(view.State).To(Equal(workflow.StateProcessing))
			Eventually(w.Done()).Should(BeClosed())

			w.Close()
			_, err = w.Submit(ctx, workflow.Params{TargetDuration: 30})
			Expect(err).To(MatchError(workflow.ErrClosed))
		})

		It("stops polling when the caller context is cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			_, err := w.Submit(cctx, workflow.Params{TargetDuration: 30})
			Expect(err).To(BeNil())
			Eventually(api.GetCalls).Should(BeNumerically(">=", 1))

			cancel()
			Eventually(w.Done()).Should(BeClosed())
			calls := api.GetCalls()
			Consistently(api.GetCalls, 10*pollInterval).Should(Equal(calls))
		})

		It("releases the workflow when the caller context is cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			_, err := w.Submit(cctx, workflow.Params{TargetDuration: 30})
			Expect(err).To(BeNil())
			Eventually(api.GetCalls).Should(BeNumerically(">=", 1))

			cancel()
			Eventually(w.Done()).Should(BeClosed())

			view, err := w.Wait(ctx)
			Expect(err).To(MatchError(context.Canceled))
			Expect(view.State).To(Equal(workflow.StateIdle))
			Expect(view.JobID).To(Equal("job_1"))
			Expect(w.CanSubmit()).To(BeTrue())

			api.setResults(status("completed"))
			Expect(w.Track(ctx, view.JobID, "")).To(Succeed())
			view, err = w.Wait(ctx)
			Expect(err).To(BeNil())
			Expect(view.State).To(Equal(workflow.StateDone))
			Expect(view.JobID).To(Equal("job_1"))
		})

		It("returns the context error while waiting", func() {
			_, err := w.Submit(ctx, workflow.Params{TargetDuration: 30})
			Expect(err).To(BeNil())

			wctx, cancel := context.WithTimeout(ctx, 5*pollInterval)
			defer cancel()
			_, err = w.Wait(wctx)
			Expect(err).To(MatchError(context.DeadlineExceeded))
		})
	})

	Context("track", func() {
		It("resumes polling an existing job", func() {
			api.setResults(statusWithProgress("running", encodedProgress(50, "rendering")), status("finished"))

			Expect(w.Track(ctx, "job_9", "square")).To(Succeed())
			Expect(w.Snapshot().State).To(Equal(workflow.StateProcessing))

			view, err := w.Wait(ctx)
			Expect(err).To(BeNil())
			Expect(view.JobID).To(Equal("job_9"))
			Expect(view.ArtifactURL).To(Equal("http://localhost:8000/jobs/job_9/download?format=square"))
			Expect(api.polledIDs).To(HaveEach(Equal("job_9")))
			Expect(api.CreateCalls()).To(BeZero())
		})

		It("is guarded by the in flight rule", func() {
			Expect(w.Track(ctx, "job_9", "")).To(Succeed())
			Expect(w.Track(ctx, "job_10", "")).To(MatchError(workflow.ErrSubmissionInFlight))
		})

		It("requires a job id", func() {
			Expect(w.Track(ctx, "", "")).NotTo(Succeed())
		})
	})

	It("reports nothing to wait for before a submission", func() {
		_, err := w.Wait(ctx)
		Expect(err).To(MatchError(workflow.ErrNotTracking))
		Expect(w.Done()).To(BeNil())
	})
})

func ptr[T any](v T) *T {
	return &v
}
