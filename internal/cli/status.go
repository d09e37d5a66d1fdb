package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/montagehq/montage/internal/job"
	"github.com/montagehq/montage/internal/workflow"
)

type StatusOptions struct {
	GlobalOptions

	Watch  bool
	Format string
	Output string
}

func DefaultStatusOptions() *StatusOptions {
	return &StatusOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdStatus() *cobra.Command {
	o := DefaultStatusOptions()
	cmd := &cobra.Command{
		Use:          "status JOB_ID",
		Short:        "Show the status of a job, or follow it until it finishes.",
		Example:      "status job_1 --watch",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), args)
		},
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *StatusOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.BoolVarP(&o.Watch, "watch", "w", o.Watch, "Poll the job until it reaches a terminal state")
	fs.StringVar(&o.Format, "format", o.Format, "Format used for the artifact url. Defaults to MONTAGE_OUTPUT_FORMAT.")
	fs.StringVarP(&o.Output, "output", "o", o.Output, fmt.Sprintf("Output format. One of: (%s).", strings.Join(legalOutputTypes, ", ")))
}

func (o *StatusOptions) Complete(cmd *cobra.Command, args []string) error {
	if err := o.GlobalOptions.Complete(cmd, args); err != nil {
		return err
	}
	if o.Format == "" {
		o.Format = o.DefaultFormat()
	}
	return nil
}

func (o *StatusOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if strings.TrimSpace(args[0]) == "" {
		return fmt.Errorf("job id must not be empty")
	}
	if err := validateFormat(o.Format); err != nil {
		return err
	}
	return validateOutput(o.Output)
}

type statusOutput struct {
	JobID       string        `json:"jobId"`
	Status      string        `json:"status"`
	Class       job.Class     `json:"class"`
	Progress    *job.Progress `json:"progress,omitempty"`
	Error       string        `json:"error,omitempty"`
	ArtifactURL string        `json:"artifactUrl,omitempty"`
}

func (o *StatusOptions) Run(ctx context.Context, args []string) error {
	c, err := o.Client()
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	jobID := strings.TrimSpace(args[0])

	if o.Watch {
		var listeners []workflow.Listener
		if o.Output == "" {
			listeners = append(listeners, newProgressPrinter(o.out))
		}
		w := o.Workflow(c, listeners...)
		defer w.Close()

		if err := w.Track(ctx, jobID, o.Format); err != nil {
			return err
		}
		view, err := w.Wait(ctx)
		if err != nil {
			return err
		}
		if o.Output != "" {
			return printStructured(o.out, o.Output, view)
		}
		_, err = fmt.Fprintf(o.out, "montage ready: %s\n", view.ArtifactURL)
		return err
	}

	status, err := c.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("reading job %s: %w", jobID, err)
	}

	out := statusOutput{
		JobID:  jobID,
		Status: status.Status,
		Class:  status.Class(),
		Error:  status.Error,
	}
	if p, err := status.Progress.Normalize(); err == nil {
		out.Progress = p
	}
	if out.Class == job.ClassSucceeded {
		out.ArtifactURL = c.DownloadURL(jobID, o.Format)
	}

	if o.Output != "" {
		return printStructured(o.out, o.Output, out)
	}
	return printStatus(o, out)
}

func printStatus(o *StatusOptions, s statusOutput) error {
	line := fmt.Sprintf("job %s: %s", s.JobID, s.Class)
	if s.Progress != nil {
		if s.Progress.Percentage != nil {
			line = fmt.Sprintf("%s %.0f%%", line, *s.Progress.Percentage)
		}
		if label := s.Progress.Label(); label != "" {
			line = fmt.Sprintf("%s (%s)", line, label)
		}
	}
	if s.Error != "" {
		line = fmt.Sprintf("%s: %s", line, s.Error)
	}
	if s.ArtifactURL != "" {
		line = fmt.Sprintf("%s\nartifact: %s", line, s.ArtifactURL)
	}
	_, err := fmt.Fprintln(o.out, line)
	return err
}
