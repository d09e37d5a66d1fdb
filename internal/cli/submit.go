package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	apiserver "github.com/montagehq/montage/internal/api_server"
	"github.com/montagehq/montage/internal/artifact"
	"github.com/montagehq/montage/internal/job"
	"github.com/montagehq/montage/internal/media"
	"github.com/montagehq/montage/internal/workflow"
)

type SubmitOptions struct {
	GlobalOptions

	Duration    int
	Style       string
	Format      string
	NoWait      bool
	SaveTo      string
	MetricsAddr string
	Output      string
}

func DefaultSubmitOptions() *SubmitOptions {
	return &SubmitOptions{
		GlobalOptions: DefaultGlobalOptions(),
		Duration:      job.DefaultTargetDuration,
	}
}

func NewCmdSubmit() *cobra.Command {
	o := DefaultSubmitOptions()
	cmd := &cobra.Command{
		Use:   "submit FILE",
		Short: "Upload a video or a zip archive of videos and wait for the montage.",
		Example: "submit ./clip.mp4 --duration 30 --style hype\n" +
			"submit ./highlights.zip --format portrait --save-to ./montages",
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

func (o *SubmitOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.IntVar(&o.Duration, "duration", o.Duration, "Target duration of the montage in seconds (1-3600)")
	fs.StringVar(&o.Style, "style", o.Style, "Editing style tag")
	fs.StringVar(&o.Format, "format", o.Format, fmt.Sprintf("Output format. One of: (%s). Defaults to MONTAGE_OUTPUT_FORMAT.", strings.Join(job.Formats, ", ")))
	fs.BoolVar(&o.NoWait, "no-wait", o.NoWait, "Return as soon as the job is created")
	fs.StringVar(&o.SaveTo, "save-to", o.SaveTo, "Download the finished montage into this directory")
	fs.StringVar(&o.MetricsAddr, "metrics-addr", o.MetricsAddr, "Serve Prometheus metrics on this address while waiting, e.g. :9090")
	fs.StringVarP(&o.Output, "output", "o", o.Output, fmt.Sprintf("Output format. One of: (%s).", strings.Join(legalOutputTypes, ", ")))
}

func (o *SubmitOptions) Complete(cmd *cobra.Command, args []string) error {
	if err := o.GlobalOptions.Complete(cmd, args); err != nil {
		return err
	}
	if o.Format == "" {
		o.Format = o.DefaultFormat()
	}
	return nil
}

func (o *SubmitOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if o.Duration < 1 || o.Duration > 3600 {
		return fmt.Errorf("duration must be between 1 and 3600 seconds, got %d", o.Duration)
	}
	if len(o.Style) > 64 {
		return fmt.Errorf("style must be at most 64 characters")
	}
	if err := validateFormat(o.Format); err != nil {
		return err
	}
	if o.NoWait && o.SaveTo != "" {
		return fmt.Errorf("--save-to cannot be combined with --no-wait")
	}
	return validateOutput(o.Output)
}

type submitResult struct {
	workflow.View
	Location string `json:"location,omitempty"`
}

func (o *SubmitOptions) Run(ctx context.Context, args []string) error {
	src, err := media.Load(args[0])
	if err != nil {
		return err
	}

	c, err := o.Client()
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}

	var listeners []workflow.Listener
	if o.Output == "" {
		listeners = append(listeners, newProgressPrinter(o.out))
	}
	w := o.Workflow(c, listeners...)
	defer w.Close()

	if o.MetricsAddr != "" {
		stop, err := o.serveMetrics(ctx)
		if err != nil {
			return err
		}
		defer stop()
	}

	if _, err := w.Select(src); err != nil {
		return err
	}

	created, err := w.Submit(ctx, workflow.Params{
		TargetDuration: o.Duration,
		Style:          o.Style,
		Format:         o.Format,
	})
	if err != nil {
		return err
	}

	if o.NoWait {
		return o.print(submitResult{View: w.Snapshot()}, fmt.Sprintf("job %s created, run \"montage status %s --watch\" to follow it", created.ID, created.ID))
	}

	view, err := w.Wait(ctx)
	if err != nil {
		return err
	}

	result := submitResult{View: view}
	if o.SaveTo != "" {
		location, _, err := artifact.Save(ctx, c, artifact.NewFileSink(o.SaveTo), view.JobID, view.Format)
		if err != nil {
			return err
		}
		result.Location = location
	}

	msg := fmt.Sprintf("montage ready: %s", view.ArtifactURL)
	if result.Location != "" {
		msg = fmt.Sprintf("%s\nsaved to %s", msg, result.Location)
	}
	return o.print(result, msg)
}

func (o *SubmitOptions) print(result submitResult, plain string) error {
	if o.Output != "" {
		return printStructured(o.out, o.Output, result)
	}
	_, err := fmt.Fprintln(o.out, plain)
	return err
}

// serveMetrics runs the metrics server until the returned function is called.
func (o *SubmitOptions) serveMetrics(ctx context.Context) (func(), error) {
	server, err := apiserver.Listen(o.MetricsAddr)
	if err != nil {
		return nil, fmt.Errorf("starting metrics server: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := server.Run(ctx); err != nil {
			zap.S().Named("metrics_server").Errorw("metrics server failed", "error", err)
		}
	}()

	return func() {
		cancel()
		<-done
	}, nil
}
