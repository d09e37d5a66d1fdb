package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/montagehq/montage/internal/config"
	"github.com/montagehq/montage/internal/media"
)

type InspectOptions struct {
	Output string

	maxArchiveBytes int64
	out             io.Writer
}

func DefaultInspectOptions() *InspectOptions {
	return &InspectOptions{}
}

func NewCmdInspect() *cobra.Command {
	o := DefaultInspectOptions()
	cmd := &cobra.Command{
		Use:     "inspect FILE",
		Short:   "List the videos that would be uploaded for a file, without contacting the backend.",
		Example: "inspect ./highlights.zip -o yaml",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), args)
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *InspectOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.Output, "output", "o", o.Output, fmt.Sprintf("Output format. One of: (%s).", strings.Join(legalOutputTypes, ", ")))
}

func (o *InspectOptions) Complete(cmd *cobra.Command, args []string) error {
	o.out = cmd.OutOrStdout()
	env, err := config.New()
	if err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	o.maxArchiveBytes = env.Upload.MaxArchiveBytes
	return nil
}

func (o *InspectOptions) Validate(args []string) error {
	return validateOutput(o.Output)
}

type selectionOutput struct {
	*media.Selection
	TotalBytes int64 `json:"totalBytes"`
}

func (o *InspectOptions) Run(ctx context.Context, args []string) error {
	src, err := media.Load(args[0])
	if err != nil {
		return err
	}

	selection, err := media.Select(src, media.WithMaxArchiveBytes(o.maxArchiveBytes))
	if err != nil {
		return err
	}

	out := &selectionOutput{Selection: selection, TotalBytes: selection.TotalBytes()}
	if o.Output != "" {
		return printStructured(o.out, o.Output, out)
	}
	return printSelectionTable(o.out, out)
}

func printSelectionTable(out io.Writer, s *selectionOutput) error {
	fmt.Fprintf(out, "%s (%s): %d video(s), %s\n", s.Source, s.Kind, len(s.Items), humanize.IBytes(uint64(s.TotalBytes)))

	w := tabwriter.NewWriter(out, 0, 8, 1, '\t', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tSIZE")
	for _, it := range s.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\n", it.Name, it.MIMEType, humanize.IBytes(uint64(it.Size)))
	}
	return w.Flush()
}
