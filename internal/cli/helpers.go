package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thoas/go-funk"
	"sigs.k8s.io/yaml"

	"github.com/montagehq/montage/internal/job"
	"github.com/montagehq/montage/internal/util"
	"github.com/montagehq/montage/internal/workflow"
)

const (
	jsonFormat = "json"
	yamlFormat = "yaml"
)

var (
	legalOutputTypes = []string{jsonFormat, yamlFormat}
)

func validateOutput(output string) error {
	if len(output) > 0 && !funk.Contains(legalOutputTypes, output) {
		return fmt.Errorf("output format must be one of %s", strings.Join(legalOutputTypes, ", "))
	}
	return nil
}

func validateFormat(format string) error {
	if len(format) > 0 && !funk.ContainsString(job.Formats, strings.ToLower(format)) {
		return fmt.Errorf("format must be one of %s", strings.Join(job.Formats, ", "))
	}
	return nil
}

func printStructured(w io.Writer, output string, v any) error {
	switch output {
	case jsonFormat:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("marshalling output: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", string(data))
		return err
	case yamlFormat:
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshalling output: %w", err)
		}
		_, err = fmt.Fprint(w, string(data))
		return err
	default:
		return fmt.Errorf("unsupported output format %q", output)
	}
}

func markRequired(cmd *cobra.Command, flags ...string) {
	for _, flag := range flags {
		util.Must(cmd.MarkFlagRequired(flag))
	}

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if funk.ContainsString(flags, f.Name) {
			f.Usage = fmt.Sprintf("%s (required)", f.Usage)
		}
	})
}

// progressPrinter writes one line per visible change of a workflow.
type progressPrinter struct {
	w         io.Writer
	lastState workflow.State
	lastPct   int
	lastStage string
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, lastPct: -1}
}

func (p *progressPrinter) OnUpdate(v workflow.View) {
	pct := int(v.Progress)
	if v.State == p.lastState && pct == p.lastPct && v.Stage == p.lastStage {
		return
	}
	p.lastState, p.lastPct, p.lastStage = v.State, pct, v.Stage

	switch v.State {
	case workflow.StateUploading:
		fmt.Fprintf(p.w, "uploading  %3d%%\n", pct)
	case workflow.StateProcessing:
		if v.Stage != "" {
			fmt.Fprintf(p.w, "processing %3d%%  %s\n", pct, v.Stage)
		} else {
			fmt.Fprintf(p.w, "processing %3d%%\n", pct)
		}
	case workflow.StateDone:
		fmt.Fprintf(p.w, "done       %3d%%\n", pct)
	}
}
