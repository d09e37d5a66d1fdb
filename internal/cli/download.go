package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/montagehq/montage/internal/artifact"
	"github.com/montagehq/montage/internal/job"
)

type DownloadOptions struct {
	GlobalOptions

	Format    string
	Dir       string
	Bucket    string
	Endpoint  string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

func DefaultDownloadOptions() *DownloadOptions {
	return &DownloadOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdDownload() *cobra.Command {
	o := DefaultDownloadOptions()
	cmd := &cobra.Command{
		Use:   "download JOB_ID",
		Short: "Save the montage of a finished job locally or into an S3 compatible bucket.",
		Example: "download job_1 --dir ./montages\n" +
			"download job_1 --bucket montages --endpoint localhost:9000 --access-key minio --secret-key minio123",
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

func (o *DownloadOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVar(&o.Format, "format", o.Format, fmt.Sprintf("Artifact format. One of: (%s). Defaults to MONTAGE_OUTPUT_FORMAT.", strings.Join(job.Formats, ", ")))
	fs.StringVar(&o.Dir, "dir", o.Dir, "Directory the montage is written to (default: current directory)")
	fs.StringVar(&o.Bucket, "bucket", o.Bucket, "Upload the montage to this bucket instead of a local directory")
	fs.StringVar(&o.Endpoint, "endpoint", o.Endpoint, "S3 compatible endpoint, e.g. localhost:9000")
	fs.StringVar(&o.Prefix, "prefix", o.Prefix, "Key prefix inside the bucket")
	fs.StringVar(&o.AccessKey, "access-key", o.AccessKey, "Access key of the bucket")
	fs.StringVar(&o.SecretKey, "secret-key", o.SecretKey, "Secret key of the bucket")
	fs.BoolVar(&o.UseSSL, "ssl", o.UseSSL, "Use TLS to reach the bucket endpoint")
}

func (o *DownloadOptions) Complete(cmd *cobra.Command, args []string) error {
	if err := o.GlobalOptions.Complete(cmd, args); err != nil {
		return err
	}
	if o.Format == "" {
		o.Format = o.DefaultFormat()
	}
	if o.Bucket == "" && o.Dir == "" {
		o.Dir = "."
	}
	return nil
}

func (o *DownloadOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if err := validateFormat(o.Format); err != nil {
		return err
	}
	if o.Bucket != "" && o.Dir != "" {
		return fmt.Errorf("--dir and --bucket are mutually exclusive")
	}
	if o.Bucket != "" && o.Endpoint == "" {
		return fmt.Errorf("--endpoint is required with --bucket")
	}
	return nil
}

func (o *DownloadOptions) sink() (artifact.Sink, error) {
	if o.Bucket == "" {
		return artifact.NewFileSink(o.Dir), nil
	}
	return artifact.NewMinioSink(
		artifact.WithEndpoint(o.Endpoint),
		artifact.WithBucket(o.Bucket),
		artifact.WithPrefix(o.Prefix),
		artifact.WithAccessKey(o.AccessKey),
		artifact.WithSecretKey(o.SecretKey),
		artifact.WithSSL(o.UseSSL),
	)
}

func (o *DownloadOptions) Run(ctx context.Context, args []string) error {
	c, err := o.Client()
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}

	sink, err := o.sink()
	if err != nil {
		return err
	}

	location, _, err := artifact.Save(ctx, c, sink, args[0], o.Format)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(o.out, "montage saved to %s\n", location)
	return err
}
