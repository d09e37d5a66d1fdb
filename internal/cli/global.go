package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/montagehq/montage/internal/auth"
	"github.com/montagehq/montage/internal/client"
	"github.com/montagehq/montage/internal/config"
	"github.com/montagehq/montage/internal/workflow"
	"github.com/montagehq/montage/pkg/log"
)

// GlobalOptions are shared by every command talking to the backend. Values
// are resolved flag first, then client config file, then environment.
type GlobalOptions struct {
	ConfigFilePath string
	ServerUrl      string
	Token          string
	LogLevel       string
	PollInterval   time.Duration
	PollTimeout    time.Duration

	env            *config.Config
	requestTimeout time.Duration
	out            io.Writer
}

func DefaultGlobalOptions() GlobalOptions {
	return GlobalOptions{
		ConfigFilePath: client.DefaultMontageClientConfigPath(),
		out:            os.Stdout,
	}
}

func (o *GlobalOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVar(&o.ConfigFilePath, "config", o.ConfigFilePath, "Path to the client config file")
	fs.StringVarP(&o.ServerUrl, "server-url", "u", o.ServerUrl, "Address of the montage backend (defaults to MONTAGE_API_BASE_URL)")
	fs.StringVar(&o.Token, "token", o.Token, "Bearer token sent to the backend (defaults to MONTAGE_API_TOKEN)")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Log level: debug, info, warn or error (defaults to MONTAGE_LOG_LEVEL)")
	fs.DurationVar(&o.PollInterval, "poll-interval", o.PollInterval, "Delay between two job status requests (defaults to MONTAGE_POLL_INTERVAL)")
	fs.DurationVar(&o.PollTimeout, "poll-timeout", o.PollTimeout, "Stop polling a job after this long (defaults to MONTAGE_POLL_TIMEOUT)")
}

func (o *GlobalOptions) Complete(cmd *cobra.Command, args []string) error {
	o.out = cmd.OutOrStdout()

	env, err := config.New()
	if err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	o.env = env

	if o.LogLevel != "" {
		zap.ReplaceGlobals(log.InitLog(log.LevelOrDefault(o.LogLevel)))
	}

	fileConfig, err := o.readConfigFile()
	if err != nil {
		return err
	}

	o.requestTimeout = env.Service.RequestTimeout
	if fileConfig != nil {
		o.ServerUrl = firstNonEmpty(o.ServerUrl, fileConfig.Service.Server)
		o.Token = firstNonEmpty(o.Token, fileConfig.Service.Token)
		o.PollInterval = firstPositive(o.PollInterval, fileConfig.Poll.IntervalDuration())
		o.PollTimeout = firstPositive(o.PollTimeout, fileConfig.Poll.TimeoutDuration())
		o.requestTimeout = firstPositive(fileConfig.Service.RequestTimeoutDuration(), o.requestTimeout)
	}
	o.ServerUrl = firstNonEmpty(o.ServerUrl, env.Service.BaseUrl)
	o.Token = firstNonEmpty(o.Token, env.Service.Token)
	o.PollInterval = firstPositive(o.PollInterval, env.Poll.Interval)
	o.PollTimeout = firstPositive(o.PollTimeout, env.Poll.Timeout)

	return nil
}

func (o *GlobalOptions) Validate(args []string) error {
	if o.ServerUrl == "" {
		return errors.New("a server url is required, use --server-url or MONTAGE_API_BASE_URL")
	}
	if o.PollInterval < 0 || o.PollTimeout < 0 {
		return errors.New("poll durations must not be negative")
	}
	if o.PollTimeout > 0 && o.PollTimeout < o.PollInterval {
		return fmt.Errorf("poll timeout %s is shorter than the poll interval %s", o.PollTimeout, o.PollInterval)
	}
	return nil
}

// Client returns a job client for the resolved server. An expired token is
// rejected before any request is made.
func (o *GlobalOptions) Client() (*client.JobClient, error) {
	token, err := auth.CheckToken(o.Token)
	if err != nil {
		return nil, err
	}

	cfg := client.NewDefault()
	cfg.Service.Server = o.ServerUrl
	if o.requestTimeout > 0 {
		cfg.Service.RequestTimeout = o.requestTimeout.String()
	}
	httpClient, err := client.NewHTTPClientFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP client: %w", err)
	}

	opts := []client.JobClientOpts{
		client.WithHTTPClient(httpClient),
		client.WithRequestTimeout(o.requestTimeout),
	}
	if token != nil {
		opts = append(opts, client.WithToken(token.Raw))
	}
	return client.NewJobClient(o.ServerUrl, opts...)
}

// Workflow returns a workflow polling with the resolved settings.
func (o *GlobalOptions) Workflow(api workflow.JobAPI, listeners ...workflow.Listener) *workflow.Workflow {
	opts := []workflow.WorkflowOpts{
		workflow.WithPollInterval(o.PollInterval),
		workflow.WithPollTimeout(o.PollTimeout),
	}
	if o.env != nil {
		opts = append(opts,
			workflow.WithPollJitter(o.env.Poll.Jitter),
			workflow.WithMaxArchiveBytes(o.env.Upload.MaxArchiveBytes),
		)
	}
	for _, l := range listeners {
		opts = append(opts, workflow.WithListener(l))
	}
	return workflow.New(api, opts...)
}

// DefaultFormat is the output format used when none is given on the command line.
func (o *GlobalOptions) DefaultFormat() string {
	if o.env != nil {
		return o.env.Upload.OutputFormat
	}
	return ""
}

func (o *GlobalOptions) readConfigFile() (*client.Config, error) {
	if o.ConfigFilePath == "" {
		return nil, nil
	}
	if _, err := os.Stat(o.ConfigFilePath); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	cfg, err := client.ParseConfigFile(o.ConfigFilePath)
	if err != nil {
		return nil, fmt.Errorf("reading client config %s: %w", o.ConfigFilePath, err)
	}
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...time.Duration) time.Duration {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
