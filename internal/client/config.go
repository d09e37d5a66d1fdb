package client

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/client-go/util/homedir"
	"sigs.k8s.io/yaml"
)

const (
	// TestRootDirEnvKey is the environment variable key used to set the file system root when testing.
	TestRootDirEnvKey = "MONTAGE_TEST_ROOT_DIR"

	DefaultRequestTimeout = 30 * time.Second
)

// Config holds the information needed to connect to a montage backend.
type Config struct {
	Service Service `json:"service"`
	Poll    Poll    `json:"poll,omitempty"`

	// baseDir is used to resolve relative paths
	// If baseDir is empty, the current working directory is used.
	baseDir string `json:"-"`
	// TestRootDir is the root directory for test files.
	testRootDir string `json:"-"`
}

// Service contains information how to connect to and authenticate against the backend.
type Service struct {
	// Server is the base URL of the backend (the part before /jobs).
	Server string `json:"server"`
	Token  string `json:"token,omitempty"`
	// RequestTimeout bounds a single status request, e.g. "30s". Uploads and
	// downloads are bounded by their context only.
	RequestTimeout string `json:"requestTimeout,omitempty"`
}

// Poll overrides the polling cadence of the workflow. Values are duration
// strings such as "3s" or "10m".
type Poll struct {
	Interval string `json:"interval,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// IntervalDuration returns the configured interval, zero when unset.
func (p Poll) IntervalDuration() time.Duration {
	d, _ := parseDuration(p.Interval)
	return d
}

// TimeoutDuration returns the configured ceiling, zero when unset.
func (p Poll) TimeoutDuration() time.Duration {
	d, _ := parseDuration(p.Timeout)
	return d
}

func (s Service) RequestTimeoutDuration() time.Duration {
	d, _ := parseDuration(s.RequestTimeout)
	return d
}

func parseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	return time.ParseDuration(value)
}

func (c *Config) Equal(c2 *Config) bool {
	if c == c2 {
		return true
	}
	if c == nil || c2 == nil {
		return false
	}
	return c.Service.Equal(&c2.Service) && c.Poll == c2.Poll
}

func (s *Service) Equal(s2 *Service) bool {
	if s == s2 {
		return true
	}
	if s == nil || s2 == nil {
		return false
	}
	return s.Server == s2.Server && s.Token == s2.Token && s.RequestTimeout == s2.RequestTimeout
}

func (c *Config) DeepCopy() *Config {
	if c == nil {
		return nil
	}
	return &Config{
		Service:     c.Service,
		Poll:        c.Poll,
		baseDir:     c.baseDir,
		testRootDir: c.testRootDir,
	}
}

func (c *Config) SetBaseDir(baseDir string) {
	c.baseDir = baseDir
}

func NewDefault() *Config {
	c := &Config{}

	if value := os.Getenv(TestRootDirEnvKey); value != "" {
		c.testRootDir = filepath.Clean(value)
	}

	return c
}

// NewFromConfig returns a job client for the backend described by config.
func NewFromConfig(config *Config) (*JobClient, error) {
	httpClient, err := NewHTTPClientFromConfig(config)
	if err != nil {
		return nil, fmt.Errorf("NewFromConfig: creating HTTP client %w", err)
	}
	return NewJobClient(config.Service.Server,
		WithHTTPClient(httpClient),
		WithToken(config.Service.Token),
		WithRequestTimeout(config.Service.RequestTimeoutDuration()),
	)
}

// NewHTTPClientFromConfig returns a new HTTP Client from the given config.
// There is no client wide timeout, uploads of large archives are bounded by
// their context.
func NewHTTPClientFromConfig(config *Config) (*http.Client, error) {
	if config == nil {
		return nil, fmt.Errorf("missing client config")
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   15 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		// counted from the end of the request body, so slow uploads are not cut
		ResponseHeaderTimeout: config.Service.RequestTimeoutDuration(),
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		WriteBufferSize:       256 << 10,
	}
	return &http.Client{Transport: transport}, nil
}

// DefaultMontageClientConfigPath returns the default path to the client config file.
func DefaultMontageClientConfigPath() string {
	return filepath.Join(homedir.HomeDir(), ".montage", "client.yaml")
}

func (c *Config) path(filename string) string {
	if c.testRootDir == "" {
		return filename
	}
	return filepath.Join(c.testRootDir, filename)
}

func ParseConfigFile(filename string) (*Config, error) {
	config := NewDefault()
	contents, err := os.ReadFile(config.path(filename))
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(contents, config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	config.SetBaseDir(filepath.Dir(filename))
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// NewFromConfigFile returns a job client using the config read from the given file.
func NewFromConfigFile(filename string) (*JobClient, error) {
	config, err := ParseConfigFile(filename)
	if err != nil {
		return nil, err
	}
	return NewFromConfig(config)
}

// WriteConfig writes a client config file using the given parameters.
func WriteConfig(filename string, server string, token string) error {
	config := NewDefault()
	config.Service = Service{
		Server: server,
		Token:  token,
	}
	if err := config.Validate(); err != nil {
		return err
	}

	return config.Persist(filename)
}

func (c *Config) Persist(filename string) error {
	contents, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	filename = c.path(filename)
	if err := os.MkdirAll(filepath.Dir(filename), 0700); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.WriteFile(filename, contents, 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	validationErrors := make([]error, 0)
	validationErrors = append(validationErrors, validateService(c.Service)...)
	validationErrors = append(validationErrors, validatePoll(c.Poll)...)
	if len(validationErrors) > 0 {
		return fmt.Errorf("invalid configuration: %v", utilerrors.NewAggregate(validationErrors).Error())
	}
	return nil
}

func validateService(service Service) []error {
	validationErrors := make([]error, 0)
	// Make sure the server is specified and well-formed
	if len(service.Server) == 0 {
		validationErrors = append(validationErrors, fmt.Errorf("no server found"))
	} else {
		u, err := url.Parse(service.Server)
		if err != nil {
			validationErrors = append(validationErrors, fmt.Errorf("invalid server format %q: %w", service.Server, err))
		}
		if err == nil && len(u.Hostname()) == 0 {
			validationErrors = append(validationErrors, fmt.Errorf("invalid server format %q: no hostname", service.Server))
		}
	}
	if err := validateDuration("requestTimeout", service.RequestTimeout); err != nil {
		validationErrors = append(validationErrors, err)
	}
	return validationErrors
}

func validatePoll(poll Poll) []error {
	validationErrors := make([]error, 0)
	for name, value := range map[string]string{"interval": poll.Interval, "timeout": poll.Timeout} {
		if err := validateDuration("poll "+name, value); err != nil {
			validationErrors = append(validationErrors, err)
		}
	}
	interval, timeout := poll.IntervalDuration(), poll.TimeoutDuration()
	if interval > 0 && timeout > 0 && timeout < interval {
		validationErrors = append(validationErrors, fmt.Errorf("poll timeout %s is shorter than the interval %s", timeout, interval))
	}
	return validationErrors
}

func validateDuration(name, value string) error {
	d, err := parseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if d < 0 {
		return fmt.Errorf("invalid %s %q: must not be negative", name, value)
	}
	return nil
}
