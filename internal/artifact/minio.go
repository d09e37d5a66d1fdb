package artifact

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

const artifactContentType = "video/mp4"

type MinioOpts func(c *minioConfig)

type minioConfig struct {
	endpoint        string
	bucket          string
	prefix          string
	accessKey       string
	secretAccessKey string
	useSSL          bool
}

func newConfig(opts ...MinioOpts) *minioConfig {
	cfg := &minioConfig{
		useSSL: false,
	}

	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// MinioSink uploads artifacts to an S3 compatible bucket.
type MinioSink struct {
	cfg    *minioConfig
	client *minio.Client
}

func NewMinioSink(opts ...MinioOpts) (*MinioSink, error) {
	cfg := newConfig(opts...)
	if cfg.endpoint == "" {
		return nil, errors.New("minio endpoint is required")
	}
	if cfg.bucket == "" {
		return nil, errors.New("minio bucket is required")
	}

	minioClient, err := minio.New(cfg.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.accessKey, cfg.secretAccessKey, ""),
		Secure: cfg.useSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create minio client")
	}

	return &MinioSink{cfg: cfg, client: minioClient}, nil
}

func (s *MinioSink) Put(ctx context.Context, name string, r io.Reader, size int64) (string, error) {
	key := path.Join(s.cfg.prefix, name)
	info, err := s.client.PutObject(ctx, s.cfg.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: artifactContentType,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to upload %s to bucket %s", key, s.cfg.bucket)
	}
	if size >= 0 && info.Size != size {
		return "", errors.Errorf("failed to upload the entire artifact. expected bytes %d uploaded %d", size, info.Size)
	}
	return s.Location(key), nil
}

// Location is the s3 style address of an object in the configured bucket.
func (s *MinioSink) Location(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.cfg.bucket, key)
}

func (s *MinioSink) Type() string {
	return "minio"
}

func WithEndpoint(endpoint string) MinioOpts {
	return func(c *minioConfig) {
		c.endpoint = endpoint
	}
}

func WithBucket(bucket string) MinioOpts {
	return func(c *minioConfig) {
		c.bucket = bucket
	}
}

// WithPrefix stores artifacts under a key prefix inside the bucket.
func WithPrefix(prefix string) MinioOpts {
	return func(c *minioConfig) {
		c.prefix = prefix
	}
}

func WithAccessKey(accessKey string) MinioOpts {
	return func(c *minioConfig) {
		c.accessKey = accessKey
	}
}

func WithSecretKey(secretKey string) MinioOpts {
	return func(c *minioConfig) {
		c.secretAccessKey = secretKey
	}
}

func WithSSL(useSSL bool) MinioOpts {
	return func(c *minioConfig) {
		c.useSSL = useSSL
	}
}
