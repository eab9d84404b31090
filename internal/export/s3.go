package export

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds settings for the results bucket client.
type S3Config struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"` // optional, for S3-compatible stores
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	// UsePathStyle is required by most S3-compatible stores (MinIO etc).
	UsePathStyle bool `yaml:"use_path_style"`
}

// S3Store downloads artifacts from S3 or an S3-compatible store.
type S3Store struct {
	client *s3.Client
}

// NewS3Store builds an S3 client from the given settings, falling back to
// the ambient AWS credential chain when no static keys are configured.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Store{client: client}, nil
}

// Download streams one object into w and returns the byte count.
func (s *S3Store) Download(ctx context.Context, bucket, key string, w io.Writer) (int64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, err
	}
	defer out.Body.Close()

	return io.Copy(w, out.Body)
}
