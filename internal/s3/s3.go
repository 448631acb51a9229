// Package s3 mirrors build artifacts and manifests to object storage. The
// aws provider speaks the S3 API, which also covers MinIO-style endpoints;
// the filesystem provider mirrors into a local directory for air-gapped
// setups and tests.
package s3

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/kiln-build/kiln/internal/config"
)

// ObjectStorage is a named-object mirror. Upload never overwrites
// concurrently: artifact names embed the job id and are unique per run.
type ObjectStorage interface {
	Upload(ctx context.Context, name string, body io.Reader, sha256 string) error
	Download(ctx context.Context, name string) (io.ReadCloser, error)
}

// Configured reports whether the run configuration names a mirror at all.
func Configured(cfg *config.Config) bool {
	return cfg.S3URL != "" || cfg.S3Bucket != ""
}

// New returns the mirror provider for the run configuration. A file://
// S3_URL selects the filesystem provider; anything else builds an S3 client
// with S3_URL as a custom endpoint when set.
func New(ctx context.Context, cfg *config.Config) (ObjectStorage, error) {
	if !Configured(cfg) {
		return nil, fmt.Errorf("no artifact mirror configured")
	}
	if strings.HasPrefix(cfg.S3URL, "file://") {
		dir := strings.TrimPrefix(cfg.S3URL, "file://")
		return &FileSystem{dir: filepath.Join(dir, cfg.S3Prefix)}, nil
	}
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required with mirror endpoint %q", cfg.S3URL)
	}
	return newAmazonS3(ctx, cfg.S3URL, cfg.S3Bucket, cfg.S3Prefix)
}

// AmazonS3 uploads via the concurrent transfer manager so multi-hundred-MB
// artifacts do not buffer in memory.
type AmazonS3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

func newAmazonS3(ctx context.Context, endpoint, bucket, prefix string) (*AmazonS3, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			// Custom endpoints rarely serve virtual-host buckets.
			o.UsePathStyle = true
		}
	})
	return &AmazonS3{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
	}, nil
}

func (a *AmazonS3) Upload(ctx context.Context, name string, body io.Reader, sha256 string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(name)),
		Body:   body,
	}
	if sha256 != "" {
		input.Metadata = map[string]string{"sha256": sha256}
	}
	_, err := a.uploader.Upload(ctx, input)
	return err
}

func (a *AmazonS3) Download(ctx context.Context, name string) (io.ReadCloser, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(name)),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

func (a *AmazonS3) key(name string) string {
	if a.prefix == "" {
		return name
	}
	return path.Join(a.prefix, name)
}

// FileSystem mirrors objects into a directory tree.
type FileSystem struct {
	dir string
}

func (f *FileSystem) Upload(ctx context.Context, name string, body io.Reader, sha256 string) error {
	dest := filepath.Join(f.dir, name)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".part*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

func (f *FileSystem) Download(ctx context.Context, name string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(f.dir, name))
}
