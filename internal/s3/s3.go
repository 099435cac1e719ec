package s3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/bundlesmith/bundlesmith/internal/config"
)

// ObjectStorage stores one built artifact. Upload replaces the stored
// object; revision is recorded as object metadata when the backend
// supports it.
type ObjectStorage interface {
	Upload(ctx context.Context, r io.Reader, revision string) error
	Download(ctx context.Context) (io.ReadCloser, error)
}

// New constructs the storage backend named by the configuration, or nil
// when none is configured.
func New(ctx context.Context, cfg config.ObjectStorage) (ObjectStorage, error) {
	switch {
	case cfg.AmazonS3 != nil:
		return newAmazonS3(ctx, cfg.AmazonS3)
	case cfg.FileSystemStorage != nil:
		return &FileSystem{path: cfg.FileSystemStorage.Path}, nil
	}
	return nil, errors.New("no object storage configured")
}

// AmazonS3 stores artifacts in an S3-compatible bucket. Credentials come
// from the default chain: environment variables, shared credentials file,
// ECS or EC2 instance role.
type AmazonS3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	key      string
}

func newAmazonS3(ctx context.Context, cfg *config.AmazonS3) (*AmazonS3, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.URL != "" {
			o.BaseEndpoint = aws.String(cfg.URL)
			o.UsePathStyle = true
		}
	})

	return &AmazonS3{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		key:      cfg.Key,
	}, nil
}

func (a *AmazonS3) Upload(ctx context.Context, r io.Reader, revision string) error {
	// The artifact is hashed for the object metadata, so it has to be
	// buffered before the upload starts.
	bs, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	sum := sha256.Sum256(bs)
	metadata := map[string]string{
		"sha256": hex.EncodeToString(sum[:]),
	}
	if revision != "" {
		metadata["revision"] = revision
	}

	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(a.bucket),
		Key:      aws.String(a.key),
		Body:     bytes.NewReader(bs),
		Metadata: metadata,
	})
	return err
}

func (a *AmazonS3) Download(ctx context.Context) (io.ReadCloser, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

// FileSystem stores the artifact as a plain file. Revisions are not
// recorded.
type FileSystem struct {
	path string
}

func (f *FileSystem) Upload(ctx context.Context, r io.Reader, revision string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	w, err := os.Create(f.path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (f *FileSystem) Download(ctx context.Context) (io.ReadCloser, error) {
	return os.Open(f.path)
}
