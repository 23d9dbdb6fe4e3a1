package remote

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/construtech/rdosync/internal/config"
	"github.com/construtech/rdosync/internal/errors"
)

// MinioUploader stores report attachments in an S3-compatible bucket.
type MinioUploader struct {
	client *minio.Client
	bucket string
	useSSL bool
	host   string
}

// NewMinioUploader creates an uploader from the uploads configuration.
func NewMinioUploader(cfg config.UploadsConfig) (*MinioUploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize object store client: %w", err)
	}
	return &MinioUploader{
		client: client,
		bucket: cfg.Bucket,
		useSSL: cfg.UseSSL,
		host:   cfg.Endpoint,
	}, nil
}

// Upload implements Uploader. Failures are classified transient; object
// storage errors are overwhelmingly connectivity-shaped on job sites.
func (u *MinioUploader) Upload(ctx context.Context, objectName, path, contentType string) (string, error) {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := u.client.FPutObject(ctx, u.bucket, objectName, path, opts); err != nil {
		return "", errors.Wrap(errors.CodeTransient,
			fmt.Sprintf("failed to upload attachment %s", objectName), err)
	}

	scheme := "http"
	if u.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, u.host, u.bucket, objectName), nil
}
