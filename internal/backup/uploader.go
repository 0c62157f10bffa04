package backup

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hyperengineering/bridge/internal/config"
)

// ErrNotConfigured is returned when object storage is not configured.
var ErrNotConfigured = errors.New("backup storage not configured")

// latestName is the object that always holds the most recent backup.
const latestName = "latest.db"

// Uploader ships backup files to object storage.
type Uploader interface {
	// Enabled reports whether uploads go anywhere.
	Enabled() bool

	// Upload stores the file under name and refreshes the latest object.
	// It returns the object key written for name.
	Upload(ctx context.Context, name, filePath string) (string, error)

	// PresignedURL returns a pre-signed GET URL for the latest backup.
	PresignedURL(ctx context.Context) (url string, expiry time.Time, err error)
}

// s3Client is the subset of *minio.Client used by S3Uploader.
type s3Client interface {
	FPutObject(ctx context.Context, bucket, objectName, filePath string) error
	PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (*url.URL, error)
}

type minioClientWrapper struct {
	client *minio.Client
}

func (w *minioClientWrapper) FPutObject(ctx context.Context, bucket, objectName, filePath string) error {
	_, err := w.client.FPutObject(ctx, bucket, objectName, filePath, minio.PutObjectOptions{
		ContentType: "application/vnd.sqlite3",
	})
	return err
}

func (w *minioClientWrapper) PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (*url.URL, error) {
	return w.client.PresignedGetObject(ctx, bucket, objectName, expiry, nil)
}

// S3Uploader uploads backups to S3-compatible storage.
type S3Uploader struct {
	client    s3Client
	bucket    string
	prefix    string
	urlExpiry time.Duration
	now       func() time.Time
}

func (u *S3Uploader) Enabled() bool { return true }

func (u *S3Uploader) Upload(ctx context.Context, name, filePath string) (string, error) {
	key := objectKey(u.prefix, name)
	if err := u.client.FPutObject(ctx, u.bucket, key, filePath); err != nil {
		return "", fmt.Errorf("upload backup %s: %w", key, err)
	}
	latest := objectKey(u.prefix, latestName)
	if err := u.client.FPutObject(ctx, u.bucket, latest, filePath); err != nil {
		return key, fmt.Errorf("upload backup %s: %w", latest, err)
	}
	return key, nil
}

func (u *S3Uploader) PresignedURL(ctx context.Context) (string, time.Time, error) {
	presigned, err := u.client.PresignedGetObject(ctx, u.bucket, objectKey(u.prefix, latestName), u.urlExpiry)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate pre-signed URL: %w", err)
	}
	return presigned.String(), u.now().Add(u.urlExpiry), nil
}

// NoopUploader keeps backups local-only.
type NoopUploader struct{}

func (u *NoopUploader) Enabled() bool { return false }

func (u *NoopUploader) Upload(ctx context.Context, name, filePath string) (string, error) {
	return "", nil
}

func (u *NoopUploader) PresignedURL(ctx context.Context) (string, time.Time, error) {
	return "", time.Time{}, ErrNotConfigured
}

// NewUploader returns a NoopUploader when no bucket is configured and an
// S3Uploader otherwise.
func NewUploader(cfg config.BackupStorageConfig) (Uploader, error) {
	if cfg.Bucket == "" {
		return &NoopUploader{}, nil
	}

	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}
	endpoint := stripScheme(cfg.Endpoint, &useSSL)

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Uploader{
		client:    &minioClientWrapper{client: client},
		bucket:    cfg.Bucket,
		prefix:    cfg.Prefix,
		urlExpiry: cfg.URLExpiry.Std(),
		now:       time.Now,
	}, nil
}

// stripScheme removes an http:// or https:// prefix, which minio.New
// rejects, and lets the scheme decide useSSL.
func stripScheme(endpoint string, useSSL *bool) string {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		*useSSL = true
		return strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		*useSSL = false
		return strings.TrimPrefix(endpoint, "http://")
	}
	return endpoint
}

// objectKey lays backups out as {prefix}/backups/{name}.
func objectKey(prefix, name string) string {
	return path.Join(prefix, "backups", name)
}
