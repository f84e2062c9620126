// Package archive copies routed receipts and their artifacts to an
// S3-compatible bucket.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/joseph-ayodele/receipts-worker/internal/common"
)

// S3Archive wraps MinIO/S3 uploads for processed receipts.
type S3Archive struct {
	client *minio.Client
	bucket string
	region string
	logger *slog.Logger
}

// NewS3Archive creates a MinIO client from the archive config.
func NewS3Archive(cfg common.ArchiveConfig, logger *slog.Logger) (*S3Archive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &S3Archive{client: client, bucket: cfg.Bucket, region: cfg.Region, logger: logger}, nil
}

// EnsureBucket makes sure the archive bucket exists before use.
func (a *S3Archive) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", a.bucket, err)
		}
		a.logger.Info("archive bucket created", "bucket", a.bucket)
	}
	return nil
}

// Archive uploads the local file under <store>/<yyyy>/<mm>/<name>.
func (a *S3Archive) Archive(ctx context.Context, store string, at time.Time, localPath string) error {
	key := ObjectKey(store, at, filepath.Base(localPath))
	opts := minio.PutObjectOptions{ContentType: contentType(localPath)}
	info, err := a.client.FPutObject(ctx, a.bucket, key, localPath, opts)
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	a.logger.Debug("archive.upload.ok", "bucket", a.bucket, "key", key, "size", info.Size)
	return nil
}

// ObjectKey returns the bucket key for a receipt file.
func ObjectKey(store string, at time.Time, fileName string) string {
	return path.Join(store, at.Format("2006"), at.Format("01"), fileName)
}

func contentType(p string) string {
	if ct := mime.TypeByExtension(filepath.Ext(p)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
