package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"leadflow_backend/platform/config"
)

// Exporter writes lead snapshots to an S3-compatible bucket.
type Exporter struct {
	client *minio.Client
	bucket string
}

// NewExporter creates a MinIO-backed exporter. Callers should skip snapshot
// export entirely when MinIO is not configured rather than construct one.
func NewExporter(cfg config.MinIOConfig) (*Exporter, error) {
	if !cfg.IsMinIOEnabled() {
		return nil, fmt.Errorf("MinIO is not configured")
	}

	client, err := minio.New(cfg.GetMinIOEndpoint(), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.GetMinIOAccessKey(), cfg.GetMinIOSecretKey(), ""),
		Secure: cfg.GetMinIOUseSSL(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &Exporter{
		client: client,
		bucket: cfg.GetMinioBucketLeadArchive(),
	}, nil
}

// EnsureBucket creates the archive bucket if it doesn't exist.
func (e *Exporter) EnsureBucket(ctx context.Context) error {
	exists, err := e.client.BucketExists(ctx, e.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = e.client.MakeBucket(ctx, e.bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", e.bucket, err)
		}
	}

	return nil
}

// Upload marshals the snapshot document and writes it under the given key.
func (e *Exporter) Upload(ctx context.Context, key string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = e.client.PutObject(ctx, e.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to upload snapshot %s: %w", key, err)
	}
	return nil
}
