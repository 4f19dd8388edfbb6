package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/adlens/adlens/agent/internal/config"
	"github.com/adlens/adlens/pkg/types"
)

// MinIO archives every result as yyyy/mm/dd/<job>-<unix>.json in a bucket
// of any S3-compatible store.
type MinIO struct {
	client *minio.Client
	bucket string
}

// NewMinIO returns an archive sink for cfg.Endpoint and cfg.Bucket.
func NewMinIO(cfg config.Sink) (*MinIO, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey(), cfg.SecretKey(), ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("sink: minio: create client: %w", err)
	}
	return &MinIO{client: client, bucket: cfg.Bucket}, nil
}

// Name implements Sink.
func (s *MinIO) Name() string { return "minio:" + s.bucket }

// Write uploads res.
func (s *MinIO) Write(ctx context.Context, res *types.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("sink: minio: marshal: %w", err)
	}
	_, err = s.client.PutObject(ctx, s.bucket, objectPath(res), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("sink: minio: upload: %w", err)
	}
	return nil
}

func objectPath(res *types.Result) string {
	ts := res.Timestamp.UTC()
	return fmt.Sprintf("%d/%02d/%02d/%s-%d.json", ts.Year(), ts.Month(), ts.Day(), fileName(res.JobID), ts.Unix())
}
