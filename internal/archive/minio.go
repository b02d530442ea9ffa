package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const defaultRegion = "us-east-1"

// MinIO archives entries as objects in an S3-compatible bucket.
type MinIO struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewMinIO connects to the endpoint and checks that the bucket exists.
func NewMinIO(ctx context.Context, cfg *Config, logger *slog.Logger) (*MinIO, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, errors.New("archive: minio configuration incomplete")
	}

	endpoint, secure, err := normaliseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       secure,
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: creating minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("archive: checking bucket %s: %w", cfg.Bucket, err)
	}

	if !exists {
		return nil, fmt.Errorf("archive: minio bucket does not exist: %s", cfg.Bucket)
	}

	return &MinIO{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// Put uploads the entry and returns "<bucket>/<key>".
func (m *MinIO) Put(ctx context.Context, e *Entry) (string, error) {
	key, err := objectName(e, uuid.NewString())
	if err != nil {
		return "", err
	}

	contentType := e.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(e.Data), int64(len(e.Data)),
		minio.PutObjectOptions{
			ContentType: contentType,
			UserMetadata: map[string]string{
				"message-id": e.MessageID,
			},
		})
	if err != nil {
		return "", fmt.Errorf("archive: uploading %s: %w", key, err)
	}

	m.logger.Debug("archived artifact",
		slog.String("bucket", m.bucket),
		slog.String("key", info.Key),
		slog.Int64("size", info.Size),
	)

	return m.bucket + "/" + key, nil
}

// normaliseEndpoint accepts "host:port" or an http(s) URL without a path.
func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, errors.New("archive: empty endpoint")
	}

	if !strings.Contains(raw, "://") {
		// Bare host:port is plain HTTP, as local MinIO usually is.
		return raw, false, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("archive: parsing endpoint: %w", err)
	}

	if u.Host == "" {
		return "", false, fmt.Errorf("archive: invalid endpoint %q", raw)
	}

	if u.Path != "" && u.Path != "/" {
		return "", false, fmt.Errorf("archive: endpoint must not contain a path: %q", raw)
	}

	return u.Host, u.Scheme == "https", nil
}
