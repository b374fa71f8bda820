// Package storage resolves finished render outputs in object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/therealutkarshpriyadarshi/composer/internal/config"
	"github.com/therealutkarshpriyadarshi/composer/internal/logging"
	"github.com/therealutkarshpriyadarshi/composer/internal/metrics"
)

// DefaultPresignExpiry is used when the config leaves it unset
const DefaultPresignExpiry = time.Hour

// ErrObjectNotFound is returned when a render output does not exist
var ErrObjectNotFound = errors.New("object not found")

// Object describes a stored render output
type Object struct {
	Bucket      string
	Key         string
	Size        int64
	ContentType string
	ETag        string
}

// Storage provides object storage operations
type Storage struct {
	client *minio.Client
	expiry time.Duration
	logger *logging.Logger
}

// New creates a new storage client. No request is made until the first
// operation.
func New(cfg config.StorageConfig, logger *logging.Logger) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	if logger == nil {
		logger = logging.Nop()
	}
	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = DefaultPresignExpiry
	}

	return &Storage{
		client: client,
		expiry: expiry,
		logger: logger,
	}, nil
}

// RenderKey is the object key of a render's output
func RenderKey(renderID string) string {
	return path.Join("renders", renderID, "out.mp4")
}

// StatRender looks up the output of renderID in bucket
func (s *Storage) StatRender(ctx context.Context, bucket, renderID string) (*Object, error) {
	key := RenderKey(renderID)
	start := time.Now()

	info, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	s.record("stat", bucket, key, start, err)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
		}
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}

	return &Object{
		Bucket:      bucket,
		Key:         key,
		Size:        info.Size,
		ContentType: info.ContentType,
		ETag:        info.ETag,
	}, nil
}

// PresignRenderDownload returns a time-limited GET URL that downloads the
// output of renderID as an attachment
func (s *Storage) PresignRenderDownload(ctx context.Context, bucket, renderID string) (string, error) {
	key := RenderKey(renderID)
	start := time.Now()

	params := url.Values{}
	params.Set("response-content-type", getContentType(key))
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", renderID+path.Ext(key)))

	u, err := s.client.PresignedGetObject(ctx, bucket, key, s.expiry, params)
	s.record("presign", bucket, key, start, err)
	if err != nil {
		return "", fmt.Errorf("failed to generate URL: %w", err)
	}
	return u.String(), nil
}

// Expiry returns how long presigned URLs stay valid
func (s *Storage) Expiry() time.Duration {
	return s.expiry
}

func (s *Storage) record(op, bucket, key string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	elapsed := time.Since(start)
	metrics.RecordStorageOperation(op, status, elapsed.Seconds())
	s.logger.LogStorageOperation(op, bucket, key, elapsed, err)
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound
}

// getContentType returns the content type based on file extension
func getContentType(key string) string {
	switch path.Ext(key) {
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".gif":
		return "image/gif"
	case ".mp3":
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}
