package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/querypilot/querypilot/internal/history"
)

// Format selects the serialization of an export.
type Format string

const (
	FormatParquet Format = "parquet"
	FormatJSONL   Format = "jsonl"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatParquet, Format(""):
		return FormatParquet, nil
	case FormatJSONL:
		return FormatJSONL, nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

type Config struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

// ObjectInfo describes an uploaded archive object.
type ObjectInfo struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
	ETag string `json:"etag,omitempty"`
}

type client interface {
	Put(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) (ObjectInfo, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
	CreateBucket(ctx context.Context, bucket, region string) error
}

// Exporter writes session history snapshots into an object store bucket.
type Exporter struct {
	client client
	bucket string
	prefix string
	now    func() time.Time
}

func New(ctx context.Context, cfg Config) (*Exporter, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("archive endpoint is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}

	mc, err := newMinioClient(cfg)
	if err != nil {
		return nil, err
	}
	exporter := &Exporter{
		client: mc,
		bucket: strings.TrimSpace(cfg.Bucket),
		prefix: cleanPrefix(cfg.Prefix),
		now:    time.Now,
	}
	if cfg.AutoCreateBucket {
		if err := exporter.ensureBucket(ctx, strings.TrimSpace(cfg.Region)); err != nil {
			return nil, err
		}
	}
	return exporter, nil
}

func NewWithClient(bucket, prefix string, c client) (*Exporter, error) {
	if c == nil {
		return nil, fmt.Errorf("client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	return &Exporter{
		client: c,
		bucket: strings.TrimSpace(bucket),
		prefix: cleanPrefix(prefix),
		now:    time.Now,
	}, nil
}

// Export serializes the entries in the requested format and uploads them under
// <prefix>/<sessionID>/history-<timestamp>.<ext>.
func (e *Exporter) Export(ctx context.Context, sessionID string, entries []history.Entry, format Format) (ObjectInfo, error) {
	if strings.TrimSpace(sessionID) == "" {
		return ObjectInfo{}, fmt.Errorf("session id is required")
	}
	if len(entries) == 0 {
		return ObjectInfo{}, fmt.Errorf("no history entries to export")
	}

	var (
		data        []byte
		contentType string
		ext         string
	)
	switch format {
	case FormatParquet:
		encoded, err := EncodeParquet(entries)
		if err != nil {
			return ObjectInfo{}, err
		}
		data, contentType, ext = encoded, "application/vnd.apache.parquet", "parquet"
	case FormatJSONL:
		buf := bytes.NewBuffer(nil)
		if err := history.WriteJSONL(buf, entries); err != nil {
			return ObjectInfo{}, err
		}
		data, contentType, ext = buf.Bytes(), "application/x-ndjson", "jsonl"
	default:
		return ObjectInfo{}, fmt.Errorf("unknown export format %q", format)
	}

	key := fmt.Sprintf("%s/history-%s.%s",
		sessionID, e.now().UTC().Format("20060102T150405Z"), ext)
	if e.prefix != "" {
		key = path.Join(e.prefix, key)
	}

	info, err := e.client.Put(ctx, e.bucket, key, bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("put archive object %q: %w", key, err)
	}
	return info, nil
}

func (e *Exporter) ensureBucket(ctx context.Context, region string) error {
	exists, err := e.client.BucketExists(ctx, e.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", e.bucket, err)
	}
	if exists {
		return nil
	}
	if err := e.client.CreateBucket(ctx, e.bucket, region); err != nil {
		return fmt.Errorf("create bucket %q: %w", e.bucket, err)
	}
	return nil
}

func cleanPrefix(prefix string) string {
	prefix = strings.TrimSpace(strings.TrimPrefix(prefix, "/"))
	if prefix == "" {
		return ""
	}
	prefix = path.Clean(prefix)
	if prefix == "." {
		return ""
	}
	return prefix
}

func newMinioClient(cfg Config) (*minioClient, error) {
	endpoint, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	impl, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create archive client: %w", err)
	}
	return &minioClient{client: impl}, nil
}

func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("endpoint is required")
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		parsed, err := url.Parse(raw)
		if err != nil {
			return "", false, fmt.Errorf("parse endpoint URL: %w", err)
		}
		if parsed.Host == "" {
			return "", false, fmt.Errorf("endpoint host is required")
		}
		if parsed.Scheme == "https" {
			return parsed.Host, true, nil
		}
		return parsed.Host, useSSL, nil
	}
	return raw, useSSL, nil
}

type minioClient struct {
	client *minio.Client
}

func (m *minioClient) Put(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) (ObjectInfo, error) {
	uploadInfo, err := m.client.PutObject(ctx, bucket, key, reader, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{Key: uploadInfo.Key, Size: uploadInfo.Size, ETag: uploadInfo.ETag}, nil
}

func (m *minioClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return m.client.BucketExists(ctx, bucket)
}

func (m *minioClient) CreateBucket(ctx context.Context, bucket, region string) error {
	return m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}
