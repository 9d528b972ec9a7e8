package worker

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore uploads one object and returns its durable reference
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error)
}

// StorageTarget is the connection info for one request's destination
type StorageTarget struct {
	Endpoint  string
	AccessKey string
	SecretKey string
}

// StoreFactory builds an ObjectStore for a request's storage settings
type StoreFactory func(target StorageTarget) (ObjectStore, error)

// MinioStore uploads to any S3-compatible service
type MinioStore struct {
	client *minio.Client
}

// parseEndpoint splits an endpoint URL into host and TLS flag. A bare
// host is treated as https.
func parseEndpoint(endpoint string) (string, bool, error) {
	if endpoint == "" {
		return "s3.amazonaws.com", true, nil
	}
	if !strings.Contains(endpoint, "://") {
		return strings.TrimRight(endpoint, "/"), true, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid storage endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "https":
		return u.Host, true, nil
	case "http":
		return u.Host, false, nil
	default:
		return "", false, fmt.Errorf("unsupported storage endpoint scheme %q", u.Scheme)
	}
}

// NewMinioStore creates an S3 client. Without explicit keys credentials
// come from the standard AWS environment variables.
func NewMinioStore(target StorageTarget) (ObjectStore, error) {
	host, secure, err := parseEndpoint(target.Endpoint)
	if err != nil {
		return nil, err
	}
	creds := credentials.NewEnvAWS()
	if target.AccessKey != "" && target.SecretKey != "" {
		creds = credentials.NewStaticV4(target.AccessKey, target.SecretKey, "")
	}
	client, err := minio.New(host, &minio.Options{
		Creds:  creds,
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &MinioStore{client: client}, nil
}

// Put uploads data and returns s3://bucket/key
func (m *MinioStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	_, err := m.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return S3URI(bucket, key), nil
}

// S3URI formats a durable object reference
func S3URI(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}
