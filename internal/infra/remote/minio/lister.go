// Package minio provides a remote file lister over an S3-compatible object
// store. A remote "directory" is a key prefix within one bucket.
package minio

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	domain "github.com/ahrav/syncd/internal/domain/sync"
)

const defaultTempSuffix = ".writing"

// Config holds the connection settings for the object store.
type Config struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`

	// TempFileSuffix overrides the staging suffix. Defaults to ".writing".
	TempFileSuffix string `yaml:"temp_file_suffix"`
}

// Lister lists and retrieves objects beneath prefixes of a single bucket.
type Lister struct {
	client     *minio.Client
	bucket     string
	tempSuffix string
}

var _ domain.RemoteFileLister = (*Lister)(nil)

// NewLister connects to the object store described by cfg.
func NewLister(cfg Config) (*Lister, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object store client: %w", err)
	}

	suffix := cfg.TempFileSuffix
	if suffix == "" {
		suffix = defaultTempSuffix
	}

	return &Lister{client: client, bucket: cfg.Bucket, tempSuffix: suffix}, nil
}

// List enumerates the objects directly under the prefix, in listing order.
func (l *Lister) List(ctx context.Context, remoteDir string) ([]domain.Entry, error) {
	prefix := normalizePrefix(remoteDir)

	var entries []domain.Entry
	for obj := range l.client.ListObjects(ctx, l.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: false,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("listing %q: %w", prefix, obj.Err)
		}
		name := strings.TrimPrefix(obj.Key, prefix)
		if name == "" || strings.Contains(name, "/") {
			// Nested "directory" placeholder; not a direct child.
			continue
		}
		entries = append(entries, domain.Entry{
			Name:    name,
			Size:    obj.Size,
			ModTime: obj.LastModified,
		})
	}
	return entries, nil
}

// Retrieve opens the object's byte stream.
func (l *Lister) Retrieve(ctx context.Context, remoteDir string, entry domain.Entry) (io.ReadCloser, error) {
	obj, err := l.client.GetObject(ctx, l.bucket, normalizePrefix(remoteDir)+entry.Name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("retrieving %q: %w", entry.Name, err)
	}
	return obj, nil
}

// Remove deletes the object.
func (l *Lister) Remove(ctx context.Context, remoteDir string, entry domain.Entry) error {
	return l.client.RemoveObject(ctx, l.bucket, normalizePrefix(remoteDir)+entry.Name, minio.RemoveObjectOptions{})
}

// TemporaryFileSuffix returns the configured staging suffix.
func (l *Lister) TemporaryFileSuffix() string { return l.tempSuffix }

// Close is a no-op; the underlying HTTP client needs no teardown.
func (l *Lister) Close() error { return nil }

func normalizePrefix(remoteDir string) string {
	if remoteDir == "" {
		return ""
	}
	return strings.TrimSuffix(remoteDir, "/") + "/"
}
