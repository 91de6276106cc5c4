package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// BlobStore uploads book assets and returns durable public URLs.
type BlobStore interface {
	UploadFile(ctx context.Context, key, localPath string) (string, error)
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// MinioConfig configures the MinIO/S3 blob store.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicBaseURL is the origin that serves objects publicly (CDN or
	// bucket website). Defaults to the endpoint in path style.
	PublicBaseURL string
}

// MinioStore implements BlobStore for MinIO/S3 compatible storage.
type MinioStore struct {
	client  *minio.Client
	bucket  string
	baseURL *url.URL
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	base, err := publicBase(cfg)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, baseURL: base}, nil
}

func publicBase(cfg MinioConfig) (*url.URL, error) {
	raw := strings.TrimSpace(cfg.PublicBaseURL)
	if raw == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		raw = scheme + "://" + strings.TrimSuffix(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse public base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("public base url must be absolute: %q", raw)
	}
	return u, nil
}

// UploadFile streams a local file into the bucket.
func (m *MinioStore) UploadFile(ctx context.Context, key, localPath string) (string, error) {
	_, err := m.client.FPutObject(ctx, m.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: ContentTypeForName(localPath),
	})
	if err != nil {
		return "", fmt.Errorf("put file %s: %w", key, err)
	}
	return m.PublicURL(key), nil
}

// Upload stores an object from a reader.
func (m *MinioStore) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	if contentType == "" {
		contentType = ContentTypeForName(key)
	}
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return m.PublicURL(key), nil
}

// Delete removes an object.
func (m *MinioStore) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// PublicURL returns the durable URL for key.
func (m *MinioStore) PublicURL(key string) string {
	return joinURL(m.baseURL, key)
}

func joinURL(base *url.URL, key string) string {
	u := *base
	u.Path = path.Join("/", base.Path, key)
	return u.String()
}

// BookFileKey names the stored object for a resolved book file.
func BookFileKey(bookID, ext string) string {
	return "books/files/book_" + bookID + strings.ToLower(ext)
}

// CoverKey names the stored object for an uploaded cover image.
func CoverKey(bookID, ext string) string {
	return "books/covers/book_" + bookID + strings.ToLower(ext)
}

// ContentTypeForName infers a content type from the file extension.
func ContentTypeForName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".epub":
		return "application/epub+zip"
	}
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
