package sync

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/chmdznr/surat-sync/pkg/models"
)

// ObjectStore is the remote file backend: upload bytes under a name, stream
// them back by locator, delete by locator.
type ObjectStore interface {
	Upload(ctx context.Context, name string, r io.Reader, size int64) (string, error)
	FetchStream(ctx context.Context, locator string) (io.ReadCloser, error)
	Delete(ctx context.Context, locator string) error
}

// MinioStore implements ObjectStore against a MinIO/S3 bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
	folder string
}

// NewMinioStore creates the remote backend from project configuration.
func NewMinioStore(project *models.Project) (*MinioStore, error) {
	dest := project.Destination
	if dest.Endpoint == "" || dest.Bucket == "" {
		return nil, Config("minio endpoint or bucket is not configured", nil)
	}
	if dest.AccessKey == "" || dest.SecretKey == "" {
		return nil, Config("minio credentials are not configured", nil)
	}

	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	opts := minio.Options{
		Creds:        credentials.NewStaticV4(dest.AccessKey, dest.SecretKey, ""),
		Secure:       true,
		Transport:    tr,
		Region:       "auto",
		BucketLookup: minio.BucketLookupAuto,
	}

	client, err := minio.New(dest.Endpoint, &opts)
	if err != nil {
		return nil, Config("failed to initialize MinIO client", err)
	}

	folder := strings.Trim(dest.Folder, "/")
	return &MinioStore{client: client, bucket: dest.Bucket, folder: folder}, nil
}

// Upload writes the object and returns its locator. The write is verified
// against the expected size before it counts as confirmed.
func (s *MinioStore) Upload(ctx context.Context, name string, r io.Reader, size int64) (string, error) {
	locator := name
	if s.folder != "" {
		locator = s.folder + "/" + name
	}

	info, err := s.client.PutObject(ctx, s.bucket, locator, r, size, minio.PutObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %v", locator, err)
	}
	if size >= 0 && info.Size != size {
		return "", fmt.Errorf("uploaded size mismatch for %s: expected %d, got %d", locator, size, info.Size)
	}
	return locator, nil
}

// FetchStream opens the object for reading. Existence is checked eagerly so
// a missing object fails here rather than on first read.
func (s *MinioStore) FetchStream(ctx context.Context, locator string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, locator, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %v", locator, err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("failed to stat %s: %v", locator, err)
	}
	return obj, nil
}

// Delete removes the object by locator.
func (s *MinioStore) Delete(ctx context.Context, locator string) error {
	return s.client.RemoveObject(ctx, s.bucket, locator, minio.RemoveObjectOptions{})
}
