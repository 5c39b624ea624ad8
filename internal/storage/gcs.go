package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSStorage implements Storage using Google Cloud Storage
type GCSStorage struct {
	client     *storage.Client
	bucketName string
	baseDir    string
	ctx        context.Context
}

// NewGCSStorage creates a new GCS storage instance
// projectID: Your GCP project ID
// bucketName: The GCS bucket name
// baseDir: Base directory/prefix within the bucket (e.g., "recordings")
func NewGCSStorage(ctx context.Context, projectID, bucketName, baseDir string) (*GCSStorage, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	bucket := client.Bucket(bucketName)
	if projectID != "" {
		bucket = bucket.UserProject(projectID)
	}
	if _, err := bucket.Attrs(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to access bucket %s: %w", bucketName, err)
	}

	return &GCSStorage{
		client:     client,
		bucketName: bucketName,
		baseDir:    strings.Trim(baseDir, "/"),
		ctx:        ctx,
	}, nil
}

// Write uploads data with the content type and cache policy of its extension
func (s *GCSStorage) Write(path string, data []byte) error {
	w := s.object(path).NewWriter(s.ctx)
	w.ContentType = ContentType(path)
	w.CacheControl = CacheControl(path)

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

// Read reads data from GCS
func (s *GCSStorage) Read(path string) ([]byte, error) {
	r, err := s.object(path).NewReader(s.ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read from GCS: %w", s.notFound(err))
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	return data, nil
}

// ReadSeeker loads the object into memory. Segments are a few megabytes
// at most.
func (s *GCSStorage) ReadSeeker(path string) (io.ReadSeeker, error) {
	data, err := s.Read(path)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

// Delete deletes a file from GCS
func (s *GCSStorage) Delete(path string) error {
	if err := s.object(path).Delete(s.ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}

// Exists checks if a file exists in GCS
func (s *GCSStorage) Exists(path string) (bool, error) {
	_, err := s.object(path).Attrs(s.ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check GCS object: %w", err)
	}
	return true, nil
}

// List lists files directly under dir
func (s *GCSStorage) List(dir string) ([]string, error) {
	prefix := s.fullPath(dir)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	it := s.client.Bucket(s.bucketName).Objects(s.ctx, &storage.Query{
		Prefix:    prefix,
		Delimiter: "/",
	})

	var files []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list GCS objects: %w", err)
		}
		// prefixes stand in for subdirectories
		if attrs.Name == "" {
			continue
		}
		files = append(files, strings.TrimPrefix(attrs.Name, prefix))
	}
	return files, nil
}

// Close closes the GCS client
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

func (s *GCSStorage) object(path string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucketName).Object(s.fullPath(path))
}

func (s *GCSStorage) fullPath(path string) string {
	path = strings.TrimPrefix(path, "/")
	if s.baseDir == "" {
		return path
	}
	return s.baseDir + "/" + path
}

func (s *GCSStorage) notFound(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
