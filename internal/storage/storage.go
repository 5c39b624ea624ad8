package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
)

// ErrNotFound is returned when an object does not exist
var ErrNotFound = errors.New("object not found")

// Storage interface for storing and retrieving recorded segments and playlists
type Storage interface {
	// Write writes data to a file path
	Write(path string, data []byte) error

	// Read reads data from a file path
	Read(path string) ([]byte, error)

	// ReadSeeker returns a ReadSeeker for the file (useful for http.ServeContent)
	ReadSeeker(path string) (io.ReadSeeker, error)

	// Delete deletes a file
	Delete(path string) error

	// Exists checks if a file exists
	Exists(path string) (bool, error)

	// List lists files in a directory
	List(dir string) ([]string, error)
}

// Config selects and configures a storage backend
type Config struct {
	Type      string // "local" or "gcs"
	Dir       string
	ProjectID string
	Bucket    string
	BaseDir   string
}

// New creates the backend named by cfg.Type
func New(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalStorage(cfg.Dir)
	case "gcs":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("GCS storage requires a bucket name")
		}
		return NewGCSStorage(ctx, cfg.ProjectID, cfg.Bucket, cfg.BaseDir)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// ContentType returns the HTTP content type for a stored file
func ContentType(name string) string {
	switch path.Ext(name) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".m4s":
		return "video/iso.segment"
	case ".mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

// CacheControl returns the Cache-Control value for a stored file.
// Playlists change on every segment; segments never change.
func CacheControl(name string) string {
	switch path.Ext(name) {
	case ".m3u8":
		return "no-cache, no-store, must-revalidate"
	case ".ts", ".m4s", ".mp4":
		return "public, max-age=3600"
	default:
		return "public, max-age=300"
	}
}

// LocalStorage implements Storage using local filesystem
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage creates a new local storage instance
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("storage directory is required")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &LocalStorage{
		baseDir: baseDir,
	}, nil
}

// resolve maps a storage path inside the base directory
func (s *LocalStorage) resolve(p string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(path.Clean("/"+p)))
}

func notFound(err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

// Write writes data to a file. The data is written to a temporary file
// first so readers never observe a partial segment.
func (s *LocalStorage) Write(p string, data []byte) error {
	fullPath := s.resolve(p)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp := fullPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

// Read reads data from a file
func (s *LocalStorage) Read(p string) ([]byte, error) {
	data, err := os.ReadFile(s.resolve(p))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", notFound(err))
	}
	return data, nil
}

// ReadSeeker returns a ReadSeeker for the file. The caller closes it when
// it implements io.Closer.
func (s *LocalStorage) ReadSeeker(p string) (io.ReadSeeker, error) {
	file, err := os.Open(s.resolve(p))
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", notFound(err))
	}
	return file, nil
}

// Delete deletes a file
func (s *LocalStorage) Delete(p string) error {
	if err := os.Remove(s.resolve(p)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Exists checks if a file exists
func (s *LocalStorage) Exists(p string) (bool, error) {
	_, err := os.Stat(s.resolve(p))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}
	return true, nil
}

// List lists files in a directory
func (s *LocalStorage) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(s.resolve(dir))
	if err != nil {
		return nil, fmt.Errorf("failed to list directory: %w", notFound(err))
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && path.Ext(entry.Name()) != ".tmp" {
			files = append(files, entry.Name())
		}
	}
	return files, nil
}
