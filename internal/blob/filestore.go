package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrBlobNotFound is returned when a ref does not point at a stored blob
var ErrBlobNotFound = errors.New("blob not found")

// ErrInvalidKey is returned for keys that are empty or escape the store root
var ErrInvalidKey = errors.New("invalid blob key")

// Ref addresses a stored blob relative to the store root
type Ref = string

// FileStore keeps blobs as plain files under a root directory
type FileStore struct {
	root   string
	logger *slog.Logger
}

// NewFileStore creates the root directory if needed
func NewFileStore(root string, logger *slog.Logger) (*FileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve blob root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}

	logger.Info("Blob store ready", slog.String("root", abs))

	return &FileStore{root: abs, logger: logger}, nil
}

// Put writes r under key and returns its ref. The write goes through a
// temporary file so readers never see a partial blob.
func (s *FileStore) Put(ctx context.Context, key string, r io.Reader) (Ref, error) {
	path, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to commit blob: %w", err)
	}

	s.logger.Debug("Blob stored",
		slog.String("key", key),
		slog.Int64("size", n),
	)

	return filepath.ToSlash(filepath.Clean(key)), nil
}

// Get returns the blob's bytes
func (s *FileStore) Get(ctx context.Context, ref Ref) ([]byte, error) {
	path, err := s.Path(ref)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

// Path returns the absolute file path of an existing blob
func (s *FileStore) Path(ref Ref) (string, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrBlobNotFound, ref)
		}
		return "", fmt.Errorf("failed to stat blob: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrBlobNotFound, ref)
	}
	return path, nil
}

func (s *FileStore) resolve(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrInvalidKey
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	return filepath.Join(s.root, clean), nil
}

// UploadKey builds the key for an uploaded document, keeping only the base
// name of what the client sent.
func UploadKey(prefix, role, filename string) string {
	name := filepath.Base(filepath.Clean("/" + filepath.ToSlash(filename)))
	if name == "/" || name == "." || name == "" {
		name = "document"
	}
	return prefix + "/" + role + "_" + name
}
