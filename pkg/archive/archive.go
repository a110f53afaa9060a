// Package archive is content-addressed blob storage for audit exports:
// journal snapshots and transfer receipts go in, a sha256: hash comes
// back, and identical content always lands on the same address. Backends
// cover the local filesystem, S3-compatible object stores, and GCS.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Store is the contract for content-addressed storage of archive blobs.
type Store interface {
	// Put persists data and returns its content hash ("sha256:<hex>").
	Put(ctx context.Context, data []byte) (string, error)
	// Get retrieves data by its content hash.
	Get(ctx context.Context, hash string) ([]byte, error)
	// Exists reports whether a blob is present for the content hash.
	Exists(ctx context.Context, hash string) (bool, error)
	// Delete removes the blob for the content hash.
	Delete(ctx context.Context, hash string) error
}

// contentHash returns the prefixed hash and the bare hex for data.
func contentHash(data []byte) (string, string) {
	sum := sha256.Sum256(data)
	raw := hex.EncodeToString(sum[:])
	return "sha256:" + raw, raw
}

// splitHash validates a "sha256:<hex>" reference and returns the hex part.
func splitHash(hash string) (string, error) {
	if len(hash) < 8 || hash[:7] != "sha256:" {
		return "", fmt.Errorf("invalid hash format: %s", hash)
	}
	raw := hash[7:]
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("invalid hash hex: %w", err)
	}
	return raw, nil
}

// FileStore is a filesystem-backed Store. Blobs are written to a temp
// file and renamed into place, so a crash never leaves a partial blob
// under its final name.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

func NewFileStore(baseDir string) (*FileStore, error) {
	//nolint:gosec // G301: the archive directory is shared with operators
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure archive dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) blobPath(raw string) string {
	return filepath.Join(s.baseDir, raw+".blob")
}

func (s *FileStore) Put(ctx context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefixed, raw := contentHash(data)
	path := s.blobPath(raw)

	if _, err := os.Stat(path); err == nil {
		return prefixed, nil
	}

	tmpPath := path + ".tmp"
	//nolint:gosec // G306: blobs are world-readable audit material
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("failed to commit blob: %w", err)
	}
	return prefixed, nil
}

func (s *FileStore) Get(ctx context.Context, hash string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := splitHash(hash)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(s.blobPath(raw))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob not found: %s", hash)
		}
		return nil, err
	}
	defer f.Close() //nolint:errcheck // best-effort close

	return io.ReadAll(f)
}

func (s *FileStore) Exists(ctx context.Context, hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := splitHash(hash)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(s.blobPath(raw))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *FileStore) Delete(ctx context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := splitHash(hash)
	if err != nil {
		return err
	}

	if err := os.Remove(s.blobPath(raw)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}
