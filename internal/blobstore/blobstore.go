// Package blobstore implements the per-user filesystem layout described in
// SPEC_FULL.md §4.2, grounded on original_source/utils/user_file_manager.py's
// LocalUserFileManager, re-expressed in the teacher's interface-then-concrete
// shape (internal/repositories/document_repository.go).
package blobstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kb-pipeline/internal/errs"
)

// DocInfo describes one origin-directory entry, as returned by ListDocs.
type DocInfo struct {
	DocID     string
	Filename  string
	Size      int64
	CreatedAt time.Time
	Processed bool
}

// Store is the interface every pipeline component depends on; a single
// LocalStore implementation backs it, but the interface keeps the Processing
// Manager free of filesystem details (matching the teacher's repository
// interfaces).
type Store interface {
	SaveOriginal(userToken, docID, filename string, stream io.Reader) (originalPath string, err error)
	WriteProcessed(userToken, docID, text string) error
	ReadProcessed(userToken, docID string) (text string, found bool, err error)
	ReadOriginal(userToken, docID string) (io.ReadCloser, error)
	OriginalPath(userToken, docID string) (string, error)
	DeleteDoc(userToken, docID string) error
	DeleteUser(userToken string) error
	ListDocs(userToken string) ([]DocInfo, error)
}

// LocalStore is a filesystem-backed Store rooted at baseDir/user/.
type LocalStore struct {
	baseDir string
}

// NewLocalStore creates the base/user root eagerly, matching
// LocalUserFileManager's eager mkdir in __init__.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	userRoot := filepath.Join(baseDir, "user")
	if err := os.MkdirAll(userRoot, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create user root: %w", err)
	}
	return &LocalStore{baseDir: baseDir}, nil
}

func (s *LocalStore) userDir(userToken string) string {
	return filepath.Join(s.baseDir, "user", userToken)
}

func (s *LocalStore) originDir(userToken string) string {
	return filepath.Join(s.userDir(userToken), "uploads", "origin")
}

func (s *LocalStore) processedDir(userToken string) string {
	return filepath.Join(s.userDir(userToken), "uploads", "processed")
}

func (s *LocalStore) chromaKBDir(userToken string) string {
	return filepath.Join(s.userDir(userToken), "chroma_kb")
}

// ensureUserDirs creates all three per-user directories idempotently.
func (s *LocalStore) ensureUserDirs(userToken string) error {
	for _, dir := range []string{s.originDir(userToken), s.processedDir(userToken), s.chromaKBDir(userToken)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("blobstore: create %s: %w", dir, err)
		}
	}
	return nil
}

// SaveOriginal streams stream to origin/{doc_id}{ext}, where ext is derived
// from filename. On any write error, the partial file is removed.
func (s *LocalStore) SaveOriginal(userToken, docID, filename string, stream io.Reader) (string, error) {
	if err := s.ensureUserDirs(userToken); err != nil {
		return "", err
	}

	ext := filepath.Ext(filename)
	originalPath := filepath.Join(s.originDir(userToken), docID+ext)

	out, err := os.Create(originalPath)
	if err != nil {
		return "", fmt.Errorf("blobstore: create original file: %w", err)
	}

	if _, err := io.Copy(out, stream); err != nil {
		out.Close()
		os.Remove(originalPath)
		return "", fmt.Errorf("blobstore: write original file: %w", err)
	}

	if err := out.Close(); err != nil {
		os.Remove(originalPath)
		return "", fmt.Errorf("blobstore: close original file: %w", err)
	}

	return originalPath, nil
}

// WriteProcessed writes text to processed/{doc_id}.txt, replacing any
// existing file.
func (s *LocalStore) WriteProcessed(userToken, docID, text string) error {
	if err := s.ensureUserDirs(userToken); err != nil {
		return err
	}
	path := filepath.Join(s.processedDir(userToken), docID+".txt")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("blobstore: write processed file: %w", err)
	}
	return nil
}

// ReadProcessed returns the processed text for docID, or found=false if it
// does not exist.
func (s *LocalStore) ReadProcessed(userToken, docID string) (string, bool, error) {
	path := filepath.Join(s.processedDir(userToken), docID+".txt")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("blobstore: read processed file: %w", err)
	}
	return string(data), true, nil
}

// findOriginal locates the origin file whose stem equals docID, since the
// extension is not known to the caller a priori.
func (s *LocalStore) findOriginal(userToken, docID string) (string, error) {
	entries, err := os.ReadDir(s.originDir(userToken))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", errs.FileMissingError("find_original", "origin directory does not exist for user")
		}
		return "", fmt.Errorf("blobstore: list origin directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		if stem == docID {
			return filepath.Join(s.originDir(userToken), name), nil
		}
	}
	return "", errs.FileMissingError("find_original", "no original file found for doc_id "+docID)
}

// ReadOriginal opens the original file for docID; the caller must Close it.
func (s *LocalStore) ReadOriginal(userToken, docID string) (io.ReadCloser, error) {
	path, err := s.findOriginal(userToken, docID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("blobstore: open original file: %w", err)
	}
	return f, nil
}

// OriginalPath resolves the on-disk path of docID's original file, for
// callers (the Text Converter) that need a path rather than a stream.
func (s *LocalStore) OriginalPath(userToken, docID string) (string, error) {
	return s.findOriginal(userToken, docID)
}

// DeleteDoc removes both the original and processed files for docID.
// Succeeds (no error) if neither existed.
func (s *LocalStore) DeleteDoc(userToken, docID string) error {
	if path, err := s.findOriginal(userToken, docID); err == nil {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return fmt.Errorf("blobstore: remove original file: %w", rmErr)
		}
	}

	processedPath := filepath.Join(s.processedDir(userToken), docID+".txt")
	if rmErr := os.Remove(processedPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		return fmt.Errorf("blobstore: remove processed file: %w", rmErr)
	}

	return nil
}

// DeleteUser removes the entire per-user directory tree.
func (s *LocalStore) DeleteUser(userToken string) error {
	if err := os.RemoveAll(s.userDir(userToken)); err != nil {
		return fmt.Errorf("blobstore: remove user directory: %w", err)
	}
	return nil
}

// ListDocs enumerates origin-dir entries for userToken.
func (s *LocalStore) ListDocs(userToken string) ([]DocInfo, error) {
	entries, err := os.ReadDir(s.originDir(userToken))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []DocInfo{}, nil
		}
		return nil, fmt.Errorf("blobstore: list origin directory: %w", err)
	}

	docs := make([]DocInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		name := e.Name()
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		_, processed, _ := s.ReadProcessed(userToken, stem)
		docs = append(docs, DocInfo{
			DocID:     stem,
			Filename:  name,
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
			Processed: processed,
		})
	}
	return docs, nil
}
