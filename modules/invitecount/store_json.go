package invitecount

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore persists the ledger as one indented JSON document.
type FileStore struct {
	path string
}

// NewFileStore creates a JSON file store, creating the parent directory.
func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("new file store: empty path")
	}

	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("new file store create dir: %w", err)
	}

	return &FileStore{path: cleanPath}, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the document; a missing or blank file is an empty ledger. Key
// order in the file is the first-recorded order.
func (s *FileStore) Load(ctx context.Context) (Records, error) {
	if err := ctx.Err(); err != nil {
		return Records{}, fmt.Errorf("file store load: %w", err)
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Records{}, nil
	}
	if err != nil {
		return Records{}, fmt.Errorf("file store load read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Records{}, nil
	}

	var records Records
	if err := json.Unmarshal(data, &records); err != nil {
		return Records{}, fmt.Errorf("file store load parse %s: %w", s.path, err)
	}

	return records, nil
}

// Save writes the document to a temp file and renames it into place.
func (s *FileStore) Save(ctx context.Context, records Records) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("file store save: %w", err)
	}

	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(records); err != nil {
		return fmt.Errorf("file store save encode: %w", err)
	}

	temp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("file store save create temp: %w", err)
	}
	tempPath := temp.Name()
	cleanup := func() {
		_ = os.Remove(tempPath)
	}

	if _, err := temp.Write(buffer.Bytes()); err != nil {
		_ = temp.Close()
		cleanup()
		return fmt.Errorf("file store save write: %w", err)
	}
	if err := temp.Sync(); err != nil {
		_ = temp.Close()
		cleanup()
		return fmt.Errorf("file store save sync: %w", err)
	}
	if err := temp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("file store save close: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		cleanup()
		return fmt.Errorf("file store save rename: %w", err)
	}

	return nil
}

// Close is a no-op; the file is only open during Load and Save.
func (s *FileStore) Close() error {
	return nil
}

var _ Store = (*FileStore)(nil)
