package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
)

var slotNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// FileSlot stores each slot as <dir>/<name>.json.
type FileSlot struct {
	dir string
}

func NewFileSlot(dir string) (*FileSlot, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &FileSlot{dir: dir}, nil
}

func (f *FileSlot) path(name string) (string, error) {
	if !slotNamePattern.MatchString(name) {
		return "", fmt.Errorf("invalid slot name %q", name)
	}
	return filepath.Join(f.dir, name+".json"), nil
}

func (f *FileSlot) Read(_ context.Context, name string) ([]byte, error) {
	p, err := f.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrSlotEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("read slot file: %w", err)
	}
	return data, nil
}

// Write replaces the slot file atomically through a temp file and rename.
func (f *FileSlot) Write(_ context.Context, name string, payload []byte) error {
	p, err := f.path(name)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp slot file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp slot file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp slot file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp slot file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("replace slot file: %w", err)
	}
	return nil
}
