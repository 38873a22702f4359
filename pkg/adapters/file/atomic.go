package file

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/aretw0/parley/pkg/domain"
)

const (
	ext    = ".json"
	tmpDir = ".tmp" // Staging area; listIDs skips directories
)

// writeAtomic writes data to dir/name.json via temp file, fsync and rename.
func writeAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to ensure directory: %w", err)
	}
	destPath := filepath.Join(dir, name+ext)

	// A subdirectory keeps the rename on one filesystem and temp names out of the id space
	staging := filepath.Join(dir, tmpDir)
	if err := os.MkdirAll(staging, 0755); err != nil {
		return fmt.Errorf("failed to ensure staging directory: %w", err)
	}
	tmpFile, err := os.CreateTemp(staging, name+"-*"+ext)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	// Windows cannot rename an open file
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// Windows refuses to rename over an existing file. Elsewhere rename
	// replaces the target atomically and readers never see it missing.
	if runtime.GOOS == "windows" {
		if _, err := os.Stat(destPath); err == nil {
			if err := os.Remove(destPath); err != nil {
				return fmt.Errorf("failed to remove existing file for overwrite: %w", err)
			}
		}
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func listIDs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	ids := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ext {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ext))
	}
	return ids, nil
}

func validID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id cannot be empty", domain.ErrMalformedRequest)
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("%w: invalid id %q", domain.ErrMalformedRequest, id)
	}
	return nil
}
