package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FilePerms restricts archived files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating archive directories.
const DirPerms = 0o700

// Dir archives entries under a local directory, one subdirectory per chat.
type Dir struct {
	root   string
	logger *slog.Logger
}

// NewDir creates the root directory if needed.
func NewDir(root string, logger *slog.Logger) (*Dir, error) {
	if root == "" {
		return nil, fmt.Errorf("archive: dir backend needs a directory")
	}

	if err := os.MkdirAll(root, DirPerms); err != nil {
		return nil, fmt.Errorf("archive: creating %s: %w", root, err)
	}

	return &Dir{root: root, logger: logger}, nil
}

// Put writes the entry atomically and returns its path.
func (d *Dir) Put(_ context.Context, e *Entry) (string, error) {
	name, err := objectName(e, uuid.NewString())
	if err != nil {
		return "", err
	}

	path := filepath.Join(d.root, filepath.FromSlash(name))
	if err := writeAtomic(path, e.Data); err != nil {
		return "", err
	}

	d.logger.Debug("archived artifact",
		slog.String("path", path),
		slog.Int("size", len(e.Data)),
	)

	return path, nil
}

// writeAtomic writes data to a temp file in the target directory, syncs it,
// and renames it into place.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("archive: creating directory %s: %w", dir, err)
	}

	// Same directory so rename(2) stays on one filesystem.
	tmp, err := os.CreateTemp(dir, ".archive-*.tmp")
	if err != nil {
		return fmt.Errorf("archive: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("archive: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("archive: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("archive: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("archive: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("archive: renaming: %w", err)
	}

	success = true

	return nil
}
