package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	fserr "github.com/bleepstore/filestorage/internal/errors"
	"github.com/bleepstore/filestorage/internal/uid"
)

// LocalBackend implements StorageBackend on the local filesystem. Files are
// stored under RootDir at their relative storage path.
type LocalBackend struct {
	// RootDir is the base directory under which all data is stored.
	RootDir string
}

// NewLocalBackend creates a new LocalBackend rooted at the given directory.
// It creates the root directory and the temp directory if they do not exist.
func NewLocalBackend(rootDir string) (*LocalBackend, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root directory %q: %w", rootDir, err)
	}
	// Create the .tmp directory for atomic writes.
	tmpDir := filepath.Join(rootDir, ".tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating temp directory %q: %w", tmpDir, err)
	}
	return &LocalBackend{RootDir: filepath.Clean(rootDir)}, nil
}

// CleanTempFiles removes all files in the .tmp directory. Leftover temp files
// are incomplete writes from a previous crash.
func (b *LocalBackend) CleanTempFiles() error {
	tmpDir := filepath.Join(b.RootDir, ".tmp")
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading temp directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			os.Remove(filepath.Join(tmpDir, entry.Name()))
		}
	}
	return nil
}

// filePath resolves a storage path below RootDir, rejecting paths that
// would escape it.
func (b *LocalBackend) filePath(path string) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(strings.TrimLeft(path, "/")))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid storage path %q", path)
	}
	if rel == ".tmp" || strings.HasPrefix(rel, ".tmp"+string(filepath.Separator)) {
		return "", fmt.Errorf("storage path %q is reserved", path)
	}
	return filepath.Join(b.RootDir, rel), nil
}

// tempPath returns a unique temporary file path in the .tmp directory.
func (b *LocalBackend) tempPath() string {
	return filepath.Join(b.RootDir, ".tmp", "tmp-"+uid.New())
}

// WriteStream writes data to a file using the crash-only atomic write
// pattern: write to temp file, fsync, rename.
func (b *LocalBackend) WriteStream(ctx context.Context, path string, r io.Reader, _ WriteOptions) error {
	dst, err := b.filePath(path)
	if err != nil {
		return err
	}

	// Ensure parent directories exist.
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating parent directories for %q: %w", path, err)
	}

	tmpPath := b.tempPath()
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	if _, err := io.Copy(tmpFile, contextReader{ctx: ctx, r: r}); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing file data: %w", err)
	}

	// Fsync before rename to guarantee durability.
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	// Atomic rename: temp -> final path.
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file to final path: %w", err)
	}
	return nil
}

// Read opens the file for reading.
func (b *LocalBackend) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	src, err := b.filePath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fserr.ErrFileNotFound.WithMessage("file not found: %s", path)
		}
		return nil, fmt.Errorf("opening file %q: %w", path, err)
	}
	return f, nil
}

// Delete removes the file from the local filesystem. Deleting a missing file
// is not an error. Empty parent directories are removed up to the root.
func (b *LocalBackend) Delete(ctx context.Context, path string) error {
	dst, err := b.filePath(path)
	if err != nil {
		return err
	}

	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing file %q: %w", path, err)
	}

	cleanEmptyParents(filepath.Dir(dst), b.RootDir)
	return nil
}

// Exists checks whether a regular file exists at path.
func (b *LocalBackend) Exists(ctx context.Context, path string) (bool, error) {
	dst, err := b.filePath(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(dst)
	if err == nil {
		return !info.IsDir(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking file existence %q: %w", path, err)
}

// HealthCheck verifies that the local storage root directory is accessible.
func (b *LocalBackend) HealthCheck(ctx context.Context) error {
	_, err := os.Stat(b.RootDir)
	return err
}

// cleanEmptyParents removes empty directories starting from dir up to (but not
// including) stopAt.
func cleanEmptyParents(dir, stopAt string) {
	dir = filepath.Clean(dir)
	stopAt = filepath.Clean(stopAt)

	for dir != stopAt && strings.HasPrefix(dir, stopAt+string(filepath.Separator)) {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
