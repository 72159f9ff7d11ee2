package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	fserr "github.com/bleepstore/filestorage/internal/errors"
)

// testBackendContract runs the behavior every StorageBackend must share.
func testBackendContract(t *testing.T, backend StorageBackend) {
	t.Helper()
	ctx := context.Background()

	t.Run("write and read", func(t *testing.T) {
		content := "Hello, file storage!"
		if err := backend.WriteStream(ctx, "a/b/hello.txt", strings.NewReader(content), WriteOptions{ContentType: "text/plain", Size: int64(len(content))}); err != nil {
			t.Fatalf("WriteStream failed: %v", err)
		}
		if got := readAll(t, backend, "a/b/hello.txt"); got != content {
			t.Errorf("data = %q, want %q", got, content)
		}
	})

	t.Run("overwrite", func(t *testing.T) {
		for _, content := range []string{"first", "second"} {
			if err := backend.WriteStream(ctx, "over.txt", strings.NewReader(content), WriteOptions{Size: -1}); err != nil {
				t.Fatalf("WriteStream failed: %v", err)
			}
		}
		if got := readAll(t, backend, "over.txt"); got != "second" {
			t.Errorf("data = %q, want second", got)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		if err := backend.WriteStream(ctx, "empty.bin", strings.NewReader(""), WriteOptions{}); err != nil {
			t.Fatalf("WriteStream failed: %v", err)
		}
		if got := readAll(t, backend, "empty.bin"); got != "" {
			t.Errorf("data = %q, want empty", got)
		}
	})

	t.Run("read missing", func(t *testing.T) {
		_, err := backend.Read(ctx, "does/not/exist.txt")
		if !errors.Is(err, fserr.ErrFileNotFound) {
			t.Errorf("Read error = %v, want ErrFileNotFound", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := backend.WriteStream(ctx, "x/del.txt", strings.NewReader("bye"), WriteOptions{}); err != nil {
			t.Fatalf("WriteStream failed: %v", err)
		}
		if err := backend.Delete(ctx, "x/del.txt"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := backend.Read(ctx, "x/del.txt"); !errors.Is(err, fserr.ErrFileNotFound) {
			t.Errorf("Read after Delete error = %v, want ErrFileNotFound", err)
		}
		if err := backend.Delete(ctx, "x/del.txt"); err != nil {
			t.Errorf("second Delete = %v, want nil", err)
		}
	})

	if ex, ok := backend.(Exister); ok {
		t.Run("exists", func(t *testing.T) {
			if err := backend.WriteStream(ctx, "exists.txt", strings.NewReader("y"), WriteOptions{}); err != nil {
				t.Fatalf("WriteStream failed: %v", err)
			}
			if ok, err := ex.Exists(ctx, "exists.txt"); err != nil || !ok {
				t.Errorf("Exists(exists.txt) = (%v, %v), want (true, nil)", ok, err)
			}
			if ok, err := ex.Exists(ctx, "nope.txt"); err != nil || ok {
				t.Errorf("Exists(nope.txt) = (%v, %v), want (false, nil)", ok, err)
			}
		})
	}

	if hc, ok := backend.(HealthChecker); ok {
		t.Run("health", func(t *testing.T) {
			if err := hc.HealthCheck(ctx); err != nil {
				t.Errorf("HealthCheck = %v", err)
			}
		})
	}
}

func readAll(t *testing.T, backend StorageBackend, path string) string {
	t.Helper()
	rc, err := backend.Read(context.Background(), path)
	if err != nil {
		t.Fatalf("Read(%q) failed: %v", path, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	return string(data)
}

func testWrite(t *testing.T, backend StorageBackend, path, content string) {
	t.Helper()
	if err := backend.WriteStream(context.Background(), path, strings.NewReader(content), WriteOptions{}); err != nil {
		t.Fatalf("WriteStream(%q) failed: %v", path, err)
	}
}
