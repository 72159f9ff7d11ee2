package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"

	fserr "github.com/bleepstore/filestorage/internal/errors"
	"github.com/bleepstore/filestorage/internal/file"
	"github.com/bleepstore/filestorage/internal/pathbuilder"
	"github.com/bleepstore/filestorage/internal/storage"
)

const testUUID = "914e1512-9153-4253-a81e-7ee2edc1d973"

// recordingBackend is an in-memory backend that records every call.
type recordingBackend struct {
	mu         sync.Mutex
	objects    map[string][]byte
	types      map[string]string
	calls      []string
	failWrite  error
	failDelete map[string]error
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{
		objects:    make(map[string][]byte),
		types:      make(map[string]string),
		failDelete: make(map[string]error),
	}
}

func (b *recordingBackend) WriteStream(ctx context.Context, path string, r io.Reader, opts storage.WriteOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "write "+path)
	if b.failWrite != nil {
		return b.failWrite
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.objects[path] = data
	b.types[path] = opts.ContentType
	return nil
}

func (b *recordingBackend) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[path]
	if !ok {
		return nil, fserr.ErrFileNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *recordingBackend) Delete(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "delete "+path)
	if err := b.failDelete[path]; err != nil {
		return err
	}
	delete(b.objects, path)
	return nil
}

// closeRecorder records whether Close was called.
type closeRecorder struct {
	io.Reader
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func newTestOrchestrator(t *testing.T, opts ...Option) (*Orchestrator, *recordingBackend) {
	t.Helper()
	backend := newRecordingBackend()
	reg := storage.NewRegistry()
	reg.Register("local", backend)
	builder := pathbuilder.Func(func(f *file.File) string {
		return "files/" + f.UUID() + "/" + f.Filename()
	})
	return New(reg, builder, opts...), backend
}

func newTestFile(t *testing.T, content string) *file.File {
	t.Helper()
	f, err := file.Create(file.Attributes{
		Filename: "report.pdf",
		Filesize: int64(len(content)),
		MimeType: "application/pdf",
		Storage:  "local",
		Stream:   strings.NewReader(content),
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return f.WithUUID(testUUID)
}

func storedFile(t *testing.T, variants map[string]file.Variant) *file.File {
	t.Helper()
	f, err := file.Create(file.Attributes{
		Filename: "report.pdf",
		Storage:  "local",
		Variants: variants,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return f.WithUUID(testUUID).WithPath("files/main.pdf")
}

func TestParsePhase(t *testing.T) {
	for _, p := range Phases() {
		got, err := ParsePhase(p.String())
		if err != nil || got != p {
			t.Errorf("ParsePhase(%q) = (%v, %v), want (%v, nil)", p.String(), got, err, p)
		}
	}
	if _, err := ParsePhase("unknownSlot"); !errors.Is(err, fserr.ErrInvalidHookType) {
		t.Errorf("ParsePhase(unknownSlot) error = %v, want ErrInvalidHookType", err)
	}
	if got := Phase(42).String(); got != "unknown" {
		t.Errorf("Phase(42).String() = %q, want unknown", got)
	}
}

func TestParseRemovePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    RemovePolicy
		wantErr bool
	}{
		{"", FailFast, false},
		{"fail_fast", FailFast, false},
		{"best_effort", BestEffort, false},
		{"whatever", FailFast, true},
	}
	for _, tt := range tests {
		got, err := ParseRemovePolicy(tt.in)
		if got != tt.want || (err != nil) != tt.wantErr {
			t.Errorf("ParseRemovePolicy(%q) = (%v, %v), want (%v, err=%v)", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestAddHookRejectsInvalid(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	noop := func(ctx context.Context, f *file.File) (*file.File, error) { return f, nil }

	if err := o.AddHook(Phase(7), noop); !errors.Is(err, fserr.ErrInvalidHookType) {
		t.Errorf("AddHook(Phase(7)) error = %v, want ErrInvalidHookType", err)
	}
	if err := o.AddHook(BeforeSave, nil); !errors.Is(err, fserr.ErrInvalidHookType) {
		t.Errorf("AddHook(nil) error = %v, want ErrInvalidHookType", err)
	}
	if _, err := o.RunHooks(context.Background(), Phase(-1), storedFile(t, nil)); !errors.Is(err, fserr.ErrInvalidHookType) {
		t.Errorf("RunHooks(Phase(-1)) error = %v, want ErrInvalidHookType", err)
	}
}

func TestRunHooksOrder(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	var order []string
	h1 := func(ctx context.Context, f *file.File) (*file.File, error) {
		order = append(order, "h1")
		return f.WithMetadataKey("trail", "h1"), nil
	}
	h2 := func(ctx context.Context, f *file.File) (*file.File, error) {
		order = append(order, "h2")
		return f.WithMetadataKey("trail", f.Metadata()["trail"].(string)+",h2"), nil
	}
	for _, h := range []Hook{h1, h2} {
		if err := o.AddHook(BeforeSave, h); err != nil {
			t.Fatalf("AddHook failed: %v", err)
		}
	}

	in := storedFile(t, nil)
	out, err := o.RunHooks(ctx, BeforeSave, in)
	if err != nil {
		t.Fatalf("RunHooks failed: %v", err)
	}
	if !reflect.DeepEqual(order, []string{"h1", "h2"}) {
		t.Errorf("order = %v, want [h1 h2]", order)
	}
	if got := out.Metadata()["trail"]; got != "h1,h2" {
		t.Errorf("trail = %v, want h1,h2", got)
	}
	if _, ok := in.Metadata()["trail"]; ok {
		t.Error("RunHooks mutated its input")
	}

	// Empty phases are the identity.
	same, err := o.RunHooks(ctx, AfterRemove, in)
	if err != nil || same != in {
		t.Errorf("RunHooks(empty) = (%p, %v), want (%p, nil)", same, err, in)
	}
}

func TestRunHooksNilResultKeepsFile(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	o.AddHook(AfterSave, func(ctx context.Context, f *file.File) (*file.File, error) { return nil, nil })

	in := storedFile(t, nil)
	out, err := o.RunHooks(context.Background(), AfterSave, in)
	if err != nil || out != in {
		t.Errorf("RunHooks = (%p, %v), want (%p, nil)", out, err, in)
	}
}

func TestStore(t *testing.T) {
	o, backend := newTestOrchestrator(t)
	ctx := context.Background()

	var beforePath string
	o.AddHook(BeforeSave, func(ctx context.Context, f *file.File) (*file.File, error) {
		beforePath, _ = f.Path()
		return f, nil
	})
	o.AddHook(AfterSave, func(ctx context.Context, f *file.File) (*file.File, error) {
		return f.WithID(99), nil
	})

	rec := &closeRecorder{Reader: strings.NewReader("%PDF-1.4 body")}
	f, err := newTestFile(t, "").WithResource(rec)
	if err != nil {
		t.Fatalf("WithResource failed: %v", err)
	}

	stored, err := o.Store(ctx, f)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	wantPath := "files/" + testUUID + "/report.pdf"
	if path, err := stored.Path(); err != nil || path != wantPath {
		t.Errorf("Path = (%q, %v), want %q", path, err, wantPath)
	}
	if beforePath != wantPath {
		t.Errorf("before-save hook saw path %q, want %q", beforePath, wantPath)
	}
	if stored.ID() != 99 {
		t.Errorf("ID = %d, want 99 from the after-save hook", stored.ID())
	}
	if !reflect.DeepEqual(backend.calls, []string{"write " + wantPath}) {
		t.Errorf("calls = %v, want one write", backend.calls)
	}
	if got := string(backend.objects[wantPath]); got != "%PDF-1.4 body" {
		t.Errorf("stored data = %q", got)
	}
	if got := backend.types[wantPath]; got != "application/pdf" {
		t.Errorf("content type = %q, want application/pdf", got)
	}
	if !rec.closed {
		t.Error("stream was not closed after the write")
	}
	if f.HasPath() {
		t.Error("Store mutated its input")
	}
}

func TestStoreAssignsUUID(t *testing.T) {
	o, _ := newTestOrchestrator(t, WithUUIDGenerator(func() string { return "generated" }))
	f, err := file.Create(file.Attributes{Filename: "a.txt", Storage: "local", Stream: strings.NewReader("a")})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	stored, err := o.Store(context.Background(), f)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if stored.UUID() != "generated" {
		t.Errorf("UUID = %q, want generated", stored.UUID())
	}
	if path, _ := stored.Path(); path != "files/generated/a.txt" {
		t.Errorf("Path = %q", path)
	}
}

func TestStoreErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("no stream", func(t *testing.T) {
		o, backend := newTestOrchestrator(t)
		_, err := o.Store(ctx, storedFile(t, nil))
		if !errors.Is(err, fserr.ErrBackendWrite) || !errors.Is(err, fserr.ErrNoStream) {
			t.Errorf("Store error = %v, want ErrBackendWrite wrapping ErrNoStream", err)
		}
		if len(backend.calls) != 0 {
			t.Errorf("calls = %v, want none", backend.calls)
		}
	})

	t.Run("unknown storage", func(t *testing.T) {
		o, _ := newTestOrchestrator(t)
		rec := &closeRecorder{Reader: strings.NewReader("a")}
		f, _ := file.Create(file.Attributes{Filename: "a.txt", Storage: "s3", Stream: rec})
		if _, err := o.Store(ctx, f); !errors.Is(err, fserr.ErrUnknownStorage) {
			t.Errorf("Store error = %v, want ErrUnknownStorage", err)
		}
		if !rec.closed {
			t.Error("stream was not closed after a failed Store")
		}
	})

	t.Run("backend failure skips after-save", func(t *testing.T) {
		o, backend := newTestOrchestrator(t)
		boom := errors.New("disk full")
		backend.failWrite = boom
		ran := false
		o.AddHook(AfterSave, func(ctx context.Context, f *file.File) (*file.File, error) {
			ran = true
			return f, nil
		})
		_, err := o.Store(ctx, newTestFile(t, "x"))
		if !errors.Is(err, fserr.ErrBackendWrite) || !errors.Is(err, boom) {
			t.Errorf("Store error = %v, want ErrBackendWrite wrapping the cause", err)
		}
		if ran {
			t.Error("after-save hook ran after a failed write")
		}
	})

	t.Run("stream consumed once", func(t *testing.T) {
		o, _ := newTestOrchestrator(t)
		f := newTestFile(t, "once")
		if _, err := o.Store(ctx, f); err != nil {
			t.Fatalf("first Store failed: %v", err)
		}
		_, err := o.Store(ctx, f)
		if !errors.Is(err, fserr.ErrBackendWrite) || !errors.Is(err, fserr.ErrInvalidStream) {
			t.Errorf("second Store error = %v, want ErrBackendWrite wrapping ErrInvalidStream", err)
		}
	})

	t.Run("before-save hook failure", func(t *testing.T) {
		o, backend := newTestOrchestrator(t)
		boom := errors.New("rejected")
		o.AddHook(BeforeSave, func(ctx context.Context, f *file.File) (*file.File, error) { return nil, boom })
		rec := &closeRecorder{Reader: strings.NewReader("x")}
		f, _ := file.Create(file.Attributes{Filename: "a.txt", Storage: "local", Stream: rec})
		if _, err := o.Store(ctx, f); !errors.Is(err, boom) {
			t.Errorf("Store error = %v, want hook error", err)
		}
		if len(backend.calls) != 0 {
			t.Errorf("calls = %v, want none", backend.calls)
		}
		if !rec.closed {
			t.Error("stream was not closed after a before-save failure")
		}
	})
}

func TestRemove(t *testing.T) {
	o, backend := newTestOrchestrator(t)
	ctx := context.Background()

	var hooks []string
	o.AddHook(BeforeRemove, func(ctx context.Context, f *file.File) (*file.File, error) {
		hooks = append(hooks, "before")
		return f, nil
	})
	o.AddHook(AfterRemove, func(ctx context.Context, f *file.File) (*file.File, error) {
		hooks = append(hooks, "after")
		return f, nil
	})

	f := storedFile(t, map[string]file.Variant{
		"thumb":   {"path": "files/main.thumb.pdf"},
		"pending": {"width": 100},
		"large":   {"path": "files/main.large.pdf"},
	})
	if _, err := o.Remove(ctx, f); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	want := []string{"delete files/main.large.pdf", "delete files/main.thumb.pdf", "delete files/main.pdf"}
	if !reflect.DeepEqual(backend.calls, want) {
		t.Errorf("calls = %v, want %v", backend.calls, want)
	}
	if !reflect.DeepEqual(hooks, []string{"before", "after"}) {
		t.Errorf("hooks = %v", hooks)
	}
}

func TestRemoveFailFast(t *testing.T) {
	o, backend := newTestOrchestrator(t)
	boom := errors.New("permission denied")
	backend.failDelete["files/main.b.pdf"] = boom
	ran := false
	o.AddHook(AfterRemove, func(ctx context.Context, f *file.File) (*file.File, error) {
		ran = true
		return f, nil
	})

	f := storedFile(t, map[string]file.Variant{
		"a": {"path": "files/main.a.pdf"},
		"b": {"path": "files/main.b.pdf"},
		"c": {"path": "files/main.c.pdf"},
	})
	_, err := o.Remove(context.Background(), f)
	if !errors.Is(err, fserr.ErrBackendDelete) || !errors.Is(err, boom) {
		t.Fatalf("Remove error = %v, want ErrBackendDelete wrapping the cause", err)
	}

	want := []string{"delete files/main.a.pdf", "delete files/main.b.pdf"}
	if !reflect.DeepEqual(backend.calls, want) {
		t.Errorf("calls = %v, want %v (main file must be kept)", backend.calls, want)
	}
	if ran {
		t.Error("after-remove hook ran after a failed removal")
	}
}

func TestRemoveBestEffort(t *testing.T) {
	o, backend := newTestOrchestrator(t, WithRemovePolicy(BestEffort))
	boom := errors.New("throttled")
	backend.failDelete["files/main.a.pdf"] = boom
	ran := false
	o.AddHook(AfterRemove, func(ctx context.Context, f *file.File) (*file.File, error) {
		ran = true
		return f, nil
	})

	f := storedFile(t, map[string]file.Variant{
		"a": {"path": "files/main.a.pdf"},
		"b": {"path": "files/main.b.pdf"},
	})
	_, err := o.Remove(context.Background(), f)
	if !errors.Is(err, fserr.ErrBackendDelete) || !errors.Is(err, boom) {
		t.Fatalf("Remove error = %v, want ErrBackendDelete wrapping the cause", err)
	}

	want := []string{"delete files/main.a.pdf", "delete files/main.b.pdf", "delete files/main.pdf"}
	if !reflect.DeepEqual(backend.calls, want) {
		t.Errorf("calls = %v, want %v", backend.calls, want)
	}
	if ran {
		t.Error("after-remove hook ran after a partial removal")
	}
}

func TestRemoveWithoutPath(t *testing.T) {
	o, backend := newTestOrchestrator(t)
	f, _ := file.Create(file.Attributes{Filename: "a.txt", Storage: "local"})
	if _, err := o.Remove(context.Background(), f); !errors.Is(err, fserr.ErrPathNotSet) {
		t.Errorf("Remove error = %v, want ErrPathNotSet", err)
	}
	if len(backend.calls) != 0 {
		t.Errorf("calls = %v, want none", backend.calls)
	}
}

func TestRemoveVariant(t *testing.T) {
	o, backend := newTestOrchestrator(t)
	ctx := context.Background()
	f := storedFile(t, map[string]file.Variant{
		"thumb":   {"path": "files/main.thumb.pdf", "width": 64},
		"large":   {"path": "files/main.large.pdf"},
		"pending": {"width": 100},
	})

	t.Run("not found", func(t *testing.T) {
		if _, err := o.RemoveVariant(ctx, f, "missing"); !errors.Is(err, fserr.ErrVariantNotFound) {
			t.Errorf("RemoveVariant error = %v, want ErrVariantNotFound", err)
		}
	})

	t.Run("missing path", func(t *testing.T) {
		if _, err := o.RemoveVariant(ctx, f, "pending"); !errors.Is(err, fserr.ErrVariantMissingPath) {
			t.Errorf("RemoveVariant error = %v, want ErrVariantMissingPath", err)
		}
	})

	t.Run("removes", func(t *testing.T) {
		backend.calls = nil
		updated, err := o.RemoveVariant(ctx, f, "thumb")
		if err != nil {
			t.Fatalf("RemoveVariant failed: %v", err)
		}
		if !reflect.DeepEqual(backend.calls, []string{"delete files/main.thumb.pdf"}) {
			t.Errorf("calls = %v", backend.calls)
		}
		if updated.HasVariant("thumb") {
			t.Error("thumb still present")
		}
		if !updated.HasVariant("large") || !updated.HasVariant("pending") {
			t.Errorf("other variants lost: %v", updated.Variants())
		}
		if !f.HasVariant("thumb") {
			t.Error("RemoveVariant mutated its input")
		}
	})

	t.Run("backend failure", func(t *testing.T) {
		boom := errors.New("nope")
		backend.failDelete["files/main.large.pdf"] = boom
		if _, err := o.RemoveVariant(ctx, f, "large"); !errors.Is(err, fserr.ErrBackendDelete) || !errors.Is(err, boom) {
			t.Errorf("RemoveVariant error = %v, want ErrBackendDelete wrapping the cause", err)
		}
	})
}

func TestResolveBackend(t *testing.T) {
	o, backend := newTestOrchestrator(t)
	got, err := o.ResolveBackend("local")
	if err != nil || got != storage.StorageBackend(backend) {
		t.Errorf("ResolveBackend(local) = (%v, %v)", got, err)
	}
	if _, err := o.ResolveBackend("gcs"); !errors.Is(err, fserr.ErrUnknownStorage) {
		t.Errorf("ResolveBackend(gcs) error = %v, want ErrUnknownStorage", err)
	}
}

func TestStoreVariantAndOpen(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	stored, err := o.Store(ctx, newTestFile(t, "original"))
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	withThumb, err := o.StoreVariant(ctx, stored, "thumb", strings.NewReader("small"), "image/png")
	if err != nil {
		t.Fatalf("StoreVariant failed: %v", err)
	}
	v, err := withThumb.Variant("thumb")
	if err != nil {
		t.Fatalf("Variant failed: %v", err)
	}
	wantPath := "files/" + testUUID + "/report.thumb.pdf"
	if p, _ := v.Path(); p != wantPath {
		t.Errorf("variant path = %q, want %q", p, wantPath)
	}
	if v["mimeType"] != "image/png" || v["filesize"] != int64(5) {
		t.Errorf("variant = %v", v)
	}

	rc, err := o.Open(ctx, withThumb)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "original" {
		t.Errorf("Open data = %q, want original", data)
	}

	rc, err = o.OpenVariant(ctx, withThumb, "thumb")
	if err != nil {
		t.Fatalf("OpenVariant failed: %v", err)
	}
	data, _ = io.ReadAll(rc)
	rc.Close()
	if string(data) != "small" {
		t.Errorf("OpenVariant data = %q, want small", data)
	}

	if _, err := o.OpenVariant(ctx, withThumb, "nope"); !errors.Is(err, fserr.ErrVariantNotFound) {
		t.Errorf("OpenVariant(nope) error = %v, want ErrVariantNotFound", err)
	}
}

func TestStoreVariantRequiresStoredFile(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	f, _ := file.Create(file.Attributes{Filename: "a.txt", Storage: "local"})
	if _, err := o.StoreVariant(context.Background(), f, "thumb", strings.NewReader("x"), "text/plain"); !errors.Is(err, fserr.ErrPathNotSet) {
		t.Errorf("StoreVariant error = %v, want ErrPathNotSet", err)
	}
}

func TestOpenMissing(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	if _, err := o.Open(context.Background(), storedFile(t, nil)); !errors.Is(err, fserr.ErrFileNotFound) {
		t.Errorf("Open error = %v, want ErrFileNotFound", err)
	}
}

func TestNewDefaultBuilder(t *testing.T) {
	o := New(storage.NewRegistry(), nil)
	if _, ok := o.Builder().(*pathbuilder.Template); !ok {
		t.Errorf("default builder = %T, want *pathbuilder.Template", o.Builder())
	}
}
