// Package orchestrator sequences the store and remove lifecycle of files
// against named storage backends. It resolves paths, runs lifecycle hooks and
// delegates all byte I/O to the backends.
//
// Hooks are registered during setup. An Orchestrator is safe for concurrent
// use once registration is complete.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	fserr "github.com/bleepstore/filestorage/internal/errors"
	"github.com/bleepstore/filestorage/internal/file"
	"github.com/bleepstore/filestorage/internal/metrics"
	"github.com/bleepstore/filestorage/internal/pathbuilder"
	"github.com/bleepstore/filestorage/internal/storage"
	"github.com/bleepstore/filestorage/internal/uid"
)

// Backends resolves storage names to backends. *storage.Registry implements it.
type Backends interface {
	Backend(name string) (storage.StorageBackend, error)
}

// RemovePolicy controls how Remove reacts to a failed variant deletion.
type RemovePolicy int

const (
	// FailFast aborts on the first failed deletion. Variants deleted before
	// the failure stay deleted and the main file is kept.
	FailFast RemovePolicy = iota
	// BestEffort attempts every deletion and reports all failures together.
	// After-remove hooks are skipped when anything failed.
	BestEffort
)

// ParseRemovePolicy maps "fail_fast" and "best_effort" to a RemovePolicy.
func ParseRemovePolicy(s string) (RemovePolicy, error) {
	switch s {
	case "", "fail_fast":
		return FailFast, nil
	case "best_effort":
		return BestEffort, nil
	default:
		return FailFast, fmt.Errorf("unknown remove policy %q", s)
	}
}

func (p RemovePolicy) String() string {
	if p == BestEffort {
		return "best_effort"
	}
	return "fail_fast"
}

// Orchestrator drives the file lifecycle.
type Orchestrator struct {
	backends Backends
	builder  pathbuilder.Builder
	hooks    [numPhases][]Hook
	policy   RemovePolicy
	logger   *slog.Logger
	newUUID  func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRemovePolicy sets the variant deletion policy of Remove.
func WithRemovePolicy(p RemovePolicy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithUUIDGenerator sets the function used to assign UUIDs to files stored
// without one.
func WithUUIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newUUID = fn }
}

// New creates an Orchestrator. A nil builder selects the default path
// template.
func New(backends Backends, builder pathbuilder.Builder, opts ...Option) *Orchestrator {
	if builder == nil {
		tmpl, err := pathbuilder.NewTemplate("")
		if err != nil {
			panic(err)
		}
		builder = tmpl
	}
	o := &Orchestrator{
		backends: backends,
		builder:  builder,
		policy:   FailFast,
		logger:   slog.Default(),
		newUUID:  uid.NewUUID,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Builder returns the path builder used by Store.
func (o *Orchestrator) Builder() pathbuilder.Builder { return o.builder }

// AddHook appends hook to the hooks of phase. It fails with
// ErrInvalidHookType for an unknown phase or a nil hook.
func (o *Orchestrator) AddHook(phase Phase, hook Hook) error {
	if !phase.valid() {
		return fserr.ErrInvalidHookType.WithMessage("Type %d is invalid", int(phase))
	}
	if hook == nil {
		return fserr.ErrInvalidHookType.WithMessage("Hook for %s is nil", phase)
	}
	o.hooks[phase] = append(o.hooks[phase], hook)
	return nil
}

// RunHooks threads f through the hooks of phase in registration order.
func (o *Orchestrator) RunHooks(ctx context.Context, phase Phase, f *file.File) (*file.File, error) {
	if !phase.valid() {
		return nil, fserr.ErrInvalidHookType.WithMessage("Type %d is invalid", int(phase))
	}
	for i, hook := range o.hooks[phase] {
		out, err := hook(ctx, f)
		metrics.HookInvocationsTotal.WithLabelValues(phase.String(), metrics.Status(err)).Inc()
		if err != nil {
			return nil, fmt.Errorf("%s hook %d: %w", phase, i, err)
		}
		if out != nil {
			f = out
		}
	}
	return f, nil
}

// ResolveBackend returns the backend configured under name.
func (o *Orchestrator) ResolveBackend(name string) (storage.StorageBackend, error) {
	b, err := o.backends.Backend(name)
	if err != nil {
		if errors.Is(err, fserr.ErrUnknownStorage) {
			return nil, err
		}
		return nil, fserr.ErrUnknownStorage.WithMessage("Storage %q is not configured", name).WithCause(err)
	}
	return b, nil
}

// Store builds the path of f, runs the before-save hooks, writes the pending
// stream to the backend named by f.Storage() and runs the after-save hooks.
// Files without a UUID are assigned one first. The stream is released to the
// backend and closed once the write returns. When Store fails before the
// write, the pending stream is closed.
func (o *Orchestrator) Store(ctx context.Context, f *file.File) (stored *file.File, err error) {
	defer o.observe("store", time.Now(), &err)

	if f.UUID() == "" {
		f = f.WithUUID(o.newUUID())
	}
	f = f.BuildPath(o.builder)

	pending := f
	f, err = o.RunHooks(ctx, BeforeSave, f)
	if err != nil {
		pending.Close()
		return nil, err
	}

	backend, err := o.ResolveBackend(f.Storage())
	if err != nil {
		f.Close()
		return nil, err
	}
	path, err := f.Path()
	if err != nil {
		f.Close()
		return nil, err
	}

	n, err := o.write(ctx, backend, f.Stream(), path, storage.WriteOptions{
		ContentType: f.MimeType(),
		Size:        f.Filesize(),
		Metadata:    map[string]string{"uuid": f.UUID(), "filename": f.Filename()},
	})
	if err != nil {
		return nil, fserr.ErrBackendWrite.WithMessage("Writing file %s to %s failed", f.UUID(), path).WithCause(err)
	}
	metrics.BytesStoredTotal.WithLabelValues(f.Storage()).Add(float64(n))
	o.logger.Debug("File written", "uuid", f.UUID(), "storage", f.Storage(), "path", path, "bytes", n)

	return o.RunHooks(ctx, AfterSave, f)
}

// StoreVariant writes r as the named variant of a stored file and returns the
// file with the variant's path, mime type and size merged into its variants.
// The variant path comes from the path builder.
func (o *Orchestrator) StoreVariant(ctx context.Context, f *file.File, name string, r io.Reader, mimeType string) (stored *file.File, err error) {
	defer o.observe("store_variant", time.Now(), &err)

	if !f.HasPath() {
		return nil, fserr.ErrPathNotSet
	}
	stream, err := file.NewStream(r)
	if err != nil {
		return nil, err
	}
	backend, err := o.ResolveBackend(f.Storage())
	if err != nil {
		stream.Close()
		return nil, err
	}

	path := pathbuilder.VariantPathOf(o.builder, f, name)
	n, err := o.write(ctx, backend, stream, path, storage.WriteOptions{
		ContentType: mimeType,
		Size:        -1,
		Metadata:    map[string]string{"uuid": f.UUID(), "variant": name},
	})
	if err != nil {
		return nil, fserr.ErrBackendWrite.WithMessage("Writing variant %s of file %s failed", name, f.UUID()).WithCause(err)
	}
	metrics.BytesStoredTotal.WithLabelValues(f.Storage()).Add(float64(n))
	o.logger.Debug("Variant written", "uuid", f.UUID(), "variant", name, "path", path, "bytes", n)

	return f.WithVariants(map[string]file.Variant{
		name: {"path": path, "mimeType": mimeType, "filesize": n},
	}, true), nil
}

func (o *Orchestrator) write(ctx context.Context, backend storage.StorageBackend, stream *file.Stream, path string, opts storage.WriteOptions) (int64, error) {
	if stream == nil {
		return 0, fserr.ErrNoStream
	}
	rc, err := stream.Release()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	cr := &countingReader{r: rc}
	if err := backend.WriteStream(ctx, path, cr, opts); err != nil {
		return cr.n, err
	}
	return cr.n, nil
}

// Remove runs the before-remove hooks, deletes every variant that has a path
// in name order, deletes the file itself and runs the after-remove hooks.
//
// Under FailFast the first failed deletion aborts the removal. Deletions are
// not rolled back, so variants deleted before the failure are gone while the
// main file remains.
func (o *Orchestrator) Remove(ctx context.Context, f *file.File) (removed *file.File, err error) {
	defer o.observe("remove", time.Now(), &err)

	f, err = o.RunHooks(ctx, BeforeRemove, f)
	if err != nil {
		return nil, err
	}

	backend, err := o.ResolveBackend(f.Storage())
	if err != nil {
		return nil, err
	}
	path, err := f.Path()
	if err != nil {
		return nil, err
	}

	variantPaths := f.VariantPaths()
	names := make([]string, 0, len(variantPaths))
	for name := range variantPaths {
		names = append(names, name)
	}
	sort.Strings(names)

	var failures []error
	for _, name := range names {
		err := backend.Delete(ctx, variantPaths[name])
		metrics.VariantDeletionsTotal.WithLabelValues(metrics.Status(err)).Inc()
		if err == nil {
			continue
		}
		wrapped := fserr.ErrBackendDelete.WithMessage("Deleting variant %s of file %s failed", name, f.UUID()).WithCause(err)
		if o.policy == FailFast {
			return nil, wrapped
		}
		failures = append(failures, wrapped)
	}

	if err := backend.Delete(ctx, path); err != nil {
		wrapped := fserr.ErrBackendDelete.WithMessage("Deleting file %s at %s failed", f.UUID(), path).WithCause(err)
		if o.policy == FailFast {
			return nil, wrapped
		}
		failures = append(failures, wrapped)
	}

	if len(failures) > 0 {
		o.logger.Warn("Partial removal", "uuid", f.UUID(), "storage", f.Storage(), "failures", len(failures))
		return nil, fserr.ErrBackendDelete.
			WithMessage("Removing file %s failed for %d of %d paths", f.UUID(), len(failures), len(names)+1).
			WithCause(errors.Join(failures...))
	}
	o.logger.Debug("File removed", "uuid", f.UUID(), "storage", f.Storage(), "variants", len(names))

	return o.RunHooks(ctx, AfterRemove, f)
}

// RemoveVariant deletes the stored bytes of the named variant and returns
// the file without it. It fails with ErrVariantNotFound when the variant does
// not exist and with ErrVariantMissingPath when it was never stored.
func (o *Orchestrator) RemoveVariant(ctx context.Context, f *file.File, name string) (updated *file.File, err error) {
	defer o.observe("remove_variant", time.Now(), &err)

	v, err := f.Variant(name)
	if err != nil {
		return nil, err
	}
	path, ok := v.Path()
	if !ok {
		return nil, fserr.ErrVariantMissingPath.WithMessage("Variant %s is missing a path", name)
	}

	backend, err := o.ResolveBackend(f.Storage())
	if err != nil {
		return nil, err
	}
	err = backend.Delete(ctx, path)
	metrics.VariantDeletionsTotal.WithLabelValues(metrics.Status(err)).Inc()
	if err != nil {
		return nil, fserr.ErrBackendDelete.WithMessage("Deleting variant %s of file %s failed", name, f.UUID()).WithCause(err)
	}
	o.logger.Debug("Variant removed", "uuid", f.UUID(), "variant", name, "path", path)

	variants := f.Variants()
	delete(variants, name)
	return f.WithVariants(variants, false), nil
}

// Open returns the stored bytes of f. The caller closes the reader.
func (o *Orchestrator) Open(ctx context.Context, f *file.File) (rc io.ReadCloser, err error) {
	defer o.observe("open", time.Now(), &err)

	path, err := f.Path()
	if err != nil {
		return nil, err
	}
	return o.read(ctx, f.Storage(), path)
}

// OpenVariant returns the stored bytes of the named variant of f.
func (o *Orchestrator) OpenVariant(ctx context.Context, f *file.File, name string) (rc io.ReadCloser, err error) {
	defer o.observe("open_variant", time.Now(), &err)

	v, err := f.Variant(name)
	if err != nil {
		return nil, err
	}
	path, ok := v.Path()
	if !ok {
		return nil, fserr.ErrVariantMissingPath.WithMessage("Variant %s is missing a path", name)
	}
	return o.read(ctx, f.Storage(), path)
}

func (o *Orchestrator) read(ctx context.Context, storageName, path string) (io.ReadCloser, error) {
	backend, err := o.ResolveBackend(storageName)
	if err != nil {
		return nil, err
	}
	rc, err := backend.Read(ctx, path)
	if err != nil {
		if errors.Is(err, fserr.ErrFileNotFound) {
			return nil, err
		}
		return nil, fserr.ErrBackendRead.WithMessage("Reading %s failed", path).WithCause(err)
	}
	return rc, nil
}

func (o *Orchestrator) observe(op string, start time.Time, err *error) {
	metrics.OperationsTotal.WithLabelValues(op, metrics.Status(*err)).Inc()
	metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
