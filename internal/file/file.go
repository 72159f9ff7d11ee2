// Package file implements the immutable file entity: one stored artifact, its
// named variants and free-form metadata, plus an optional pending byte stream
// that has not been persisted yet.
//
// Every mutator returns a new *File and leaves the receiver untouched. Maps are
// deep-copied on every change, so two files never share mutable state except
// for the pending stream handle, which is owned by whichever write releases it
// first.
package file

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	fserr "github.com/bleepstore/filestorage/internal/errors"
)

// PathBuilder computes the storage path of a file.
type PathBuilder interface {
	Path(f *File) string
}

// Attributes are the raw attributes a File is created from.
type Attributes struct {
	Filename   string
	Filesize   int64
	MimeType   string
	Storage    string
	Collection string
	Model      string
	ModelID    string
	Metadata   map[string]any
	Variants   map[string]Variant
	// Stream, when non-nil, is validated and attached as the pending stream.
	Stream io.Reader
}

// File describes one stored artifact. The zero value is not usable; build
// files with Create, FromDisk or FromReader.
type File struct {
	id         int64
	uuid       string
	filename   string
	extension  string
	filesize   int64
	mimeType   string
	path       string
	hasPath    bool
	collection string
	storage    string
	model      string
	modelID    string
	metadata   map[string]any
	variants   map[string]Variant
	stream     *Stream
}

// Create builds a new File from attrs. The storage name is required and the
// filesize must not be negative.
func Create(attrs Attributes) (*File, error) {
	if attrs.Storage == "" {
		return nil, fserr.ErrInvalidAttributes.WithMessage("storage name is required")
	}
	if attrs.Filesize < 0 {
		return nil, fserr.ErrInvalidAttributes.WithMessage("filesize must not be negative, got %d", attrs.Filesize)
	}

	f := &File{
		filename:   attrs.Filename,
		extension:  extensionOf(attrs.Filename),
		filesize:   attrs.Filesize,
		mimeType:   attrs.MimeType,
		storage:    attrs.Storage,
		collection: attrs.Collection,
		model:      attrs.Model,
		modelID:    attrs.ModelID,
		metadata:   CloneMap(attrs.Metadata),
		variants:   CloneVariants(attrs.Variants),
	}

	if attrs.Stream != nil {
		return f.WithResource(attrs.Stream)
	}
	return f, nil
}

// extensionOf returns the extension of filename without the leading dot, or
// an empty string when there is none.
func extensionOf(filename string) string {
	return strings.TrimPrefix(filepath.Ext(filepath.Base(filename)), ".")
}

// clone returns a deep copy of f. The stream handle is shared.
func (f *File) clone() *File {
	cp := *f
	cp.metadata = CloneMap(f.metadata)
	cp.variants = CloneVariants(f.variants)
	return &cp
}

// ID is the numeric identifier assigned by the persistence layer, 0 if unset.
func (f *File) ID() int64 { return f.id }

// UUID is the unique string identifier of the file.
func (f *File) UUID() string { return f.uuid }

// Filename is the original filename.
func (f *File) Filename() string { return f.filename }

// Extension returns the extension derived from the filename and whether
// there is one.
func (f *File) Extension() (string, bool) { return f.extension, f.extension != "" }

// Filesize is the size of the file in bytes.
func (f *File) Filesize() int64 { return f.filesize }

// MimeType is the mime type of the file.
func (f *File) MimeType() string { return f.mimeType }

// Collection is the optional grouping tag.
func (f *File) Collection() string { return f.collection }

// Storage is the name of the storage backend configuration to use.
func (f *File) Storage() string { return f.storage }

// Model is the type of the owning domain entity.
func (f *File) Model() string { return f.model }

// ModelID is the identifier of the owning domain entity.
func (f *File) ModelID() string { return f.modelID }

// Path returns the storage path. It fails with ErrPathNotSet until a path
// was built or assigned.
func (f *File) Path() (string, error) {
	if !f.hasPath {
		return "", fserr.ErrPathNotSet
	}
	return f.path, nil
}

// HasPath reports whether a path was assigned.
func (f *File) HasPath() bool { return f.hasPath }

// Stream returns the pending stream handle, or nil.
func (f *File) Stream() *Stream { return f.stream }

// ReadableSize returns the filesize in human readable form.
func (f *File) ReadableSize() string { return ReadableSize(f.filesize) }

// Close releases a still pending stream. Files without a stream, or whose
// stream was already handed to a write, are left alone.
func (f *File) Close() error {
	if f.stream == nil {
		return nil
	}
	return f.stream.Close()
}

// WithID returns a copy with the persistence identifier set.
func (f *File) WithID(id int64) *File {
	that := f.clone()
	that.id = id
	return that
}

// WithUUID returns a copy with the UUID set.
func (f *File) WithUUID(uuid string) *File {
	that := f.clone()
	that.uuid = uuid
	return that
}

// WithFile opens the file at path for reading and attaches it as the pending
// stream. It fails with ErrIO when the file cannot be opened.
func (f *File) WithFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fserr.ErrIO.WithMessage("opening %q", path).WithCause(err)
	}
	that, err := f.WithResource(fh)
	if err != nil {
		fh.Close()
		return nil, err
	}
	return that, nil
}

// WithResource validates r and attaches it as the pending stream. It fails
// with ErrInvalidStream when r is not an open readable stream.
func (f *File) WithResource(r io.Reader) (*File, error) {
	s, err := NewStream(r)
	if err != nil {
		return nil, err
	}
	that := f.clone()
	that.stream = s
	return that, nil
}

// WithPath returns a copy with the storage path set.
func (f *File) WithPath(path string) *File {
	that := f.clone()
	that.path = path
	that.hasPath = true
	return that
}

// WithFilename returns a copy with the filename changed and the extension
// recomputed.
func (f *File) WithFilename(filename string) *File {
	that := f.clone()
	that.filename = filename
	that.extension = extensionOf(filename)
	return that
}

// BuildPath returns a copy whose path is computed by b.
func (f *File) BuildPath(b PathBuilder) *File {
	return f.WithPath(b.Path(f))
}

// BelongsToModel returns a copy linked to the given owning entity.
func (f *File) BelongsToModel(model, modelID string) *File {
	that := f.clone()
	that.model = model
	that.modelID = modelID
	return that
}

// AddToCollection returns a copy tagged with collection.
func (f *File) AddToCollection(collection string) *File {
	that := f.clone()
	that.collection = collection
	return that
}

// Metadata returns a copy of the metadata map.
func (f *File) Metadata() map[string]any {
	return CloneMap(f.metadata)
}

// WithMetadata returns a copy whose metadata is replaced by md.
func (f *File) WithMetadata(md map[string]any) *File {
	that := f.clone()
	that.metadata = CloneMap(md)
	return that
}

// WithMetadataKey returns a copy with one metadata key set.
func (f *File) WithMetadataKey(key string, value any) *File {
	that := f.clone()
	that.metadata[key] = cloneValue(value)
	return that
}

// WithoutMetadataKey returns a copy with one metadata key removed.
func (f *File) WithoutMetadataKey(key string) *File {
	that := f.clone()
	delete(that.metadata, key)
	return that
}

// WithoutMetadata returns a copy with all metadata removed.
func (f *File) WithoutMetadata() *File {
	that := f.clone()
	that.metadata = map[string]any{}
	return that
}

// HasVariants reports whether the file has at least one variant.
func (f *File) HasVariants() bool { return len(f.variants) > 0 }

// HasVariant reports whether a variant named name exists.
func (f *File) HasVariant(name string) bool {
	_, ok := f.variants[name]
	return ok
}

// Variant returns a copy of the named variant. It fails with
// ErrVariantNotFound when there is none.
func (f *File) Variant(name string) (Variant, error) {
	v, ok := f.variants[name]
	if !ok {
		return nil, fserr.ErrVariantNotFound.WithMessage("Variant %s does not exist", name)
	}
	return cloneVariant(v), nil
}

// Variants returns a copy of all variants.
func (f *File) Variants() map[string]Variant {
	return CloneVariants(f.variants)
}

// VariantPaths returns the path of every variant that has one.
func (f *File) VariantPaths() map[string]string {
	paths := make(map[string]string)
	for name, v := range f.variants {
		if p, ok := v.Path(); ok {
			paths[name] = p
		}
	}
	return paths
}

// WithVariant returns a copy with the named variant set, overwriting any
// previous data under that name.
func (f *File) WithVariant(name string, data Variant) *File {
	that := f.clone()
	that.variants[name] = cloneVariant(data)
	return that
}

// WithoutVariant returns a copy with the named variant removed.
func (f *File) WithoutVariant(name string) *File {
	that := f.clone()
	delete(that.variants, name)
	return that
}

// WithVariants returns a copy with many variants set at once. When merge is
// true the given variants are deep-merged into the existing ones (see
// MergeVariants); otherwise the variant map is replaced by variants.
func (f *File) WithVariants(variants map[string]Variant, merge bool) *File {
	that := f.clone()
	if merge {
		that.variants = MergeVariants(f.variants, variants)
	} else {
		that.variants = CloneVariants(variants)
	}
	return that
}

// ToMap returns the structured representation used for serialization.
// Unset optional values are nil.
func (f *File) ToMap() map[string]any {
	variants := make(map[string]any, len(f.variants))
	for name, v := range f.variants {
		variants[name] = map[string]any(cloneVariant(v))
	}
	return map[string]any{
		"uuid":         f.uuid,
		"filename":     f.filename,
		"filesize":     f.filesize,
		"mimeType":     f.mimeType,
		"extension":    optional(f.extension),
		"path":         f.optionalPath(),
		"model":        optional(f.model),
		"modelId":      optional(f.modelID),
		"collection":   optional(f.collection),
		"readableSize": f.ReadableSize(),
		"variants":     variants,
		"metaData":     CloneMap(f.metadata),
	}
}

// MarshalJSON encodes the ToMap representation.
func (f *File) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.ToMap())
}

// Equal reports whether f and other carry the same attributes and the same
// stream handle.
func (f *File) Equal(other *File) bool {
	if f == nil || other == nil {
		return f == other
	}
	return f.id == other.id &&
		f.stream == other.stream &&
		reflect.DeepEqual(f.ToMap(), other.ToMap())
}

func (f *File) optionalPath() any {
	if !f.hasPath {
		return nil
	}
	return f.path
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}
