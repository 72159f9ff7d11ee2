// Package pathbuilder computes storage paths for files.
package pathbuilder

import (
	"path"
	"strings"

	"github.com/bleepstore/filestorage/internal/file"
)

// Builder computes the storage path of a file.
type Builder interface {
	Path(f *file.File) string
}

// VariantBuilder computes the storage path of a named variant of a file.
type VariantBuilder interface {
	VariantPath(f *file.File, variant string) string
}

// Func adapts a plain function to Builder.
type Func func(f *file.File) string

// Path calls fn(f).
func (fn Func) Path(f *file.File) string { return fn(f) }

// VariantPathOf returns the variant path from b when it supports variants.
// Otherwise the variant name is inserted before the extension of the regular
// path, so "a/photo.jpg" becomes "a/photo.thumb.jpg".
func VariantPathOf(b Builder, f *file.File, variant string) string {
	if vb, ok := b.(VariantBuilder); ok {
		return vb.VariantPath(f, variant)
	}
	p := b.Path(f)
	ext := path.Ext(p)
	return strings.TrimSuffix(p, ext) + "." + variant + ext
}
