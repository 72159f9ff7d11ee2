package file

import "reflect"

// Variant is the free-form data of one derived version of a file. A variant
// that was persisted carries its storage location under the "path" key.
type Variant map[string]any

// Path returns the stored path of the variant and whether it has a non-empty
// one.
func (v Variant) Path() (string, bool) {
	p, ok := v["path"].(string)
	return p, ok && p != ""
}

// MergeVariants deep-merges src into a copy of dst and returns the result.
//
// For every key present in both: two slices are concatenated, two maps are
// merged recursively, anything else is overwritten by the value from src.
// Keys only in src are added. Neither argument is modified.
func MergeVariants(dst, src map[string]Variant) map[string]Variant {
	out := CloneVariants(dst)
	for name, data := range src {
		existing, ok := out[name]
		if !ok {
			out[name] = cloneVariant(data)
			continue
		}
		out[name] = Variant(mergeMaps(existing, data))
	}
	return out
}

// mergeMaps merges src into dst in place. dst must already be a private copy.
func mergeMaps(dst, src map[string]any) map[string]any {
	for k, sv := range src {
		dv, ok := dst[k]
		if !ok {
			dst[k] = cloneValue(sv)
			continue
		}
		if merged, ok := concatSlices(dv, sv); ok {
			dst[k] = merged
			continue
		}
		if dm, ok := asMap(dv); ok {
			if sm, ok := asMap(sv); ok {
				dst[k] = mergeMaps(dm, sm)
				continue
			}
		}
		dst[k] = cloneValue(sv)
	}
	return dst
}

// concatSlices appends b to a when both are slices of the same type.
func concatSlices(a, b any) (any, bool) {
	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	if av.Kind() != reflect.Slice || bv.Kind() != reflect.Slice || av.Type() != bv.Type() {
		return nil, false
	}
	out := reflect.MakeSlice(av.Type(), 0, av.Len()+bv.Len())
	out = reflect.AppendSlice(out, av)
	out = reflect.AppendSlice(out, bv)
	return cloneValue(out.Interface()), true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Variant:
		return map[string]any(m), true
	}
	return nil, false
}

func cloneVariant(v Variant) Variant {
	if v == nil {
		return Variant{}
	}
	return Variant(CloneMap(v))
}

// CloneVariants returns a deep copy of vs. A nil map yields an empty one.
func CloneVariants(vs map[string]Variant) map[string]Variant {
	out := make(map[string]Variant, len(vs))
	for name, v := range vs {
		out[name] = cloneVariant(v)
	}
	return out
}

// CloneMap returns a deep copy of m. Nested maps, slices and arrays of any
// element type are copied recursively; pointers, channels and funcs are
// shared.
func CloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return CloneMap(t)
	case Variant:
		return cloneVariant(t)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return deepCopy(rv).Interface()
	}
	return v
}

func deepCopy(rv reflect.Value) reflect.Value {
	switch rv.Kind() {
	case reflect.Interface:
		if rv.IsNil() {
			return rv
		}
		return deepCopy(rv.Elem())
	case reflect.Map:
		if rv.IsNil() {
			return rv
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), deepCopy(iter.Value()))
		}
		return out
	case reflect.Slice:
		if rv.IsNil() {
			return rv
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(deepCopy(rv.Index(i)))
		}
		return out
	case reflect.Array:
		out := reflect.New(rv.Type()).Elem()
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(deepCopy(rv.Index(i)))
		}
		return out
	}
	return rv
}
