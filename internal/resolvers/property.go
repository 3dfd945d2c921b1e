package resolvers

import (
	"reflect"
	"strings"
	"sync"
)

// DefaultResolve reads field from source the way a GraphQL default field
// resolver does: map keys, then struct fields by json tag or by name.
// Missing values resolve to nil.
func DefaultResolve(source any, field string) any {
	if source == nil {
		return nil
	}
	if m, ok := source.(map[string]any); ok {
		return m[field]
	}

	v := reflect.ValueOf(source)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil
		}
		mv := v.MapIndex(reflect.ValueOf(field).Convert(v.Type().Key()))
		if !mv.IsValid() {
			return nil
		}
		return mv.Interface()
	case reflect.Struct:
		idx, ok := structFields(v.Type())[field]
		if !ok {
			return nil
		}
		fv, err := v.FieldByIndexErr(idx)
		if err != nil {
			return nil
		}
		return fv.Interface()
	}
	return nil
}

var fieldCache sync.Map // reflect.Type -> map[string][]int

// structFields indexes the exported fields of t by json name, and by Go name
// with a lower-cased first letter when no json tag is present.
func structFields(t reflect.Type) map[string][]int {
	if cached, ok := fieldCache.Load(t); ok {
		return cached.(map[string][]int)
	}
	out := make(map[string][]int)
	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() || f.Anonymous {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		if _, exists := out[name]; !exists {
			out[name] = f.Index
		}
		lower := strings.ToLower(name[:1]) + name[1:]
		if _, exists := out[lower]; !exists {
			out[lower] = f.Index
		}
	}
	fieldCache.Store(t, out)
	return out
}
