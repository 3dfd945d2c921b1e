package resolvers

import (
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"

	"github.com/hanpama/appsynclocal/appsync"
)

// DefaultPattern matches handler files under the four classification
// directories.
const DefaultPattern = "{Query,Mutation,Subscription,Type}/**/index.go"

// ResolverTypeName is the first path segment of a handler file.
type ResolverTypeName string

const (
	Query        ResolverTypeName = "Query"
	Mutation     ResolverTypeName = "Mutation"
	Subscription ResolverTypeName = "Subscription"
	Type         ResolverTypeName = "Type"
)

// HandlerFile is a discovered handler location.
type HandlerFile struct {
	// Path is relative to the handler root and uses forward slashes.
	Path string
	Type ResolverTypeName
	// Definition is the root field name, or the type name for Type handlers.
	Definition string
	// CustomTypeName is the field name of a Type handler.
	CustomTypeName string
}

// Field returns the (type, field) pair the handler resolves.
func (f HandlerFile) Field() (typeName, fieldName string) {
	if f.Type == Type {
		return f.Definition, f.CustomTypeName
	}
	return string(f.Type), f.Definition
}

// ParseHandlerPath splits a relative handler path into its segments.
func ParseHandlerPath(p string) (HandlerFile, error) {
	f := HandlerFile{Path: p}
	segs := strings.Split(path.Clean(strings.ReplaceAll(p, "\\", "/")), "/")
	if len(segs) < 3 {
		return f, errors.Errorf("%s: handler path must be <Type>/<definition>/.../index file", p)
	}
	f.Type = ResolverTypeName(segs[0])
	f.Definition = segs[1]
	switch f.Type {
	case Query, Mutation, Subscription:
	case Type:
		if len(segs) < 4 {
			return f, errors.Errorf("%s: type handlers must be Type/<TypeName>/<FieldName>/index file", p)
		}
		f.CustomTypeName = segs[2]
	default:
		return f, errors.Errorf("%s: unknown resolver type %q", p, segs[0])
	}
	return f, nil
}

// Discover lists handler files matching pattern (DefaultPattern when empty).
// With a root directory the files are enumerated on disk and each must have a
// registry entry; without one the registry keys themselves are matched.
// Results are sorted by path.
func Discover(root, pattern string, reg appsync.Registry) ([]HandlerFile, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, errors.Errorf("invalid handler pattern %q", pattern)
	}

	var paths []string
	if root != "" {
		matches, err := Glob(root, pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if _, ok := reg[m]; !ok {
				return nil, errors.Errorf("%s: no handler registered for this file; run the generate command", path.Join(root, m))
			}
		}
		paths = matches
	} else {
		for key := range reg {
			ok, err := doublestar.Match(pattern, key)
			if err != nil {
				return nil, errors.Wrapf(err, "match %s", key)
			}
			if ok {
				paths = append(paths, key)
			}
		}
	}
	sort.Strings(paths)

	files := make([]HandlerFile, 0, len(paths))
	for _, p := range paths {
		f, err := ParseHandlerPath(p)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// Glob lists the files under root matching pattern (DefaultPattern when
// empty), relative to root with forward slashes.
func Glob(root, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	matches, err := doublestar.Glob(os.DirFS(root), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, errors.Wrapf(err, "glob %s in %s", pattern, root)
	}
	sort.Strings(matches)
	return matches, nil
}
