package schema

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	language "github.com/hanpama/appsynclocal/internal/language"
)

// SchemaFileExt is the extension of schema files picked up by LoadDir.
const SchemaFileExt = ".graphql"

// DiscoverFiles walks rootDir recursively and returns every schema file path,
// sorted so that merged output is deterministic.
func DiscoverFiles(rootDir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(d.Name()) != SchemaFileExt {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walk schema directory %q", rootDir)
	}
	sort.Strings(paths)
	return paths, nil
}

// LoadDir reads every schema file under rootDir. Source names are relative to
// rootDir so that errors point at the file that caused them.
func LoadDir(rootDir string) ([]*language.Source, error) {
	paths, err := DiscoverFiles(rootDir)
	if err != nil {
		return nil, err
	}
	sources := make([]*language.Source, 0, len(paths))
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read schema file %q", path)
		}
		rel, err := filepath.Rel(rootDir, path)
		if err != nil {
			rel = path
		}
		sources = append(sources, &language.Source{Name: filepath.ToSlash(rel), Input: string(content)})
	}
	return sources, nil
}
