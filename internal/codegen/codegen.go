// Package codegen writes the handler registration table for a handler
// directory. The generated file maps every handler file path to the
// exported Handler function of its package, so a binary can link handlers
// without loading code at runtime.
package codegen

import (
	"bytes"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/dave/jennifer/jen"
	"github.com/pkg/errors"
	"golang.org/x/mod/modfile"

	resolvers "github.com/hanpama/appsynclocal/internal/resolvers"
)

const (
	// DefaultOutput is the name of the generated file inside the handler
	// directory.
	DefaultOutput = "handlers_gen.go"
	// HandlerFunc is the function every handler package must export.
	HandlerFunc = "Handler"

	appsyncPkg = "github.com/hanpama/appsynclocal/appsync"
)

// Options configures Generate.
type Options struct {
	// Root is the handler directory. It must be inside a Go module.
	Root string
	// Pattern selects handler files; resolvers.DefaultPattern when empty.
	Pattern string
	// Package names the generated package. It defaults to the package of
	// existing Go files in Root, or the sanitized directory name.
	Package string
	// Output is the file name written by Write; DefaultOutput when empty.
	Output string
}

// Entry is one registered handler.
type Entry struct {
	// Key is the registry key: the file path relative to Root.
	Key string
	// ImportPath is the import path of the handler's package.
	ImportPath string
	// Alias is the import name used in the generated file.
	Alias string
}

// Generate renders the registration file for opts.Root.
func Generate(opts Options) ([]byte, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, errors.Wrap(err, "resolve handler directory")
	}
	entries, err := Scan(root, opts.Pattern)
	if err != nil {
		return nil, err
	}
	pkg := opts.Package
	if pkg == "" {
		if pkg, err = packageName(root, outputName(opts)); err != nil {
			return nil, err
		}
	}

	f := jen.NewFile(pkg)
	f.HeaderComment("Code generated by appsynclocal generate. DO NOT EDIT.")
	f.ImportName(appsyncPkg, "appsync")
	for _, e := range entries {
		f.ImportAlias(e.ImportPath, e.Alias)
	}
	f.Comment("Registry maps handler files to their Handler functions.")
	f.Var().Id("Registry").Op("=").Qual(appsyncPkg, "Registry").Values(jen.DictFunc(func(d jen.Dict) {
		for _, e := range entries {
			d[jen.Lit(e.Key)] = jen.Qual(e.ImportPath, HandlerFunc)
		}
	}))

	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		return nil, errors.Wrap(err, "render registry")
	}
	return buf.Bytes(), nil
}

// Write generates the registration file and writes it into opts.Root. It
// returns the path written.
func Write(opts Options) (string, error) {
	src, err := Generate(opts)
	if err != nil {
		return "", err
	}
	out := filepath.Join(opts.Root, outputName(opts))
	if err := os.WriteFile(out, src, 0o644); err != nil {
		return "", errors.Wrapf(err, "write %s", out)
	}
	return out, nil
}

func outputName(opts Options) string {
	if opts.Output != "" {
		return opts.Output
	}
	return DefaultOutput
}

// Scan finds the handler files under root and resolves their import paths.
// Every handler file must export a Handler function from a non-main package.
func Scan(root, pattern string) ([]Entry, error) {
	files, err := resolvers.Glob(root, pattern)
	if err != nil {
		return nil, err
	}
	modDir, modPath, err := findModule(root)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(files))
	aliases := make(map[string]int)
	for _, rel := range files {
		if _, err := resolvers.ParseHandlerPath(rel); err != nil {
			return nil, err
		}
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := checkHandler(full); err != nil {
			return nil, err
		}
		dir, err := filepath.Rel(modDir, filepath.Dir(full))
		if err != nil {
			return nil, errors.Wrapf(err, "%s is outside module %s", full, modDir)
		}
		alias := importAlias(path.Dir(rel))
		aliases[alias]++
		if n := aliases[alias]; n > 1 {
			alias += strconv.Itoa(n)
		}
		entries = append(entries, Entry{
			Key:        rel,
			ImportPath: path.Join(modPath, filepath.ToSlash(dir)),
			Alias:      alias,
		})
	}
	return entries, nil
}

// findModule walks up from dir to the nearest go.mod.
func findModule(dir string) (modDir, modPath string, err error) {
	for d := dir; ; {
		data, readErr := os.ReadFile(filepath.Join(d, "go.mod"))
		if readErr == nil {
			p := modfile.ModulePath(data)
			if p == "" {
				return "", "", errors.Errorf("%s: no module directive", filepath.Join(d, "go.mod"))
			}
			return d, p, nil
		}
		if !os.IsNotExist(readErr) {
			return "", "", errors.Wrap(readErr, "read go.mod")
		}
		parent := filepath.Dir(d)
		if parent == d {
			return "", "", errors.Errorf("%s is not inside a Go module", dir)
		}
		d = parent
	}
}

func checkHandler(file string) error {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, file, nil, parser.SkipObjectResolution)
	if err != nil {
		return errors.Wrapf(err, "parse %s", file)
	}
	if f.Name.Name == "main" {
		return errors.Errorf("%s: handler packages cannot be main", file)
	}
	for _, decl := range f.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if ok && fn.Recv == nil && fn.Name.Name == HandlerFunc {
			return nil
		}
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.VAR {
			continue
		}
		for _, spec := range gen.Specs {
			for _, name := range spec.(*ast.ValueSpec).Names {
				if name.Name == HandlerFunc {
					return nil
				}
			}
		}
	}
	return errors.Errorf("%s: no exported %s function", file, HandlerFunc)
}

// packageName returns the package declared by the Go files already in dir,
// skipping the generated file and tests, or a name derived from dir.
func packageName(dir, generated string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errors.Wrapf(err, "read %s", dir)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == generated || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(token.NewFileSet(), filepath.Join(dir, name), nil, parser.PackageClauseOnly)
		if err != nil {
			return "", errors.Wrapf(err, "parse %s", name)
		}
		return f.Name.Name, nil
	}
	name := sanitize(filepath.Base(dir))
	if name == "" {
		name = "handlers"
	}
	return name, nil
}

var nonIdent = regexp.MustCompile(`[^a-z0-9_]+`)

func sanitize(s string) string {
	s = nonIdent.ReplaceAllString(strings.ToLower(s), "")
	if s != "" && s[0] >= '0' && s[0] <= '9' {
		s = "_" + s
	}
	return s
}

// importAlias derives an identifier from a handler directory, for example
// "Type/Book/author" becomes "type_book_author".
func importAlias(dir string) string {
	parts := strings.Split(dir, "/")
	for i, p := range parts {
		parts[i] = sanitize(p)
	}
	alias := strings.Trim(strings.Join(parts, "_"), "_")
	if alias == "" {
		return "handler"
	}
	return alias
}
