package schema

import (
	"slices"
	"sync"

	language "github.com/hanpama/appsynclocal/internal/language"
)

var (
	builtinScalars    = []string{"String", "Int", "Float", "Boolean", "ID"}
	builtinDirectives = []string{"include", "skip"}
)

var prelude = sync.OnceValue(func() *language.SchemaDocument {
	doc, err := language.ParsePrelude()
	if err != nil {
		panic(err)
	}
	return doc
})

// addBuiltins copies the standard scalars and the @include/@skip directives
// from the gqlparser prelude into s. Each call builds fresh values.
func addBuiltins(s *Schema) {
	doc := prelude()
	for _, name := range builtinScalars {
		if def := doc.Definitions.ForName(name); def != nil {
			s.AddType(buildType(nil, def))
		}
	}
	for _, name := range builtinDirectives {
		if dir := doc.Directives.ForName(name); dir != nil {
			s.AddDirective(buildDirective(dir))
		}
	}
}

func isBuiltinScalar(name string) bool    { return slices.Contains(builtinScalars, name) }
func isBuiltinDirective(name string) bool { return slices.Contains(builtinDirectives, name) }
