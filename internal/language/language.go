package language

import (
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"
)

func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func ParseSchema(name, source string) (*SchemaDocument, error) {
	doc, err := parser.ParseSchema(&ast.Source{Name: name, Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// LoadSchema parses, merges and validates the given SDL sources into a single
// schema. Type extensions are folded into their base definitions.
func LoadSchema(sources ...*Source) (*Schema, error) {
	return gqlparser.LoadSchema(sources...)
}

// LoadQuery parses and validates an executable document against sch.
func LoadQuery(sch *Schema, query string) (*QueryDocument, ErrorList) {
	return gqlparser.LoadQuery(sch, query)
}

// ParsePrelude parses gqlparser's built-in definitions: the standard scalars,
// the executable directives and the introspection types.
func ParsePrelude() (*SchemaDocument, error) {
	return parser.ParseSchema(validator.Prelude)
}
