package introspection

import (
	"github.com/pkg/errors"

	schema "github.com/hanpama/appsynclocal/internal/schema"
)

// extend returns a copy of original that also carries the introspection
// types and the __schema and __type fields on the query type. The types of
// original are shared, not copied.
func extend(original *schema.Schema) (*schema.Schema, error) {
	if original.AST == nil {
		return nil, errors.New("introspection requires a schema built from SDL")
	}
	extended := &schema.Schema{
		QueryType:        original.QueryType,
		MutationType:     original.MutationType,
		SubscriptionType: original.SubscriptionType,
		Types:            make(map[string]*schema.Type, len(original.Types)+8),
		Directives:       original.Directives,
		Description:      original.Description,
		AST:              original.AST,
	}
	for name, typ := range original.Types {
		extended.Types[name] = typ
	}
	for _, typ := range schema.IntrospectionTypes(original.AST) {
		extended.Types[typ.Name] = typ
	}

	query := original.GetQueryType()
	if query == nil {
		return nil, errors.New("schema has no query type")
	}
	q := *query
	q.Fields = append(append([]*schema.Field(nil), query.Fields...), metaFields()...)
	extended.Types[q.Name] = &q
	return extended, nil
}

func metaFields() []*schema.Field {
	return []*schema.Field{
		schema.NewField("__schema", "Access the current type schema of this server.",
			schema.NonNullType(schema.NamedType("__Schema"))),
		schema.NewField("__type", "Request the type information of a single type.",
			schema.NamedType("__Type")).
			AddArgument(schema.NewInputValue("name", "The name of the type to look up.",
				schema.NonNullType(schema.NamedType("String")))),
	}
}
