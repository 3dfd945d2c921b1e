package introspection

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	executor "github.com/hanpama/appsynclocal/internal/executor"
	schema "github.com/hanpama/appsynclocal/internal/schema"
)

// Wrapper pairs a Runtime that answers introspection fields with the schema
// extended by the introspection types. Execute against both.
type Wrapper struct {
	Runtime executor.SubscriptionRuntime
	Schema  *schema.Schema
}

// Wrap returns a Runtime that resolves __schema, __type and the fields of
// the introspection types, and hands every other field to base.
func Wrap(base executor.Runtime, sch *schema.Schema) (*Wrapper, error) {
	extended, err := extend(sch)
	if err != nil {
		return nil, err
	}
	return &Wrapper{
		Runtime: &runtime{base: base, schema: extended},
		Schema:  extended,
	}, nil
}

type runtime struct {
	base   executor.Runtime
	schema *schema.Schema
}

func (r *runtime) ResolveSync(ctx context.Context, objectType, field string, source any, args map[string]any) (any, error) {
	switch src := source.(type) {
	case *schema.Schema:
		if v, ok := resolveSchemaField(src, field); ok {
			return v, nil
		}
	case *schema.Type:
		if v, ok := resolveTypeField(r.schema, src, field, args); ok {
			return v, nil
		}
	case *schema.TypeRef:
		if v, ok := resolveTypeRefField(r.schema, src, field, args); ok {
			return v, nil
		}
	case *schema.Field:
		if v, ok := resolveFieldField(src, field, args); ok {
			return v, nil
		}
	case *schema.InputValue:
		if v, ok := resolveInputValueField(src, field); ok {
			return v, nil
		}
	case *schema.EnumValue:
		if v, ok := resolveEnumValueField(src, field); ok {
			return v, nil
		}
	case *schema.Directive:
		if v, ok := resolveDirectiveField(src, field, args); ok {
			return v, nil
		}
	}

	if objectType == r.schema.QueryType {
		switch field {
		case "__schema":
			return r.schema, nil
		case "__type":
			return r.resolveTypeQuery(args), nil
		}
	}

	return r.base.ResolveSync(ctx, objectType, field, source, args)
}

func (r *runtime) BatchResolveAsync(ctx context.Context, tasks []executor.AsyncResolveTask) []executor.AsyncResolveResult {
	return r.base.BatchResolveAsync(ctx, tasks)
}

func (r *runtime) Subscribe(ctx context.Context, task executor.AsyncResolveTask) (<-chan any, error) {
	sub, ok := r.base.(executor.SubscriptionRuntime)
	if !ok {
		return nil, errors.New("subscriptions are not supported by this runtime")
	}
	return sub.Subscribe(ctx, task)
}

func (r *runtime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	return r.base.ResolveType(ctx, abstractType, value)
}

func (r *runtime) SerializeLeafValue(ctx context.Context, typ string, value any) (any, error) {
	if strings.HasPrefix(typ, "__") {
		return fmt.Sprint(value), nil
	}
	return r.base.SerializeLeafValue(ctx, typ, value)
}

func (r *runtime) resolveTypeQuery(args map[string]any) *schema.Type {
	name, _ := args["name"].(string)
	if name == "" {
		return nil
	}
	return r.schema.Types[name]
}

func nameOf(v any) string {
	switch v := v.(type) {
	case *schema.Type:
		return v.Name
	case *schema.Field:
		return v.Name
	case *schema.InputValue:
		return v.Name
	case *schema.EnumValue:
		return v.Name
	case *schema.Directive:
		return v.Name
	}
	return ""
}

// visible returns the elements of list that are not deprecated, or all of them
// when includeDeprecated is set, sorted by name.
func visible[T any](list []T, args map[string]any, deprecated func(T) bool) []T {
	include := boolArg(args, "includeDeprecated", false)
	out := make([]T, 0, len(list))
	for _, v := range list {
		if include || !deprecated(v) {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return nameOf(out[i]) < nameOf(out[j]) })
	return out
}

func sortedValues[T any](m map[string]T) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return nameOf(out[i]) < nameOf(out[j]) })
	return out
}

func lookupTypes(sch *schema.Schema, names []string) []*schema.Type {
	out := make([]*schema.Type, 0, len(names))
	for _, name := range names {
		if def := sch.Types[name]; def != nil {
			out = append(out, def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func hasFields(t *schema.Type) bool {
	return t.Kind == schema.TypeKindObject || t.Kind == schema.TypeKindInterface
}

// reason returns the deprecation reason, or nil when not deprecated.
func reason(deprecated bool, r string) any {
	if !deprecated {
		return nil
	}
	return r
}

func fieldDeprecated(f *schema.Field) bool         { return f.IsDeprecated }
func inputDeprecated(v *schema.InputValue) bool    { return v.IsDeprecated }
func enumValueDeprecated(v *schema.EnumValue) bool { return v.IsDeprecated }

func resolveSchemaField(sch *schema.Schema, field string) (any, bool) {
	switch field {
	case "types":
		return sortedValues(sch.Types), true
	case "queryType":
		return sch.GetQueryType(), true
	case "mutationType":
		return sch.GetMutationType(), true
	case "subscriptionType":
		return sch.GetSubscriptionType(), true
	case "directives":
		return sortedValues(sch.Directives), true
	case "description":
		return sch.Description, true
	}
	return nil, false
}

func resolveTypeField(sch *schema.Schema, t *schema.Type, field string, args map[string]any) (any, bool) {
	switch field {
	case "kind":
		return string(t.Kind), true
	case "name":
		return t.Name, true
	case "description":
		return t.Description, true
	case "specifiedByURL":
		if t.SpecifiedByURL == nil {
			return nil, true
		}
		return *t.SpecifiedByURL, true
	case "fields":
		if !hasFields(t) {
			return nil, true
		}
		fields := make([]*schema.Field, 0, len(t.Fields))
		for _, f := range t.Fields {
			if !strings.HasPrefix(f.Name, "__") {
				fields = append(fields, f)
			}
		}
		return visible(fields, args, fieldDeprecated), true
	case "interfaces":
		if !hasFields(t) {
			return nil, true
		}
		return lookupTypes(sch, t.Interfaces), true
	case "possibleTypes":
		if t.Kind != schema.TypeKindInterface && t.Kind != schema.TypeKindUnion {
			return nil, true
		}
		return lookupTypes(sch, t.PossibleTypes), true
	case "enumValues":
		if t.Kind != schema.TypeKindEnum {
			return nil, true
		}
		return visible(t.EnumValues, args, enumValueDeprecated), true
	case "inputFields":
		if t.Kind != schema.TypeKindInputObject {
			return nil, true
		}
		return visible(t.InputFields, args, inputDeprecated), true
	case "isOneOf":
		return t.OneOf, true
	case "ofType":
		// Named types have no ofType; wrappers are *schema.TypeRef values.
		return nil, true
	}
	return nil, false
}

func resolveTypeRefField(sch *schema.Schema, tr *schema.TypeRef, field string, args map[string]any) (any, bool) {
	if tr.Kind == schema.TypeRefKindNonNull || tr.Kind == schema.TypeRefKindList {
		switch field {
		case "kind":
			return string(tr.Kind), true
		case "ofType":
			return tr.OfType, true
		}
		return nil, true
	}
	switch field {
	case "name":
		return tr.Named, true
	case "ofType":
		return nil, true
	}
	if def := sch.Types[tr.Named]; def != nil {
		return resolveTypeField(sch, def, field, args)
	}
	return nil, true
}

func resolveFieldField(f *schema.Field, field string, args map[string]any) (any, bool) {
	switch field {
	case "name":
		return f.Name, true
	case "description":
		return f.Description, true
	case "args":
		return visible(f.Arguments, args, inputDeprecated), true
	case "type":
		return f.Type, true
	case "isDeprecated":
		return f.IsDeprecated, true
	case "deprecationReason":
		return reason(f.IsDeprecated, f.DeprecationReason), true
	}
	return nil, false
}

func resolveInputValueField(a *schema.InputValue, field string) (any, bool) {
	switch field {
	case "name":
		return a.Name, true
	case "description":
		return a.Description, true
	case "type":
		return a.Type, true
	case "defaultValue":
		if a.DefaultValue == nil {
			return nil, true
		}
		return schema.FormatValue(a.DefaultValue), true
	case "isDeprecated":
		return a.IsDeprecated, true
	case "deprecationReason":
		return reason(a.IsDeprecated, a.DeprecationReason), true
	}
	return nil, false
}

func resolveEnumValueField(ev *schema.EnumValue, field string) (any, bool) {
	switch field {
	case "name":
		return ev.Name, true
	case "description":
		return ev.Description, true
	case "isDeprecated":
		return ev.IsDeprecated, true
	case "deprecationReason":
		return reason(ev.IsDeprecated, ev.DeprecationReason), true
	}
	return nil, false
}

func resolveDirectiveField(d *schema.Directive, field string, args map[string]any) (any, bool) {
	switch field {
	case "name":
		return d.Name, true
	case "description":
		return d.Description, true
	case "isRepeatable":
		return d.IsRepeatable, true
	case "locations":
		locs := append([]string(nil), d.Locations...)
		sort.Strings(locs)
		return locs, true
	case "args":
		return visible(d.Arguments, args, inputDeprecated), true
	}
	return nil, false
}

func boolArg(args map[string]any, name string, def bool) bool {
	if b, ok := args[name].(bool); ok {
		return b
	}
	return def
}
