package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	language "github.com/hanpama/appsynclocal/internal/language"
)

const defaultDeprecationReason = "No longer supported"

// BuildFromSources merges the AppSync prelude with the given SDL sources,
// validates the result and converts it into an executable Schema.
func BuildFromSources(sources ...*language.Source) (*Schema, error) {
	all := make([]*language.Source, 0, len(sources)+1)
	all = append(all, PreludeSource())
	all = append(all, sources...)
	doc, err := language.LoadSchema(all...)
	if err != nil {
		return nil, errors.Wrap(err, "load schema")
	}
	return BuildFromAST(doc), nil
}

// BuildFromSDL is BuildFromSources for in-memory SDL strings.
func BuildFromSDL(sdl ...string) (*Schema, error) {
	sources := make([]*language.Source, len(sdl))
	for i, s := range sdl {
		sources[i] = &language.Source{Name: fmt.Sprintf("schema%d.graphql", i), Input: s}
	}
	return BuildFromSources(sources...)
}

// BuildFromAST converts a validated gqlparser schema. gqlparser built-ins
// (including introspection types) are skipped; the introspection package adds
// its own. Root operation fields are marked async.
func BuildFromAST(doc *language.Schema) *Schema {
	s := NewSchema(doc.Description)
	s.AST = doc
	if doc.Query != nil {
		s.SetQueryType(doc.Query.Name)
	}
	if doc.Mutation != nil {
		s.SetMutationType(doc.Mutation.Name)
	}
	if doc.Subscription != nil {
		s.SetSubscriptionType(doc.Subscription.Name)
	}

	names := make([]string, 0, len(doc.Types))
	for name, def := range doc.Types {
		if def.BuiltIn {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		def := doc.Types[name]
		t := buildType(doc, def)
		if s.RootTypeName(t.Name) != "" {
			for _, f := range t.Fields {
				f.SetAsync(true)
			}
		}
		s.AddType(t)
	}

	for name, dir := range doc.Directives {
		if dir.Position != nil && dir.Position.Src != nil && dir.Position.Src.BuiltIn {
			continue
		}
		if _, ok := s.Directives[name]; ok {
			continue
		}
		s.AddDirective(buildDirective(dir))
	}
	return s
}

// IntrospectionTypes converts the "__"-prefixed built-in types of a
// gqlparser schema (__Schema, __Type, __TypeKind, ...), sorted by name.
func IntrospectionTypes(doc *language.Schema) []*Type {
	names := make([]string, 0, 8)
	for name := range doc.Types {
		if strings.HasPrefix(name, "__") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]*Type, len(names))
	for i, name := range names {
		out[i] = buildType(doc, doc.Types[name])
	}
	return out
}

func buildType(doc *language.Schema, def *language.Definition) *Type {
	switch def.Kind {
	case language.Object, language.Interface:
		kind := TypeKindObject
		if def.Kind == language.Interface {
			kind = TypeKindInterface
		}
		t := NewType(def.Name, kind, def.Description)
		for _, iface := range def.Interfaces {
			t.AddInterface(iface)
		}
		for _, fd := range def.Fields {
			if len(fd.Name) > 1 && fd.Name[:2] == "__" {
				continue
			}
			t.AddField(buildField(fd))
		}
		if kind == TypeKindInterface {
			for _, impl := range doc.PossibleTypes[def.Name] {
				t.AddPossibleType(impl.Name)
			}
		}
		buildDirectiveUses(def.Directives, t.AddDirective)
		return t
	case language.Union:
		t := NewType(def.Name, TypeKindUnion, def.Description)
		for _, member := range def.Types {
			t.AddPossibleType(member)
		}
		buildDirectiveUses(def.Directives, t.AddDirective)
		return t
	case language.Enum:
		t := NewType(def.Name, TypeKindEnum, def.Description)
		for _, ev := range def.EnumValues {
			v := NewEnumValue(ev.Name, ev.Description)
			if reason, ok := deprecation(ev.Directives); ok {
				v.Deprecate(reason)
			}
			t.AddEnumValue(v)
		}
		return t
	case language.InputObject:
		t := NewType(def.Name, TypeKindInputObject, def.Description).
			SetOneOf(def.Directives.ForName("oneOf") != nil)
		for _, fd := range def.Fields {
			in := NewInputValue(fd.Name, fd.Description, buildTypeRef(fd.Type)).
				SetDefault(constValue(fd.DefaultValue))
			if reason, ok := deprecation(fd.Directives); ok {
				in.Deprecate(reason)
			}
			t.AddInputField(in)
		}
		return t
	default:
		t := NewType(def.Name, TypeKindScalar, def.Description)
		if sb := def.Directives.ForName("specifiedBy"); sb != nil {
			if arg := sb.Arguments.ForName("url"); arg != nil && arg.Value != nil {
				url := arg.Value.Raw
				t.SpecifiedByURL = &url
			}
		}
		return t
	}
}

func buildField(fd *language.FieldDefinition) *Field {
	f := NewField(fd.Name, fd.Description, buildTypeRef(fd.Type))
	for _, ad := range fd.Arguments {
		in := NewInputValue(ad.Name, ad.Description, buildTypeRef(ad.Type)).
			SetDefault(constValue(ad.DefaultValue))
		if reason, ok := deprecation(ad.Directives); ok {
			in.Deprecate(reason)
		}
		f.AddArgument(in)
	}
	if reason, ok := deprecation(fd.Directives); ok {
		f.Deprecate(reason)
	}
	buildDirectiveUses(fd.Directives, f.AddDirective)
	return f
}

func buildDirective(dir *language.DirectiveDefinition) *Directive {
	d := NewDirective(dir.Name, dir.Description).SetRepeatable(dir.IsRepeatable)
	for _, loc := range dir.Locations {
		d.AddLocation(string(loc))
	}
	for _, ad := range dir.Arguments {
		d.AddArgument(NewInputValue(ad.Name, ad.Description, buildTypeRef(ad.Type)).
			SetDefault(constValue(ad.DefaultValue)))
	}
	return d
}

func buildDirectiveUses[T any](list language.DirectiveList, add func(*DirectiveUse) T) {
	for _, d := range list {
		if d.Name == "deprecated" {
			continue
		}
		use := &DirectiveUse{Name: d.Name, Arguments: make(map[string]any, len(d.Arguments))}
		for _, arg := range d.Arguments {
			use.Arguments[arg.Name] = constValue(arg.Value)
		}
		add(use)
	}
}

func deprecation(list language.DirectiveList) (string, bool) {
	d := list.ForName("deprecated")
	if d == nil {
		return "", false
	}
	if arg := d.Arguments.ForName("reason"); arg != nil && arg.Value != nil {
		return arg.Value.Raw, true
	}
	return defaultDeprecationReason, true
}

func constValue(v *language.Value) any {
	if v == nil {
		return nil
	}
	out, err := v.Value(nil)
	if err != nil {
		return nil
	}
	return out
}

func buildTypeRef(t *language.Type) *TypeRef {
	if t == nil {
		return nil
	}
	var ref *TypeRef
	if t.Elem != nil {
		ref = ListType(buildTypeRef(t.Elem))
	} else {
		ref = NamedType(t.NamedType)
	}
	if t.NonNull {
		return NonNullType(ref)
	}
	return ref
}
