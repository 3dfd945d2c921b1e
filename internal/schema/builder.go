package schema

import (
	"sort"
)

// NewSchema returns an empty schema preloaded with the built-in scalars and
// the executable directives.
func NewSchema(description string) *Schema {
	s := &Schema{
		Types:       make(map[string]*Type),
		Directives:  make(map[string]*Directive),
		Description: description,
	}
	addBuiltins(s)
	return s
}

func (s *Schema) SetQueryType(name string) *Schema {
	s.QueryType = name
	return s
}

func (s *Schema) SetMutationType(name string) *Schema {
	s.MutationType = name
	return s
}

func (s *Schema) SetSubscriptionType(name string) *Schema {
	s.SubscriptionType = name
	return s
}

// AddType registers t, replacing any type with the same name.
func (s *Schema) AddType(t *Type) *Schema {
	if s.Types == nil {
		s.Types = make(map[string]*Type)
	}
	s.Types[t.Name] = t
	return s
}

// AddDirective registers a directive definition.
func (s *Schema) AddDirective(d *Directive) *Schema {
	if s.Directives == nil {
		s.Directives = make(map[string]*Directive)
	}
	s.Directives[d.Name] = d
	return s
}

// RootTypeName reports which root operation type name is, if any: "Query",
// "Mutation" or "Subscription". Custom root names map to their canonical role.
func (s *Schema) RootTypeName(name string) string {
	switch {
	case name == "":
		return ""
	case name == s.QueryType:
		return "Query"
	case name == s.MutationType:
		return "Mutation"
	case name == s.SubscriptionType:
		return "Subscription"
	}
	return ""
}

// Field looks up a field definition by type and field name.
func (s *Schema) Field(typeName, fieldName string) *Field {
	t := s.Types[typeName]
	if t == nil {
		return nil
	}
	return t.Field(fieldName)
}

// ObjectTypes returns all object types sorted by name.
func (s *Schema) ObjectTypes() []*Type {
	out := make([]*Type, 0, len(s.Types))
	for _, t := range s.Types {
		if t.Kind == TypeKindObject {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func NewType(name string, kind TypeKind, description string) *Type {
	return &Type{Name: name, Kind: kind, Description: description}
}

func (t *Type) AddField(f *Field) *Type {
	t.Fields = append(t.Fields, f)
	return t
}

func (t *Type) AddInterface(name string) *Type {
	t.Interfaces = append(t.Interfaces, name)
	return t
}

func (t *Type) AddPossibleType(name string) *Type {
	t.PossibleTypes = append(t.PossibleTypes, name)
	return t
}

func (t *Type) AddEnumValue(v *EnumValue) *Type {
	t.EnumValues = append(t.EnumValues, v)
	return t
}

func (t *Type) AddInputField(v *InputValue) *Type {
	t.InputFields = append(t.InputFields, v)
	return t
}

func (t *Type) AddDirective(d *DirectiveUse) *Type {
	t.Directives = append(t.Directives, d)
	return t
}

func (t *Type) SetOneOf(oneOf bool) *Type {
	t.OneOf = oneOf
	return t
}

// Field returns the named field or nil.
func (t *Type) Field(name string) *Field {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// GetOrderedFields returns the fields in declaration order.
func (t *Type) GetOrderedFields() []*Field {
	out := make([]*Field, len(t.Fields))
	copy(out, t.Fields)
	return out
}

// GetOrderedInputFields returns the input fields in declaration order.
func (t *Type) GetOrderedInputFields() []*InputValue {
	out := make([]*InputValue, len(t.InputFields))
	copy(out, t.InputFields)
	return out
}

func NewField(name, description string, typ *TypeRef) *Field {
	return &Field{Name: name, Description: description, Type: typ}
}

func (f *Field) SetAsync(async bool) *Field {
	f.Async = async
	return f
}

func (f *Field) AddArgument(a *InputValue) *Field {
	f.Arguments = append(f.Arguments, a)
	return f
}

func (f *Field) AddDirective(d *DirectiveUse) *Field {
	f.Directives = append(f.Directives, d)
	return f
}

func (f *Field) Deprecate(reason string) *Field {
	f.IsDeprecated, f.DeprecationReason = true, reason
	return f
}

func (f *Field) GetOrderedArguments() []*InputValue {
	return append([]*InputValue(nil), f.Arguments...)
}

// Directive returns the first applied directive with the given name.
func (f *Field) Directive(name string) *DirectiveUse {
	for _, d := range f.Directives {
		if d.Name == name {
			return d
		}
	}
	return nil
}

func NewEnumValue(name, description string) *EnumValue {
	return &EnumValue{Name: name, Description: description}
}

func (e *EnumValue) Deprecate(reason string) *EnumValue {
	e.IsDeprecated, e.DeprecationReason = true, reason
	return e
}

func NewInputValue(name, description string, typ *TypeRef) *InputValue {
	return &InputValue{Name: name, Description: description, Type: typ}
}

func (v *InputValue) SetDefault(value any) *InputValue {
	v.DefaultValue = value
	return v
}

func (v *InputValue) Deprecate(reason string) *InputValue {
	v.IsDeprecated, v.DeprecationReason = true, reason
	return v
}

func NewDirective(name, description string) *Directive {
	return &Directive{Name: name, Description: description}
}

func (d *Directive) SetRepeatable(r bool) *Directive {
	d.IsRepeatable = r
	return d
}

func (d *Directive) AddArgument(a *InputValue) *Directive {
	d.Arguments = append(d.Arguments, a)
	return d
}

func (d *Directive) AddLocation(loc string) *Directive {
	d.Locations = append(d.Locations, loc)
	return d
}

// StringList returns the named argument as a list of strings. A missing or
// null argument yields nil and ok=true; any other shape yields ok=false.
func (d *DirectiveUse) StringList(arg string) (values []string, ok bool) {
	raw, present := d.Arguments[arg]
	if !present || raw == nil {
		return nil, true
	}
	switch v := raw.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, isString := item.(string)
			if !isString {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case string:
		// A single value where a list is expected is coerced per input coercion rules.
		return []string{v}, true
	}
	return nil, false
}
