package schema

import language "github.com/hanpama/appsynclocal/internal/language"

// Schema is the executable form of an AppSync API: named types, directive
// definitions and the names of the three root types.
type Schema struct {
	QueryType        string
	MutationType     string
	SubscriptionType string
	Types            map[string]*Type
	Directives       map[string]*Directive
	Description      string

	// AST is the validated gqlparser schema the Schema was built from, if any.
	// The server validates incoming documents against it.
	AST *language.Schema `json:"-"`
}

func (s *Schema) GetQueryType() *Type        { return s.Types[s.QueryType] }
func (s *Schema) GetMutationType() *Type     { return s.Types[s.MutationType] }
func (s *Schema) GetSubscriptionType() *Type { return s.Types[s.SubscriptionType] }

// Type is a named type. Which of the slices are populated depends on Kind.
type Type struct {
	Name        string
	Kind        TypeKind
	Description string

	Fields        []*Field
	Interfaces    []string
	PossibleTypes []string // interface implementations or union members
	EnumValues    []*EnumValue
	InputFields   []*InputValue

	SpecifiedByURL *string
	OneOf          bool
	Directives     []*DirectiveUse
}

// Field is a field of an object or interface type. Async fields are resolved
// in batches through the runtime; the AppSync authorization directives are
// kept in Directives.
type Field struct {
	Name              string
	Description       string
	Type              *TypeRef
	Arguments         []*InputValue
	Async             bool
	IsDeprecated      bool
	DeprecationReason string
	Directives        []*DirectiveUse
}

// DirectiveUse is a directive applied to a type or field definition, with its
// arguments already converted to Go values.
type DirectiveUse struct {
	Name      string
	Arguments map[string]any
}

// TypeKind uses the __TypeKind enum spelling.
type TypeKind string

const (
	TypeKindScalar      TypeKind = "SCALAR"
	TypeKindObject      TypeKind = "OBJECT"
	TypeKindInterface   TypeKind = "INTERFACE"
	TypeKindUnion       TypeKind = "UNION"
	TypeKindEnum        TypeKind = "ENUM"
	TypeKindInputObject TypeKind = "INPUT_OBJECT"
)

// TypeRef is a possibly wrapped reference to a named type, e.g. [Book!]!.
type TypeRef struct {
	Kind   TypeRefKind
	OfType *TypeRef
	Named  string
}

type TypeRefKind string

const (
	TypeRefKindNamed   TypeRefKind = "NAMED"
	TypeRefKindList    TypeRefKind = "LIST"
	TypeRefKindNonNull TypeRefKind = "NON_NULL"
)

func (t *TypeRef) IsNonNull() bool {
	return t != nil && t.Kind == TypeRefKindNonNull
}

// IsList reports whether t is a list, looking through one Non-Null wrapper.
func (t *TypeRef) IsList() bool {
	switch t.Kind {
	case TypeRefKindList:
		return true
	case TypeRefKindNonNull:
		return t.OfType != nil && t.OfType.Kind == TypeRefKindList
	}
	return false
}

// Unwrap strips one List or Non-Null layer.
func (t *TypeRef) Unwrap() *TypeRef {
	switch t.Kind {
	case TypeRefKindNonNull, TypeRefKindList:
		return t.OfType
	}
	return t
}

func (t *TypeRef) GetNamedType() string {
	for ; t != nil; t = t.OfType {
		if t.Named != "" {
			return t.Named
		}
	}
	return ""
}

type EnumValue struct {
	Name              string
	Description       string
	IsDeprecated      bool
	DeprecationReason string
}

type InputValue struct {
	Name              string
	Description       string
	Type              *TypeRef
	DefaultValue      any
	IsDeprecated      bool
	DeprecationReason string
}

type Directive struct {
	Name         string
	Description  string
	Locations    []string
	Arguments    []*InputValue
	IsRepeatable bool
}

func NonNullType(t *TypeRef) *TypeRef { return &TypeRef{Kind: TypeRefKindNonNull, OfType: t} }
func ListType(t *TypeRef) *TypeRef    { return &TypeRef{Kind: TypeRefKindList, OfType: t} }
func NamedType(name string) *TypeRef  { return &TypeRef{Kind: TypeRefKindNamed, Named: name} }

// Nil-safe forms of the TypeRef methods.
func IsNonNull(t *TypeRef) bool      { return t != nil && t.IsNonNull() }
func IsList(t *TypeRef) bool         { return t != nil && t.IsList() }
func Unwrap(t *TypeRef) *TypeRef     { return t.Unwrap() }
func GetNamedType(t *TypeRef) string { return t.GetNamedType() }
