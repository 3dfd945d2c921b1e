package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Render prints s as SDL. Types and directives are sorted by name; the
// standard scalars and @include/@skip are omitted, the AppSync prelude is not.
func Render(s *Schema) string {
	if s == nil {
		return ""
	}
	p := &printer{}

	for _, name := range sortedKeys(s.Types, isBuiltinScalar) {
		p.typ(s.Types[name])
	}
	for _, name := range sortedKeys(s.Directives, isBuiltinDirective) {
		p.directive(s.Directives[name])
	}
	return p.String()
}

func sortedKeys[T any](m map[string]T, skip func(string) bool) []string {
	out := make([]string, 0, len(m))
	for name := range m {
		if !skip(name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

type printer struct {
	strings.Builder
}

func (p *printer) printf(format string, args ...any) { fmt.Fprintf(p, format, args...) }

func (p *printer) description(desc, indent string) {
	if desc == "" {
		return
	}
	desc = strings.ReplaceAll(desc, `"""`, `\"""`)
	p.printf("%s\"\"\"\n%s%s\n%s\"\"\"\n", indent, indent, desc, indent)
}

func (p *printer) typ(t *Type) {
	p.description(t.Description, "")
	switch t.Kind {
	case TypeKindScalar:
		p.printf("scalar %s", t.Name)
		if t.SpecifiedByURL != nil {
			p.printf(" @specifiedBy(url: %s)", strconv.Quote(*t.SpecifiedByURL))
		}
		p.printf("\n\n")
	case TypeKindEnum:
		p.printf("enum %s {\n", t.Name)
		for _, v := range t.EnumValues {
			p.description(v.Description, "  ")
			p.printf("  %s%s\n", v.Name, deprecated(v.IsDeprecated, v.DeprecationReason))
		}
		p.printf("}\n\n")
	case TypeKindInputObject:
		p.printf("input %s", t.Name)
		if t.OneOf {
			p.printf(" @oneOf")
		}
		p.printf(" {\n")
		for _, f := range t.InputFields {
			p.description(f.Description, "  ")
			p.printf("  %s%s\n", inputValue(f), deprecated(f.IsDeprecated, f.DeprecationReason))
		}
		p.printf("}\n\n")
	case TypeKindObject, TypeKindInterface:
		keyword := "type"
		if t.Kind == TypeKindInterface {
			keyword = "interface"
		}
		p.printf("%s %s", keyword, t.Name)
		if len(t.Interfaces) > 0 {
			p.printf(" implements %s", strings.Join(t.Interfaces, " & "))
		}
		p.printf("%s {\n", directiveUses(t.Directives))
		for _, f := range t.Fields {
			p.field(f)
		}
		p.printf("}\n\n")
	case TypeKindUnion:
		p.printf("union %s = %s\n\n", t.Name, strings.Join(t.PossibleTypes, " | "))
	}
}

func (p *printer) field(f *Field) {
	p.description(f.Description, "  ")
	p.printf("  %s%s: %s%s%s\n",
		f.Name,
		arguments(f.Arguments),
		renderTypeRef(f.Type),
		deprecated(f.IsDeprecated, f.DeprecationReason),
		directiveUses(f.Directives),
	)
}

func (p *printer) directive(d *Directive) {
	p.description(d.Description, "")
	p.printf("directive @%s%s", d.Name, arguments(d.Arguments))
	if d.IsRepeatable {
		p.printf(" repeatable")
	}
	p.printf(" on %s\n\n", strings.Join(d.Locations, " | "))
}

func arguments(args []*InputValue) string {
	if len(args) == 0 {
		return ""
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = inputValue(a)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func inputValue(v *InputValue) string {
	out := v.Name + ": " + renderTypeRef(v.Type)
	if v.DefaultValue != nil {
		out += " = " + renderValue(v.DefaultValue)
	}
	return out
}

func deprecated(is bool, reason string) string {
	switch {
	case !is:
		return ""
	case reason == "":
		return " @deprecated"
	}
	return " @deprecated(reason: " + strconv.Quote(reason) + ")"
}

// directiveUses prints applied directives with their arguments sorted by name.
func directiveUses(uses []*DirectiveUse) string {
	var b strings.Builder
	for _, use := range uses {
		b.WriteString(" @" + use.Name)
		if len(use.Arguments) == 0 {
			continue
		}
		names := sortedKeys(use.Arguments, func(string) bool { return false })
		parts := make([]string, len(names))
		for i, name := range names {
			parts[i] = name + ": " + renderValue(use.Arguments[name])
		}
		b.WriteString("(" + strings.Join(parts, ", ") + ")")
	}
	return b.String()
}

func renderTypeRef(t *TypeRef) string {
	if t == nil {
		return ""
	}
	switch t.Kind {
	case TypeRefKindList:
		return "[" + renderTypeRef(t.OfType) + "]"
	case TypeRefKindNonNull:
		return renderTypeRef(t.OfType) + "!"
	}
	return t.Named
}

// FormatValue renders a Go value converted from a GraphQL constant back into
// literal syntax. Map keys are written in sorted order.
func FormatValue(value any) string { return renderValue(value) }

func renderValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = renderValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := sortedKeys(v, func(string) bool { return false })
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + renderValue(v[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	// enum values
	return fmt.Sprint(value)
}
