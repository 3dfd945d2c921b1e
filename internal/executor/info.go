package executor

import (
	"strings"

	language "github.com/hanpama/appsynclocal/internal/language"
	schema "github.com/hanpama/appsynclocal/internal/schema"
)

// ResolveInfo describes a single field occurrence during execution.
type ResolveInfo struct {
	FieldName  string
	ParentType string
	ReturnType *schema.TypeRef
	Path       Path
	FieldNodes []*language.Field
	Operation  *language.OperationDefinition
	Fragments  language.FragmentDefinitionList
	// Variables holds the coerced variable values of the operation.
	Variables map[string]any
}

// SelectionSetList flattens the sub-selection of the field into names, with
// nested fields joined by "/" (e.g. "author", "author/name"). Meta fields
// starting with "__" are omitted. Order follows the document; duplicates from
// merged field nodes appear once.
func (info *ResolveInfo) SelectionSetList() []string {
	if info == nil {
		return []string{}
	}
	out := []string{}
	seen := make(map[string]struct{})
	visited := make(map[string]bool)
	for _, f := range info.FieldNodes {
		info.flattenSelection(f.SelectionSet, "", seen, visited, &out)
	}
	return out
}

func (info *ResolveInfo) flattenSelection(set language.SelectionSet, prefix string, seen map[string]struct{}, visited map[string]bool, out *[]string) {
	for _, sel := range set {
		switch s := sel.(type) {
		case *language.Field:
			if strings.HasPrefix(s.Name, "__") {
				continue
			}
			name := prefix + s.Name
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				*out = append(*out, name)
			}
			info.flattenSelection(s.SelectionSet, name+"/", seen, visited, out)
		case *language.InlineFragment:
			info.flattenSelection(s.SelectionSet, prefix, seen, visited, out)
		case *language.FragmentSpread:
			key := prefix + "..." + s.Name
			if visited[key] {
				continue
			}
			visited[key] = true
			if fd := info.Fragments.ForName(s.Name); fd != nil {
				info.flattenSelection(fd.SelectionSet, prefix, seen, visited, out)
			}
		}
	}
}
