package introspection

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	executor "github.com/hanpama/appsynclocal/internal/executor"
	language "github.com/hanpama/appsynclocal/internal/language"
	schema "github.com/hanpama/appsynclocal/internal/schema"
)

// noopRuntime implements executor.Runtime with no behaviour.
type noopRuntime struct{}

func (noopRuntime) ResolveSync(context.Context, string, string, any, map[string]any) (any, error) {
	return nil, nil
}

func (noopRuntime) BatchResolveAsync(_ context.Context, tasks []executor.AsyncResolveTask) []executor.AsyncResolveResult {
	return make([]executor.AsyncResolveResult, len(tasks))
}

func (noopRuntime) ResolveType(context.Context, string, any) (string, error) {
	return "", nil
}

func (noopRuntime) SerializeLeafValue(_ context.Context, _ string, value any) (any, error) {
	return value, nil
}

const bookSDL = `
type Query {
  hello: String
  book(id: ID!): Book
  books(limit: Int = 10, order: String = "title"): [Book!]
}

type Book {
  id: ID!
  title: String @deprecated(reason: "use name")
  tags: [String!]
}
`

func execute(t *testing.T, query string) *executor.ExecutionResult {
	t.Helper()
	sch, err := schema.BuildFromSDL(bookSDL)
	require.NoError(t, err)
	w, err := Wrap(noopRuntime{}, sch)
	require.NoError(t, err)
	doc, err := language.ParseQuery(query)
	require.NoError(t, err)
	return executor.NewExecutor(w.Runtime, w.Schema).ExecuteRequest(context.Background(), doc, "", nil, nil)
}

func TestIntrospection_QueryType(t *testing.T) {
	res := execute(t, "{__schema{queryType{name kind}}}")
	require.Empty(t, res.Errors)
	want := map[string]any{
		"__schema": map[string]any{
			"queryType": map[string]any{"name": "Query", "kind": "OBJECT"},
		},
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestIntrospection_TypeFields(t *testing.T) {
	res := execute(t, `{
  __type(name: "Book") {
    name
    fields(includeDeprecated: true) {
      name
      isDeprecated
      type { kind name ofType { kind name ofType { kind name } } }
    }
  }
}`)
	require.Empty(t, res.Errors)
	want := map[string]any{
		"__type": map[string]any{
			"name": "Book",
			"fields": []any{
				map[string]any{
					"name":         "id",
					"isDeprecated": false,
					"type": map[string]any{
						"kind": "NON_NULL", "name": nil,
						"ofType": map[string]any{"kind": "SCALAR", "name": "ID", "ofType": nil},
					},
				},
				map[string]any{
					"name":         "tags",
					"isDeprecated": false,
					"type": map[string]any{
						"kind": "LIST", "name": nil,
						"ofType": map[string]any{
							"kind": "NON_NULL", "name": nil,
							"ofType": map[string]any{"kind": "SCALAR", "name": "String"},
						},
					},
				},
				map[string]any{
					"name":         "title",
					"isDeprecated": true,
					"type": map[string]any{
						"kind": "SCALAR", "name": "String", "ofType": nil,
					},
				},
			},
		},
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestIntrospection_HidesMetaFields(t *testing.T) {
	res := execute(t, `{ __type(name: "Query") { fields { name } } }`)
	require.Empty(t, res.Errors)
	want := map[string]any{
		"__type": map[string]any{
			"fields": []any{
				map[string]any{"name": "book"},
				map[string]any{"name": "books"},
				map[string]any{"name": "hello"},
			},
		},
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestIntrospection_ArgumentDefaults(t *testing.T) {
	res := execute(t, `{ __type(name: "Query") { fields { name args { name defaultValue } } } }`)
	require.Empty(t, res.Errors)
	fields := res.Data.(map[string]any)["__type"].(map[string]any)["fields"].([]any)
	want := []any{
		map[string]any{"name": "limit", "defaultValue": "10"},
		map[string]any{"name": "order", "defaultValue": `"title"`},
	}
	if diff := cmp.Diff(want, fields[1].(map[string]any)["args"]); diff != "" {
		t.Fatalf("books args mismatch (-want +got):\n%s", diff)
	}
	want = []any{map[string]any{"name": "id", "defaultValue": nil}}
	if diff := cmp.Diff(want, fields[0].(map[string]any)["args"]); diff != "" {
		t.Fatalf("book args mismatch (-want +got):\n%s", diff)
	}
}

func TestIntrospection_IncludesAppSyncPrelude(t *testing.T) {
	res := execute(t, `{ __type(name: "AWSDateTime") { kind } __schema { directives { name } } }`)
	require.Empty(t, res.Errors)
	data := res.Data.(map[string]any)
	require.Equal(t, map[string]any{"kind": "SCALAR"}, data["__type"])

	var names []string
	for _, d := range data["__schema"].(map[string]any)["directives"].([]any) {
		names = append(names, d.(map[string]any)["name"].(string))
	}
	require.Contains(t, names, "aws_subscribe")
	require.Contains(t, names, "aws_cognito_user_pools")
	require.Contains(t, names, "include")
}

func TestTypenameField(t *testing.T) {
	sch, err := schema.BuildFromSDL(bookSDL)
	require.NoError(t, err)
	// __typename works without the wrapper.
	exec := executor.NewExecutor(noopRuntime{}, sch)
	doc, err := language.ParseQuery("{__typename}")
	require.NoError(t, err)
	res := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{"__typename": "Query"}, res.Data)
}

func TestWrap_RequiresAST(t *testing.T) {
	sch := schema.NewSchema("")
	_, err := Wrap(noopRuntime{}, sch)
	require.ErrorContains(t, err, "built from SDL")
}
