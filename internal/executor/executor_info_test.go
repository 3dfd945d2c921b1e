package executor

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	language "github.com/hanpama/appsynclocal/internal/language"
	schema "github.com/hanpama/appsynclocal/internal/schema"
)

const librarySDL = `
interface Node { id: ID! }
union SearchResult = Book | Author

type Query {
  book(id: ID): Book
  search: [SearchResult!]!
  secret: String
}

type Book implements Node {
  id: ID!
  title: String
  author: Author
}

type Author implements Node {
  id: ID!
  name: String
  age: Int
}
`

func mustBuildSchema(t *testing.T, sdl string) *schema.Schema {
	t.Helper()
	sch, err := schema.BuildFromSDL(sdl)
	require.NoError(t, err)
	return sch
}

// prop resolves a field by reading the same key from a map source.
func prop(key string) MockResolver {
	return func(ctx context.Context, source any, args map[string]any) (any, error) {
		if m, ok := source.(map[string]any); ok {
			return m[key], nil
		}
		return nil, nil
	}
}

func TestResolveInfo_OnAsyncTasks(t *testing.T) {
	sch := mustBuildSchema(t, librarySDL)
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.book": NewMockValueResolver(map[string]any{
			"id": "b1", "title": "Dune", "author": map[string]any{"name": "Frank", "age": 65},
		}),
		"Book.id":     prop("id"),
		"Book.title":  prop("title"),
		"Book.author": prop("author"),
		"Author.name": prop("name"),
		"Author.age":  prop("age"),
	})
	exec := NewExecutor(rt, sch)
	doc := mustParseQuery(t, `
query Q($id: ID) {
  book(id: $id) {
    title
    author { name ...AuthorParts }
    ... on Book { __typename id }
  }
}
fragment AuthorParts on Author { name age }
`)

	gotRes := exec.ExecuteRequest(context.Background(), doc, "Q", map[string]any{"id": "b1"}, nil)
	wantRes := &ExecutionResult{
		Data: map[string]any{"book": map[string]any{
			"title":      "Dune",
			"author":     map[string]any{"name": "Frank", "age": 65},
			"__typename": "Book",
			"id":         "b1",
		}},
		Errors: []GraphQLError{},
	}
	if diff := cmp.Diff(wantRes, gotRes); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}

	tasks := rt.GetTasks()
	require.Len(t, tasks, 1)
	info := tasks[0].Info
	require.NotNil(t, info)
	require.Equal(t, "book", info.FieldName)
	require.Equal(t, "Query", info.ParentType)
	require.Equal(t, Path{"book"}, info.Path)
	require.Equal(t, "Q", info.Operation.Name)
	require.Equal(t, map[string]any{"id": "b1"}, info.Variables)
	require.Equal(t, map[string]any{"id": "b1"}, tasks[0].Args)

	want := []string{"title", "author", "author/name", "author/age", "id"}
	if diff := cmp.Diff(want, info.SelectionSetList()); diff != "" {
		t.Fatalf("SelectionSetList mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveInfo_SelectionSetList_LeafField(t *testing.T) {
	var nilInfo *ResolveInfo
	require.Equal(t, []string{}, nilInfo.SelectionSetList())

	doc := mustParseQuery(t, `{ secret }`)
	field := doc.Operations[0].SelectionSet[0].(*language.Field)
	info := &ResolveInfo{FieldName: "secret", FieldNodes: []*language.Field{field}}
	require.Equal(t, []string{}, info.SelectionSetList())
}

func TestAbstractFragments_Result(t *testing.T) {
	sch := mustBuildSchema(t, librarySDL)
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.search": NewMockValueResolver([]any{
			map[string]any{"__typename": "Book", "id": "b1", "title": "Dune"},
			map[string]any{"__typename": "Author", "id": "a1", "name": "Frank"},
		}),
		"Book.id":     prop("id"),
		"Book.title":  prop("title"),
		"Author.id":   prop("id"),
		"Author.name": prop("name"),
	})
	exec := NewExecutor(rt, sch)
	doc := mustParseQuery(t, `{
  search {
    ... on Node { id }
    ... on Book { title }
    ... on Author { name }
  }
}`)

	gotRes := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)
	wantRes := &ExecutionResult{
		Data: map[string]any{"search": []any{
			map[string]any{"id": "b1", "title": "Dune"},
			map[string]any{"id": "a1", "name": "Frank"},
		}},
		Errors: []GraphQLError{},
	}
	if diff := cmp.Diff(wantRes, gotRes); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}

func TestErrors_GraphQLErrorKeepsMessage(t *testing.T) {
	sch := mustBuildSchema(t, librarySDL)
	denied := &language.Error{Message: "Unauthorized", Extensions: map[string]any{"errorType": "Unauthorized"}}
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.secret": NewMockErrorResolver(fmt.Errorf("resolve secret: %w", denied)),
	})
	exec := NewExecutor(rt, sch)
	doc := mustParseQuery(t, `{ secret }`)

	gotRes := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)
	wantRes := &ExecutionResult{
		Data: map[string]any{"secret": nil},
		Errors: []GraphQLError{{
			Message:    "Unauthorized",
			Path:       Path{"secret"},
			Extensions: map[string]any{"errorType": "Unauthorized"},
		}},
	}
	if diff := cmp.Diff(wantRes, gotRes); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}
