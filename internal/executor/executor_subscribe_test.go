package executor

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const bookFeedSDL = `
type Query { a: String }
type Subscription {
  onCreateBook(author: String): Book
  onDeleteBook: Book
}
type Book { id: ID! title: String }
`

func newBookFeedRuntime(source chan any) *MockRuntime {
	rt := NewMockRuntime(map[string]MockResolver{
		"Subscription.onCreateBook": prop("onCreateBook"),
		"Book.id":                   prop("id"),
		"Book.title":                prop("title"),
	})
	rt.SetStream("Subscription", "onCreateBook", func(ctx context.Context, args map[string]any) (<-chan any, error) {
		return source, nil
	})
	return rt
}

func TestSubscribe_ExecutesEachEvent(t *testing.T) {
	source := make(chan any, 2)
	rt := newBookFeedRuntime(source)
	exec := NewExecutor(rt, mustBuildSchema(t, bookFeedSDL))
	doc := mustParseQuery(t, `subscription S($a: String) { onCreateBook(author: $a) { id title } }`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	results, err := exec.Subscribe(ctx, doc, "", map[string]any{"a": "frank"})
	require.NoError(t, err)

	source <- map[string]any{"onCreateBook": map[string]any{"id": "1", "title": "Dune"}}
	source <- map[string]any{"onCreateBook": map[string]any{"id": "2", "title": "Emma"}}
	close(source)

	var got []*ExecutionResult
	for res := range results {
		got = append(got, res)
	}
	want := []*ExecutionResult{
		{Data: map[string]any{"onCreateBook": map[string]any{"id": "1", "title": "Dune"}}, Errors: []GraphQLError{}},
		{Data: map[string]any{"onCreateBook": map[string]any{"id": "2", "title": "Emma"}}, Errors: []GraphQLError{}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("subscription results mismatch (-want +got):\n%s", diff)
	}

	tasks := rt.GetTasks()
	require.NotEmpty(t, tasks)
	require.Equal(t, "onCreateBook", tasks[0].Field)
	require.Equal(t, map[string]any{"author": "frank"}, tasks[0].Args)
	require.Equal(t, []string{"id", "title"}, tasks[0].Info.SelectionSetList())
}

func TestSubscribe_ClosesOnCancel(t *testing.T) {
	source := make(chan any)
	exec := NewExecutor(newBookFeedRuntime(source), mustBuildSchema(t, bookFeedSDL))
	doc := mustParseQuery(t, `subscription { onCreateBook { id } }`)

	ctx, cancel := context.WithCancel(context.Background())
	results, err := exec.Subscribe(ctx, doc, "", nil)
	require.NoError(t, err)

	cancel()
	for range results {
	}
}

func TestSubscribe_RequestErrors(t *testing.T) {
	sch := mustBuildSchema(t, bookFeedSDL)

	tests := []struct {
		name    string
		runtime Runtime
		query   string
		want    string
	}{
		{
			name:    "query operation",
			runtime: NewMockRuntime(nil),
			query:   `query Q { a }`,
			want:    `operation "Q" is not a subscription`,
		},
		{
			name:    "two root fields",
			runtime: NewMockRuntime(nil),
			query:   `subscription { onCreateBook { id } onDeleteBook { id } }`,
			want:    "subscription operations must select exactly one top level field",
		},
		{
			name:    "runtime without streams",
			runtime: struct{ Runtime }{NewMockRuntime(nil)},
			query:   `subscription { onCreateBook { id } }`,
			want:    "subscriptions are not supported by this runtime",
		},
		{
			name:    "stream failure",
			runtime: NewMockRuntime(nil),
			query:   `subscription { onDeleteBook { id } }`,
			want:    "no stream for Subscription.onDeleteBook",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := NewExecutor(tt.runtime, sch)
			_, err := exec.Subscribe(context.Background(), mustParseQuery(t, tt.query), "", nil)
			require.Error(t, err)
			var gqlErrs GraphQLErrors
			require.ErrorAs(t, err, &gqlErrs)
			require.Equal(t, tt.want, gqlErrs[0].Message)
		})
	}
}
