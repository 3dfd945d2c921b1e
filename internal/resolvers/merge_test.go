package resolvers

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanpama/appsynclocal/appsync"
	directives "github.com/hanpama/appsynclocal/internal/directives"
	pubsub "github.com/hanpama/appsynclocal/internal/pubsub"
	schema "github.com/hanpama/appsynclocal/internal/schema"
)

const bookstoreSDL = `
type Query {
  getBook(id: ID!): Book
  listBooks: [Book] @aws_api_key
  me: String @aws_cognito_user_pools(cognito_groups: ["admin"])
}

type Mutation {
  createBook(title: String!): Book
  deleteBook(id: ID!): Book
}

type Subscription {
  onCreateBook: Book @aws_subscribe(mutations: ["createBook"])
  onBookChange: Book @aws_subscribe(mutations: ["createBook", "deleteBook"])
}

type Book {
  id: ID!
  title: String
  author: Author
}

type Author { name: String }
`

type bookstore struct {
	schema *schema.Schema
	table  *directives.Table
	ps     *pubsub.PubSub
}

func newBookstore(t *testing.T) *bookstore {
	t.Helper()
	sch, err := schema.BuildFromSDL(bookstoreSDL)
	require.NoError(t, err)
	tbl, err := directives.Compile(sch)
	require.NoError(t, err)
	return &bookstore{schema: sch, table: tbl, ps: pubsub.New()}
}

func (b *bookstore) merge(t *testing.T, reg appsync.Registry, kind ServerKind) (ResolverMap, error) {
	t.Helper()
	return Merge(context.Background(), MergeOptions{
		Schema:     b.schema,
		Registry:   reg,
		Kind:       kind,
		PubSub:     b.ps,
		Directives: b.table,
	})
}

func fieldNames(m ResolverMap) map[string][]string {
	out := map[string][]string{}
	for typeName, fields := range m {
		for name := range fields {
			out[typeName] = append(out[typeName], name)
		}
		sort.Strings(out[typeName])
	}
	return out
}

func TestMerge_Buckets(t *testing.T) {
	b := newBookstore(t)
	core, logs := observer.New(zap.InfoLevel)
	m, err := Merge(context.Background(), MergeOptions{
		Schema: b.schema,
		Registry: appsync.Registry{
			"Query/getBook/index.go":       nopHandler,
			"Mutation/createBook/index.go": nopHandler,
			"Type/Book/author/index.go":    nopHandler,
		},
		PubSub:     b.ps,
		Directives: b.table,
		Logger:     zap.New(core),
	})
	require.NoError(t, err)

	want := map[string][]string{
		"Query":        {"getBook"},
		"Mutation":     {"createBook"},
		"Subscription": {"onBookChange", "onCreateBook"},
		"Book":         {"author"},
	}
	if diff := cmp.Diff(want, fieldNames(m)); diff != "" {
		t.Fatalf("resolver map mismatch (-want +got):\n%s", diff)
	}
	require.NotNil(t, m.Field("Subscription", "onCreateBook").Subscribe)
	require.Nil(t, m.Field("Query", "listBooks"))
	require.Equal(t, 3, logs.FilterMessage("initialized api").Len())
}

func TestMerge_NoHandlers(t *testing.T) {
	b := newBookstore(t)
	m, err := b.merge(t, appsync.Registry{}, ServerApollo)
	require.NoError(t, err)
	require.Equal(t, map[string][]string{"Subscription": {"onBookChange", "onCreateBook"}}, fieldNames(m))
}

func TestMerge_SubscriptionHandlerKeepsStream(t *testing.T) {
	b := newBookstore(t)
	m, err := b.merge(t, appsync.Registry{"Subscription/onCreateBook/index.go": nopHandler}, ServerApollo)
	require.NoError(t, err)
	cfg := m.Field("Subscription", "onCreateBook")
	require.NotNil(t, cfg.Subscribe)
	require.NotNil(t, cfg.Resolve)
}

func TestMerge_Errors(t *testing.T) {
	tests := []struct {
		name string
		reg  appsync.Registry
		err  string
	}{
		{
			name: "duplicate field",
			reg: appsync.Registry{
				"Query/getBook/index.go":    nopHandler,
				"Query/getBook/v2/index.go": nopHandler,
			},
			err: "duplicate handlers for Query.getBook: Query/getBook/index.go, Query/getBook/v2/index.go",
		},
		{
			name: "undeclared field",
			reg:  appsync.Registry{"Query/getAuthor/index.go": nopHandler},
			err:  "Query.getAuthor is defined in resolvers, but not in the schema",
		},
		{
			name: "undeclared type",
			reg:  appsync.Registry{"Type/Publisher/name/index.go": nopHandler},
			err:  "type Publisher is not defined in the schema",
		},
		{
			name: "nil handler",
			reg:  appsync.Registry{"Query/getBook/index.go": nil},
			err:  "handler is nil",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newBookstore(t).merge(t, tt.reg, ServerApollo)
			require.ErrorContains(t, err, tt.err)
		})
	}
}

func TestMerge_DuplicateErrorType(t *testing.T) {
	_, err := newBookstore(t).merge(t, appsync.Registry{
		"Type/Book/author/index.go":       nopHandler,
		"Type/Book/author/inner/index.go": nopHandler,
	}, ServerApollo)
	var dup *DuplicateHandlerError
	require.ErrorAs(t, err, &dup)
	require.Equal(t, "Book", dup.Type)
	require.Equal(t, "author", dup.Field)
}

func TestParseServerKind(t *testing.T) {
	k, err := ParseServerKind("Yoga")
	require.NoError(t, err)
	require.Equal(t, ServerYoga, k)

	k, err = ParseServerKind("")
	require.NoError(t, err)
	require.Equal(t, ServerApollo, k)

	_, err = ParseServerKind("mercurius")
	require.ErrorContains(t, err, "unknown server kind")
}

func TestSubscribeTopics_Kinds(t *testing.T) {
	for _, kind := range []ServerKind{ServerApollo, ServerYoga} {
		t.Run(string(kind), func(t *testing.T) {
			ps := pubsub.New()
			ctx, cancel := context.WithCancel(context.Background())
			stream, err := subscribeTopics(ps, kind, []string{"onBookChange", "createBook", "deleteBook"})(ctx, nil)
			require.NoError(t, err)

			require.NoError(t, ps.Publish(ctx, "createBook", 1))
			require.Equal(t, 1, <-stream)
			require.NoError(t, ps.Publish(ctx, "deleteBook", 2))
			require.Equal(t, 2, <-stream)
			require.NoError(t, ps.Publish(ctx, "updateBook", 3))

			cancel()
			for range stream {
			}
		})
	}

	_, err := subscribeTopics(nil, ServerApollo, []string{"a"})(context.Background(), nil)
	require.ErrorContains(t, err, "subscriptions are not configured")
}

func TestSubscribeTopics_UnreadStreamDoesNotBlockPublish(t *testing.T) {
	const n = 2*pubsub.DefaultBuffer + 8
	for _, kind := range []ServerKind{ServerApollo, ServerYoga} {
		t.Run(string(kind), func(t *testing.T) {
			ps := pubsub.New()
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			stream, err := subscribeTopics(ps, kind, []string{"onCreateBook", "createBook"})(ctx, nil)
			require.NoError(t, err)

			done := make(chan struct{})
			go func() {
				defer close(done)
				for i := 0; i < n; i++ {
					_ = ps.Publish(ctx, "createBook", i)
				}
			}()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatalf("Publish blocked on a subscriber that is not reading")
			}

			for i := 0; i < n; i++ {
				require.Equal(t, i, <-stream)
			}
		})
	}
}

func TestMerge_Idempotent(t *testing.T) {
	b := newBookstore(t)
	reg := appsync.Registry{
		"Query/getBook/index.go": func(ctx context.Context, ev *appsync.Event, cb appsync.Callback) (any, error) {
			return map[string]any{"id": ev.Arguments["id"], "title": "Dune"}, nil
		},
		"Mutation/createBook/index.go": valueHandler(map[string]any{"id": "b2"}),
		"Type/Book/author/index.go":    valueHandler(map[string]any{"name": "Frank"}),
	}
	first, err := b.merge(t, reg, ServerApollo)
	require.NoError(t, err)
	second, err := b.merge(t, reg, ServerApollo)
	require.NoError(t, err)

	if diff := cmp.Diff(fieldNames(first), fieldNames(second)); diff != "" {
		t.Fatalf("field names differ between merges (-first +second):\n%s", diff)
	}
	params := ResolveParams{Args: map[string]any{"id": "b1"}, Source: map[string]any{"id": "b1"}}
	for typeName, fields := range first {
		for name, cfg := range fields {
			if cfg.Resolve == nil {
				continue
			}
			a, errA := cfg.Resolve(context.Background(), params)
			z, errZ := second.Field(typeName, name).Resolve(context.Background(), params)
			require.Equal(t, errA, errZ, "%s.%s", typeName, name)
			if diff := cmp.Diff(a, z); diff != "" {
				t.Errorf("%s.%s result differs (-first +second):\n%s", typeName, name, diff)
			}
		}
	}
	require.Equal(t, []string{"createBook", "deleteBook"}, b.table.Subscribed().Names())
}
