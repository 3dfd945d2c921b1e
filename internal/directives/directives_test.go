package directives

import (
	"context"
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanpama/appsynclocal/appsync"
	schema "github.com/hanpama/appsynclocal/internal/schema"
)

const itemsSDL = `
type Query {
  publicItems: [Item]
  keyedItems: [Item] @aws_api_key
  myItems: [Item] @aws_cognito_user_pools
  adminItems: [Item] @aws_cognito_user_pools(cognito_groups: ["admin"])
  both: [Item] @aws_api_key @aws_cognito_user_pools(cognito_groups: ["admin", "ops"])
}

type Mutation {
  createItem(name: String!): Item
  deleteItem(id: ID!): Item
}

type Subscription {
  createItem: Item @aws_subscribe(mutations: ["createItem"])
  onItemChange: Item @aws_subscribe(mutations: ["createItem", "deleteItem"])
}

type Item { id: ID! name: String @aws_api_key }
`

func compileItems(t *testing.T) *Table {
	t.Helper()
	sch, err := schema.BuildFromSDL(itemsSDL)
	require.NoError(t, err)
	tbl, err := Compile(sch)
	require.NoError(t, err)
	return tbl
}

func TestCompile_Policies(t *testing.T) {
	tbl := compileItems(t)

	require.Empty(t, tbl.Policies("Query", "publicItems"))
	require.Empty(t, tbl.Policies("Mutation", "createItem"))

	tests := []struct {
		field string
		want  []Policy
	}{
		{"keyedItems", []Policy{{Kind: KindAPIKey}}},
		{"myItems", []Policy{{Kind: KindCognitoUserPools}}},
		{"adminItems", []Policy{{Kind: KindCognitoUserPools, Groups: []string{"admin"}}}},
		{"both", []Policy{{Kind: KindAPIKey}, {Kind: KindCognitoUserPools, Groups: []string{"admin", "ops"}}}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, tbl.Policies("Query", tt.field)); diff != "" {
			t.Errorf("Query.%s policies mismatch (-want +got):\n%s", tt.field, diff)
		}
	}

	want := []FieldKey{
		{"Item", "name"},
		{"Query", "adminItems"},
		{"Query", "both"},
		{"Query", "keyedItems"},
		{"Query", "myItems"},
	}
	if diff := cmp.Diff(want, tbl.Protected()); diff != "" {
		t.Errorf("Protected mismatch (-want +got):\n%s", diff)
	}
}

func TestCompile_SubscribeSet(t *testing.T) {
	tbl := compileItems(t)

	set := tbl.Subscribed()
	require.Equal(t, []string{"createItem", "deleteItem"}, set.Names())
	require.Equal(t, 2, set.Len())
	require.True(t, set.Contains("createItem"))
	require.False(t, set.Contains("updateItem"))

	require.Equal(t, []string{"createItem"}, tbl.Topics("createItem"))
	require.Equal(t, []string{"onItemChange", "createItem", "deleteItem"}, tbl.Topics("onItemChange"))
	require.Equal(t, []string{"other"}, tbl.Topics("other"))
}

func TestCompile_RepeatedBuildsDoNotAccumulate(t *testing.T) {
	first := compileItems(t)
	second := compileItems(t)
	require.Equal(t, first.Subscribed().Names(), second.Subscribed().Names())
}

func TestNilTable(t *testing.T) {
	var tbl *Table
	require.Nil(t, tbl.Policies("Query", "a"))
	require.Equal(t, 0, tbl.Subscribed().Len())
	require.Equal(t, []string{"a"}, tbl.Topics("a"))
}

type fakeVerifier struct {
	claims jwt.MapClaims
	err    error
	tokens []string
}

func (f *fakeVerifier) Verify(ctx context.Context, token string) (jwt.MapClaims, error) {
	f.tokens = append(f.tokens, token)
	if f.err != nil {
		return nil, f.err
	}
	return f.claims, nil
}

func requestWith(headers map[string]string) *appsync.RequestContext {
	return appsync.NewRequestContext(&appsync.Request{Headers: headers}, appsync.Params{})
}

func TestAuthorize_APIKey(t *testing.T) {
	e := Evaluator{}
	policies := []Policy{{Kind: KindAPIKey}}
	key := FieldKey{"Query", "keyedItems"}

	require.NoError(t, e.Authorize(context.Background(), requestWith(map[string]string{"x-api-key": "anything"}), key, policies))
	require.NoError(t, e.Authorize(context.Background(), requestWith(map[string]string{"X-Api-Key": "k"}), key, policies))

	err := e.Authorize(context.Background(), requestWith(map[string]string{}), key, policies)
	require.Equal(t, Unauthorized(), err)
	err = e.Authorize(context.Background(), nil, key, policies)
	require.Equal(t, Unauthorized(), err)
}

func TestAuthorize_NoPolicies(t *testing.T) {
	require.NoError(t, Evaluator{}.Authorize(context.Background(), nil, FieldKey{"Query", "publicItems"}, nil))
}

func TestAuthorize_Cognito(t *testing.T) {
	adminClaims := jwt.MapClaims{"sub": "s1", "username": "alice", "cognito:groups": []any{"admin"}}
	userClaims := jwt.MapClaims{"sub": "s2", "username": "bob", "cognito:groups": []any{"reader"}}
	noGroupClaims := jwt.MapClaims{"sub": "s3", "username": "carol"}

	tests := []struct {
		name         string
		header       string
		verifier     *fakeVerifier
		groups       []string
		wantErr      bool
		wantUsername string
		wantToken    string
	}{
		{name: "no header", verifier: &fakeVerifier{claims: adminClaims}, wantErr: true},
		{name: "verification fails", header: "t", verifier: &fakeVerifier{err: errors.New("expired")}, wantErr: true},
		{name: "authenticated only", header: "t", verifier: &fakeVerifier{claims: noGroupClaims}, wantUsername: "carol", wantToken: "t"},
		{name: "group match", header: "Bearer tok", verifier: &fakeVerifier{claims: adminClaims}, groups: []string{"admin", "ops"}, wantUsername: "alice", wantToken: "tok"},
		{name: "group mismatch", header: "t", verifier: &fakeVerifier{claims: userClaims}, groups: []string{"admin"}, wantErr: true},
		{name: "no group claim", header: "t", verifier: &fakeVerifier{claims: noGroupClaims}, groups: []string{"admin"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers["authorization"] = tt.header
			}
			rc := requestWith(headers)
			e := Evaluator{Verifier: tt.verifier}
			err := e.Authorize(context.Background(), rc, FieldKey{"Query", "adminItems"}, []Policy{{Kind: KindCognitoUserPools, Groups: tt.groups}})
			if tt.wantErr {
				require.Equal(t, Unauthorized(), err)
				require.Nil(t, rc.Identity(), "identity is only attached on success")
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantUsername, rc.Identity().Username)
			require.Equal(t, []string{tt.wantToken}, tt.verifier.tokens)
		})
	}

	t.Run("no header skips verification", func(t *testing.T) {
		v := &fakeVerifier{claims: adminClaims}
		err := Evaluator{Verifier: v}.Authorize(context.Background(), requestWith(nil), FieldKey{"Query", "a"}, []Policy{{Kind: KindCognitoUserPools}})
		require.Error(t, err)
		require.Empty(t, v.tokens)
	})

	t.Run("no verifier", func(t *testing.T) {
		err := Evaluator{}.Authorize(context.Background(), requestWith(map[string]string{"authorization": "t"}), FieldKey{"Query", "a"}, []Policy{{Kind: KindCognitoUserPools}})
		require.Equal(t, Unauthorized(), err)
	})
}

func TestAuthorize_ChainStopsAtFirstFailure(t *testing.T) {
	v := &fakeVerifier{claims: jwt.MapClaims{"cognito:groups": []any{"admin"}}}
	core, logs := observer.New(zapcore.DebugLevel)
	e := Evaluator{Verifier: v, Logger: zap.New(core)}

	err := e.Authorize(context.Background(), requestWith(map[string]string{"authorization": "t"}), FieldKey{"Query", "both"},
		[]Policy{{Kind: KindAPIKey}, {Kind: KindCognitoUserPools, Groups: []string{"admin"}}})
	require.Equal(t, Unauthorized(), err)
	require.Empty(t, v.tokens, "cognito policy must not run after the api key policy failed")

	entries := logs.FilterMessage("authorization denied").All()
	require.Len(t, entries, 1)
	require.Equal(t, "Query.both", entries[0].ContextMap()["field"])
	require.Equal(t, "aws_api_key", entries[0].ContextMap()["policy"])
}

func TestAuthorize_IdentityOnlyAfterEveryPolicy(t *testing.T) {
	v := &fakeVerifier{claims: jwt.MapClaims{"sub": "s1", "username": "alice"}}
	e := Evaluator{Verifier: v}
	policies := []Policy{{Kind: KindCognitoUserPools}, {Kind: KindAPIKey}}

	rc := requestWith(map[string]string{"authorization": "Bearer t"})
	err := e.Authorize(context.Background(), rc, FieldKey{"Query", "both"}, policies)
	require.Equal(t, Unauthorized(), err)
	require.Equal(t, []string{"t"}, v.tokens, "cognito policy ran before the api key policy")
	require.Nil(t, rc.Identity(), "a denied field must not leave an identity behind")

	rc = requestWith(map[string]string{"authorization": "Bearer t", "x-api-key": "k"})
	require.NoError(t, e.Authorize(context.Background(), rc, FieldKey{"Query", "both"}, policies))
	require.Equal(t, "alice", rc.Identity().Username)
}

func TestUnauthorized_HasNoExtensions(t *testing.T) {
	err := Unauthorized()
	require.Equal(t, "Unauthorized", err.Message)
	require.Nil(t, err.Extensions)
}

func TestBearerToken(t *testing.T) {
	require.Equal(t, "abc", bearerToken("Bearer abc"))
	require.Equal(t, "abc", bearerToken("bearer abc"))
	require.Equal(t, "abc", bearerToken("abc"))
	require.Equal(t, "", bearerToken("  "))
}
