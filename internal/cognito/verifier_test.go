package cognito

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testPoolID = "us-east-1_TestPool"
	testClient = "client-123"
)

type testPool struct {
	key     *rsa.PrivateKey
	kid     string
	server  *httptest.Server
	fetches atomic.Int32
}

func newTestPool(t *testing.T) *testPool {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	p := &testPool{key: key, kid: "kid-1"}
	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.fetches.Add(1)
		set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key: &p.key.PublicKey, KeyID: p.kid, Algorithm: "RS256", Use: "sig",
		}}}
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(p.server.Close)
	return p
}

func (p *testPool) issuer() string {
	return "https://cognito-idp.us-east-1.amazonaws.com/" + testPoolID
}

func (p *testPool) verifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewVerifier(Config{UserPoolID: testPoolID, ClientID: testClient, JWKSURL: p.server.URL})
	require.NoError(t, err)
	return v
}

func (p *testPool) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = p.kid
	s, err := tok.SignedString(p.key)
	require.NoError(t, err)
	return s
}

func (p *testPool) accessClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":            "user-sub",
		"username":       "alice",
		"iss":            p.issuer(),
		"token_use":      "access",
		"client_id":      testClient,
		"exp":            time.Now().Add(time.Hour).Unix(),
		"cognito:groups": []string{"admin", "editor"},
	}
}

func TestVerify_AccessToken(t *testing.T) {
	p := newTestPool(t)
	v := p.verifier(t)

	claims, err := v.Verify(context.Background(), p.sign(t, p.accessClaims()))
	require.NoError(t, err)
	require.Equal(t, "alice", claims["username"])

	// keys are cached
	_, err = v.Verify(context.Background(), p.sign(t, p.accessClaims()))
	require.NoError(t, err)
	require.EqualValues(t, 1, p.fetches.Load())
}

func TestVerify_Rejects(t *testing.T) {
	p := newTestPool(t)

	tests := []struct {
		name   string
		mutate func(jwt.MapClaims)
	}{
		{"expired", func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() }},
		{"no expiry", func(c jwt.MapClaims) { delete(c, "exp") }},
		{"wrong issuer", func(c jwt.MapClaims) { c["iss"] = "https://example.com" }},
		{"id token", func(c jwt.MapClaims) { c["token_use"] = "id" }},
		{"other client", func(c jwt.MapClaims) { c["client_id"] = "nope" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := p.accessClaims()
			tt.mutate(claims)
			_, err := p.verifier(t).Verify(context.Background(), p.sign(t, claims))
			require.Error(t, err)
		})
	}

	t.Run("garbage", func(t *testing.T) {
		_, err := p.verifier(t).Verify(context.Background(), "not-a-jwt")
		require.Error(t, err)
	})

	t.Run("foreign key", func(t *testing.T) {
		other := newTestPool(t)
		_, err := p.verifier(t).Verify(context.Background(), other.sign(t, p.accessClaims()))
		require.Error(t, err)
	})

	t.Run("HS256", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, p.accessClaims())
		tok.Header["kid"] = p.kid
		s, err := tok.SignedString([]byte("secret"))
		require.NoError(t, err)
		_, err = p.verifier(t).Verify(context.Background(), s)
		require.Error(t, err)
	})
}

func TestVerify_UnknownKidRefetchIsThrottled(t *testing.T) {
	p := newTestPool(t)
	v := p.verifier(t)
	_, err := v.Verify(context.Background(), p.sign(t, p.accessClaims()))
	require.NoError(t, err)

	p.kid = "rotated"
	_, err = v.Verify(context.Background(), p.sign(t, p.accessClaims()))
	require.Error(t, err)
	require.EqualValues(t, 1, p.fetches.Load())
}

func TestVerify_IDTokenAudience(t *testing.T) {
	p := newTestPool(t)
	v, err := NewVerifier(Config{UserPoolID: testPoolID, ClientID: testClient, JWKSURL: p.server.URL, TokenUse: TokenUseID})
	require.NoError(t, err)

	claims := p.accessClaims()
	claims["token_use"] = "id"
	claims["aud"] = testClient
	_, err = v.Verify(context.Background(), p.sign(t, claims))
	require.NoError(t, err)

	claims["aud"] = "someone-else"
	_, err = v.Verify(context.Background(), p.sign(t, claims))
	require.Error(t, err)
}

func TestNewVerifier_Defaults(t *testing.T) {
	v, err := NewVerifier(Config{UserPoolID: "eu-west-2_abc"})
	require.NoError(t, err)
	require.Equal(t, "https://cognito-idp.eu-west-2.amazonaws.com/eu-west-2_abc", v.Issuer())
	require.Equal(t, "https://cognito-idp.eu-west-2.amazonaws.com/eu-west-2_abc/.well-known/jwks.json", v.keys.url)

	_, err = NewVerifier(Config{})
	require.Error(t, err)
	_, err = NewVerifier(Config{UserPoolID: "nopool"})
	require.Error(t, err)
}

func TestIdentity(t *testing.T) {
	claims := jwt.MapClaims{
		"sub":            "s",
		"iss":            "i",
		"username":       "alice",
		"cognito:groups": []any{"admin"},
	}
	id := Identity(claims)
	require.Equal(t, "s", id.Sub)
	require.Equal(t, "alice", id.Username)
	require.Equal(t, "i", id.Issuer)
	require.Equal(t, []string{"admin"}, id.Groups)
	require.Equal(t, "alice", id.Claims["username"])

	noGroups := Identity(jwt.MapClaims{"cognito:username": "bob"})
	require.Equal(t, "bob", noGroups.Username)
	require.Equal(t, []string{}, noGroups.Groups)

	_, ok := Groups(jwt.MapClaims{})
	require.False(t, ok)
}
