package cognito

import (
	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"

	"github.com/hanpama/appsynclocal/appsync"
)

// GroupsClaim is the claim listing the user's Cognito groups.
const GroupsClaim = "cognito:groups"

// Groups returns the cognito:groups claim. ok is false when the claim is
// absent.
func Groups(claims jwt.MapClaims) (groups []string, ok bool) {
	raw, present := claims[GroupsClaim]
	if !present || raw == nil {
		return nil, false
	}
	switch v := raw.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, g := range v {
			if s, isString := g.(string); isString {
				out = append(out, s)
			}
		}
		return out, true
	case string:
		return []string{v}, true
	}
	return nil, false
}

// Identity builds the AppSync identity for verified claims. Access tokens
// carry "username"; ID tokens carry "cognito:username".
func Identity(claims jwt.MapClaims) *appsync.Identity {
	sub, _ := claims["sub"].(string)
	iss, _ := claims["iss"].(string)
	username, _ := claims["username"].(string)
	if username == "" {
		username, _ = claims["cognito:username"].(string)
	}
	groups, _ := Groups(claims)
	if groups == nil {
		groups = []string{}
	}
	return &appsync.Identity{
		AppSyncCognitoIdentity: events.AppSyncCognitoIdentity{
			Sub:                 sub,
			Issuer:              iss,
			Username:            username,
			Claims:              map[string]any(claims),
			DefaultAuthStrategy: "ALLOW",
		},
		Groups: groups,
	}
}
