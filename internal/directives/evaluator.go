package directives

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"go.uber.org/zap"

	"github.com/hanpama/appsynclocal/appsync"
	cognito "github.com/hanpama/appsynclocal/internal/cognito"
	eventbus "github.com/hanpama/appsynclocal/internal/eventbus"
	events "github.com/hanpama/appsynclocal/internal/events"
)

const (
	apiKeyHeader        = "x-api-key"
	authorizationHeader = "authorization"
)

// Unauthorized is the only error returned to clients by Authorize. It
// carries no extensions.
func Unauthorized() *gqlerror.Error {
	return &gqlerror.Error{Message: "Unauthorized"}
}

// Evaluator runs a field's policies in order before its resolver.
type Evaluator struct {
	Verifier cognito.Verifier
	Logger   *zap.Logger
}

// Authorize evaluates policies in declaration order and stops at the first
// failure. The identity verified by a Cognito policy is attached to rc only
// once every policy has passed.
func (e Evaluator) Authorize(ctx context.Context, rc *appsync.RequestContext, field FieldKey, policies []Policy) error {
	var identity *appsync.Identity
	for _, p := range policies {
		var err error
		switch p.Kind {
		case KindAPIKey:
			err = e.apiKey(rc)
		case KindCognitoUserPools:
			var id *appsync.Identity
			id, err = e.cognitoUserPools(ctx, rc, p.Groups)
			if err == nil {
				identity = id
			}
		default:
			err = errors.Errorf("unknown policy kind %d", p.Kind)
		}
		if err != nil {
			e.deny(ctx, field, p, err)
			return Unauthorized()
		}
	}
	if identity != nil {
		rc.SetIdentity(identity)
	}
	return nil
}

func (e Evaluator) apiKey(rc *appsync.RequestContext) error {
	if rc == nil || rc.Request.Header(apiKeyHeader) == "" {
		return errors.New("missing x-api-key header")
	}
	return nil
}

func (e Evaluator) cognitoUserPools(ctx context.Context, rc *appsync.RequestContext, allowed []string) (*appsync.Identity, error) {
	if rc == nil {
		return nil, errors.New("no request")
	}
	token := bearerToken(rc.Request.Header(authorizationHeader))
	if token == "" {
		return nil, errors.New("missing authorization header")
	}
	if e.Verifier == nil {
		return nil, errors.New("cognito verifier is not configured")
	}
	claims, err := e.Verifier.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	if len(allowed) > 0 {
		groups, ok := cognito.Groups(claims)
		if !ok {
			return nil, errors.Errorf("token has no %s claim", cognito.GroupsClaim)
		}
		if !intersects(groups, allowed) {
			return nil, errors.Errorf("groups %v do not include any of %v", groups, allowed)
		}
	}
	return cognito.Identity(claims), nil
}

func (e Evaluator) deny(ctx context.Context, field FieldKey, p Policy, reason error) {
	if e.Logger != nil {
		e.Logger.Debug("authorization denied",
			zap.String("field", field.String()),
			zap.Stringer("policy", p.Kind),
			zap.Error(reason),
		)
	}
	eventbus.Publish(ctx, events.AuthDenied{
		TypeName:  field.Type,
		FieldName: field.Field,
		Policy:    p.Kind.String(),
		Reason:    reason,
	})
}

// bearerToken strips an optional case-insensitive "Bearer " prefix.
func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

func intersects(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}
