package resolvers

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/hanpama/appsynclocal/appsync"
	directives "github.com/hanpama/appsynclocal/internal/directives"
	eventbus "github.com/hanpama/appsynclocal/internal/eventbus"
	events "github.com/hanpama/appsynclocal/internal/events"
	executor "github.com/hanpama/appsynclocal/internal/executor"
	pubsub "github.com/hanpama/appsynclocal/internal/pubsub"
)

// ResolveParams is what the executor knows about one field invocation.
type ResolveParams struct {
	Source any
	Args   map[string]any
	Info   *executor.ResolveInfo
}

// FieldResolver produces the value of one field.
type FieldResolver func(ctx context.Context, p ResolveParams) (any, error)

// Bridge is the subscription publishing configuration handed to every
// adapted mutation handler.
type Bridge struct {
	Publisher  pubsub.Publisher
	Subscribed directives.SubscribeSet
}

// Adapt wraps an AppSync handler as a FieldResolver. It builds the
// invocation event, calls h with a Lambda context and, for mutations listed
// in bridge.Subscribed, publishes the result to the topic named after the
// field. Handler errors and panics are returned as GraphQL errors carrying
// only the message.
func Adapt(h appsync.Handler, typeName, fieldName string, bridge Bridge) FieldResolver {
	return func(ctx context.Context, p ResolveParams) (any, error) {
		rc := appsync.RequestContextFrom(ctx)
		ev := newEvent(rc, p, typeName, fieldName)

		lc := &lambdacontext.LambdaContext{
			AwsRequestID:       uuid.NewString(),
			InvokedFunctionArn: fmt.Sprintf("arn:aws:lambda:local:000000000000:function:%s-%s", typeName, fieldName),
		}
		eventbus.Publish(ctx, events.HandlerStart{TypeName: typeName, FieldName: fieldName, RequestID: lc.AwsRequestID})
		start := time.Now()
		result, err := invoke(lambdacontext.NewContext(ctx, lc), h, ev)
		eventbus.Publish(ctx, events.HandlerFinish{
			TypeName:  typeName,
			FieldName: fieldName,
			RequestID: lc.AwsRequestID,
			Err:       err,
			Duration:  time.Since(start),
		})
		if err != nil {
			return nil, &gqlerror.Error{Message: err.Error()}
		}

		if ResolverTypeName(typeName) == Mutation && bridge.Publisher != nil && bridge.Subscribed.Contains(fieldName) {
			err := bridge.Publisher.Publish(ctx, fieldName, result)
			eventbus.Publish(ctx, events.Published{Topic: fieldName, Err: err})
			if err != nil {
				return nil, &gqlerror.Error{Message: err.Error()}
			}
		}
		return result, nil
	}
}

func invoke(ctx context.Context, h appsync.Handler, ev *appsync.Event) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, ev, alwaysTrue)
}

func alwaysTrue() bool { return true }

func newEvent(rc *appsync.RequestContext, p ResolveParams, typeName, fieldName string) *appsync.Event {
	var (
		req    *appsync.Request
		params appsync.Params
	)
	if rc != nil {
		req, params = rc.Request, rc.Params
	}
	if req == nil {
		req = &appsync.Request{Headers: map[string]string{}}
	}

	args := p.Args
	if args == nil {
		args = map[string]any{}
	}
	info := appsync.Info{
		SelectionSetList:    p.Info.SelectionSetList(),
		SelectionSetGraphQL: params.Query,
		FieldName:           firstNonEmpty(infoField(p.Info), params.FieldName, fieldName),
		ParentTypeName:      firstNonEmpty(infoParent(p.Info), params.ParentTypeName, typeName),
		Variables:           map[string]any{},
	}
	if p.Info != nil && p.Info.Variables != nil {
		info.Variables = p.Info.Variables
	}

	return &appsync.Event{
		Arguments: args,
		Source:    p.Source,
		Request:   req,
		Info:      info,
		Identity:  rc.Identity(),
		Prev:      nil,
		Stash:     map[string]any{},
	}
}

func infoField(info *executor.ResolveInfo) string {
	if info == nil {
		return ""
	}
	return info.FieldName
}

func infoParent(info *executor.ResolveInfo) string {
	if info == nil {
		return ""
	}
	return info.ParentType
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
