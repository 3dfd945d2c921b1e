// Package appsync defines the AppSync direct Lambda resolver contract that
// handlers are written against: the invocation event, the identity attached
// by Cognito authorization and the handler signature.
package appsync

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// Event is the invocation event passed to a Handler. Its JSON form matches
// the event AppSync sends to a direct Lambda resolver.
type Event struct {
	Arguments map[string]any `json:"arguments"`
	Source    any            `json:"source"`
	Request   *Request       `json:"request"`
	Info      Info           `json:"info"`
	Identity  *Identity      `json:"identity"`
	// Prev is always nil. Pipeline resolvers are not emulated.
	Prev  any            `json:"prev"`
	Stash map[string]any `json:"stash"`
}

// Info describes the field being resolved.
type Info struct {
	SelectionSetList    []string       `json:"selectionSetList"`
	SelectionSetGraphQL string         `json:"selectionSetGraphQL"`
	FieldName           string         `json:"fieldName"`
	ParentTypeName      string         `json:"parentTypeName"`
	Variables           map[string]any `json:"variables"`
}

// Request holds the incoming request headers. Header names are lower-case.
type Request struct {
	Headers    map[string]string `json:"headers"`
	DomainName string            `json:"domainName,omitempty"`
}

// NewRequest converts HTTP headers into a Request. Repeated header values are
// joined with ", ".
func NewRequest(h http.Header, host string) *Request {
	r := &Request{Headers: make(map[string]string, len(h)), DomainName: host}
	for name, values := range h {
		r.Headers[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	return r
}

// Header returns the value of the named header, matched case-insensitively.
func (r *Request) Header(name string) string {
	if r == nil {
		return ""
	}
	if v, ok := r.Headers[strings.ToLower(name)]; ok {
		return v
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Identity is the caller identity attached after successful Cognito user
// pool authorization.
type Identity struct {
	events.AppSyncCognitoIdentity
	Groups []string `json:"groups"`
}

// Callback is passed to handlers for compatibility with the Lambda handler
// shape. It always reports true.
type Callback func() bool

// Handler is an AppSync resolver handler.
type Handler func(ctx context.Context, event *Event, callback Callback) (any, error)

// Registry maps handler file paths, relative to the handler root and using
// forward slashes (for example "Query/getUser/index.go"), to handlers.
// It is usually generated by the generate command.
type Registry map[string]Handler

// Keys returns the registry keys in sorted order.
func (r Registry) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
