package appsync

import (
	"context"
	"sync"
)

// Params carries execution metadata of the current operation.
type Params struct {
	Query          string
	OperationName  string
	Variables      map[string]any
	FieldName      string
	ParentTypeName string
}

// RequestContext is the per-request state shared by authorization and the
// handlers of one operation.
type RequestContext struct {
	Request *Request
	Params  Params

	mu       sync.RWMutex
	identity *Identity
}

// NewRequestContext returns a RequestContext for req.
func NewRequestContext(req *Request, params Params) *RequestContext {
	if req == nil {
		req = &Request{Headers: map[string]string{}}
	}
	return &RequestContext{Request: req, Params: params}
}

// Identity returns the identity attached by authorization, or nil.
func (rc *RequestContext) Identity() *Identity {
	if rc == nil {
		return nil
	}
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.identity
}

// SetIdentity attaches id to the request.
func (rc *RequestContext) SetIdentity(id *Identity) {
	rc.mu.Lock()
	rc.identity = id
	rc.mu.Unlock()
}

type requestContextKey struct{}

// WithRequestContext returns a copy of ctx carrying rc.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestContextFrom returns the RequestContext stored in ctx, or nil.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc
}
