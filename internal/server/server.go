package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hanpama/appsynclocal/appsync"
	eventbus "github.com/hanpama/appsynclocal/internal/eventbus"
	events "github.com/hanpama/appsynclocal/internal/events"
	executor "github.com/hanpama/appsynclocal/internal/executor"
	language "github.com/hanpama/appsynclocal/internal/language"
	reqid "github.com/hanpama/appsynclocal/internal/reqid"
	schema "github.com/hanpama/appsynclocal/internal/schema"
)

// Handler is an http.Handler that serves a GraphQL endpoint.
// Queries and mutations are accepted over GET and POST; subscriptions are
// served over WebSocket on the same path.
type Handler struct {
	exec     *executor.Executor
	schema   *schema.Schema
	opt      Options
	upgrader websocket.Upgrader

	// closing is cancelled by Shutdown to end WebSocket connections.
	closing  context.Context
	shutdown context.CancelFunc
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout. WebSocket connections are not affected.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// GraphiQL enables the in-browser IDE when true.
	GraphiQL bool

	// InitTimeout bounds the wait for connection_init on a new WebSocket.
	InitTimeout time.Duration

	// KeepAlive is the interval of server pings on WebSocket connections.
	// 0 disables them.
	KeepAlive time.Duration

	Logger *zap.Logger
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithGraphiQL(enable bool) Option        { return func(o *Options) { o.GraphiQL = enable } }
func WithInitTimeout(d time.Duration) Option { return func(o *Options) { o.InitTimeout = d } }
func WithKeepAlive(d time.Duration) Option   { return func(o *Options) { o.KeepAlive = d } }
func WithLogger(log *zap.Logger) Option      { return func(o *Options) { o.Logger = log } }

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates a new GraphQL HTTP handler using the given runtime and schema.
// Documents are validated against sch before execution.
func New(runtime executor.Runtime, sch *schema.Schema, opts ...Option) (*Handler, error) {
	if sch == nil {
		return nil, errors.New("server: schema is required")
	}
	op := Options{Timeout: 10 * time.Second, GraphiQL: true, InitTimeout: 3 * time.Second}
	for _, f := range opts {
		f(&op)
	}
	if op.Logger == nil {
		op.Logger = zap.NewNop()
	}
	h := &Handler{exec: executor.NewExecutor(runtime, sch), schema: sch, opt: op}
	h.closing, h.shutdown = context.WithCancel(context.Background())
	h.upgrader = websocket.Upgrader{
		Subprotocols: []string{transportWSProtocol},
		CheckOrigin:  h.checkOrigin,
	}
	return h, nil
}

// Shutdown closes every open WebSocket connection. http.Server.Shutdown does
// not track hijacked connections, so register it with RegisterOnShutdown.
func (h *Handler) Shutdown() { h.shutdown() }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		h.serveWebSocket(w, r)
		return
	}

	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, _ = reqid.NewContext(ctx)
	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: status, Duration: time.Since(start)})
	}()

	if r.Method == http.MethodOptions {
		if len(h.opt.CORS.AllowedOrigins) > 0 {
			setCORSHeaders(w, r, h.opt.CORS)
		}
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, errorResponse(nil, &language.Error{Message: "method not allowed"}), h.opt.Pretty)
		return
	}

	// Serve GraphiQL IDE when enabled and the client expects HTML.
	if r.Method == http.MethodGet && h.opt.GraphiQL && acceptsHTML(r.Header.Get("Accept")) && r.URL.Query().Get("query") == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(graphiqlPage)
		return
	}

	req, batch, berr := parseRequest(r, h.opt.MaxBodyBytes)
	if berr != nil {
		status = http.StatusBadRequest
		if berr.Message == errBodyTooLargeMessage {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResponse(nil, berr), h.opt.Pretty)
		return
	}

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	incoming := appsync.NewRequest(r.Header, r.Host)
	if batch != nil {
		op := make([]any, len(batch))
		for i := range batch {
			op[i] = h.executeHTTP(ctx, incoming, batch[i])
		}
		writeJSON(w, status, op, h.opt.Pretty)
		return
	}

	res := h.executeHTTP(ctx, incoming, req)
	writeJSON(w, status, res, h.opt.Pretty)
}

// parse validates query against the schema. Documents that fail validation
// are never executed.
func (h *Handler) parse(query string) (*language.QueryDocument, language.ErrorList) {
	if h.schema.AST == nil {
		doc, err := language.ParseQuery(query)
		if err != nil {
			var ge *language.Error
			if errors.As(err, &ge) {
				return nil, language.ErrorList{ge}
			}
			return nil, language.ErrorList{{Message: err.Error()}}
		}
		return doc, nil
	}
	doc, errs := language.LoadQuery(h.schema.AST, query)
	if len(errs) > 0 {
		return nil, errs
	}
	return doc, nil
}

func (h *Handler) executeHTTP(ctx context.Context, incoming *appsync.Request, req GraphQLRequest) any {
	doc, errs := h.parse(req.Query)
	if errs != nil {
		return errorsResponse(errs)
	}
	opType := operationType(doc, req.OperationName)
	if opType == string(language.Subscription) {
		return errorResponse(nil, &language.Error{Message: "subscriptions are only supported over WebSocket"})
	}
	res := h.execute(ctx, incoming, req, doc, opType, transportHTTP)
	return toSpecResult(res)
}

const (
	transportHTTP = "http"
	transportWS   = "ws"
)

// execute runs a query or mutation with a fresh AppSync request context.
func (h *Handler) execute(ctx context.Context, incoming *appsync.Request, req GraphQLRequest, doc *language.QueryDocument, opType, transport string) *executor.ExecutionResult {
	rc := appsync.NewRequestContext(incoming, appsync.Params{
		Query:         req.Query,
		OperationName: req.OperationName,
		Variables:     req.Variables,
	})
	ctx = appsync.WithRequestContext(ctx, rc)

	start := time.Now()
	eventbus.Publish(ctx, events.GraphQLStart{Query: req.Query, OperationName: req.OperationName, OperationType: opType, Transport: transport})
	result := h.exec.ExecuteRequest(ctx, doc, req.OperationName, req.Variables, nil)
	errs := make([]error, len(result.Errors))
	for i := range result.Errors {
		errs[i] = result.Errors[i]
	}
	eventbus.Publish(ctx, events.GraphQLFinish{
		Query:         req.Query,
		OperationName: req.OperationName,
		OperationType: opType,
		Transport:     transport,
		Errors:        errs,
		Duration:      time.Since(start),
	})
	return result
}

func operationType(doc *language.QueryDocument, name string) string {
	op := doc.Operations.ForName(name)
	if op == nil && name == "" && len(doc.Operations) == 1 {
		op = doc.Operations[0]
	}
	if op == nil {
		return ""
	}
	return string(op.Operation)
}

// ------------------ Request parsing ------------------

type GraphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

func parseRequest(r *http.Request, maxBody int64) (GraphQLRequest, []GraphQLRequest, *language.Error) {
	if r.Method == http.MethodGet {
		q := r.URL.Query().Get("query")
		if q == "" {
			return GraphQLRequest{}, nil, &language.Error{Message: "missing 'query'"}
		}
		vars := map[string]any{}
		if v := r.URL.Query().Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &vars); err != nil {
				return GraphQLRequest{}, nil, &language.Error{Message: "invalid 'variables' JSON"}
			}
		}
		op := r.URL.Query().Get("operationName")
		return GraphQLRequest{Query: q, Variables: vars, OperationName: op}, nil, nil
	}

	// POST
	ct := r.Header.Get("Content-Type")
	if ct == "" || ct == "application/json" || strings.HasPrefix(ct, "application/json;") {
		reader := io.Reader(r.Body)
		if maxBody > 0 {
			reader = io.LimitReader(r.Body, maxBody+1)
		}
		body, err := io.ReadAll(reader)
		if err != nil {
			return GraphQLRequest{}, nil, &language.Error{Message: "failed to read body"}
		}
		defer r.Body.Close()
		if maxBody > 0 && int64(len(body)) > maxBody {
			return GraphQLRequest{}, nil, &language.Error{Message: errBodyTooLargeMessage}
		}

		// Try array (batch)
		var arr []GraphQLRequest
		if len(body) > 0 && body[0] == '[' {
			if err := json.Unmarshal(body, &arr); err != nil {
				return GraphQLRequest{}, nil, &language.Error{Message: "invalid JSON"}
			}
			if len(arr) == 0 {
				return GraphQLRequest{}, nil, &language.Error{Message: "empty batch"}
			}
			return GraphQLRequest{}, arr, nil
		}
		// Single
		var req GraphQLRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return GraphQLRequest{}, nil, &language.Error{Message: "invalid JSON"}
		}
		if req.Query == "" {
			return GraphQLRequest{}, nil, &language.Error{Message: "missing 'query'"}
		}
		if req.Variables == nil {
			req.Variables = map[string]any{}
		}
		return req, nil, nil
	}

	return GraphQLRequest{}, nil, &language.Error{Message: "unsupported Content-Type"}
}

// ------------------ Response formatting ------------------

type specLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type specError struct {
	Message    string         `json:"message"`
	Locations  []specLocation `json:"locations,omitempty"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

type specResult struct {
	Data   any         `json:"data"`
	Errors []specError `json:"errors,omitempty"`
}

func errorResponse(data any, err *language.Error) specResult {
	return specResult{Data: data, Errors: []specError{fromLanguageError(err)}}
}

// errorsResponse reports validation errors with null data.
func errorsResponse(errs language.ErrorList) specResult {
	out := specResult{Errors: make([]specError, len(errs))}
	for i, e := range errs {
		out.Errors[i] = fromLanguageError(e)
	}
	return out
}

func fromLanguageError(err *language.Error) specError {
	se := specError{Message: err.Message, Extensions: err.Extensions}
	for _, loc := range err.Locations {
		se.Locations = append(se.Locations, specLocation{Line: loc.Line, Column: loc.Column})
	}
	for _, p := range err.Path {
		se.Path = append(se.Path, p)
	}
	return se
}

func specErrors(errs []executor.GraphQLError) []specError {
	if len(errs) == 0 {
		return nil
	}
	out := make([]specError, len(errs))
	for i, e := range errs {
		se := specError{Message: e.Message, Extensions: e.Extensions}
		if len(e.Path) > 0 {
			se.Path = make([]any, len(e.Path))
			for j, pe := range e.Path {
				switch v := pe.(type) {
				case string:
					se.Path[j] = v
				case int:
					se.Path[j] = v
				default:
					se.Path[j] = toString(v)
				}
			}
		}
		out[i] = se
	}
	return out
}

func toSpecResult(res *executor.ExecutionResult) specResult {
	return specResult{Data: res.Data, Errors: specErrors(res.Errors)}
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

func toString(v any) string { b, _ := json.Marshal(v); return string(b) }

const errBodyTooLargeMessage = "body too large"

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" || !originAllowed(opts, origin) {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}

func originAllowed(opts CORSOptions, origin string) bool {
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// checkOrigin accepts same-origin upgrades, and cross-origin ones when CORS
// allows the origin.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || strings.HasSuffix(origin, "://"+r.Host) {
		return true
	}
	return originAllowed(h.opt.CORS, origin)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func acceptsHTML(accept string) bool {
	if accept == "" {
		return false
	}
	parts := strings.Split(accept, ",")
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if strings.HasPrefix(p, "text/html") || p == "*/*" {
			return true
		}
	}
	return false
}
