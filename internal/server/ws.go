package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hanpama/appsynclocal/appsync"
	eventbus "github.com/hanpama/appsynclocal/internal/eventbus"
	events "github.com/hanpama/appsynclocal/internal/events"
	executor "github.com/hanpama/appsynclocal/internal/executor"
	language "github.com/hanpama/appsynclocal/internal/language"
	reqid "github.com/hanpama/appsynclocal/internal/reqid"
)

const transportWSProtocol = "graphql-transport-ws"

// graphql-transport-ws message types.
const (
	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgPing           = "ping"
	msgPong           = "pong"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
)

// graphql-transport-ws close codes.
const (
	closeBadRequest         = 4400
	closeUnauthorized       = 4401
	closeInitTimeout        = 4408
	closeDuplicateID        = 4409
	closeTooManyInitRequest = 4429
)

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsOperation struct {
	cancel context.CancelFunc
}

type wsConn struct {
	h    *Handler
	id   string
	conn *websocket.Conn
	log  *zap.Logger

	// headers combines the upgrade request headers with those sent in the
	// connection_init payload.
	headers http.Header
	host    string

	writeMu sync.Mutex

	mu      sync.Mutex
	acked   bool
	active  map[string]*wsOperation
	started int
	wg      sync.WaitGroup
}

func (h *Handler) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.opt.Logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &wsConn{
		h:       h,
		id:      uuid.NewString(),
		conn:    conn,
		headers: r.Header.Clone(),
		host:    r.Host,
		active:  make(map[string]*wsOperation),
	}
	c.log = h.opt.Logger.With(zap.String("connection", c.id))
	if conn.Subprotocol() != transportWSProtocol {
		c.close(websocket.CloseProtocolError, "unsupported subprotocol")
		return
	}
	start := time.Now()
	eventbus.Publish(r.Context(), events.ConnectionOpen{ID: c.id, RemoteAddr: r.RemoteAddr})
	c.serve(r.Context())
	c.mu.Lock()
	n := c.started
	c.mu.Unlock()
	eventbus.Publish(r.Context(), events.ConnectionClose{ID: c.id, Operations: n, Duration: time.Since(start)})
}

func (c *wsConn) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer func() {
		cancel()
		c.wg.Wait()
		_ = c.conn.Close()
	}()

	stopShutdown := context.AfterFunc(c.h.closing, func() {
		c.close(websocket.CloseGoingAway, "server shutting down")
	})
	defer stopShutdown()

	initTimer := time.AfterFunc(c.h.opt.InitTimeout, func() {
		if !c.isAcked() {
			c.close(closeInitTimeout, "Connection initialisation timeout")
		}
	})
	defer initTimer.Stop()

	if c.h.opt.KeepAlive > 0 {
		go c.keepAlive(ctx)
	}

	for {
		var msg wsMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("websocket read ended", zap.Error(err))
			}
			return
		}
		if !c.handle(ctx, msg) {
			return
		}
	}
}

// handle processes one client message and reports whether the connection
// stays open.
func (c *wsConn) handle(ctx context.Context, msg wsMessage) bool {
	switch msg.Type {
	case msgConnectionInit:
		if c.isAcked() {
			c.close(closeTooManyInitRequest, "Too many initialisation requests")
			return false
		}
		if err := c.init(msg.Payload); err != nil {
			c.close(closeBadRequest, err.Error())
			return false
		}
		c.mu.Lock()
		c.acked = true
		c.mu.Unlock()
		return c.send(wsMessage{Type: msgConnectionAck}) == nil
	case msgPing:
		return c.send(wsMessage{Type: msgPong}) == nil
	case msgPong:
		return true
	case msgSubscribe:
		if !c.isAcked() {
			c.close(closeUnauthorized, "Unauthorized")
			return false
		}
		var req GraphQLRequest
		if msg.ID == "" || json.Unmarshal(msg.Payload, &req) != nil {
			c.close(closeBadRequest, "Invalid subscribe message")
			return false
		}
		if !c.start(ctx, msg.ID, req) {
			c.close(closeDuplicateID, fmt.Sprintf("Subscriber for %s already exists", msg.ID))
			return false
		}
		return true
	case msgComplete:
		c.stop(msg.ID)
		return true
	default:
		c.close(closeBadRequest, fmt.Sprintf("Invalid message type %q", msg.Type))
		return false
	}
}

// init merges string-valued connection parameters into the request headers.
// Parameters may be sent flat or nested under "headers".
func (c *wsConn) init(payload json.RawMessage) error {
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	var params map[string]any
	if err := json.Unmarshal(payload, &params); err != nil {
		return errors.New("Invalid connection_init payload")
	}
	if nested, ok := params["headers"].(map[string]any); ok {
		for k, v := range nested {
			params[k] = v
		}
	}
	for k, v := range params {
		if s, ok := v.(string); ok {
			c.headers.Set(k, s)
		}
	}
	return nil
}

func (c *wsConn) isAcked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acked
}

// start runs one operation. It returns false when id is already in use.
func (c *wsConn) start(parent context.Context, id string, req GraphQLRequest) bool {
	c.mu.Lock()
	if _, exists := c.active[id]; exists {
		c.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(parent)
	op := &wsOperation{cancel: cancel}
	c.active[id] = op
	c.started++
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.release(id, op)
		ctx, _ := reqid.NewContext(ctx)
		c.run(ctx, id, req)
	}()
	return true
}

// release drops op once it has finished, unless the client already
// completed it and reused the id.
func (c *wsConn) release(id string, op *wsOperation) {
	c.mu.Lock()
	if c.active[id] == op {
		delete(c.active, id)
	}
	c.mu.Unlock()
	op.cancel()
}

// stop cancels a running operation. A stopped operation sends no further
// messages.
func (c *wsConn) stop(id string) {
	c.mu.Lock()
	op, ok := c.active[id]
	delete(c.active, id)
	c.mu.Unlock()
	if ok {
		op.cancel()
	}
}

func (c *wsConn) run(ctx context.Context, id string, req GraphQLRequest) {
	doc, errs := c.h.parse(req.Query)
	if errs != nil {
		c.sendErrors(id, errorsResponse(errs).Errors)
		return
	}
	if req.Variables == nil {
		req.Variables = map[string]any{}
	}
	incoming := appsync.NewRequest(c.headers, c.host)
	opType := operationType(doc, req.OperationName)
	if opType != string(language.Subscription) {
		res := c.h.execute(ctx, incoming, req, doc, opType, transportWS)
		if ctx.Err() == nil {
			_ = c.sendResult(id, res)
			_ = c.send(wsMessage{ID: id, Type: msgComplete})
		}
		return
	}

	rc := appsync.NewRequestContext(incoming, appsync.Params{
		Query:         req.Query,
		OperationName: req.OperationName,
		Variables:     req.Variables,
	})
	ctx = appsync.WithRequestContext(ctx, rc)
	field := rootField(doc, req.OperationName)

	results, err := c.h.exec.Subscribe(ctx, doc, req.OperationName, req.Variables)
	if err != nil {
		var gqlErrs executor.GraphQLErrors
		if errors.As(err, &gqlErrs) {
			c.sendErrors(id, specErrors(gqlErrs))
		} else {
			c.sendErrors(id, []specError{{Message: err.Error()}})
		}
		return
	}

	start := time.Now()
	eventbus.Publish(ctx, events.SubscriptionStart{ID: id, OperationName: req.OperationName, Field: field})
	n := 0
	for res := range results {
		if err := c.sendResult(id, res); err != nil {
			break
		}
		n++
	}
	eventbus.Publish(ctx, events.SubscriptionFinish{
		ID:            id,
		OperationName: req.OperationName,
		Field:         field,
		Events:        n,
		Duration:      time.Since(start),
	})
	if ctx.Err() == nil {
		_ = c.send(wsMessage{ID: id, Type: msgComplete})
	}
}

func rootField(doc *language.QueryDocument, name string) string {
	op := doc.Operations.ForName(name)
	if op == nil {
		return ""
	}
	for _, sel := range op.SelectionSet {
		if f, ok := sel.(*language.Field); ok {
			return f.Name
		}
	}
	return ""
}

func (c *wsConn) sendResult(id string, res *executor.ExecutionResult) error {
	payload, err := json.Marshal(toSpecResult(res))
	if err != nil {
		return err
	}
	return c.send(wsMessage{ID: id, Type: msgNext, Payload: payload})
}

func (c *wsConn) sendErrors(id string, errs []specError) {
	payload, err := json.Marshal(errs)
	if err != nil {
		return
	}
	_ = c.send(wsMessage{ID: id, Type: msgError, Payload: payload})
}

func (c *wsConn) send(msg wsMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *wsConn) close(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = c.conn.Close()
}

func (c *wsConn) keepAlive(ctx context.Context) {
	t := time.NewTicker(c.h.opt.KeepAlive)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.send(wsMessage{Type: msgPing}); err != nil {
				return
			}
		}
	}
}
