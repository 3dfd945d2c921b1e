package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/appsynclocal/appsync"
	eventbus "github.com/hanpama/appsynclocal/internal/eventbus"
	events "github.com/hanpama/appsynclocal/internal/events"
	executor "github.com/hanpama/appsynclocal/internal/executor"
)

func dialWS(t *testing.T, h http.Handler) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	dialer := websocket.Dialer{Subprotocols: []string{transportWSProtocol}}
	conn, resp, err := dialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/graphql", nil)
	require.NoError(t, err)
	require.Equal(t, transportWSProtocol, resp.Header.Get("Sec-Websocket-Protocol"))
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func writeMsg(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func readMsg(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func readClose(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var ce *websocket.CloseError
			require.ErrorAs(t, err, &ce)
			return ce.Code
		}
	}
}

func ack(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	writeMsg(t, conn, `{"type":"connection_init","payload":`+payload+`}`)
	require.Equal(t, msgConnectionAck, readMsg(t, conn).Type)
}

func TestWS_QueryAndPing(t *testing.T) {
	rt := executor.NewMockRuntime(nil)
	var header string
	rt.SetResolver("Query", "hello", func(ctx context.Context, src any, args map[string]any) (any, error) {
		header = appsync.RequestContextFrom(ctx).Request.Header("x-api-key")
		return "world", nil
	})
	conn := dialWS(t, newTestHandler(t, rt))

	ack(t, conn, `{"headers":{"x-api-key":"local"}}`)

	writeMsg(t, conn, `{"type":"ping"}`)
	require.Equal(t, msgPong, readMsg(t, conn).Type)

	writeMsg(t, conn, `{"id":"1","type":"subscribe","payload":{"query":"{ hello }"}}`)
	next := readMsg(t, conn)
	require.Equal(t, msgNext, next.Type)
	require.Equal(t, "1", next.ID)
	require.JSONEq(t, `{"data":{"hello":"world"}}`, string(next.Payload))
	require.Equal(t, wsMessage{ID: "1", Type: msgComplete}, readMsg(t, conn))
	require.Equal(t, "local", header)
}

func TestWS_Subscription(t *testing.T) {
	rt := executor.NewMockRuntime(nil)
	source := make(chan any)
	opened := make(chan struct{})
	rt.SetStream("Subscription", "onShout", func(ctx context.Context, args map[string]any) (<-chan any, error) {
		close(opened)
		return source, nil
	})
	rt.SetResolver("Subscription", "onShout", func(ctx context.Context, src any, args map[string]any) (any, error) {
		return strings.ToUpper(src.(string)), nil
	})
	conn := dialWS(t, newTestHandler(t, rt))
	ack(t, conn, `{}`)

	writeMsg(t, conn, `{"id":"s1","type":"subscribe","payload":{"query":"subscription { onShout }"}}`)
	<-opened

	source <- "hi"
	next := readMsg(t, conn)
	require.Equal(t, msgNext, next.Type)
	require.Equal(t, "s1", next.ID)
	require.JSONEq(t, `{"data":{"onShout":"HI"}}`, string(next.Payload))

	source <- "again"
	require.JSONEq(t, `{"data":{"onShout":"AGAIN"}}`, string(readMsg(t, conn).Payload))

	close(source)
	require.Equal(t, wsMessage{ID: "s1", Type: msgComplete}, readMsg(t, conn))
}

func TestWS_ClientComplete(t *testing.T) {
	rt := executor.NewMockRuntime(nil)
	stopped := make(chan struct{})
	rt.SetStream("Subscription", "onShout", func(ctx context.Context, args map[string]any) (<-chan any, error) {
		go func() {
			<-ctx.Done()
			close(stopped)
		}()
		return make(chan any), nil
	})
	conn := dialWS(t, newTestHandler(t, rt))
	ack(t, conn, `{}`)

	writeMsg(t, conn, `{"id":"s1","type":"subscribe","payload":{"query":"subscription { onShout }"}}`)
	writeMsg(t, conn, `{"id":"s1","type":"complete"}`)

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("subscription was not cancelled")
	}

	// The id is free again.
	writeMsg(t, conn, `{"type":"ping"}`)
	require.Equal(t, msgPong, readMsg(t, conn).Type)
}

func TestWS_Errors(t *testing.T) {
	rt := executor.NewMockRuntime(nil)
	conn := dialWS(t, newTestHandler(t, rt))
	ack(t, conn, `null`)

	writeMsg(t, conn, `{"id":"v","type":"subscribe","payload":{"query":"subscription { nope }"}}`)
	msg := readMsg(t, conn)
	require.Equal(t, msgError, msg.Type)
	require.Equal(t, "v", msg.ID)
	var errs []specError
	require.NoError(t, json.Unmarshal(msg.Payload, &errs))
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Message, "nope")

	// No stream registered for the field.
	writeMsg(t, conn, `{"id":"s","type":"subscribe","payload":{"query":"subscription { onShout }"}}`)
	msg = readMsg(t, conn)
	require.Equal(t, msgError, msg.Type)
	require.NoError(t, json.Unmarshal(msg.Payload, &errs))
	require.Equal(t, "no stream for Subscription.onShout", errs[0].Message)
}

func TestWS_CloseCodes(t *testing.T) {
	cases := []struct {
		name  string
		opts  []Option
		steps func(t *testing.T, conn *websocket.Conn)
		code  int
	}{
		{
			name: "subscribe before init",
			steps: func(t *testing.T, conn *websocket.Conn) {
				writeMsg(t, conn, `{"id":"1","type":"subscribe","payload":{"query":"{ hello }"}}`)
			},
			code: closeUnauthorized,
		},
		{
			name: "repeated init",
			steps: func(t *testing.T, conn *websocket.Conn) {
				ack(t, conn, `{}`)
				writeMsg(t, conn, `{"type":"connection_init"}`)
			},
			code: closeTooManyInitRequest,
		},
		{
			name:  "unknown message",
			steps: func(t *testing.T, conn *websocket.Conn) { writeMsg(t, conn, `{"type":"start"}`) },
			code:  closeBadRequest,
		},
		{
			name: "subscribe without id",
			steps: func(t *testing.T, conn *websocket.Conn) {
				ack(t, conn, `{}`)
				writeMsg(t, conn, `{"type":"subscribe","payload":{"query":"{ hello }"}}`)
			},
			code: closeBadRequest,
		},
		{
			name:  "init timeout",
			opts:  []Option{WithInitTimeout(50 * time.Millisecond)},
			steps: func(t *testing.T, conn *websocket.Conn) {},
			code:  closeInitTimeout,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := dialWS(t, newTestHandler(t, executor.NewMockRuntime(nil), tc.opts...))
			tc.steps(t, conn)
			require.Equal(t, tc.code, readClose(t, conn))
		})
	}
}

func TestWS_DuplicateID(t *testing.T) {
	rt := executor.NewMockRuntime(nil)
	rt.SetStream("Subscription", "onShout", func(ctx context.Context, args map[string]any) (<-chan any, error) {
		return make(chan any), nil
	})
	conn := dialWS(t, newTestHandler(t, rt))
	ack(t, conn, `{}`)

	sub := `{"id":"dup","type":"subscribe","payload":{"query":"subscription { onShout }"}}`
	writeMsg(t, conn, sub)
	writeMsg(t, conn, sub)
	require.Equal(t, closeDuplicateID, readClose(t, conn))
}

func TestWS_RejectsForeignOrigin(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(t, executor.NewMockRuntime(nil)))
	defer srv.Close()

	dialer := websocket.Dialer{Subprotocols: []string{transportWSProtocol}}
	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	_, resp, err := dialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	require.Error(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWS_Shutdown(t *testing.T) {
	h := newTestHandler(t, executor.NewMockRuntime(nil))
	conn := dialWS(t, h)
	ack(t, conn, `{}`)

	h.Shutdown()
	require.Equal(t, websocket.CloseGoingAway, readClose(t, conn))
}

func TestWS_ConnectionEvents(t *testing.T) {
	b := eventbus.New()
	eventbus.Use(b)
	t.Cleanup(func() { eventbus.Use(nil) })
	opened := make(chan events.ConnectionOpen, 1)
	closed := make(chan events.ConnectionClose, 1)
	eventbus.On(b, func(ctx context.Context, e events.ConnectionOpen) { opened <- e })
	eventbus.On(b, func(ctx context.Context, e events.ConnectionClose) { closed <- e })

	rt := executor.NewMockRuntime(nil)
	rt.SetResolver("Query", "hello", func(ctx context.Context, src any, args map[string]any) (any, error) {
		return "world", nil
	})
	conn := dialWS(t, newTestHandler(t, rt))
	ack(t, conn, `{}`)
	writeMsg(t, conn, `{"id":"1","type":"subscribe","payload":{"query":"{ hello }"}}`)
	require.Equal(t, msgNext, readMsg(t, conn).Type)
	require.Equal(t, msgComplete, readMsg(t, conn).Type)
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	var open events.ConnectionOpen
	select {
	case open = <-opened:
	case <-time.After(5 * time.Second):
		t.Fatal("no ConnectionOpen event")
	}
	select {
	case e := <-closed:
		require.Equal(t, open.ID, e.ID)
		require.Equal(t, 1, e.Operations)
	case <-time.After(5 * time.Second):
		t.Fatal("no ConnectionClose event")
	}
}
