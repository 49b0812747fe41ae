// ABOUTME: Tests for the websocket channels over a live httptest server
// ABOUTME: Covers connect, login, acks, error codes, and the assignment flow

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/livedesk/internal/auth"
	"github.com/2389/livedesk/internal/blob"
	"github.com/2389/livedesk/internal/dispatch"
	"github.com/2389/livedesk/internal/imaging"
	"github.com/2389/livedesk/internal/presence"
	"github.com/2389/livedesk/internal/store"
	"github.com/2389/livedesk/internal/talk"
	"github.com/2389/livedesk/internal/tenant"
	"github.com/2389/livedesk/internal/wire"
)

// inboundFrame is the union of event frames and acks as the client sees them.
type inboundFrame struct {
	Event   string          `json:"event"`
	AckID   int64           `json:"ack_id"`
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type testClient struct {
	t  *testing.T
	ws *websocket.Conn
}

func dialClient(t *testing.T, ts *httptest.Server, path string) *testClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return &testClient{t: t, ws: ws}
}

func (c *testClient) send(event string, ackID int64, data any) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.ws.WriteJSON(wire.Frame{Event: event, AckID: ackID, Data: raw}))
}

func (c *testClient) readFrame() inboundFrame {
	c.t.Helper()
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f inboundFrame
	require.NoError(c.t, c.ws.ReadJSON(&f))
	return f
}

// readAck skips pushed events until the ack for the given id arrives.
func (c *testClient) readAck(ackID int64) inboundFrame {
	c.t.Helper()
	for i := 0; i < 20; i++ {
		f := c.readFrame()
		if f.AckID == ackID {
			return f
		}
	}
	c.t.Fatalf("ack %d never arrived", ackID)
	return inboundFrame{}
}

// readEvent skips frames until the named event arrives.
func (c *testClient) readEvent(event string) inboundFrame {
	c.t.Helper()
	for i := 0; i < 20; i++ {
		f := c.readFrame()
		if f.Event == event {
			return f
		}
	}
	c.t.Fatalf("event %s never arrived", event)
	return inboundFrame{}
}

func newTestServer(t *testing.T) (*httptest.Server, *store.MockStore) {
	t.Helper()
	mock := store.NewMockStore()
	tn := &store.Tenant{Key: "acme", Name: "Acme"}
	require.NoError(t, mock.CreateTenant(context.Background(), tn))

	hash, err := auth.HashPassword("s3cret")
	require.NoError(t, err)
	require.NoError(t, mock.CreateAgent(context.Background(), &store.Agent{
		TenantID: tn.ID, Username: "alice", PasswordHash: hash,
		DisplayName: "Alice", Role: store.RoleExecutive,
	}))

	registry, err := tenant.NewRegistry(context.Background(), tenant.Config{
		Store:         mock,
		Images:        imaging.NewProcessor(blob.NewMemStorage(""), nil),
		FileURL:       func(name string) string { return "http://files.test/" + name },
		Mode:          "balance",
		MaxPerAgent:   5,
		CustomerGrace: time.Minute,
	})
	require.NoError(t, err)

	authn := auth.NewAuthenticator(mock, []byte("test-secret"), time.Hour, nil)
	mux := http.NewServeMux()
	NewServer(registry, authn, nil).Register(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, mock
}

func TestCustomerConnectAndSend(t *testing.T) {
	ts, mock := newTestServer(t)
	c := dialClient(t, ts, "/ws/customer?tenant=acme")

	c.send(wire.EventConnect, 1, wire.ConnectRequest{Name: "bob"})
	ack := c.readAck(1)
	require.Equal(t, 0, ack.Code, ack.Message)

	var result connectResult
	require.NoError(t, json.Unmarshal(ack.Data, &result))
	assert.NotEmpty(t, result.ChatKey)
	assert.Equal(t, store.StatusWaiting, result.Talk.Status)

	c.send(wire.EventTalkSend, 2, wire.SendRequest{Type: wire.ContentText, Content: "hello"})
	ack = c.readAck(2)
	require.Equal(t, 0, ack.Code, ack.Message)

	var msg wire.MessagePayload
	require.NoError(t, json.Unmarshal(ack.Data, &msg))
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, store.SenderCustomer, msg.Sender)
	assert.Equal(t, 1, mock.MessageCount())
}

func TestCustomerSendBeforeConnect(t *testing.T) {
	ts, _ := newTestServer(t)
	c := dialClient(t, ts, "/ws/customer?tenant=acme")

	c.send(wire.EventTalkSend, 1, wire.SendRequest{Type: wire.ContentText, Content: "hello"})
	ack := c.readAck(1)
	assert.Equal(t, codeUnauthorized, ack.Code)
}

func TestCustomerSecondConnectRejected(t *testing.T) {
	ts, _ := newTestServer(t)
	c := dialClient(t, ts, "/ws/customer?tenant=acme")

	c.send(wire.EventConnect, 1, wire.ConnectRequest{Name: "bob"})
	ack := c.readAck(1)
	require.Equal(t, 0, ack.Code, ack.Message)
	var result connectResult
	require.NoError(t, json.Unmarshal(ack.Data, &result))

	// A second connect could rebind the session to a different token and
	// strand the first one; the socket stays bound to its first identity.
	c.send(wire.EventConnect, 2, wire.ConnectRequest{Name: "mallory"})
	ack = c.readAck(2)
	assert.Equal(t, codeBadRequest, ack.Code)

	// The original binding still works.
	c.send(wire.EventTalkSend, 3, wire.SendRequest{Type: wire.ContentText, Content: "still me"})
	assert.Equal(t, 0, c.readAck(3).Code)
}

func TestAgentLogin(t *testing.T) {
	ts, _ := newTestServer(t)
	c := dialClient(t, ts, "/ws/agent?tenant=acme")

	c.send(wire.EventLogin, 1, wire.LoginRequest{Username: "alice", Password: "s3cret"})
	ack := c.readAck(1)
	require.Equal(t, 0, ack.Code, ack.Message)

	var result loginResult
	require.NoError(t, json.Unmarshal(ack.Data, &result))
	assert.Equal(t, "Alice", result.DisplayName)
	assert.NotEmpty(t, result.SessionToken)

	c.send(wire.EventReady, 2, wire.ReadyRequest{Ready: true})
	assert.Equal(t, 0, c.readAck(2).Code)

	// The issued token logs a second socket in.
	c2 := dialClient(t, ts, "/ws/agent?tenant=acme")
	c2.send(wire.EventLogin, 1, wire.LoginRequest{SessionToken: result.SessionToken})
	assert.Equal(t, 0, c2.readAck(1).Code)
}

func TestAgentLogin_BadCredentials(t *testing.T) {
	ts, _ := newTestServer(t)
	c := dialClient(t, ts, "/ws/agent?tenant=acme")

	c.send(wire.EventLogin, 1, wire.LoginRequest{Username: "alice", Password: "wrong"})
	assert.Equal(t, codeUnauthorized, c.readAck(1).Code)

	// Operations before login are rejected.
	c.send(wire.EventReady, 2, wire.ReadyRequest{Ready: true})
	assert.Equal(t, codeUnauthorized, c.readAck(2).Code)
}

func TestUnknownTenantRejectsHandshake(t *testing.T) {
	ts, _ := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/customer?tenant=nope"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAssignmentFlow(t *testing.T) {
	ts, _ := newTestServer(t)

	agent := dialClient(t, ts, "/ws/agent?tenant=acme")
	agent.send(wire.EventLogin, 1, wire.LoginRequest{Username: "alice", Password: "s3cret"})
	require.Equal(t, 0, agent.readAck(1).Code)
	agent.send(wire.EventReady, 2, wire.ReadyRequest{Ready: true})
	require.Equal(t, 0, agent.readAck(2).Code)

	customer := dialClient(t, ts, "/ws/customer?tenant=acme")
	customer.send(wire.EventConnect, 1, wire.ConnectRequest{Name: "bob"})
	require.Equal(t, 0, customer.readAck(1).Code)

	// The ready agent gets the talk assigned and its detail pushed.
	detail := agent.readEvent(wire.EventTalkDetail)
	var td wire.TalkDetail
	require.NoError(t, json.Unmarshal(detail.Data, &td))
	assert.Equal(t, store.StatusStart, td.Status)
	assert.Equal(t, "bob", td.CustomerName)

	// The customer learns the talk started.
	customer.readEvent(wire.EventTalkStarted)

	// Messages flow both ways.
	customer.send(wire.EventTalkSend, 2, wire.SendRequest{Type: wire.ContentText, Content: "hi there"})
	require.Equal(t, 0, customer.readAck(2).Code)
	msgFrame := agent.readEvent(wire.EventMessage)
	var msg wire.MessagePayload
	require.NoError(t, json.Unmarshal(msgFrame.Data, &msg))
	assert.Equal(t, "hi there", msg.Content)

	agent.send(wire.EventTalkSend, 3, wire.SendRequest{TalkID: td.ID, Type: wire.ContentText, Content: "how can I help"})
	require.Equal(t, 0, agent.readAck(3).Code)
	reply := customer.readEvent(wire.EventMessage)
	require.NoError(t, json.Unmarshal(reply.Data, &msg))
	assert.Equal(t, store.SenderService, msg.Sender)
}

func TestAckCodes(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{nil, codeOK},
		{dispatch.ErrTalkNotFound, codeTalkNotFound},
		{store.ErrNotFound, codeTalkNotFound},
		{talk.ErrStickerNotFound, codeStickerNotFound},
		{talk.ErrNotInTalk, codeNotInTalk},
		{talk.ErrUnauthorizedEditMessage, codeEditForbidden},
		{talk.ErrTalkClosed, codeTalkClosed},
		{talk.ErrEmptyContent, codeBadRequest},
		{presence.ErrTransportUnavailable, codeTransportUnavailable},
		{auth.ErrInvalidCredentials, codeUnauthorized},
		{auth.ErrExpiredToken, codeUnauthorized},
		{tenant.ErrUnknownTenant, codeUnknownTenant},
		{errBadPayload, codeBadRequest},
		{errAlreadyConnected, codeBadRequest},
		{errNotLoggedIn, codeUnauthorized},
		{errors.New("surprise"), codeInternal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, ackCode(tc.err))
	}
}
