// ABOUTME: Tests for customer and agent presence tokens and their tables
// ABOUTME: Covers duplicate login, stale disconnects, grace expiry, and reconnect

package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/livedesk/internal/store"
	"github.com/2389/livedesk/internal/wire"
)

// fakeTransport records sent events and close calls.
type fakeTransport struct {
	mu     sync.Mutex
	id     string
	events []string
	closed bool
	reason string
}

func newFakeTransport(id string) *fakeTransport {
	return &fakeTransport{id: id}
}

func (f *fakeTransport) ID() string { return f.id }

func (f *fakeTransport) Send(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeTransport) Close(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.reason = reason
}

func (f *fakeTransport) sentEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestCustomerTable_FindOrCreate(t *testing.T) {
	ct := NewCustomerTable(time.Minute, nil)

	tok, created := ct.FindOrCreate("", "alice")
	require.True(t, created)
	assert.NotEmpty(t, tok.ChatKey(), "empty key gets a generated one")
	assert.Equal(t, "alice", tok.Name())

	again, created := ct.FindOrCreate(tok.ChatKey(), "alice")
	assert.False(t, created)
	assert.Same(t, tok, again, "known key returns the same token")

	other, created := ct.FindOrCreate("unknown-key", "bob")
	require.True(t, created)
	assert.Equal(t, "unknown-key", other.ChatKey())
}

func TestCustomerToken_DuplicateLogin(t *testing.T) {
	ct := NewCustomerTable(time.Minute, nil)
	tok, _ := ct.FindOrCreate("", "alice")

	first := newFakeTransport("conn-1")
	second := newFakeTransport("conn-2")

	tok.Connect(first)
	tok.Connect(second)

	assert.True(t, first.isClosed(), "replaced transport is force-disconnected")
	assert.Contains(t, first.sentEvents(), wire.EventDuplicateLogin)
	assert.True(t, tok.Online())

	// The stale transport's close event must not mark the token offline.
	assert.False(t, tok.Disconnect(first))
	assert.True(t, tok.Online())

	assert.True(t, tok.Disconnect(second))
	assert.False(t, tok.Online())
}

func TestCustomerToken_SendWhenOffline(t *testing.T) {
	ct := NewCustomerTable(time.Minute, nil)
	tok, _ := ct.FindOrCreate("", "alice")

	err := tok.Send(wire.EventMessage, nil)
	assert.ErrorIs(t, err, ErrTransportUnavailable)

	tr := newFakeTransport("conn-1")
	tok.Connect(tr)
	require.NoError(t, tok.Send(wire.EventMessage, nil))
	assert.Contains(t, tr.sentEvents(), wire.EventMessage)
}

func TestCustomerTable_GraceExpiryDestroysToken(t *testing.T) {
	ct := NewCustomerTable(10*time.Millisecond, nil)

	destroyed := make(chan string, 1)
	ct.SetOnDestroy(func(chatKey string) { destroyed <- chatKey })

	tok, _ := ct.FindOrCreate("", "alice")
	tr := newFakeTransport("conn-1")
	tok.Connect(tr)

	require.True(t, tok.Disconnect(tr))
	ct.StartGrace(tok)

	select {
	case key := <-destroyed:
		assert.Equal(t, tok.ChatKey(), key)
	case <-time.After(time.Second):
		t.Fatal("grace expiry never fired")
	}
	assert.Nil(t, ct.Get(tok.ChatKey()))
}

func TestCustomerTable_ReconnectCancelsGrace(t *testing.T) {
	ct := NewCustomerTable(20*time.Millisecond, nil)

	destroyed := make(chan string, 1)
	ct.SetOnDestroy(func(chatKey string) { destroyed <- chatKey })

	tok, _ := ct.FindOrCreate("", "alice")
	first := newFakeTransport("conn-1")
	tok.Connect(first)
	require.True(t, tok.Disconnect(first))
	ct.StartGrace(tok)

	// Reconnect within the grace window.
	tok.Connect(newFakeTransport("conn-2"))

	select {
	case <-destroyed:
		t.Fatal("token destroyed despite reconnect")
	case <-time.After(60 * time.Millisecond):
	}
	assert.Same(t, tok, ct.Get(tok.ChatKey()))
}

func TestCustomerTable_RemoveCancelsGrace(t *testing.T) {
	ct := NewCustomerTable(10*time.Millisecond, nil)

	destroyed := make(chan string, 1)
	ct.SetOnDestroy(func(chatKey string) { destroyed <- chatKey })

	tok, _ := ct.FindOrCreate("", "alice")
	tr := newFakeTransport("conn-1")
	tok.Connect(tr)
	require.True(t, tok.Disconnect(tr))
	ct.StartGrace(tok)

	ct.Remove(tok.ChatKey())
	assert.Equal(t, 0, ct.Len())

	select {
	case <-destroyed:
		t.Fatal("destroy hook fired for a removed token")
	case <-time.After(60 * time.Millisecond):
	}
}

func testAgent(id int64) *store.Agent {
	return &store.Agent{
		ID:          id,
		TenantID:    1,
		Username:    "agent",
		DisplayName: "Agent Smith",
		Role:        store.RoleExecutive,
	}
}

func TestAgentToken_Reconnect(t *testing.T) {
	at := NewAgentTable(nil)
	tok := at.FindOrCreate(testAgent(7))

	first := newFakeTransport("conn-1")
	tok.Connect(first, "session-token")
	require.True(t, tok.Disconnect(first))
	assert.False(t, tok.Online())

	// Reconnect with the wrong token is rejected.
	err := tok.Reconnect(newFakeTransport("conn-2"), "wrong")
	assert.ErrorIs(t, err, ErrSessionMismatch)
	assert.False(t, tok.Online())

	// Reconnect with the issued token binds the new transport.
	require.NoError(t, tok.Reconnect(newFakeTransport("conn-3"), "session-token"))
	assert.True(t, tok.Online())
}

func TestAgentToken_DuplicateLogin(t *testing.T) {
	at := NewAgentTable(nil)
	tok := at.FindOrCreate(testAgent(7))

	first := newFakeTransport("conn-1")
	tok.Connect(first, "token-a")

	second := newFakeTransport("conn-2")
	tok.Connect(second, "token-b")

	assert.True(t, first.isClosed())
	assert.Contains(t, first.sentEvents(), wire.EventDuplicateLogin)

	// The old session token is no longer valid for reconnects.
	assert.True(t, tok.Disconnect(second))
	assert.ErrorIs(t, tok.Reconnect(newFakeTransport("conn-3"), "token-a"), ErrSessionMismatch)
	assert.NoError(t, tok.Reconnect(newFakeTransport("conn-4"), "token-b"))
}

func TestAgentTable_FindOrCreateIsStable(t *testing.T) {
	at := NewAgentTable(nil)

	tok := at.FindOrCreate(testAgent(1))
	again := at.FindOrCreate(testAgent(1))
	assert.Same(t, tok, again)

	assert.Len(t, at.All(), 1)
	at.FindOrCreate(testAgent(2))
	assert.Len(t, at.All(), 2)
	assert.Equal(t, int64(1), at.Get(1).ID())
	assert.Nil(t, at.Get(99))
}
