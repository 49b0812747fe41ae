// ABOUTME: Tests for the per-tenant dispatcher
// ABOUTME: Covers loop and balance assignment, queueing, reclaim, and auth checks

package dispatch

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/livedesk/internal/blob"
	"github.com/2389/livedesk/internal/canned"
	"github.com/2389/livedesk/internal/imaging"
	"github.com/2389/livedesk/internal/presence"
	"github.com/2389/livedesk/internal/store"
	"github.com/2389/livedesk/internal/talk"
	"github.com/2389/livedesk/internal/wire"
)

type sentFrame struct {
	event   string
	payload any
}

type fakeTransport struct {
	mu     sync.Mutex
	id     string
	frames []sentFrame
	closed bool
}

func newFakeTransport(id string) *fakeTransport { return &fakeTransport{id: id} }

func (f *fakeTransport) ID() string { return f.id }

func (f *fakeTransport) Send(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, sentFrame{event: event, payload: payload})
	return nil
}

func (f *fakeTransport) Close(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeTransport) sentEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.frames))
	for _, fr := range f.frames {
		out = append(out, fr.event)
	}
	return out
}

func (f *fakeTransport) payloadsFor(event string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, fr := range f.frames {
		if fr.event == event {
			out = append(out, fr.payload)
		}
	}
	return out
}

type rig struct {
	d         *Dispatcher
	mock      *store.MockStore
	tenant    *store.Tenant
	customers *presence.CustomerTable
	agents    *presence.AgentTable
}

func newRig(t *testing.T, mode string, maxPerAgent int, connectLimit time.Duration) *rig {
	t.Helper()
	mock := store.NewMockStore()
	tenant := &store.Tenant{Key: "acme", Name: "Acme"}
	require.NoError(t, mock.CreateTenant(context.Background(), tenant))

	customers := presence.NewCustomerTable(time.Minute, nil)
	agents := presence.NewAgentTable(nil)
	storage := blob.NewMemStorage("http://files.test")

	d := New(tenant, Deps{
		Store:        mock,
		Images:       imaging.NewProcessor(storage, nil),
		FileURL:      func(name string) string { return "http://files.test/" + name },
		Canned:       canned.NewCache(mock, tenant.ID, nil),
		Customers:    customers,
		Agents:       agents,
		Mode:         mode,
		MaxPerAgent:  maxPerAgent,
		ConnectLimit: connectLimit,
	})
	return &rig{d: d, mock: mock, tenant: tenant, customers: customers, agents: agents}
}

func (r *rig) connectAgent(t *testing.T, id int64, role string, ready bool) (*presence.AgentToken, *fakeTransport) {
	t.Helper()
	tok := r.agents.FindOrCreate(&store.Agent{
		ID: id, TenantID: r.tenant.ID,
		Username: "agent" + strconv.FormatInt(id, 10), DisplayName: "Agent " + strconv.FormatInt(id, 10),
		Role: role,
	})
	tr := newFakeTransport("agent-conn-" + strconv.FormatInt(id, 10))
	tok.Connect(tr, "session")
	r.d.OnAgentConnected(context.Background(), tok)
	if ready {
		require.NoError(t, r.d.SetReady(context.Background(), id, true))
	}
	return tok, tr
}

func (r *rig) connectCustomer(t *testing.T, chatKey string) (*presence.CustomerToken, *fakeTransport, *talk.Talk) {
	t.Helper()
	tr := newFakeTransport("cust-conn-" + chatKey + "-" + strconv.FormatInt(time.Now().UnixNano(), 10))
	tok, tk, err := r.d.OnCustomerConnected(context.Background(), tr, wire.ConnectRequest{ChatKey: chatKey, Name: "cust"})
	require.NoError(t, err)
	return tok, tr, tk
}

func statuses(sums []wire.TalkSummary) []string {
	out := make([]string, 0, len(sums))
	for _, s := range sums {
		out = append(out, s.Status)
	}
	return out
}

func TestDispatch_LoopSpreadsTalks(t *testing.T) {
	r := newRig(t, ModeLoop, 1, 0)
	for id := int64(1); id <= 3; id++ {
		r.connectAgent(t, id, store.RoleExecutive, true)
	}

	for i := 0; i < 3; i++ {
		r.connectCustomer(t, "")
	}

	rooms := r.d.RoomStates()
	require.Len(t, rooms, 3)
	for _, room := range rooms {
		assert.Equal(t, 1, room.TalkCount, "loop mode gives each agent one talk")
	}
	assert.Equal(t, []string{"start", "start", "start"}, statuses(r.d.Summaries()), "queue drained")
}

func TestDispatch_BalanceFillsFirstRoom(t *testing.T) {
	r := newRig(t, ModeBalance, 2, 0)
	r.connectAgent(t, 1, store.RoleExecutive, true)
	r.connectAgent(t, 2, store.RoleExecutive, true)

	for i := 0; i < 3; i++ {
		r.connectCustomer(t, "")
	}

	rooms := r.d.RoomStates()
	require.Len(t, rooms, 2)
	assert.Equal(t, 2, rooms[0].TalkCount, "balance fills the first room to capacity")
	assert.Equal(t, 1, rooms[1].TalkCount)
}

func TestDispatch_QueuesWithoutReadyRooms(t *testing.T) {
	r := newRig(t, ModeBalance, 5, 0)
	r.connectAgent(t, 1, store.RoleExecutive, false)

	_, _, tk := r.connectCustomer(t, "")
	assert.Equal(t, store.StatusWaiting, tk.Status())

	// Readiness triggers a pass over the queue.
	require.NoError(t, r.d.SetReady(context.Background(), 1, true))
	assert.Equal(t, store.StatusStart, tk.Status())
	assert.Equal(t, int64(1), tk.ExecutiveID())
}

func TestDispatch_CloseFreesCapacity(t *testing.T) {
	r := newRig(t, ModeBalance, 1, 0)
	agent, _ := r.connectAgent(t, 1, store.RoleExecutive, true)

	_, _, first := r.connectCustomer(t, "")
	_, _, second := r.connectCustomer(t, "")

	assert.Equal(t, store.StatusStart, first.Status())
	assert.Equal(t, store.StatusWaiting, second.Status(), "room at capacity")

	require.NoError(t, r.d.CloseTalk(context.Background(), agent, first.ID(), "done", false))

	assert.Equal(t, store.StatusStart, second.Status(), "freed capacity serves the queue")
	_, err := r.d.GetTalk(first.ID())
	assert.ErrorIs(t, err, ErrTalkNotFound, "closed talk leaves the live set")
}

func TestOnCustomerConnected_Reconnect(t *testing.T) {
	r := newRig(t, ModeBalance, 5, 0)

	tok, tr, tk := r.connectCustomer(t, "")
	r.d.OnCustomerDisconnected(context.Background(), tok, tr)

	tok2, tr2, tk2 := r.connectCustomer(t, tok.ChatKey())
	assert.Same(t, tok, tok2, "same reconnect key resumes the same token")
	assert.Equal(t, tk.ID(), tk2.ID(), "reconnect resumes the live talk")
	assert.Contains(t, tr2.sentEvents(), wire.EventTalkDetail, "detail re-pushed on reconnect")
}

func TestOnCustomerConnected_CannedGreeting(t *testing.T) {
	r := newRig(t, ModeBalance, 5, 0)
	require.NoError(t, r.mock.CreateArticle(context.Background(), &store.Article{
		TenantID: r.tenant.ID, Content: "Welcome to **Acme** support", Tag: store.TagConnected,
	}))

	_, tr, _ := r.connectCustomer(t, "")

	payloads := tr.payloadsFor(wire.EventMessage)
	require.Len(t, payloads, 1, "greeting auto-sent on connect")
	msg := payloads[0].(wire.MessagePayload)
	assert.Equal(t, store.SenderSystem, msg.Sender)
	assert.Contains(t, msg.Content, "<strong>Acme</strong>")
	assert.Equal(t, 1, r.mock.MessageCount(), "auto-sends persist like any message")
}

func TestStartTalk_ManualAndForce(t *testing.T) {
	r := newRig(t, ModeBalance, 5, 0)
	first, _ := r.connectAgent(t, 1, store.RoleExecutive, false)
	second, _ := r.connectAgent(t, 2, store.RoleExecutive, false)

	_, _, tk := r.connectCustomer(t, "")
	require.Equal(t, store.StatusWaiting, tk.Status())

	require.NoError(t, r.d.StartTalk(context.Background(), first, tk.ID(), false))
	assert.Equal(t, int64(1), tk.ExecutiveID())

	// A second start without force is rejected; force takes the talk over.
	assert.Error(t, r.d.StartTalk(context.Background(), second, tk.ID(), false))
	require.NoError(t, r.d.StartTalk(context.Background(), second, tk.ID(), true))
	assert.Equal(t, int64(2), tk.ExecutiveID())

	rooms := r.d.RoomStates()
	assert.Equal(t, 0, rooms[0].TalkCount, "takeover frees the previous room slot")
	assert.Equal(t, 1, rooms[1].TalkCount)
}

func TestCloseTalk_Authorization(t *testing.T) {
	r := newRig(t, ModeBalance, 5, 0)
	assigned, _ := r.connectAgent(t, 1, store.RoleExecutive, true)
	outsider, _ := r.connectAgent(t, 2, store.RoleExecutive, false)
	supervisor, _ := r.connectAgent(t, 3, store.RoleSupervisor, false)

	_, _, tk := r.connectCustomer(t, "")
	require.Equal(t, int64(1), tk.ExecutiveID())

	err := r.d.CloseTalk(context.Background(), outsider, tk.ID(), "", false)
	assert.ErrorIs(t, err, talk.ErrNotInTalk)

	_, _, tk2 := r.connectCustomer(t, "")
	require.NoError(t, r.d.CloseTalk(context.Background(), supervisor, tk2.ID(), "supervisor close", true))
	require.NoError(t, r.d.CloseTalk(context.Background(), assigned, tk.ID(), "done", false))
}

func TestCloseTalk_RemovesCustomerToken(t *testing.T) {
	r := newRig(t, ModeBalance, 5, 0)
	agent, _ := r.connectAgent(t, 1, store.RoleExecutive, true)

	tok, tr, tk := r.connectCustomer(t, "")
	require.Equal(t, 1, r.customers.Len())

	require.NoError(t, r.d.CloseTalk(context.Background(), agent, tk.ID(), "done", false))
	assert.Equal(t, 0, r.customers.Len(), "close drops the reconnect token")

	// Close already dropped the socket, so the close callback arrives with
	// a stale transport. It must not arm a grace for the removed token.
	r.d.OnCustomerDisconnected(context.Background(), tok, tr)
	assert.Equal(t, 0, r.customers.Len())

	tok2, _, tk2 := r.connectCustomer(t, tok.ChatKey())
	assert.NotSame(t, tok, tok2, "reconnecting after close starts fresh")
	assert.NotEqual(t, tk.ID(), tk2.ID())
}

func TestGetTalk_NotFound(t *testing.T) {
	r := newRig(t, ModeBalance, 5, 0)
	_, err := r.d.GetTalk(404)
	assert.ErrorIs(t, err, ErrTalkNotFound)
}

func TestOnAgentConnected_RedeliversAssignedTalks(t *testing.T) {
	r := newRig(t, ModeBalance, 5, 0)
	agent, tr := r.connectAgent(t, 1, store.RoleExecutive, true)
	_, _, tk := r.connectCustomer(t, "")
	require.Equal(t, store.StatusStart, tk.Status())

	// Drop and reconnect the agent socket.
	require.True(t, agent.Disconnect(tr))
	tr2 := newFakeTransport("agent-conn-1b")
	require.NoError(t, agent.Reconnect(tr2, "session"))
	r.d.OnAgentConnected(context.Background(), agent)

	assert.Contains(t, tr2.sentEvents(), wire.EventTalkList)
	details := tr2.payloadsFor(wire.EventTalkDetail)
	require.Len(t, details, 1)
	assert.Equal(t, tk.ID(), details[0].(wire.TalkDetail).ID)
}

func TestOnCustomerDisconnected_AutoCloseUnderLimit(t *testing.T) {
	r := newRig(t, ModeBalance, 5, time.Hour)

	tok, tr, tk := r.connectCustomer(t, "")
	r.d.OnCustomerDisconnected(context.Background(), tok, tr)

	assert.Equal(t, store.StatusUnprocessed, tk.Status())
	_, err := r.d.GetTalk(tk.ID())
	assert.ErrorIs(t, err, ErrTalkNotFound)
}

func TestSetReady_BroadcastsRoomState(t *testing.T) {
	r := newRig(t, ModeBalance, 5, 0)
	_, tr := r.connectAgent(t, 1, store.RoleExecutive, false)

	require.NoError(t, r.d.SetReady(context.Background(), 1, true))
	require.NoError(t, r.d.SetReady(context.Background(), 1, false))

	assert.Contains(t, tr.sentEvents(), wire.EventRoomReady)
	assert.Contains(t, tr.sentEvents(), wire.EventRoomUnready)

	assert.Error(t, r.d.SetReady(context.Background(), 99, true), "unknown agent has no room")
}
