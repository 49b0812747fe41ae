// ABOUTME: Per-tenant dispatcher: owns live talks, agent rooms, and assignment
// ABOUTME: One mutex serializes each tenant; assignment is a greedy best-effort pass

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/2389/livedesk/internal/canned"
	"github.com/2389/livedesk/internal/events"
	"github.com/2389/livedesk/internal/imaging"
	"github.com/2389/livedesk/internal/metrics"
	"github.com/2389/livedesk/internal/presence"
	"github.com/2389/livedesk/internal/store"
	"github.com/2389/livedesk/internal/talk"
	"github.com/2389/livedesk/internal/wire"
)

// ErrTalkNotFound is returned when an operation addresses a talk the
// dispatcher does not hold live.
var ErrTalkNotFound = errors.New("talk not found")

// Dispatch modes.
const (
	ModeBalance = "balance" // first room under capacity
	ModeLoop    = "loop"    // rotate over ready rooms
)

// room tracks one agent's assignment state.
type room struct {
	agent *presence.AgentToken
	ready bool
	talks map[int64]struct{}
}

func (r *room) state() wire.RoomState {
	return wire.RoomState{
		AgentID:   r.agent.ID(),
		Name:      r.agent.DisplayName(),
		Ready:     r.ready,
		TalkCount: len(r.talks),
	}
}

// Deps carries the collaborators one tenant's dispatcher needs.
type Deps struct {
	Store        store.Store
	Images       *imaging.Processor
	FileURL      func(name string) string
	Events       events.Publisher
	Canned       *canned.Cache
	Customers    *presence.CustomerTable
	Agents       *presence.AgentTable
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	Mode         string
	MaxPerAgent  int
	ConnectLimit time.Duration
}

// Dispatcher owns one tenant's live talks and agent rooms. A single mutex
// serializes every structural mutation, so assignment decisions always see
// a consistent queue and room set.
type Dispatcher struct {
	tenant *store.Tenant
	deps   Deps

	mu        sync.Mutex
	talks     map[int64]*talk.Talk
	byChatKey map[string]*talk.Talk
	rooms     map[int64]*room
	cursor    uint64
}

// New creates a dispatcher for the tenant and hooks customer destruction
// into talk cleanup.
func New(tenant *store.Tenant, deps Deps) *Dispatcher {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Logger = deps.Logger.With("component", "dispatch", "tenant", tenant.Key)
	if deps.Events == nil {
		deps.Events = events.NopPublisher{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}
	if deps.Mode == "" {
		deps.Mode = ModeBalance
	}
	if deps.MaxPerAgent <= 0 {
		deps.MaxPerAgent = 5
	}

	d := &Dispatcher{
		tenant:    tenant,
		deps:      deps,
		talks:     make(map[int64]*talk.Talk),
		byChatKey: make(map[string]*talk.Talk),
		rooms:     make(map[int64]*room),
	}
	deps.Customers.SetOnDestroy(d.onCustomerDestroyed)
	return d
}

// GetTalk returns a live talk by id.
func (d *Dispatcher) GetTalk(talkID int64) (*talk.Talk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.talks[talkID]
	if !ok {
		return nil, ErrTalkNotFound
	}
	return t, nil
}

// GetTalkByChatKey returns the live talk bound to a customer reconnect key.
func (d *Dispatcher) GetTalkByChatKey(chatKey string) (*talk.Talk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.byChatKey[chatKey]
	if !ok {
		return nil, ErrTalkNotFound
	}
	return t, nil
}

// Summaries returns the list snapshot of every live talk, ordered by id.
func (d *Dispatcher) Summaries() []wire.TalkSummary {
	d.mu.Lock()
	talks := make([]*talk.Talk, 0, len(d.talks))
	for _, t := range d.talks {
		talks = append(talks, t)
	}
	d.mu.Unlock()

	out := make([]wire.TalkSummary, 0, len(talks))
	for _, t := range talks {
		out = append(out, t.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OnCustomerConnected handles a customer socket presenting a connect
// request: either a reconnect to the existing live talk or a fresh talk
// that joins the waiting queue and triggers a dispatch pass.
func (d *Dispatcher) OnCustomerConnected(ctx context.Context, tr wire.Transport, req wire.ConnectRequest) (*presence.CustomerToken, *talk.Talk, error) {
	name := req.Name
	if name == "" {
		name = "Guest"
	}
	tok, _ := d.deps.Customers.FindOrCreate(req.ChatKey, name)
	tok.Connect(tr)

	d.mu.Lock()
	existing := d.byChatKey[tok.ChatKey()]
	d.mu.Unlock()

	if existing != nil {
		existing.OnReconnected()
		d.deps.Logger.Info("customer reconnected", "chat_key", tok.ChatKey(), "talk_id", existing.ID())
		return tok, existing, nil
	}

	rec := &store.Talk{
		TenantID:     d.tenant.ID,
		ChatKey:      tok.ChatKey(),
		CustomerName: tok.Name(),
		Status:       store.StatusWaiting,
		CreatedAt:    time.Now(),
	}
	if err := d.deps.Store.CreateTalk(ctx, rec); err != nil {
		return nil, nil, fmt.Errorf("creating talk: %w", err)
	}

	t := talk.New(rec, tok, talk.Deps{
		Store:     d.deps.Store,
		Images:    d.deps.Images,
		FileURL:   d.deps.FileURL,
		Events:    d.deps.Events,
		Notify:    d,
		Metrics:   d.deps.Metrics,
		TenantKey: d.tenant.Key,
		Logger:    d.deps.Logger,
	})

	d.mu.Lock()
	d.talks[rec.ID] = t
	d.byChatKey[rec.ChatKey] = t
	d.mu.Unlock()

	d.deps.Metrics.TalksCreated.WithLabelValues(d.tenant.Key).Inc()
	d.publish(ctx, events.KindTalkCreated, rec.ID, nil)
	d.deps.Logger.Info("talk created", "talk_id", rec.ID, "chat_key", rec.ChatKey)

	d.sendCanned(ctx, t, store.TagConnected)
	d.BroadcastAgents(wire.EventTalkList, d.Summaries())
	d.Dispatch(ctx)
	d.updateGauges()
	return tok, t, nil
}

// OnCustomerDisconnected handles a customer socket dropping. Stale sockets
// (already replaced by a newer connect) change nothing.
func (d *Dispatcher) OnCustomerDisconnected(ctx context.Context, tok *presence.CustomerToken, tr wire.Transport) {
	if !tok.Disconnect(tr) {
		return
	}

	d.mu.Lock()
	t := d.byChatKey[tok.ChatKey()]
	d.mu.Unlock()

	if t != nil {
		t.OnDisconnected(ctx, d.deps.ConnectLimit)
	}
	// OnDisconnected may have auto-closed the talk, which already removed
	// the token; a grace timer for it would fire a spurious destroy.
	if d.deps.Customers.Get(tok.ChatKey()) == tok {
		d.deps.Customers.StartGrace(tok)
	}
	d.updateGauges()
}

// onCustomerDestroyed runs when the destroy grace expires with the customer
// still offline: the talk, if still live, is closed on their behalf.
func (d *Dispatcher) onCustomerDestroyed(chatKey string) {
	ctx := context.Background()

	d.mu.Lock()
	t := d.byChatKey[chatKey]
	d.mu.Unlock()

	if t != nil {
		if err := t.Close(ctx, "customer left", false); err != nil && !errors.Is(err, talk.ErrTalkClosed) {
			d.deps.Logger.Error("closing talk for destroyed customer", "talk_id", t.ID(), "error", err)
		}
	}
	d.publish(ctx, events.KindCustomerGone, 0, map[string]any{"chat_key": chatKey})
}

// OnAgentConnected pushes the talk list to a freshly connected agent and
// re-delivers the detail of every talk already assigned to them.
func (d *Dispatcher) OnAgentConnected(ctx context.Context, agent *presence.AgentToken) {
	d.mu.Lock()
	r, ok := d.rooms[agent.ID()]
	if !ok {
		r = &room{agent: agent, talks: make(map[int64]struct{})}
		d.rooms[agent.ID()] = r
	}
	assigned := make([]int64, 0, len(r.talks))
	for id := range r.talks {
		assigned = append(assigned, id)
	}
	sort.Slice(assigned, func(i, j int) bool { return assigned[i] < assigned[j] })
	d.mu.Unlock()

	_ = agent.Send(wire.EventTalkList, d.Summaries())
	for _, id := range assigned {
		if t, err := d.GetTalk(id); err == nil {
			_ = agent.Send(wire.EventTalkDetail, t.Detail())
		}
	}
	d.updateGauges()
	d.deps.Logger.Info("agent connected", "agent_id", agent.ID())
}

// OnAgentDisconnected updates gauges; the room and its assignments survive
// so a reconnecting agent resumes where they left off.
func (d *Dispatcher) OnAgentDisconnected(agent *presence.AgentToken) {
	d.updateGauges()
	d.deps.Logger.Info("agent disconnected", "agent_id", agent.ID())
}

// SetReady toggles an agent room's readiness for assignment. Turning ready
// triggers a dispatch pass over the waiting queue.
func (d *Dispatcher) SetReady(ctx context.Context, agentID int64, ready bool) error {
	d.mu.Lock()
	r, ok := d.rooms[agentID]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("agent %d has no room", agentID)
	}
	r.ready = ready
	state := r.state()
	d.mu.Unlock()

	event := wire.EventRoomUnready
	if ready {
		event = wire.EventRoomReady
	}
	d.BroadcastAgents(event, state)

	if ready {
		d.Dispatch(ctx)
	}
	return nil
}

// StartTalk is an agent manually picking a waiting talk up, bypassing the
// assignment pass. A started talk can be taken over with force.
func (d *Dispatcher) StartTalk(ctx context.Context, agent *presence.AgentToken, talkID int64, force bool) error {
	t, err := d.GetTalk(talkID)
	if err != nil {
		return err
	}

	if t.Status() == store.StatusStart {
		if !force {
			return fmt.Errorf("talk %d already started", talkID)
		}
		prev := t.ExecutiveID()
		if err := t.TransferTo(ctx, agent); err != nil {
			return err
		}
		d.mu.Lock()
		if r, ok := d.rooms[prev]; ok {
			delete(r.talks, talkID)
		}
		d.assignLocked(talkID, agent.ID())
		d.mu.Unlock()
		return nil
	}

	if err := t.Start(ctx, agent); err != nil {
		return err
	}
	d.mu.Lock()
	d.assignLocked(talkID, agent.ID())
	d.mu.Unlock()

	d.deps.Metrics.Assignments.WithLabelValues(d.tenant.Key, "manual").Inc()
	d.sendCanned(ctx, t, store.TagStart)
	d.updateGauges()
	return nil
}

// CloseTalk closes a talk on an agent's behalf. Only the assigned executive
// or a supervisor may close; other agents get ErrNotInTalk.
func (d *Dispatcher) CloseTalk(ctx context.Context, agent *presence.AgentToken, talkID int64, remark string, force bool) error {
	t, err := d.GetTalk(talkID)
	if err != nil {
		return err
	}
	if agent.Role() != store.RoleSupervisor && !t.IsParticipant(agent.ID()) {
		return talk.ErrNotInTalk
	}
	return t.Close(ctx, remark, force)
}

// Dispatch runs one greedy assignment pass: waiting talks in arrival order
// against ready rooms with spare capacity. Talks that cannot be placed stay
// queued for the next trigger.
func (d *Dispatcher) Dispatch(ctx context.Context) {
	type pair struct {
		t     *talk.Talk
		agent *presence.AgentToken
	}

	d.mu.Lock()
	waiting := make([]*talk.Talk, 0)
	for _, t := range d.talks {
		if t.Status() == store.StatusWaiting {
			waiting = append(waiting, t)
		}
	}
	sort.Slice(waiting, func(i, j int) bool { return waiting[i].ID() < waiting[j].ID() })

	ready := d.readyRoomsLocked()

	var pairs []pair
	for _, t := range waiting {
		r := d.pickRoomLocked(ready)
		if r == nil {
			break
		}
		r.talks[t.ID()] = struct{}{}
		pairs = append(pairs, pair{t: t, agent: r.agent})
	}
	d.mu.Unlock()

	for _, p := range pairs {
		if err := p.t.Start(ctx, p.agent); err != nil {
			d.deps.Logger.Error("assignment failed", "talk_id", p.t.ID(), "agent_id", p.agent.ID(), "error", err)
			d.mu.Lock()
			if r, ok := d.rooms[p.agent.ID()]; ok {
				delete(r.talks, p.t.ID())
			}
			d.mu.Unlock()
			continue
		}
		d.deps.Metrics.Assignments.WithLabelValues(d.tenant.Key, d.deps.Mode).Inc()
		d.sendCanned(ctx, p.t, store.TagStart)
	}
	d.updateGauges()
}

// readyRoomsLocked snapshots the assignable rooms, ordered by agent id.
func (d *Dispatcher) readyRoomsLocked() []*room {
	out := make([]*room, 0, len(d.rooms))
	for _, r := range d.rooms {
		if r.ready && r.agent.Online() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].agent.ID() < out[j].agent.ID() })
	return out
}

// pickRoomLocked chooses the next room with spare capacity, or nil.
func (d *Dispatcher) pickRoomLocked(ready []*room) *room {
	switch d.deps.Mode {
	case ModeLoop:
		for range ready {
			r := ready[d.cursor%uint64(len(ready))]
			d.cursor++
			if len(r.talks) < d.deps.MaxPerAgent {
				return r
			}
		}
	default: // balance
		for _, r := range ready {
			if len(r.talks) < d.deps.MaxPerAgent {
				return r
			}
		}
	}
	return nil
}

func (d *Dispatcher) assignLocked(talkID, agentID int64) {
	r, ok := d.rooms[agentID]
	if !ok {
		r = &room{agent: d.deps.Agents.Get(agentID), talks: make(map[int64]struct{})}
		d.rooms[agentID] = r
	}
	r.talks[talkID] = struct{}{}
}

// BroadcastAgents fans an event out to every agent of the tenant. Offline
// agents are skipped by their tokens.
func (d *Dispatcher) BroadcastAgents(event string, payload any) {
	for _, tok := range d.deps.Agents.All() {
		_ = tok.Send(event, payload)
	}
}

// TalkClosed reclaims a closed talk: it leaves the live maps, frees its
// room slot, and the spare capacity is offered to the waiting queue.
func (d *Dispatcher) TalkClosed(talkID int64) {
	d.mu.Lock()
	t := d.talks[talkID]
	delete(d.talks, talkID)
	if t != nil {
		delete(d.byChatKey, t.ChatKey())
	}
	for _, r := range d.rooms {
		delete(r.talks, talkID)
	}
	d.mu.Unlock()

	if t != nil {
		// Close already dropped the customer socket, so the disconnect
		// callback sees a stale transport and never arms the grace timer.
		// The key has nothing live left behind it; drop the token now.
		d.deps.Customers.Remove(t.ChatKey())
		d.deps.Metrics.TalksClosed.WithLabelValues(d.tenant.Key, t.Status()).Inc()
	}
	d.Dispatch(context.Background())
}

// RoomStates returns every room's state, ordered by agent id.
func (d *Dispatcher) RoomStates() []wire.RoomState {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]wire.RoomState, 0, len(d.rooms))
	for _, r := range d.rooms {
		out = append(out, r.state())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// sendCanned auto-sends the articles tagged for a lifecycle point as system
// messages. Failures are logged, never fatal to the triggering operation.
func (d *Dispatcher) sendCanned(ctx context.Context, t *talk.Talk, tag string) {
	if d.deps.Canned == nil {
		return
	}
	articles, err := d.deps.Canned.ByTag(ctx, tag)
	if err != nil {
		d.deps.Logger.Warn("loading canned articles", "tag", tag, "error", err)
		return
	}
	for _, content := range articles {
		if _, err := t.SendMessage(ctx, store.SenderSystem, 0, wire.ContentText, content); err != nil {
			d.deps.Logger.Warn("sending canned article", "talk_id", t.ID(), "tag", tag, "error", err)
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, kind string, talkID int64, fields map[string]any) {
	env := events.Envelope{
		Kind:     kind,
		TenantID: d.tenant.ID,
		TalkID:   talkID,
		At:       time.Now(),
		Fields:   fields,
	}
	if err := d.deps.Events.Publish(ctx, env); err != nil {
		d.deps.Logger.Warn("event publish failed", "kind", kind, "error", err)
	}
}

// updateGauges recomputes the tenant's gauge metrics.
func (d *Dispatcher) updateGauges() {
	d.mu.Lock()
	var waiting int
	for _, t := range d.talks {
		if t.Status() == store.StatusWaiting {
			waiting++
		}
	}
	live := len(d.talks)
	d.mu.Unlock()

	var online int
	for _, tok := range d.deps.Agents.All() {
		if tok.Online() {
			online++
		}
	}

	key := d.tenant.Key
	d.deps.Metrics.WaitingTalks.WithLabelValues(key).Set(float64(waiting))
	d.deps.Metrics.LiveTalks.WithLabelValues(key).Set(float64(live))
	d.deps.Metrics.ConnectedAgents.WithLabelValues(key).Set(float64(online))
}
