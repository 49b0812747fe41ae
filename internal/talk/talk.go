// ABOUTME: Talk is the unit of conversation: lifecycle, assignment, and broadcast fan-out
// ABOUTME: Every mutation persists before it broadcasts; terminal talks reject further operations

package talk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/livedesk/internal/events"
	"github.com/2389/livedesk/internal/imaging"
	"github.com/2389/livedesk/internal/metrics"
	"github.com/2389/livedesk/internal/presence"
	"github.com/2389/livedesk/internal/store"
	"github.com/2389/livedesk/internal/wire"
)

var (
	// ErrTalkClosed is returned when an operation targets a terminal talk.
	ErrTalkClosed = errors.New("talk already closed")
	// ErrNotInTalk is returned when an agent acts on a talk they are
	// neither assigned to nor watching.
	ErrNotInTalk = errors.New("agent not in talk")
)

// recentCap bounds the in-memory message cache, newest first.
const recentCap = 10

// Notifier receives talk lifecycle callbacks. Implemented by the dispatcher,
// which fans agent-facing events out and reclaims closed talks.
type Notifier interface {
	BroadcastAgents(event string, payload any)
	TalkClosed(talkID int64)
}

// Deps carries the collaborators a Talk needs. Logger and Metrics may be nil.
type Deps struct {
	Store     store.Store
	Images    *imaging.Processor
	FileURL   func(name string) string
	Events    events.Publisher
	Notify    Notifier
	Metrics   *metrics.Metrics
	TenantKey string
	Logger    *slog.Logger
}

// Talk is the in-memory conversation state: the durable record, the bound
// participants, and the recent message cache. All mutations go through the
// store first; in-memory state only changes after the write succeeds.
type Talk struct {
	deps Deps

	mu        sync.Mutex
	rec       *store.Talk
	customer  *presence.CustomerToken
	executive *presence.AgentToken
	watchers  map[int64]*presence.AgentToken
	recent    []*store.Message
}

// New wraps a freshly created talk record and its customer token.
func New(rec *store.Talk, customer *presence.CustomerToken, deps Deps) *Talk {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Logger = deps.Logger.With("component", "talk", "talk_id", rec.ID)
	if deps.Events == nil {
		deps.Events = events.NopPublisher{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}
	return &Talk{
		deps:     deps,
		rec:      rec,
		customer: customer,
		watchers: make(map[int64]*presence.AgentToken),
	}
}

// ID returns the talk's database id.
func (t *Talk) ID() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rec.ID
}

// ChatKey returns the customer reconnect key the talk belongs to.
func (t *Talk) ChatKey() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rec.ChatKey
}

// Status returns the current status.
func (t *Talk) Status() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rec.Status
}

// ExecutiveID returns the assigned agent id, 0 when unassigned.
func (t *Talk) ExecutiveID() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rec.ExecutiveID
}

// Customer returns the bound customer token.
func (t *Talk) Customer() *presence.CustomerToken {
	return t.customer
}

// IsParticipant reports whether the agent is assigned to or watching the talk.
func (t *Talk) IsParticipant(agentID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isParticipantLocked(agentID)
}

func (t *Talk) isParticipantLocked(agentID int64) bool {
	if t.executive != nil && t.executive.ID() == agentID {
		return true
	}
	_, ok := t.watchers[agentID]
	return ok
}

// Summary returns the list-snapshot shape.
func (t *Talk) Summary() wire.TalkSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summaryLocked()
}

func (t *Talk) summaryLocked() wire.TalkSummary {
	return wire.TalkSummary{
		ID:           t.rec.ID,
		CustomerName: t.rec.CustomerName,
		ExecutiveID:  t.rec.ExecutiveID,
		Status:       t.rec.Status,
		CreatedAt:    t.rec.CreatedAt,
		StartAt:      t.rec.StartAt,
		Online:       t.customer.Online(),
	}
}

// Detail returns the full re-push shape: summary, timings, and the recent
// messages newest first. Timings for a live talk are computed from now.
func (t *Talk) Detail() wire.TalkDetail {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.detailLocked()
}

func (t *Talk) detailLocked() wire.TalkDetail {
	now := time.Now()
	waiting := t.rec.TimeWaiting
	service := t.rec.TimeService
	if !t.rec.Terminal() {
		if t.rec.Started() {
			service = now.Sub(*t.rec.StartAt)
		} else {
			waiting = now.Sub(t.rec.CreatedAt)
		}
	}

	msgs := make([]wire.MessagePayload, 0, len(t.recent))
	for _, m := range t.recent {
		msgs = append(msgs, t.messagePayload(m))
	}
	return wire.TalkDetail{
		TalkSummary: t.summaryLocked(),
		ClosedAt:    t.rec.ClosedAt,
		TimeWaiting: int64(waiting.Seconds()),
		TimeService: int64(service.Seconds()),
		Remark:      t.rec.Remark,
		Messages:    msgs,
	}
}

// Start assigns the agent as executive and moves the talk to the start
// state, locking in the accumulated waiting time.
func (t *Talk) Start(ctx context.Context, agent *presence.AgentToken) error {
	t.mu.Lock()
	if t.rec.Terminal() {
		t.mu.Unlock()
		return ErrTalkClosed
	}
	if t.rec.Started() {
		t.mu.Unlock()
		return fmt.Errorf("talk %d already started", t.rec.ID)
	}

	now := time.Now()
	next := *t.rec
	next.ExecutiveID = agent.ID()
	next.Status = store.StatusStart
	next.StartAt = &now
	next.TimeWaiting = now.Sub(next.CreatedAt)

	if err := t.deps.Store.UpdateTalk(ctx, &next); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("persisting start: %w", err)
	}
	t.rec = &next
	t.executive = agent
	summary := t.summaryLocked()
	detail := t.detailLocked()
	t.mu.Unlock()

	_ = t.customer.Send(wire.EventTalkStarted, summary)
	_ = agent.Send(wire.EventTalkDetail, detail)
	t.deps.Notify.BroadcastAgents(wire.EventTalkStarted, summary)
	t.publish(ctx, events.KindTalkStarted, map[string]any{"executive_id": agent.ID()})

	t.deps.Logger.Info("talk started", "executive_id", agent.ID())
	return nil
}

// TransferTo reassigns the talk to another agent. An unstarted talk is
// started instead; a terminal talk is left untouched.
func (t *Talk) TransferTo(ctx context.Context, agent *presence.AgentToken) error {
	t.mu.Lock()
	if t.rec.Terminal() {
		t.mu.Unlock()
		t.deps.Logger.Debug("transfer ignored, talk is terminal")
		return nil
	}
	if !t.rec.Started() {
		t.mu.Unlock()
		return t.Start(ctx, agent)
	}

	next := *t.rec
	next.ExecutiveID = agent.ID()

	if err := t.deps.Store.UpdateTalk(ctx, &next); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("persisting transfer: %w", err)
	}
	t.rec = &next
	t.executive = agent
	summary := t.summaryLocked()
	detail := t.detailLocked()
	t.mu.Unlock()

	_ = t.customer.Send(wire.EventExecutiveChanged, summary)
	_ = agent.Send(wire.EventTalkDetail, detail)
	t.deps.Notify.BroadcastAgents(wire.EventExecutiveChanged, summary)
	t.publish(ctx, events.KindTalkTransferred, map[string]any{"executive_id": agent.ID()})

	t.deps.Logger.Info("talk transferred", "executive_id", agent.ID())
	return nil
}

// JoinWatcher adds a supervisor (or any second agent) as a watcher and
// pushes the full detail to them. Joining twice is a no-op.
func (t *Talk) JoinWatcher(agent *presence.AgentToken) error {
	t.mu.Lock()
	if t.rec.Terminal() {
		t.mu.Unlock()
		return ErrTalkClosed
	}
	t.watchers[agent.ID()] = agent
	detail := t.detailLocked()
	t.mu.Unlock()

	_ = agent.Send(wire.EventTalkDetail, detail)
	return nil
}

// LeaveWatcher removes a watcher. Leaving a talk never watched is a no-op.
func (t *Talk) LeaveWatcher(agentID int64) {
	t.mu.Lock()
	delete(t.watchers, agentID)
	t.mu.Unlock()
}

// OnReconnected re-pushes the detail to the customer and tells agents the
// customer is back online.
func (t *Talk) OnReconnected() {
	t.mu.Lock()
	if t.rec.Terminal() {
		t.mu.Unlock()
		return
	}
	summary := t.summaryLocked()
	detail := t.detailLocked()
	t.mu.Unlock()

	_ = t.customer.Send(wire.EventTalkDetail, detail)
	t.deps.Notify.BroadcastAgents(wire.EventOnline, summary)
}

// OnDisconnected reacts to the customer's transport dropping. Agents are
// told the customer went offline. A talk that was never started and lived
// for less than connectLimit is auto-closed as unprocessed: nobody served
// the customer and the customer is already gone.
func (t *Talk) OnDisconnected(ctx context.Context, connectLimit time.Duration) {
	t.mu.Lock()
	if t.rec.Terminal() {
		t.mu.Unlock()
		return
	}
	summary := t.summaryLocked()
	elapsed := time.Since(t.rec.CreatedAt)
	autoClose := !t.rec.Started() && connectLimit > 0 && elapsed < connectLimit
	t.mu.Unlock()

	t.deps.Notify.BroadcastAgents(wire.EventOffline, summary)

	if autoClose {
		remark := fmt.Sprintf("customer disconnected after %d seconds", int(elapsed.Seconds()))
		if err := t.Close(ctx, remark, false); err != nil && !errors.Is(err, ErrTalkClosed) {
			t.deps.Logger.Error("auto-close failed", "error", err)
		}
	}
}

// Close terminates the talk. A started talk closes as Closed with the
// service time locked in; an unstarted one closes as Unprocessed with the
// waiting time recomputed, unless force promotes it to Closed anyway.
// Closing a terminal talk returns ErrTalkClosed.
func (t *Talk) Close(ctx context.Context, remark string, force bool) error {
	t.mu.Lock()
	if t.rec.Terminal() {
		t.mu.Unlock()
		return ErrTalkClosed
	}

	now := time.Now()
	next := *t.rec
	next.ClosedAt = &now
	next.Remark = remark
	if next.Started() {
		next.Status = store.StatusClosed
		next.TimeService = now.Sub(*next.StartAt)
	} else {
		next.TimeWaiting = now.Sub(next.CreatedAt)
		if force {
			next.Status = store.StatusClosed
		} else {
			next.Status = store.StatusUnprocessed
		}
	}

	if err := t.deps.Store.UpdateTalk(ctx, &next); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("persisting close: %w", err)
	}
	t.rec = &next
	detail := t.detailLocked()
	t.mu.Unlock()

	event := wire.EventTalkClosed
	kind := events.KindTalkClosed
	if next.Status == store.StatusUnprocessed {
		event = wire.EventTalkUnprocessed
		kind = events.KindTalkUnprocessed
	}

	_ = t.customer.Send(event, detail)
	t.customer.CloseTransport("talk closed")
	t.deps.Notify.BroadcastAgents(event, detail)
	t.deps.Notify.TalkClosed(next.ID)
	t.publish(ctx, kind, map[string]any{"status": next.Status, "remark": remark})

	t.deps.Logger.Info("talk closed", "status", next.Status, "remark", remark)
	return nil
}

// publish emits a lifecycle event, best-effort.
func (t *Talk) publish(ctx context.Context, kind string, fields map[string]any) {
	t.mu.Lock()
	env := events.Envelope{
		Kind:     kind,
		TenantID: t.rec.TenantID,
		TalkID:   t.rec.ID,
		At:       time.Now(),
		Fields:   fields,
	}
	t.mu.Unlock()

	if err := t.deps.Events.Publish(ctx, env); err != nil {
		t.deps.Logger.Warn("event publish failed", "kind", kind, "error", err)
	}
}
