// ABOUTME: CustomerToken binds an anonymous customer's reconnect key to a live transport
// ABOUTME: Enforces single active session and the post-disconnect destroy grace timer

package presence

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/livedesk/internal/wire"
)

// ErrTransportUnavailable is returned when an operation needs a live
// transport but the token is offline.
var ErrTransportUnavailable = errors.New("transport unavailable")

// CustomerToken represents one customer's presence: a durable reconnect key
// bound to at most one live transport. It never owns a Talk; talks hold a
// non-owning reference back.
type CustomerToken struct {
	mu         sync.Mutex
	chatKey    string
	name       string
	transport  wire.Transport
	graceTimer *time.Timer
	logger     *slog.Logger
}

func newCustomerToken(chatKey, name string, logger *slog.Logger) *CustomerToken {
	return &CustomerToken{
		chatKey: chatKey,
		name:    name,
		logger:  logger,
	}
}

// ChatKey returns the customer's durable reconnect key.
func (t *CustomerToken) ChatKey() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chatKey
}

// Name returns the customer's display name.
func (t *CustomerToken) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.name
}

// Online reports whether a live transport is bound.
func (t *CustomerToken) Online() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transport != nil
}

// Connect binds a new transport as current. If another transport is already
// live it is force-disconnected first with a duplicate-login notice.
// Any pending destroy timer is cancelled.
func (t *CustomerToken) Connect(tr wire.Transport) {
	t.mu.Lock()
	old := t.transport
	t.transport = tr
	if t.graceTimer != nil {
		t.graceTimer.Stop()
		t.graceTimer = nil
	}
	t.mu.Unlock()

	if old != nil && old.ID() != tr.ID() {
		_ = old.Send(wire.EventDuplicateLogin, nil)
		old.Close("duplicate login")
		t.logger.Info("replaced customer transport",
			"chat_key", t.chatKey, "old_conn", old.ID(), "new_conn", tr.ID())
	}
}

// Disconnect marks the token offline if tr is still the current transport.
// A stale transport's close event (one already replaced by Connect) is
// ignored: identity is decided by connection id, not by the online flag.
// Returns true when the token actually went offline.
func (t *CustomerToken) Disconnect(tr wire.Transport) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.transport == nil || t.transport.ID() != tr.ID() {
		return false
	}
	t.transport = nil
	return true
}

// Send delivers an event to the live transport.
// Returns ErrTransportUnavailable when offline.
func (t *CustomerToken) Send(event string, payload any) error {
	t.mu.Lock()
	tr := t.transport
	t.mu.Unlock()

	if tr == nil {
		return ErrTransportUnavailable
	}
	return tr.Send(event, payload)
}

// CloseTransport force-disconnects the live transport, if any. Used by
// Talk.Close, which disconnects the customer as a side effect.
func (t *CustomerToken) CloseTransport(reason string) {
	t.mu.Lock()
	tr := t.transport
	t.transport = nil
	t.mu.Unlock()

	if tr != nil {
		tr.Close(reason)
	}
}

// cancelGrace stops a pending destroy timer, if any.
func (t *CustomerToken) cancelGrace() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.graceTimer != nil {
		t.graceTimer.Stop()
		t.graceTimer = nil
	}
}

// scheduleDestroy arms the destroy grace timer; expire runs unless a
// reconnect cancels it first. Re-arming replaces any previous timer.
func (t *CustomerToken) scheduleDestroy(grace time.Duration, expire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.graceTimer != nil {
		t.graceTimer.Stop()
	}
	t.graceTimer = time.AfterFunc(grace, expire)
}
