// ABOUTME: AgentToken binds an authenticated agent's identity to a live transport
// ABOUTME: Reconnects must present the session token issued at login

package presence

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/2389/livedesk/internal/store"
	"github.com/2389/livedesk/internal/wire"
)

// ErrSessionMismatch is returned when a reconnect presents a session token
// that does not match the one issued at login.
var ErrSessionMismatch = errors.New("session token mismatch")

// AgentToken represents one agent's presence: authenticated identity bound
// to at most one live transport. The session token is issued at login and
// must be presented again on reconnect.
type AgentToken struct {
	mu           sync.Mutex
	agent        store.Agent
	sessionToken string
	transport    wire.Transport
	logger       *slog.Logger
}

func newAgentToken(agent *store.Agent, logger *slog.Logger) *AgentToken {
	return &AgentToken{agent: *agent, logger: logger}
}

// ID returns the agent's database id.
func (t *AgentToken) ID() int64 {
	return t.agent.ID
}

// DisplayName returns the agent's display name.
func (t *AgentToken) DisplayName() string {
	return t.agent.DisplayName
}

// Role returns the agent's role.
func (t *AgentToken) Role() string {
	return t.agent.Role
}

// Online reports whether a live transport is bound.
func (t *AgentToken) Online() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transport != nil
}

// Connect binds a new transport after a fresh login, recording the session
// token issued for it. An already-live transport is force-disconnected with
// a duplicate-login notice first.
func (t *AgentToken) Connect(tr wire.Transport, sessionToken string) {
	t.mu.Lock()
	old := t.transport
	t.transport = tr
	t.sessionToken = sessionToken
	t.mu.Unlock()

	if old != nil && old.ID() != tr.ID() {
		_ = old.Send(wire.EventDuplicateLogin, nil)
		old.Close("duplicate login")
		t.logger.Info("replaced agent transport",
			"agent_id", t.agent.ID, "old_conn", old.ID(), "new_conn", tr.ID())
	}
}

// Reconnect binds a new transport presenting the session token from a prior
// login. Returns ErrSessionMismatch when the token does not match.
func (t *AgentToken) Reconnect(tr wire.Transport, sessionToken string) error {
	t.mu.Lock()
	if t.sessionToken == "" || t.sessionToken != sessionToken {
		t.mu.Unlock()
		return ErrSessionMismatch
	}
	old := t.transport
	t.transport = tr
	t.mu.Unlock()

	if old != nil && old.ID() != tr.ID() {
		_ = old.Send(wire.EventDuplicateLogin, nil)
		old.Close("duplicate login")
	}
	return nil
}

// Disconnect marks the token offline if tr is still the current transport.
// Stale transports are ignored; identity is decided by connection id.
// The session token survives so the agent can reconnect.
func (t *AgentToken) Disconnect(tr wire.Transport) bool {
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
func (t *AgentToken) Send(event string, payload any) error {
	t.mu.Lock()
	tr := t.transport
	t.mu.Unlock()

	if tr == nil {
		return ErrTransportUnavailable
	}
	return tr.Send(event, payload)
}
