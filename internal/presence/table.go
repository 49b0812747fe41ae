// ABOUTME: Tenant-scoped lookup tables for customer and agent presence tokens
// ABOUTME: CustomerTable owns the destroy grace; tokens are removed when it expires offline

package presence

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/livedesk/internal/store"
)

// CustomerTable maps chat keys to customer tokens for one tenant. Tokens are
// created on first connect and destroyed only after staying offline for the
// full grace period.
type CustomerTable struct {
	mu     sync.Mutex
	byKey  map[string]*CustomerToken
	grace  time.Duration
	logger *slog.Logger

	// onDestroy runs after a token is removed by grace expiry. Optional.
	onDestroy func(chatKey string)
}

// NewCustomerTable creates an empty table with the given destroy grace.
func NewCustomerTable(grace time.Duration, logger *slog.Logger) *CustomerTable {
	if logger == nil {
		logger = slog.Default()
	}
	return &CustomerTable{
		byKey:  make(map[string]*CustomerToken),
		grace:  grace,
		logger: logger.With("component", "presence"),
	}
}

// SetOnDestroy registers a hook invoked after grace expiry removes a token.
// Must be called before connections are accepted.
func (ct *CustomerTable) SetOnDestroy(fn func(chatKey string)) {
	ct.onDestroy = fn
}

// FindOrCreate returns the token for the given chat key, creating one when
// the key is empty or unknown. An empty key gets a freshly generated one.
// The second return reports whether a new token was created.
func (ct *CustomerTable) FindOrCreate(chatKey, name string) (*CustomerToken, bool) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if chatKey != "" {
		if tok, ok := ct.byKey[chatKey]; ok {
			return tok, false
		}
	} else {
		chatKey = uuid.New().String()
	}

	tok := newCustomerToken(chatKey, name, ct.logger)
	ct.byKey[chatKey] = tok
	return tok, true
}

// Get returns the token for a chat key, or nil.
func (ct *CustomerTable) Get(chatKey string) *CustomerToken {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.byKey[chatKey]
}

// StartGrace arms the destroy timer for a token that just went offline.
// If the customer reconnects before expiry the timer is cancelled by
// Connect; otherwise the token is removed and the destroy hook fires.
func (ct *CustomerTable) StartGrace(tok *CustomerToken) {
	tok.scheduleDestroy(ct.grace, func() {
		if tok.Online() {
			return
		}
		ct.mu.Lock()
		delete(ct.byKey, tok.ChatKey())
		ct.mu.Unlock()

		ct.logger.Info("customer token destroyed", "chat_key", tok.ChatKey())
		if ct.onDestroy != nil {
			ct.onDestroy(tok.ChatKey())
		}
	})
}

// Remove drops a token immediately, bypassing the grace. Used when the talk
// is closed and the reconnect key has nothing left to reconnect to. Any
// armed grace timer is cancelled so the destroy hook cannot fire for a
// token that is already gone.
func (ct *CustomerTable) Remove(chatKey string) {
	ct.mu.Lock()
	tok := ct.byKey[chatKey]
	delete(ct.byKey, chatKey)
	ct.mu.Unlock()

	if tok != nil {
		tok.cancelGrace()
	}
}

// Len returns the number of live tokens.
func (ct *CustomerTable) Len() int {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return len(ct.byKey)
}

// AgentTable maps agent ids to agent tokens for one tenant. Agent tokens are
// durable for the process lifetime: going offline never destroys them, so a
// reconnect with the session token finds the same identity.
type AgentTable struct {
	mu     sync.Mutex
	byID   map[int64]*AgentToken
	logger *slog.Logger
}

// NewAgentTable creates an empty table.
func NewAgentTable(logger *slog.Logger) *AgentTable {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentTable{
		byID:   make(map[int64]*AgentToken),
		logger: logger.With("component", "presence"),
	}
}

// FindOrCreate returns the token for the given agent record, creating one on
// first login.
func (at *AgentTable) FindOrCreate(agent *store.Agent) *AgentToken {
	at.mu.Lock()
	defer at.mu.Unlock()

	if tok, ok := at.byID[agent.ID]; ok {
		return tok
	}
	tok := newAgentToken(agent, at.logger)
	at.byID[agent.ID] = tok
	return tok
}

// Get returns the token for an agent id, or nil.
func (at *AgentTable) Get(id int64) *AgentToken {
	at.mu.Lock()
	defer at.mu.Unlock()
	return at.byID[id]
}

// All returns a snapshot of every token.
func (at *AgentTable) All() []*AgentToken {
	at.mu.Lock()
	defer at.mu.Unlock()

	out := make([]*AgentToken, 0, len(at.byID))
	for _, tok := range at.byID {
		out = append(out, tok)
	}
	return out
}
