// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	tenants  map[int64]*Tenant
	agents   map[int64]*Agent
	talks    map[int64]*Talk
	messages map[string]*Message
	stickers map[int64]*Sticker
	articles map[int64]*Article

	nextTenantID  int64
	nextAgentID   int64
	nextTalkID    int64
	nextStickerID int64
	nextArticleID int64

	// SaveMessageErr, when set, is returned by SaveMessage. Used to verify
	// that a failed persistence write leaves in-memory state untouched.
	SaveMessageErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		tenants:  make(map[int64]*Tenant),
		agents:   make(map[int64]*Agent),
		talks:    make(map[int64]*Talk),
		messages: make(map[string]*Message),
		stickers: make(map[int64]*Sticker),
		articles: make(map[int64]*Article),
	}
}

// ListTenants returns all tenants ordered by id.
func (m *MockStore) ListTenants(ctx context.Context) ([]*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		c := *t
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetTenantByKey retrieves a tenant by routing key.
func (m *MockStore) GetTenantByKey(ctx context.Context, key string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.tenants {
		if t.Key == key {
			c := *t
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// GetAgent retrieves an agent by id.
func (m *MockStore) GetAgent(ctx context.Context, id int64) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *a
	return &c, nil
}

// GetAgentByUsername retrieves an agent by tenant and username.
func (m *MockStore) GetAgentByUsername(ctx context.Context, tenantID int64, username string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.agents {
		if a.TenantID == tenantID && a.Username == username {
			c := *a
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// ListAgents returns a tenant's agents ordered by id.
func (m *MockStore) ListAgents(ctx context.Context, tenantID int64) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Agent
	for _, a := range m.agents {
		if a.TenantID == tenantID {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateTalk stores a new talk and assigns its id.
func (m *MockStore) CreateTalk(ctx context.Context, talk *Talk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextTalkID++
	talk.ID = m.nextTalkID
	c := *talk
	m.talks[c.ID] = &c
	return nil
}

// GetTalk retrieves a talk by id.
func (m *MockStore) GetTalk(ctx context.Context, id int64) (*Talk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.talks[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *t
	return &c, nil
}

// UpdateTalk replaces a stored talk.
func (m *MockStore) UpdateTalk(ctx context.Context, talk *Talk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.talks[talk.ID]; !ok {
		return ErrNotFound
	}
	c := *talk
	m.talks[c.ID] = &c
	return nil
}

// ListLiveTalks returns a tenant's waiting and started talks ordered by id.
func (m *MockStore) ListLiveTalks(ctx context.Context, tenantID int64) ([]*Talk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Talk
	for _, t := range m.talks {
		if t.TenantID == tenantID && (t.Status == StatusWaiting || t.Status == StatusStart) {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MarkTalksShutdown marks a tenant's live talks with the shutdown status.
func (m *MockStore) MarkTalksShutdown(ctx context.Context, tenantID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var n int64
	for _, t := range m.talks {
		if t.TenantID == tenantID && (t.Status == StatusWaiting || t.Status == StatusStart) {
			t.Status = StatusShutdown
			t.ClosedAt = &now
			n++
		}
	}
	return n, nil
}

// SaveMessage stores a message.
func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveMessageErr != nil {
		return m.SaveMessageErr
	}

	c := *msg
	m.messages[c.ID] = &c
	return nil
}

// GetTalkMessages returns a talk's messages, newest first.
func (m *MockStore) GetTalkMessages(ctx context.Context, talkID int64, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Message
	for _, msg := range m.messages {
		if msg.TalkID == talkID {
			c := *msg
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateMessageContent replaces a message's content.
func (m *MockStore) UpdateMessageContent(ctx context.Context, id, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return ErrNotFound
	}
	msg.Content = content
	return nil
}

// DeleteMessage removes a message.
func (m *MockStore) DeleteMessage(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.messages[id]; !ok {
		return ErrNotFound
	}
	delete(m.messages, id)
	return nil
}

// GetSticker retrieves a sticker by tenant and id.
func (m *MockStore) GetSticker(ctx context.Context, tenantID, id int64) (*Sticker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.stickers[id]
	if !ok || st.TenantID != tenantID {
		return nil, ErrNotFound
	}
	c := *st
	return &c, nil
}

// ListArticlesByTag returns a tenant's articles carrying the given tag.
func (m *MockStore) ListArticlesByTag(ctx context.Context, tenantID int64, tag string) ([]*Article, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Article
	for _, a := range m.articles {
		if a.TenantID == tenantID && a.Tag == tag {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateTenant stores a tenant and assigns its id.
func (m *MockStore) CreateTenant(ctx context.Context, tenant *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextTenantID++
	tenant.ID = m.nextTenantID
	c := *tenant
	m.tenants[c.ID] = &c
	return nil
}

// CreateAgent stores an agent and assigns its id.
func (m *MockStore) CreateAgent(ctx context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextAgentID++
	agent.ID = m.nextAgentID
	if agent.Role == "" {
		agent.Role = RoleExecutive
	}
	c := *agent
	m.agents[c.ID] = &c
	return nil
}

// CreateSticker stores a sticker and assigns its id.
func (m *MockStore) CreateSticker(ctx context.Context, sticker *Sticker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextStickerID++
	sticker.ID = m.nextStickerID
	c := *sticker
	m.stickers[c.ID] = &c
	return nil
}

// CreateArticle stores an article and assigns its id.
func (m *MockStore) CreateArticle(ctx context.Context, article *Article) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextArticleID++
	article.ID = m.nextArticleID
	c := *article
	m.articles[c.ID] = &c
	return nil
}

// MessageCount returns the number of stored messages. Test helper.
func (m *MockStore) MessageCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}
