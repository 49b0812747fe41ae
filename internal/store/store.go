// ABOUTME: Store interface and data types for livedesk persistence
// ABOUTME: Defines Tenant, Agent, Talk, Message, Sticker, Article and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Tenant represents one company account. Each tenant owns an isolated
// dispatcher and its own presence tables.
type Tenant struct {
	ID        int64
	Key       string // routing key carried by inbound connections
	Name      string
	CreatedAt time.Time
}

// Agent roles
const (
	RoleExecutive  = "executive"
	RoleSupervisor = "supervisor"
)

// Agent represents a support staff member who can be assigned to talks.
type Agent struct {
	ID           int64
	TenantID     int64
	Username     string
	PasswordHash string // bcrypt
	DisplayName  string
	Role         string // "executive" or "supervisor"
	Disabled     bool
	CreatedAt    time.Time
}

// Talk status values
const (
	StatusWaiting     = "waiting"
	StatusStart       = "start"
	StatusClosed      = "closed"
	StatusUnprocessed = "unprocessed"
	StatusShutdown    = "shutdown" // terminal crash-recovery marker, never set by handlers
)

// Talk represents the durable snapshot of one customer-support conversation.
// The id is assigned by the database at creation.
type Talk struct {
	ID           int64
	TenantID     int64
	ChatKey      string // customer reconnect key
	CustomerName string
	ExecutiveID  int64 // 0 = unassigned
	Status       string
	CreatedAt    time.Time
	StartAt      *time.Time
	ClosedAt     *time.Time
	TimeWaiting  time.Duration // accumulated waiting duration
	TimeService  time.Duration // accumulated service duration
	Remark       string
}

// Started reports whether the talk ever reached the start state.
func (t *Talk) Started() bool {
	return t.StartAt != nil
}

// Terminal reports whether the talk is in a state that accepts no further
// start or transfer operations.
func (t *Talk) Terminal() bool {
	switch t.Status {
	case StatusClosed, StatusUnprocessed, StatusShutdown:
		return true
	}
	return false
}

// Message sender classifications
const (
	SenderSystem   = "system"
	SenderService  = "service" // the assigned or watching agent
	SenderCustomer = "customer"
)

// Message type values
const (
	TypeText    = "text"
	TypeImage   = "image"
	TypeSticker = "sticker"
)

// Message represents a single talk message. For image and sticker types
// Content is a stored file name, resolved against the configured base URL
// at read time, never embedded inline.
type Message struct {
	ID        string // uuid
	TalkID    int64
	Sender    string // system, service, customer
	SenderID  int64  // 0 for customer and system messages
	Content   string
	Type      string // text, image, sticker
	CreatedAt time.Time
}

// Sticker represents a pre-existing sticker record whose stored image
// reference is copied into sticker messages.
type Sticker struct {
	ID       int64
	TenantID int64
	Name     string
	FileName string
}

// Article tags recognized by the auto-send integration
const (
	TagConnected = "connected"
	TagStart     = "start"
)

// Article represents a canned support article. Articles tagged "connected"
// or "start" are auto-sent into talks at the matching lifecycle point.
type Article struct {
	ID        int64
	TenantID  int64
	Title     string
	Content   string // markdown source
	Tag       string
	UpdatedAt time.Time
}

// Store defines the persistence collaborator contract consumed by the
// dispatch core. The core performs read-modify-write sequences; per-tenant
// serialization in the dispatcher is its concurrency safety net.
type Store interface {
	// Tenants
	ListTenants(ctx context.Context) ([]*Tenant, error)
	GetTenantByKey(ctx context.Context, key string) (*Tenant, error)

	// Agents
	GetAgent(ctx context.Context, id int64) (*Agent, error)
	GetAgentByUsername(ctx context.Context, tenantID int64, username string) (*Agent, error)
	ListAgents(ctx context.Context, tenantID int64) ([]*Agent, error)

	// Talks
	CreateTalk(ctx context.Context, talk *Talk) error // assigns talk.ID
	UpdateTalk(ctx context.Context, talk *Talk) error
	ListLiveTalks(ctx context.Context, tenantID int64) ([]*Talk, error)
	MarkTalksShutdown(ctx context.Context, tenantID int64) (int64, error)

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	GetTalkMessages(ctx context.Context, talkID int64, limit int) ([]*Message, error)
	UpdateMessageContent(ctx context.Context, id, content string) error
	DeleteMessage(ctx context.Context, id string) error

	// Stickers
	GetSticker(ctx context.Context, tenantID, id int64) (*Sticker, error)

	// Articles
	ListArticlesByTag(ctx context.Context, tenantID int64, tag string) ([]*Article, error)

	// Close releases any resources held by the store
	Close() error
}
