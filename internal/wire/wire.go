// ABOUTME: Wire contract for the livedesk realtime channels
// ABOUTME: Closed set of inbound/outbound event names, payload shapes, and ack envelopes

package wire

import (
	"encoding/json"
	"time"
)

// Inbound event names. Every request a customer or agent socket may send is
// one of these; anything else is a validation error.
const (
	EventConnect       = "connect"
	EventLogin         = "login"
	EventReady         = "ready"
	EventTalkSend      = "talk/send"
	EventTalkStart     = "talk/start"
	EventTalkClose     = "talk/close"
	EventTalkJoin      = "talk/join"
	EventTalkLeave     = "talk/leave"
	EventMessageEdit   = "message/edit"
	EventMessageDelete = "message/delete"
)

// Outbound event names.
const (
	EventTalkList         = "talk/list"
	EventTalkDetail       = "talk/detail"
	EventTalkStarted      = "talk/start"
	EventTalkClosed       = "talk/closed"
	EventTalkUnprocessed  = "talk/unprocessed"
	EventExecutiveChanged = "executive/changed"
	EventOnline           = "online"
	EventOffline          = "offline"
	EventMessage          = "message"
	EventMessageError     = "message/error"
	EventRoomReady        = "room/ready"
	EventRoomUnready      = "room/unready"
	EventDuplicateLogin   = "duplicate/login"
	EventLoginOK          = "login/ok"
)

// Content type tags accepted by talk/send.
const (
	ContentText    = "text/plain"
	ContentJPEG    = "image/jpeg"
	ContentPNG     = "image/png"
	ContentSticker = "sticker"
)

// Frame is the envelope every inbound message arrives in. Data is decoded
// per Event into one of the request structs below. AckID, when non-zero,
// obliges the server to answer with exactly one Ack frame.
type Frame struct {
	Event string          `json:"event"`
	AckID int64           `json:"ack_id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Ack is the response envelope for acknowledged requests. Code 0 carries
// Data; any other code carries Message. Never both.
type Ack struct {
	AckID   int64  `json:"ack_id"`
	Code    int    `json:"code"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// ConnectRequest opens (or resumes) a customer session. ChatKey is the
// customer's reconnect key; empty means the server generates one.
type ConnectRequest struct {
	ChatKey string `json:"chat_key"`
	Name    string `json:"name,omitempty"`
}

// LoginRequest authenticates an agent socket, either with credentials or
// with a previously issued session token.
type LoginRequest struct {
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	SessionToken string `json:"session_token,omitempty"`
}

// ReadyRequest toggles an agent room's readiness for assignment.
type ReadyRequest struct {
	Ready bool `json:"ready"`
}

// SendRequest posts a message into a talk. For image types Content is the
// base64-encoded bytes; for stickers it is the sticker id.
type SendRequest struct {
	TalkID  int64  `json:"talk_id"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

// TalkRequest addresses a talk by id (start, close, join, leave).
type TalkRequest struct {
	TalkID int64  `json:"talk_id"`
	Remark string `json:"remark,omitempty"`
	Force  bool   `json:"force,omitempty"`
}

// MessageEditRequest edits or deletes a message within a talk.
type MessageEditRequest struct {
	TalkID    int64  `json:"talk_id"`
	MessageID string `json:"message_id"`
	Content   string `json:"content,omitempty"`
}

// MessagePayload is the broadcast shape of a single message. Image and
// sticker content arrives as a URL resolved against the configured base.
type MessagePayload struct {
	ID        string    `json:"id"`
	TalkID    int64     `json:"talk_id"`
	Sender    string    `json:"sender"`
	SenderID  int64     `json:"sender_id"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// TalkSummary is the list-snapshot shape of a talk.
type TalkSummary struct {
	ID           int64      `json:"id"`
	CustomerName string     `json:"customer_name"`
	ExecutiveID  int64      `json:"executive_id"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	StartAt      *time.Time `json:"start_at,omitempty"`
	Online       bool       `json:"online"`
}

// TalkDetail is the full re-push shape: summary plus the recent messages,
// newest first.
type TalkDetail struct {
	TalkSummary
	ClosedAt    *time.Time       `json:"closed_at,omitempty"`
	TimeWaiting int64            `json:"time_waiting_seconds"`
	TimeService int64            `json:"time_service_seconds"`
	Remark      string           `json:"remark,omitempty"`
	Messages    []MessagePayload `json:"messages"`
}

// RoomState is broadcast on room/ready and room/unready.
type RoomState struct {
	AgentID   int64  `json:"agent_id"`
	Name      string `json:"name"`
	Ready     bool   `json:"ready"`
	TalkCount int    `json:"talk_count"`
}

// ErrorNotice is the payload of message/error.
type ErrorNotice struct {
	Message string `json:"message"`
}

// Transport is a live connection to one participant. Implementations must
// tolerate Send after Close (returning an error) and must make Close
// idempotent. Identity is the connection id, not the bound user: a stale
// transport's close event is distinguished by comparing ids.
type Transport interface {
	ID() string
	Send(event string, payload any) error
	Close(reason string)
}
