// ABOUTME: Message handling inside a talk: classify, persist, cache, broadcast
// ABOUTME: Persistence failures leave the cache untouched and broadcast nothing

package talk

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/livedesk/internal/events"
	"github.com/2389/livedesk/internal/presence"
	"github.com/2389/livedesk/internal/store"
	"github.com/2389/livedesk/internal/wire"
)

var (
	// ErrStickerNotFound is returned when a sticker message references an
	// unknown sticker id.
	ErrStickerNotFound = errors.New("sticker not found")
	// ErrUnauthorizedEditMessage is returned when a non-supervisor tries
	// to edit or delete a message.
	ErrUnauthorizedEditMessage = errors.New("only supervisors may edit messages")
	// ErrEmptyContent is returned for messages with no content.
	ErrEmptyContent = errors.New("empty message content")
)

// SendMessage classifies, persists, caches, and broadcasts one message.
// Sender is the classification (system, service, customer); senderID is the
// agent id for service messages and 0 otherwise. Content depends on the
// content type: text as-is, images as base64 bytes, stickers as the sticker
// id. The returned payload is what participants received.
func (t *Talk) SendMessage(ctx context.Context, sender string, senderID int64, contentType, content string) (*wire.MessagePayload, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	t.mu.Lock()
	if t.rec.Terminal() {
		t.mu.Unlock()
		return nil, ErrTalkClosed
	}
	talkID := t.rec.ID
	tenantID := t.rec.TenantID
	t.mu.Unlock()

	msgType, stored, err := t.classify(ctx, tenantID, contentType, content)
	if err != nil {
		return nil, err
	}

	msg := &store.Message{
		ID:        uuid.New().String(),
		TalkID:    talkID,
		Sender:    sender,
		SenderID:  senderID,
		Content:   stored,
		Type:      msgType,
		CreatedAt: time.Now(),
	}
	if err := t.deps.Store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persisting message: %w", err)
	}
	t.deps.Metrics.Messages.WithLabelValues(t.deps.TenantKey, sender).Inc()

	t.mu.Lock()
	t.cacheLocked(msg)
	payload := t.messagePayload(msg)
	targets := t.participantsLocked()
	t.mu.Unlock()

	_ = t.customer.Send(wire.EventMessage, payload)
	for _, tok := range targets {
		_ = tok.Send(wire.EventMessage, payload)
	}
	t.publish(ctx, events.KindMessageSent, map[string]any{
		"message_id": msg.ID, "sender": sender, "type": msgType,
	})

	return &payload, nil
}

// classify maps the wire content type to a stored message type and content.
func (t *Talk) classify(ctx context.Context, tenantID int64, contentType, content string) (string, string, error) {
	switch contentType {
	case wire.ContentText:
		return store.TypeText, content, nil

	case wire.ContentJPEG, wire.ContentPNG:
		data, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return "", "", fmt.Errorf("decoding image payload: %w", err)
		}
		name, err := t.deps.Images.Store(data, contentType)
		if err != nil {
			return "", "", err
		}
		return store.TypeImage, name, nil

	case wire.ContentSticker:
		id, err := strconv.ParseInt(content, 10, 64)
		if err != nil {
			return "", "", fmt.Errorf("%w: bad sticker id %q", ErrStickerNotFound, content)
		}
		sticker, err := t.deps.Store.GetSticker(ctx, tenantID, id)
		if errors.Is(err, store.ErrNotFound) {
			return "", "", ErrStickerNotFound
		}
		if err != nil {
			return "", "", fmt.Errorf("loading sticker: %w", err)
		}
		return store.TypeSticker, sticker.FileName, nil
	}
	return "", "", fmt.Errorf("unsupported content type %q", contentType)
}

// EditMessage rewrites a text message's content. Supervisors only, and the
// message must belong to this talk.
func (t *Talk) EditMessage(ctx context.Context, agent *presence.AgentToken, messageID, content string) (*wire.MessagePayload, error) {
	if agent.Role() != store.RoleSupervisor {
		return nil, ErrUnauthorizedEditMessage
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	msg, err := t.findMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Type != store.TypeText {
		return nil, fmt.Errorf("cannot edit %s message", msg.Type)
	}

	if err := t.deps.Store.UpdateMessageContent(ctx, messageID, content); err != nil {
		return nil, fmt.Errorf("persisting edit: %w", err)
	}

	t.mu.Lock()
	for _, m := range t.recent {
		if m.ID == messageID {
			m.Content = content
			break
		}
	}
	msg.Content = content
	payload := t.messagePayload(msg)
	targets := t.participantsLocked()
	t.mu.Unlock()

	_ = t.customer.Send(wire.EventMessage, payload)
	for _, tok := range targets {
		_ = tok.Send(wire.EventMessage, payload)
	}
	return &payload, nil
}

// DeleteMessage removes a message. Supervisors only.
func (t *Talk) DeleteMessage(ctx context.Context, agent *presence.AgentToken, messageID string) error {
	if agent.Role() != store.RoleSupervisor {
		return ErrUnauthorizedEditMessage
	}

	if _, err := t.findMessage(ctx, messageID); err != nil {
		return err
	}
	if err := t.deps.Store.DeleteMessage(ctx, messageID); err != nil {
		return fmt.Errorf("persisting delete: %w", err)
	}

	t.mu.Lock()
	for i, m := range t.recent {
		if m.ID == messageID {
			t.recent = append(t.recent[:i], t.recent[i+1:]...)
			break
		}
	}
	talkID := t.rec.ID
	targets := t.participantsLocked()
	t.mu.Unlock()

	notice := wire.MessageEditRequest{TalkID: talkID, MessageID: messageID}
	_ = t.customer.Send(wire.EventMessageDelete, notice)
	for _, tok := range targets {
		_ = tok.Send(wire.EventMessageDelete, notice)
	}
	return nil
}

// findMessage resolves a message id within this talk: the recent cache
// first, then the store.
func (t *Talk) findMessage(ctx context.Context, messageID string) (*store.Message, error) {
	t.mu.Lock()
	talkID := t.rec.ID
	for _, m := range t.recent {
		if m.ID == messageID {
			cp := *m
			t.mu.Unlock()
			return &cp, nil
		}
	}
	t.mu.Unlock()

	msgs, err := t.deps.Store.GetTalkMessages(ctx, talkID, 200)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	for _, m := range msgs {
		if m.ID == messageID {
			return m, nil
		}
	}
	return nil, store.ErrNotFound
}

// cacheLocked prepends a message to the recent cache, newest first, capped.
func (t *Talk) cacheLocked(msg *store.Message) {
	t.recent = append([]*store.Message{msg}, t.recent...)
	if len(t.recent) > recentCap {
		t.recent = t.recent[:recentCap]
	}
}

// participantsLocked snapshots the agent-side recipients.
func (t *Talk) participantsLocked() []*presence.AgentToken {
	out := make([]*presence.AgentToken, 0, 1+len(t.watchers))
	if t.executive != nil {
		out = append(out, t.executive)
	}
	for id, tok := range t.watchers {
		if t.executive != nil && id == t.executive.ID() {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// messagePayload converts a stored message to its broadcast shape. File
// contents (images, stickers) resolve to URLs here, never earlier.
func (t *Talk) messagePayload(msg *store.Message) wire.MessagePayload {
	content := msg.Content
	if msg.Type == store.TypeImage || msg.Type == store.TypeSticker {
		content = t.deps.FileURL(msg.Content)
	}
	return wire.MessagePayload{
		ID:        msg.ID,
		TalkID:    msg.TalkID,
		Sender:    msg.Sender,
		SenderID:  msg.SenderID,
		Type:      msg.Type,
		Content:   content,
		CreatedAt: msg.CreatedAt,
	}
}
