// ABOUTME: Websocket endpoints for customer and agent channels
// ABOUTME: Decodes frames, routes to the tenant dispatcher, acks exactly once

package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/2389/livedesk/internal/auth"
	"github.com/2389/livedesk/internal/presence"
	"github.com/2389/livedesk/internal/store"
	"github.com/2389/livedesk/internal/talk"
	"github.com/2389/livedesk/internal/tenant"
	"github.com/2389/livedesk/internal/wire"
)

// connectResult is the ack payload of a successful customer connect.
type connectResult struct {
	ChatKey string          `json:"chat_key"`
	Talk    wire.TalkDetail `json:"talk"`
}

// loginResult is the ack payload of a successful agent login.
type loginResult struct {
	AgentID      int64  `json:"agent_id"`
	DisplayName  string `json:"display_name"`
	Role         string `json:"role"`
	SessionToken string `json:"session_token"`
}

// Server serves the two websocket channels. The tenant routing key arrives
// as a query parameter; everything after the upgrade is frames.
type Server struct {
	registry *tenant.Registry
	auth     *auth.Authenticator
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a Server over the tenant registry.
func NewServer(registry *tenant.Registry, authenticator *auth.Authenticator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry: registry,
		auth:     authenticator,
		logger:   logger.With("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Chat widgets embed on customer sites; origin checks happen
			// at the tenant key, not the Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Register mounts the websocket endpoints on the mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ws/customer", s.handleCustomer)
	mux.HandleFunc("/ws/agent", s.handleAgent)
}

func (s *Server) lookupTenant(w http.ResponseWriter, r *http.Request) *tenant.Runtime {
	rt, err := s.registry.Lookup(r.URL.Query().Get("tenant"))
	if err != nil {
		http.Error(w, "unknown tenant", http.StatusNotFound)
		return nil
	}
	return rt
}

// respond delivers the outcome of one request exactly once: an ack when the
// frame asked for one, otherwise an error notice on failure.
func respond(c *Conn, frame wire.Frame, data any, err error) {
	if frame.AckID != 0 {
		ack := wire.Ack{AckID: frame.AckID, Code: ackCode(err)}
		if err != nil {
			ack.Message = err.Error()
		} else {
			ack.Data = data
		}
		c.sendAck(ack)
		return
	}
	if err != nil {
		_ = c.Send(wire.EventMessageError, wire.ErrorNotice{Message: err.Error()})
	}
}

func decode[T any](frame wire.Frame) (T, error) {
	var req T
	if len(frame.Data) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return req, fmt.Errorf("%w: %v", errBadPayload, err)
	}
	return req, nil
}

// --- customer channel ---

type customerSession struct {
	rt  *tenant.Runtime
	tok *presence.CustomerToken
}

func (s *Server) handleCustomer(w http.ResponseWriter, r *http.Request) {
	rt := s.lookupTenant(w, r)
	if rt == nil {
		return
	}
	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "error", err)
		return
	}

	conn := newConn(sock, s.logger)
	sess := &customerSession{rt: rt}
	ctx := r.Context()

	conn.readPump(func(frame wire.Frame) {
		s.handleCustomerFrame(ctx, conn, sess, frame)
	})

	if sess.tok != nil {
		rt.Dispatcher.OnCustomerDisconnected(context.Background(), sess.tok, conn)
	}
}

func (s *Server) handleCustomerFrame(ctx context.Context, conn *Conn, sess *customerSession, frame wire.Frame) {
	switch frame.Event {
	case wire.EventConnect:
		// One token per socket: a second connect could rebind sess.tok and
		// strand the first token with this conn as its live transport.
		if sess.tok != nil {
			respond(conn, frame, nil, errAlreadyConnected)
			return
		}
		req, err := decode[wire.ConnectRequest](frame)
		if err != nil {
			respond(conn, frame, nil, err)
			return
		}
		tok, t, err := sess.rt.Dispatcher.OnCustomerConnected(ctx, conn, req)
		if err != nil {
			respond(conn, frame, nil, err)
			return
		}
		sess.tok = tok
		respond(conn, frame, connectResult{ChatKey: tok.ChatKey(), Talk: t.Detail()}, nil)

	case wire.EventTalkSend:
		if sess.tok == nil {
			respond(conn, frame, nil, errNotConnected)
			return
		}
		req, err := decode[wire.SendRequest](frame)
		if err != nil {
			respond(conn, frame, nil, err)
			return
		}
		t, err := sess.rt.Dispatcher.GetTalkByChatKey(sess.tok.ChatKey())
		if err != nil {
			respond(conn, frame, nil, err)
			return
		}
		payload, err := t.SendMessage(ctx, store.SenderCustomer, 0, req.Type, req.Content)
		respond(conn, frame, payload, err)

	default:
		respond(conn, frame, nil, fmt.Errorf("%w: unknown event %q", errBadPayload, frame.Event))
	}
}

// --- agent channel ---

type agentSession struct {
	rt  *tenant.Runtime
	tok *presence.AgentToken
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	rt := s.lookupTenant(w, r)
	if rt == nil {
		return
	}
	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "error", err)
		return
	}

	conn := newConn(sock, s.logger)
	sess := &agentSession{rt: rt}
	ctx := r.Context()

	conn.readPump(func(frame wire.Frame) {
		s.handleAgentFrame(ctx, conn, sess, frame)
	})

	if sess.tok != nil && sess.tok.Disconnect(conn) {
		rt.Dispatcher.OnAgentDisconnected(sess.tok)
	}
}

func (s *Server) handleAgentFrame(ctx context.Context, conn *Conn, sess *agentSession, frame wire.Frame) {
	if frame.Event == wire.EventLogin {
		s.handleLogin(ctx, conn, sess, frame)
		return
	}
	if sess.tok == nil {
		respond(conn, frame, nil, errNotLoggedIn)
		return
	}

	switch frame.Event {
	case wire.EventReady:
		req, err := decode[wire.ReadyRequest](frame)
		if err != nil {
			respond(conn, frame, nil, err)
			return
		}
		respond(conn, frame, nil, sess.rt.Dispatcher.SetReady(ctx, sess.tok.ID(), req.Ready))

	case wire.EventTalkStart:
		req, err := decode[wire.TalkRequest](frame)
		if err != nil {
			respond(conn, frame, nil, err)
			return
		}
		respond(conn, frame, nil, sess.rt.Dispatcher.StartTalk(ctx, sess.tok, req.TalkID, req.Force))

	case wire.EventTalkClose:
		req, err := decode[wire.TalkRequest](frame)
		if err != nil {
			respond(conn, frame, nil, err)
			return
		}
		respond(conn, frame, nil, sess.rt.Dispatcher.CloseTalk(ctx, sess.tok, req.TalkID, req.Remark, req.Force))

	case wire.EventTalkJoin:
		req, err := decode[wire.TalkRequest](frame)
		if err != nil {
			respond(conn, frame, nil, err)
			return
		}
		t, err := sess.rt.Dispatcher.GetTalk(req.TalkID)
		if err != nil {
			respond(conn, frame, nil, err)
			return
		}
		respond(conn, frame, nil, t.JoinWatcher(sess.tok))

	case wire.EventTalkLeave:
		req, err := decode[wire.TalkRequest](frame)
		if err != nil {
			respond(conn, frame, nil, err)
			return
		}
		t, err := sess.rt.Dispatcher.GetTalk(req.TalkID)
		if err != nil {
			respond(conn, frame, nil, err)
			return
		}
		t.LeaveWatcher(sess.tok.ID())
		respond(conn, frame, nil, nil)

	case wire.EventTalkSend:
		req, err := decode[wire.SendRequest](frame)
		if err != nil {
			respond(conn, frame, nil, err)
			return
		}
		t, err := sess.rt.Dispatcher.GetTalk(req.TalkID)
		if err != nil {
			respond(conn, frame, nil, err)
			return
		}
		if sess.tok.Role() != store.RoleSupervisor && !t.IsParticipant(sess.tok.ID()) {
			respond(conn, frame, nil, fmt.Errorf("sending to talk %d: %w", req.TalkID, talk.ErrNotInTalk))
			return
		}
		payload, err := t.SendMessage(ctx, store.SenderService, sess.tok.ID(), req.Type, req.Content)
		respond(conn, frame, payload, err)

	case wire.EventMessageEdit:
		req, err := decode[wire.MessageEditRequest](frame)
		if err != nil {
			respond(conn, frame, nil, err)
			return
		}
		t, err := sess.rt.Dispatcher.GetTalk(req.TalkID)
		if err != nil {
			respond(conn, frame, nil, err)
			return
		}
		payload, err := t.EditMessage(ctx, sess.tok, req.MessageID, req.Content)
		respond(conn, frame, payload, err)

	case wire.EventMessageDelete:
		req, err := decode[wire.MessageEditRequest](frame)
		if err != nil {
			respond(conn, frame, nil, err)
			return
		}
		t, err := sess.rt.Dispatcher.GetTalk(req.TalkID)
		if err != nil {
			respond(conn, frame, nil, err)
			return
		}
		respond(conn, frame, nil, t.DeleteMessage(ctx, sess.tok, req.MessageID))

	default:
		respond(conn, frame, nil, fmt.Errorf("%w: unknown event %q", errBadPayload, frame.Event))
	}
}

// handleLogin authenticates an agent socket with credentials or a session
// token and binds it to the agent's presence token.
func (s *Server) handleLogin(ctx context.Context, conn *Conn, sess *agentSession, frame wire.Frame) {
	req, err := decode[wire.LoginRequest](frame)
	if err != nil {
		respond(conn, frame, nil, err)
		return
	}

	var (
		agent *store.Agent
		token string
	)
	if req.SessionToken != "" {
		agent, err = s.auth.VerifyToken(ctx, req.SessionToken)
		if err == nil && agent.TenantID != sess.rt.Tenant.ID {
			err = auth.ErrInvalidToken
		}
		token = req.SessionToken
	} else {
		agent, token, err = s.auth.Login(ctx, sess.rt.Tenant.ID, req.Username, req.Password)
	}
	if err != nil {
		respond(conn, frame, nil, err)
		return
	}

	tok := sess.rt.Agents.FindOrCreate(agent)
	if req.SessionToken != "" {
		// The JWT already proved identity; a presence mismatch just means
		// this process has not seen the token yet.
		if rerr := tok.Reconnect(conn, token); rerr != nil {
			tok.Connect(conn, token)
		}
	} else {
		tok.Connect(conn, token)
	}
	sess.tok = tok
	sess.rt.Dispatcher.OnAgentConnected(ctx, tok)

	result := loginResult{
		AgentID:      agent.ID,
		DisplayName:  agent.DisplayName,
		Role:         agent.Role,
		SessionToken: token,
	}
	if frame.AckID != 0 {
		respond(conn, frame, result, nil)
	} else {
		_ = conn.Send(wire.EventLoginOK, result)
	}
}
