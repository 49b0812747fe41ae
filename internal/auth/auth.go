// ABOUTME: Agent authentication: bcrypt credential checks plus session tokens
// ABOUTME: Credential failures and unknown users are indistinguishable to callers

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/2389/livedesk/internal/store"
)

var (
	// ErrInvalidCredentials is returned for unknown usernames and wrong
	// passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAgentDisabled is returned when a disabled agent tries to log in.
	ErrAgentDisabled = errors.New("agent disabled")
)

// Authenticator verifies agent credentials and manages session tokens.
type Authenticator struct {
	store  store.Store
	tokens *SessionTokens
	logger *slog.Logger
}

// NewAuthenticator creates an Authenticator signing session tokens with the
// given secret.
func NewAuthenticator(st store.Store, secret []byte, ttl time.Duration, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		store:  st,
		tokens: NewSessionTokens(secret, ttl),
		logger: logger.With("component", "auth"),
	}
}

// Login verifies username and password within a tenant and returns the agent
// record plus a fresh session token.
func (a *Authenticator) Login(ctx context.Context, tenantID int64, username, password string) (*store.Agent, string, error) {
	agent, err := a.store.GetAgentByUsername(ctx, tenantID, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", fmt.Errorf("looking up agent: %w", err)
	}
	if agent.Disabled {
		return nil, "", ErrAgentDisabled
	}
	if bcrypt.CompareHashAndPassword([]byte(agent.PasswordHash), []byte(password)) != nil {
		a.logger.Warn("failed login", "tenant_id", tenantID, "username", username)
		return nil, "", ErrInvalidCredentials
	}

	token, err := a.tokens.Issue(agent.ID)
	if err != nil {
		return nil, "", fmt.Errorf("issuing session token: %w", err)
	}
	a.logger.Info("agent logged in", "tenant_id", tenantID, "agent_id", agent.ID)
	return agent, token, nil
}

// VerifyToken resolves a session token to its agent. Disabled agents are
// rejected even when the token is otherwise valid.
func (a *Authenticator) VerifyToken(ctx context.Context, token string) (*store.Agent, error) {
	agentID, err := a.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	agent, err := a.store.GetAgent(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("looking up agent: %w", err)
	}
	if agent.Disabled {
		return nil, ErrAgentDisabled
	}
	return agent, nil
}

// HashPassword hashes a password for storage. Used by bootstrap tooling.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}
