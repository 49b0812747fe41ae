// ABOUTME: Tests for agent authentication and session tokens
// ABOUTME: Covers login outcomes, token round-trips, and expiry

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/livedesk/internal/store"
)

func seedAgent(t *testing.T, mock *store.MockStore, username, password string, disabled bool) *store.Agent {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)
	agent := &store.Agent{
		TenantID:     1,
		Username:     username,
		PasswordHash: hash,
		DisplayName:  username,
		Role:         store.RoleExecutive,
		Disabled:     disabled,
	}
	require.NoError(t, mock.CreateAgent(context.Background(), agent))
	return agent
}

func TestLogin(t *testing.T) {
	mock := store.NewMockStore()
	seedAgent(t, mock, "alice", "s3cret", false)
	a := NewAuthenticator(mock, []byte("test-secret"), time.Hour, nil)

	agent, token, err := a.Login(context.Background(), 1, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "alice", agent.Username)
	assert.NotEmpty(t, token)

	// The issued token resolves back to the same agent.
	verified, err := a.VerifyToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, verified.ID)
}

func TestLogin_Failures(t *testing.T) {
	mock := store.NewMockStore()
	seedAgent(t, mock, "alice", "s3cret", false)
	seedAgent(t, mock, "mallory", "pw", true)
	a := NewAuthenticator(mock, []byte("test-secret"), time.Hour, nil)

	_, _, err := a.Login(context.Background(), 1, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = a.Login(context.Background(), 1, "nobody", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials, "unknown user looks like a bad password")

	_, _, err = a.Login(context.Background(), 1, "mallory", "pw")
	assert.ErrorIs(t, err, ErrAgentDisabled)

	_, _, err = a.Login(context.Background(), 2, "alice", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials, "credentials are tenant-scoped")
}

func TestVerifyToken_Failures(t *testing.T) {
	mock := store.NewMockStore()
	agent := seedAgent(t, mock, "alice", "s3cret", false)
	a := NewAuthenticator(mock, []byte("test-secret"), time.Hour, nil)

	_, err := a.VerifyToken(context.Background(), "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Token signed with a different secret.
	other := NewSessionTokens([]byte("other-secret"), time.Hour)
	forged, err := other.Issue(agent.ID)
	require.NoError(t, err)
	_, err = a.VerifyToken(context.Background(), forged)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionTokens_Expiry(t *testing.T) {
	tokens := NewSessionTokens([]byte("test-secret"), -time.Minute)
	token, err := tokens.Issue(7)
	require.NoError(t, err)

	_, err = tokens.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestSessionTokens_RoundTrip(t *testing.T) {
	tokens := NewSessionTokens([]byte("test-secret"), time.Hour)
	token, err := tokens.Issue(42)
	require.NoError(t, err)

	id, err := tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}
