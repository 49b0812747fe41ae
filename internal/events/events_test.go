// ABOUTME: Tests for the lifecycle event envelope and the no-op publisher
// ABOUTME: Broker-backed publishing is exercised against a live broker, not here

package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), Envelope{Kind: KindTalkCreated}))
	assert.NoError(t, p.Close())
}

func TestEnvelope_JSONShape(t *testing.T) {
	env := Envelope{
		Kind:     KindTalkClosed,
		TenantID: 3,
		TalkID:   42,
		At:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Fields:   map[string]any{"remark": "resolved"},
	}

	body, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "talk.closed", decoded["kind"])
	assert.Equal(t, float64(42), decoded["talk_id"])
	assert.Equal(t, "resolved", decoded["fields"].(map[string]any)["remark"])
}
