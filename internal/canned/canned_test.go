// ABOUTME: Tests for the canned article cache
// ABOUTME: Covers markdown rendering, lazy caching, and invalidation

package canned

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/livedesk/internal/store"
)

func TestByTag_RendersMarkdown(t *testing.T) {
	mock := store.NewMockStore()
	require.NoError(t, mock.CreateArticle(context.Background(), &store.Article{
		TenantID: 1, Title: "greeting", Content: "**Welcome** to support", Tag: store.TagConnected,
	}))

	c := NewCache(mock, 1, nil)
	rendered, err := c.ByTag(context.Background(), store.TagConnected)
	require.NoError(t, err)
	require.Len(t, rendered, 1)
	assert.Contains(t, rendered[0], "<strong>Welcome</strong>")
}

func TestByTag_CachesUntilInvalidated(t *testing.T) {
	mock := store.NewMockStore()
	c := NewCache(mock, 1, nil)

	rendered, err := c.ByTag(context.Background(), store.TagStart)
	require.NoError(t, err)
	assert.Empty(t, rendered)

	// Added after first load: invisible until invalidated.
	require.NoError(t, mock.CreateArticle(context.Background(), &store.Article{
		TenantID: 1, Content: "hello", Tag: store.TagStart,
	}))
	rendered, err = c.ByTag(context.Background(), store.TagStart)
	require.NoError(t, err)
	assert.Empty(t, rendered)

	c.Invalidate(store.TagStart)
	rendered, err = c.ByTag(context.Background(), store.TagStart)
	require.NoError(t, err)
	assert.Len(t, rendered, 1)
}

func TestInvalidateAll_DropsEveryTag(t *testing.T) {
	mock := store.NewMockStore()
	c := NewCache(mock, 1, nil)

	for _, tag := range []string{store.TagConnected, store.TagStart} {
		rendered, err := c.ByTag(context.Background(), tag)
		require.NoError(t, err)
		assert.Empty(t, rendered)
		require.NoError(t, mock.CreateArticle(context.Background(), &store.Article{
			TenantID: 1, Content: "hello", Tag: tag,
		}))
	}

	c.InvalidateAll()

	for _, tag := range []string{store.TagConnected, store.TagStart} {
		rendered, err := c.ByTag(context.Background(), tag)
		require.NoError(t, err)
		assert.Len(t, rendered, 1, "tag %s reloads after a full invalidation", tag)
	}
}

func TestByTag_ScopedToTenant(t *testing.T) {
	mock := store.NewMockStore()
	require.NoError(t, mock.CreateArticle(context.Background(), &store.Article{
		TenantID: 2, Content: "other tenant", Tag: store.TagConnected,
	}))

	c := NewCache(mock, 1, nil)
	rendered, err := c.ByTag(context.Background(), store.TagConnected)
	require.NoError(t, err)
	assert.Empty(t, rendered)
}
