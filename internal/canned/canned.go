// ABOUTME: Canned article cache for lifecycle auto-sends
// ABOUTME: Renders markdown to HTML once per tag, lazily, until invalidated

package canned

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/yuin/goldmark"

	"github.com/2389/livedesk/internal/store"
)

// Cache holds the rendered canned articles for one tenant, keyed by tag.
// Articles tagged "connected" are sent when a customer connects; "start"
// when an agent picks the talk up. Rendering happens on first use.
type Cache struct {
	store    store.Store
	tenantID int64
	logger   *slog.Logger
	md       goldmark.Markdown

	mu    sync.Mutex
	byTag map[string][]string
}

// NewCache creates an empty cache for the tenant.
func NewCache(st store.Store, tenantID int64, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:    st,
		tenantID: tenantID,
		logger:   logger.With("component", "canned", "tenant_id", tenantID),
		md:       goldmark.New(),
		byTag:    make(map[string][]string),
	}
}

// ByTag returns the rendered articles for a tag, loading and rendering them
// on the first call. A tag with no articles caches the empty result too.
func (c *Cache) ByTag(ctx context.Context, tag string) ([]string, error) {
	c.mu.Lock()
	if rendered, ok := c.byTag[tag]; ok {
		c.mu.Unlock()
		return rendered, nil
	}
	c.mu.Unlock()

	articles, err := c.store.ListArticlesByTag(ctx, c.tenantID, tag)
	if err != nil {
		return nil, fmt.Errorf("loading articles for tag %s: %w", tag, err)
	}

	rendered := make([]string, 0, len(articles))
	for _, a := range articles {
		var buf bytes.Buffer
		if err := c.md.Convert([]byte(a.Content), &buf); err != nil {
			c.logger.Warn("article render failed", "article_id", a.ID, "error", err)
			continue
		}
		rendered = append(rendered, strings.TrimSpace(buf.String()))
	}

	c.mu.Lock()
	c.byTag[tag] = rendered
	c.mu.Unlock()

	c.logger.Debug("articles cached", "tag", tag, "count", len(rendered))
	return rendered, nil
}

// Invalidate drops the cached rendering for a tag so the next ByTag reloads.
func (c *Cache) Invalidate(tag string) {
	c.mu.Lock()
	delete(c.byTag, tag)
	c.mu.Unlock()
}

// InvalidateAll drops every cached rendering. Called when the article
// collection changed out of band, for example by the bootstrap command
// against a running server's database.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.byTag = make(map[string][]string)
	c.mu.Unlock()
}
