// ABOUTME: AdminStore interface and SQLite implementation for provisioning records
// ABOUTME: Used by the bootstrap command; the dispatch core never writes these tables

package store

import (
	"context"
	"fmt"
	"time"
)

// AdminStore defines provisioning operations for tenants, agents, stickers
// and articles. Provisioning happens out of band (bootstrap command); the
// dispatch core only reads these records.
type AdminStore interface {
	CreateTenant(ctx context.Context, tenant *Tenant) error
	CreateAgent(ctx context.Context, agent *Agent) error
	CreateSticker(ctx context.Context, sticker *Sticker) error
	CreateArticle(ctx context.Context, article *Article) error
}

// CreateTenant inserts a tenant and assigns its id
func (s *SQLiteStore) CreateTenant(ctx context.Context, tenant *Tenant) error {
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (key, name, created_at) VALUES (?, ?, ?)`,
		tenant.Key, tenant.Name, tenant.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting tenant: %w", err)
	}
	tenant.ID, err = res.LastInsertId()
	return err
}

// CreateAgent inserts an agent and assigns its id
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *Agent) error {
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now()
	}
	if agent.Role == "" {
		agent.Role = RoleExecutive
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (tenant_id, username, password_hash, display_name, role, disabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		agent.TenantID, agent.Username, agent.PasswordHash, agent.DisplayName,
		agent.Role, boolInt(agent.Disabled), agent.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting agent: %w", err)
	}
	agent.ID, err = res.LastInsertId()
	return err
}

// CreateSticker inserts a sticker and assigns its id
func (s *SQLiteStore) CreateSticker(ctx context.Context, sticker *Sticker) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO stickers (tenant_id, name, file_name) VALUES (?, ?, ?)`,
		sticker.TenantID, sticker.Name, sticker.FileName)
	if err != nil {
		return fmt.Errorf("inserting sticker: %w", err)
	}
	sticker.ID, err = res.LastInsertId()
	return err
}

// CreateArticle inserts an article and assigns its id
func (s *SQLiteStore) CreateArticle(ctx context.Context, article *Article) error {
	if article.UpdatedAt.IsZero() {
		article.UpdatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO articles (tenant_id, title, content, tag, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		article.TenantID, article.Title, article.Content, article.Tag,
		article.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting article: %w", err)
	}
	article.ID, err = res.LastInsertId()
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
