// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides tenant/agent/talk/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tenants (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS agents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id INTEGER NOT NULL REFERENCES tenants(id),
			username TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			display_name TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'executive',
			disabled INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			UNIQUE(tenant_id, username)
		);

		CREATE TABLE IF NOT EXISTS talks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id INTEGER NOT NULL REFERENCES tenants(id),
			chat_key TEXT NOT NULL,
			customer_name TEXT NOT NULL DEFAULT '',
			executive_id INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			start_at TEXT,
			closed_at TEXT,
			time_waiting_seconds INTEGER NOT NULL DEFAULT 0,
			time_service_seconds INTEGER NOT NULL DEFAULT 0,
			remark TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_talks_tenant_status ON talks(tenant_id, status);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			talk_id INTEGER NOT NULL REFERENCES talks(id),
			sender TEXT NOT NULL,
			sender_id INTEGER NOT NULL DEFAULT 0,
			content TEXT NOT NULL,
			type TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_talk ON messages(talk_id, created_at);

		CREATE TABLE IF NOT EXISTS stickers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id INTEGER NOT NULL REFERENCES tenants(id),
			name TEXT NOT NULL,
			file_name TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS articles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id INTEGER NOT NULL REFERENCES tenants(id),
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			tag TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_articles_tenant_tag ON articles(tenant_id, tag);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// ListTenants returns all tenants ordered by id
func (s *SQLiteStore) ListTenants(ctx context.Context) ([]*Tenant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key, name, created_at FROM tenants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*Tenant
	for rows.Next() {
		t := &Tenant{}
		var createdAt string
		if err := rows.Scan(&t.ID, &t.Key, &t.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning tenant: %w", err)
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// GetTenantByKey retrieves a tenant by its routing key
func (s *SQLiteStore) GetTenantByKey(ctx context.Context, key string) (*Tenant, error) {
	t := &Tenant{}
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, key, name, created_at FROM tenants WHERE key = ?`, key).
		Scan(&t.ID, &t.Key, &t.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying tenant: %w", err)
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return t, nil
}

// GetAgent retrieves an agent by id
func (s *SQLiteStore) GetAgent(ctx context.Context, id int64) (*Agent, error) {
	return s.scanAgent(s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, username, password_hash, display_name, role, disabled, created_at
		 FROM agents WHERE id = ?`, id))
}

// GetAgentByUsername retrieves an agent by tenant and username
func (s *SQLiteStore) GetAgentByUsername(ctx context.Context, tenantID int64, username string) (*Agent, error) {
	return s.scanAgent(s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, username, password_hash, display_name, role, disabled, created_at
		 FROM agents WHERE tenant_id = ? AND username = ?`, tenantID, username))
}

func (s *SQLiteStore) scanAgent(row *sql.Row) (*Agent, error) {
	a := &Agent{}
	var createdAt string
	var disabled int
	err := row.Scan(&a.ID, &a.TenantID, &a.Username, &a.PasswordHash,
		&a.DisplayName, &a.Role, &disabled, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent: %w", err)
	}
	a.Disabled = disabled != 0
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return a, nil
}

// ListAgents returns all agents for a tenant ordered by id
func (s *SQLiteStore) ListAgents(ctx context.Context, tenantID int64) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, username, password_hash, display_name, role, disabled, created_at
		 FROM agents WHERE tenant_id = ? ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a := &Agent{}
		var createdAt string
		var disabled int
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Username, &a.PasswordHash,
			&a.DisplayName, &a.Role, &disabled, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		a.Disabled = disabled != 0
		a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// CreateTalk inserts a new talk and assigns its id
func (s *SQLiteStore) CreateTalk(ctx context.Context, talk *Talk) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO talks (tenant_id, chat_key, customer_name, executive_id, status, created_at,
			start_at, closed_at, time_waiting_seconds, time_service_seconds, remark)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		talk.TenantID, talk.ChatKey, talk.CustomerName, talk.ExecutiveID, talk.Status,
		talk.CreatedAt.Format(time.RFC3339Nano),
		nullTime(talk.StartAt), nullTime(talk.ClosedAt),
		int64(talk.TimeWaiting.Seconds()), int64(talk.TimeService.Seconds()), talk.Remark)
	if err != nil {
		return fmt.Errorf("inserting talk: %w", err)
	}

	talk.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading talk id: %w", err)
	}

	s.logger.Debug("talk created", "talk_id", talk.ID, "tenant_id", talk.TenantID)
	return nil
}

// GetTalk retrieves a talk by id
func (s *SQLiteStore) GetTalk(ctx context.Context, id int64) (*Talk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, chat_key, customer_name, executive_id, status, created_at,
			start_at, closed_at, time_waiting_seconds, time_service_seconds, remark
		 FROM talks WHERE id = ?`, id)

	talk, err := scanTalk(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return talk, err
}

// UpdateTalk persists all mutable talk fields
func (s *SQLiteStore) UpdateTalk(ctx context.Context, talk *Talk) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE talks SET customer_name = ?, executive_id = ?, status = ?, start_at = ?,
			closed_at = ?, time_waiting_seconds = ?, time_service_seconds = ?, remark = ?
		 WHERE id = ?`,
		talk.CustomerName, talk.ExecutiveID, talk.Status,
		nullTime(talk.StartAt), nullTime(talk.ClosedAt),
		int64(talk.TimeWaiting.Seconds()), int64(talk.TimeService.Seconds()),
		talk.Remark, talk.ID)
	if err != nil {
		return fmt.Errorf("updating talk: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListLiveTalks returns a tenant's waiting and started talks ordered by id
func (s *SQLiteStore) ListLiveTalks(ctx context.Context, tenantID int64) ([]*Talk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, chat_key, customer_name, executive_id, status, created_at,
			start_at, closed_at, time_waiting_seconds, time_service_seconds, remark
		 FROM talks WHERE tenant_id = ? AND status IN (?, ?) ORDER BY id`,
		tenantID, StatusWaiting, StatusStart)
	if err != nil {
		return nil, fmt.Errorf("querying live talks: %w", err)
	}
	defer rows.Close()

	var talks []*Talk
	for rows.Next() {
		talk, err := scanTalk(rows.Scan)
		if err != nil {
			return nil, err
		}
		talks = append(talks, talk)
	}
	return talks, rows.Err()
}

// MarkTalksShutdown marks all live talks of a tenant with the shutdown
// status. Used during startup recovery after an abnormal termination.
func (s *SQLiteStore) MarkTalksShutdown(ctx context.Context, tenantID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE talks SET status = ?, closed_at = ? WHERE tenant_id = ? AND status IN (?, ?)`,
		StatusShutdown, time.Now().Format(time.RFC3339Nano), tenantID, StatusWaiting, StatusStart)
	if err != nil {
		return 0, fmt.Errorf("marking talks shutdown: %w", err)
	}
	return res.RowsAffected()
}

// SaveMessage persists a talk message
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, talk_id, sender, sender_id, content, type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.TalkID, msg.Sender, msg.SenderID, msg.Content, msg.Type,
		msg.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// GetTalkMessages returns a talk's messages, newest first
func (s *SQLiteStore) GetTalkMessages(ctx context.Context, talkID int64, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, talk_id, sender, sender_id, content, type, created_at
		 FROM messages WHERE talk_id = ? ORDER BY created_at DESC LIMIT ?`,
		talkID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m := &Message{}
		var createdAt string
		if err := rows.Scan(&m.ID, &m.TalkID, &m.Sender, &m.SenderID,
			&m.Content, &m.Type, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// UpdateMessageContent replaces a message's content
func (s *SQLiteStore) UpdateMessageContent(ctx context.Context, id, content string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ? WHERE id = ?`, content, id)
	if err != nil {
		return fmt.Errorf("updating message: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMessage removes a message
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSticker retrieves a sticker by tenant and id
func (s *SQLiteStore) GetSticker(ctx context.Context, tenantID, id int64) (*Sticker, error) {
	st := &Sticker{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, file_name FROM stickers WHERE tenant_id = ? AND id = ?`,
		tenantID, id).
		Scan(&st.ID, &st.TenantID, &st.Name, &st.FileName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying sticker: %w", err)
	}
	return st, nil
}

// ListArticlesByTag returns a tenant's articles carrying the given tag
func (s *SQLiteStore) ListArticlesByTag(ctx context.Context, tenantID int64, tag string) ([]*Article, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, title, content, tag, updated_at
		 FROM articles WHERE tenant_id = ? AND tag = ? ORDER BY id`, tenantID, tag)
	if err != nil {
		return nil, fmt.Errorf("querying articles: %w", err)
	}
	defer rows.Close()

	var articles []*Article
	for rows.Next() {
		a := &Article{}
		var updatedAt string
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Title, &a.Content, &a.Tag, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning article: %w", err)
		}
		a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// Close releases the database handle
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanTalk reads a talk row through the given scan function
func scanTalk(scan func(dest ...any) error) (*Talk, error) {
	t := &Talk{}
	var createdAt string
	var startAt, closedAt sql.NullString
	var waitingSec, serviceSec int64

	err := scan(&t.ID, &t.TenantID, &t.ChatKey, &t.CustomerName, &t.ExecutiveID,
		&t.Status, &createdAt, &startAt, &closedAt, &waitingSec, &serviceSec, &t.Remark)
	if err != nil {
		return nil, err
	}

	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	t.StartAt = parseNullTime(startAt)
	t.ClosedAt = parseNullTime(closedAt)
	t.TimeWaiting = time.Duration(waitingSec) * time.Second
	t.TimeService = time.Duration(serviceSec) * time.Second
	return t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}
