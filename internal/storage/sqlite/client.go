package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/product-agent/backend/internal/storage/models"
	"github.com/product-agent/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// A single writer keeps sqlite from returning SQLITE_BUSY under concurrent appends.
	db.SetMaxOpenConns(1)

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

// Wrap uses an already opened database handle.
func Wrap(db *sql.DB) *Client {
	return &Client{db: db}
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		brand_id TEXT NOT NULL,
		user_id TEXT,
		mode TEXT NOT NULL,
		product_id TEXT,
		model_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_model ON sessions(model_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT UNIQUE NOT NULL,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);

	CREATE TABLE IF NOT EXISTS analytics_events (
		id TEXT PRIMARY KEY,
		brand_id TEXT NOT NULL,
		session_id TEXT,
		product_id TEXT,
		model_id TEXT,
		mode TEXT,
		event_type TEXT NOT NULL,
		user_query TEXT,
		response_time_ms INTEGER,
		images_count INTEGER,
		error_occurred INTEGER DEFAULT 0,
		error_message TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_type ON analytics_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_events_created ON analytics_events(created_at);

	CREATE TABLE IF NOT EXISTS index_runs (
		model_id TEXT PRIMARY KEY,
		namespace TEXT NOT NULL,
		chunks INTEGER NOT NULL,
		indexed_at INTEGER NOT NULL
	);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// CreateSession inserts the session unless it already exists. The boolean
// reports whether a new row was written.
func (c *Client) CreateSession(ctx context.Context, s *models.Session) (bool, error) {
	query := `
		INSERT OR IGNORE INTO sessions (session_id, brand_id, user_id, mode, product_id, model_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now
	}

	res, err := c.db.ExecContext(
		ctx,
		query,
		s.SessionID,
		s.BrandID,
		s.UserID,
		string(s.Mode),
		s.ProductID,
		s.ModelID,
		s.CreatedAt.UnixNano(),
		s.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to create session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to create session: %w", err)
	}

	if n == 1 {
		logger.Debug("Session created", zap.String("session_id", s.SessionID), zap.String("mode", string(s.Mode)))
	}
	return n == 1, nil
}

// GetSession returns the session with its full message log.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	query := `SELECT session_id, brand_id, user_id, mode, product_id, model_id, created_at, updated_at FROM sessions WHERE session_id = ?`

	var s models.Session
	var userID, productID, modelID sql.NullString
	var mode string
	var createdAt, updatedAt int64

	err := c.db.QueryRowContext(ctx, query, sessionID).Scan(
		&s.SessionID,
		&s.BrandID,
		&userID,
		&mode,
		&productID,
		&modelID,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	s.UserID = userID.String
	s.ProductID = productID.String
	s.ModelID = modelID.String
	s.Mode = models.Mode(mode)
	s.CreatedAt = time.Unix(0, createdAt).UTC()
	s.UpdatedAt = time.Unix(0, updatedAt).UTC()

	msgs, err := c.History(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}
	s.Messages = msgs

	return &s, nil
}

func (c *Client) SetMode(ctx context.Context, sessionID string, mode models.Mode) error {
	return c.updateSession(ctx, "mode = ?", sessionID, string(mode))
}

func (c *Client) SetModel(ctx context.Context, sessionID, productID, modelID string) error {
	return c.updateSession(ctx, "product_id = ?, model_id = ?", sessionID, productID, modelID)
}

func (c *Client) updateSession(ctx context.Context, set, sessionID string, args ...any) error {
	query := `UPDATE sessions SET ` + set + `, updated_at = ? WHERE session_id = ?`

	args = append(args, time.Now().UTC().UnixNano(), sessionID)
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if n == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

// AppendMessages writes all messages in one transaction so a turn is either
// fully recorded or not at all.
func (c *Client) AppendMessages(ctx context.Context, sessionID string, msgs ...models.Message) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE session_id = ?`, now.UnixNano(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if n == 0 {
		return models.ErrSessionNotFound
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		if _, err := stmt.ExecContext(ctx, m.ID, sessionID, string(m.Role), m.Content, m.CreatedAt.UnixNano()); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}

	logger.Debug("Messages appended", zap.String("session_id", sessionID), zap.Int("count", len(msgs)))
	return nil
}

// History returns the most recent limit messages in chronological order.
// A non-positive limit returns the whole log.
func (c *Client) History(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	query := `
		SELECT id, role, content, created_at FROM (
			SELECT seq, id, role, content, created_at
			FROM messages
			WHERE session_id = ?
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC
	`

	if limit <= 0 {
		limit = -1
	}

	rows, err := c.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		var role string
		var createdAt int64

		if err := rows.Scan(&m.ID, &role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		m.Role = models.Role(role)
		m.CreatedAt = time.Unix(0, createdAt).UTC()
		msgs = append(msgs, m)
	}

	return msgs, rows.Err()
}

func (c *Client) ListSessions(ctx context.Context, f models.ListFilter) ([]models.SessionSummary, error) {
	var where []string
	var args []any
	if f.UserID != "" {
		where = append(where, "s.user_id = ?")
		args = append(args, f.UserID)
	}
	if f.ModelID != "" {
		where = append(where, "s.model_id = ?")
		args = append(args, f.ModelID)
	}
	if f.Mode != "" {
		where = append(where, "s.mode = ?")
		args = append(args, string(f.Mode))
	}

	query := `
		SELECT s.session_id, s.user_id, s.mode, s.model_id, s.updated_at, COUNT(m.seq)
		FROM sessions s
		LEFT JOIN messages m ON m.session_id = s.session_id
	`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " GROUP BY s.session_id ORDER BY s.updated_at DESC LIMIT ?"

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []models.SessionSummary
	for rows.Next() {
		var s models.SessionSummary
		var userID, modelID sql.NullString
		var mode string
		var updatedAt int64

		if err := rows.Scan(&s.SessionID, &userID, &mode, &modelID, &updatedAt, &s.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		s.UserID = userID.String
		s.ModelID = modelID.String
		s.Mode = models.Mode(mode)
		s.UpdatedAt = time.Unix(0, updatedAt).UTC()
		out = append(out, s)
	}

	return out, rows.Err()
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n == 0 {
		return models.ErrSessionNotFound
	}

	logger.Info("Session deleted", zap.String("session_id", sessionID))
	return nil
}

func (c *Client) RecordEvent(ctx context.Context, ev *models.AnalyticsEvent) error {
	query := `
		INSERT INTO analytics_events (id, brand_id, session_id, product_id, model_id, mode, event_type,
			user_query, response_time_ms, images_count, error_occurred, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	errorOccurred := 0
	if ev.ErrorOccurred {
		errorOccurred = 1
	}

	_, err := c.db.ExecContext(
		ctx,
		query,
		ev.ID,
		ev.BrandID,
		ev.SessionID,
		ev.ProductID,
		ev.ModelID,
		string(ev.Mode),
		string(ev.EventType),
		ev.UserQuery,
		ev.ResponseTimeMS,
		ev.ImagesCount,
		errorOccurred,
		ev.ErrorMessage,
		ev.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}

	return nil
}

// EventCounts groups analytics events by type.
func (c *Client) EventCounts(ctx context.Context, brandID string) (map[models.EventType]int, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT event_type, COUNT(*) FROM analytics_events WHERE brand_id = ? GROUP BY event_type`, brandID)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.EventType]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		counts[models.EventType(t)] = n
	}

	return counts, rows.Err()
}

func (c *Client) RecordIndexRun(ctx context.Context, modelID, namespace string, chunks int, indexedAt time.Time) error {
	query := `
		INSERT INTO index_runs (model_id, namespace, chunks, indexed_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(model_id) DO UPDATE SET
			namespace = excluded.namespace,
			chunks = excluded.chunks,
			indexed_at = excluded.indexed_at
	`

	if _, err := c.db.ExecContext(ctx, query, modelID, namespace, chunks, indexedAt.UnixNano()); err != nil {
		return fmt.Errorf("failed to record index run: %w", err)
	}

	return nil
}

func (c *Client) IndexRuns(ctx context.Context) ([]models.IndexRun, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT model_id, namespace, chunks, indexed_at FROM index_runs ORDER BY model_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list index runs: %w", err)
	}
	defer rows.Close()

	var runs []models.IndexRun
	for rows.Next() {
		var r models.IndexRun
		var at int64
		if err := rows.Scan(&r.ModelID, &r.Namespace, &r.Chunks, &at); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.IndexedAt = time.Unix(0, at).UTC()
		runs = append(runs, r)
	}

	return runs, rows.Err()
}
