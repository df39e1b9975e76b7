// Package store — PostgreSQL Store implementation backed by pgx.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taskdeck/taskdeck/pkg/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresStore implements Store using a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and ensures the schema exists.
// The initial connect is retried with exponential backoff so the server can
// start before the database is ready (container orchestration).
func NewPostgresStore(ctx context.Context, connURL string, maxConns int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	var pool *pgxpool.Pool
	connect := func() error {
		pool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return err
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	if err := backoff.RetryNotify(connect, policy, func(err error, next time.Duration) {
		log.Warn().Err(err).Dur("retry_in", next).Msg("Postgres not ready, retrying")
	}); err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Msg("Postgres store initialized")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS td_tasks (
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL,
			title           TEXT NOT NULL,
			completed       BOOLEAN NOT NULL DEFAULT FALSE,
			due_date        TIMESTAMPTZ,
			remind_at       TIMESTAMPTZ,
			priority        INT,
			recurrence_rule TEXT NOT NULL DEFAULT '',
			tags            TEXT[] NOT NULL DEFAULT '{}',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_td_tasks_user ON td_tasks (user_id);

		CREATE TABLE IF NOT EXISTS td_tags (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			name       TEXT NOT NULL,
			color      TEXT NOT NULL DEFAULT '#6B7280',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_td_tags_user_name
			ON td_tags (user_id, lower(name));

		CREATE TABLE IF NOT EXISTS td_conversations (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			title      TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_td_conversations_user ON td_conversations (user_id);

		CREATE TABLE IF NOT EXISTS td_messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES td_conversations (id) ON DELETE CASCADE,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL DEFAULT '',
			tool_calls      JSONB,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_td_messages_conv ON td_messages (conversation_id);

		CREATE TABLE IF NOT EXISTS td_task_events (
			id         TEXT PRIMARY KEY,
			task_id    TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			event_type TEXT NOT NULL,
			event_data JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_td_task_events_user ON td_task_events (user_id);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// ── Task Store ──────────────────────────────────────────────

const taskColumns = `id, user_id, title, completed, due_date, remind_at, priority, recurrence_rule, tags, created_at, updated_at`

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Completed, &t.DueDate, &t.RemindAt,
		&t.Priority, &t.RecurrenceRule, &t.Tags, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) CreateTask(ctx context.Context, task *models.Task) error {
	tags := task.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO td_tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		task.ID, task.UserID, task.Title, task.Completed, task.DueDate, task.RemindAt,
		task.Priority, task.RecurrenceRule, tags, task.CreatedAt, task.UpdatedAt)
	return err
}

func (s *PostgresStore) GetTask(ctx context.Context, userID, id string) (*models.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM td_tasks WHERE id = $1 AND user_id = $2`, id, userID)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "task", Key: id}
	}
	return task, err
}

var taskSortColumns = map[string]string{
	"due_date":   "due_date",
	"priority":   "priority",
	"title":      "lower(title)",
	"created_at": "created_at",
}

func (s *PostgresStore) ListTasks(ctx context.Context, userID string, filter TaskFilter) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM td_tasks WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	switch filter.Status {
	case "pending":
		query += " AND completed = FALSE"
	case "completed":
		query += " AND completed = TRUE"
	}
	if filter.Priority > 0 {
		query += fmt.Sprintf(" AND priority = $%d", argIdx)
		args = append(args, filter.Priority)
		argIdx++
	}
	if filter.Tag != "" {
		query += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM unnest(tags) AS t WHERE lower(t) = lower($%d))", argIdx)
		args = append(args, filter.Tag)
		argIdx++
	}
	if filter.Search != "" {
		query += fmt.Sprintf(" AND title ILIKE $%d", argIdx)
		args = append(args, "%"+filter.Search+"%")
		argIdx++
	}
	if filter.Overdue {
		query += " AND due_date < NOW() AND completed = FALSE"
	}

	col, ok := taskSortColumns[filter.SortBy]
	if !ok {
		col = "created_at"
	}
	dir := "DESC"
	if filter.SortOrder == "asc" {
		dir = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s NULLS LAST", col, dir)

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var result []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		result = append(result, *task)
	}
	return result, rows.Err()
}

func (s *PostgresStore) UpdateTask(ctx context.Context, task *models.Task) error {
	tags := task.Tags
	if tags == nil {
		tags = []string{}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE td_tasks SET title = $3, completed = $4, due_date = $5, remind_at = $6,
			priority = $7, recurrence_rule = $8, tags = $9, updated_at = $10
		WHERE id = $1 AND user_id = $2`,
		task.ID, task.UserID, task.Title, task.Completed, task.DueDate, task.RemindAt,
		task.Priority, task.RecurrenceRule, tags, task.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "task", Key: task.ID}
	}
	return nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM td_tasks WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "task", Key: id}
	}
	return nil
}

func (s *PostgresStore) CountTasks(ctx context.Context, userID string) (models.Counts, error) {
	var counts models.Counts
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE NOT completed),
			COUNT(*) FILTER (WHERE completed),
			COUNT(*) FILTER (WHERE due_date < NOW() AND NOT completed)
		FROM td_tasks WHERE user_id = $1`, userID).
		Scan(&counts.Total, &counts.Pending, &counts.Completed, &counts.Overdue)
	return counts, err
}

// ── Tag Store ───────────────────────────────────────────────

func (s *PostgresStore) ListTags(ctx context.Context, userID string) ([]models.Tag, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, color, created_at FROM td_tags WHERE user_id = $1 ORDER BY name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.Tag
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.Color, &t.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *PostgresStore) GetTagByName(ctx context.Context, userID, name string) (*models.Tag, error) {
	var t models.Tag
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, name, color, created_at FROM td_tags WHERE user_id = $1 AND lower(name) = lower($2)`,
		userID, name).Scan(&t.ID, &t.UserID, &t.Name, &t.Color, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "tag", Key: name}
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) CreateTag(ctx context.Context, tag *models.Tag) error {
	cmd, err := s.pool.Exec(ctx, `
		INSERT INTO td_tags (id, user_id, name, color, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, lower(name)) DO NOTHING`,
		tag.ID, tag.UserID, tag.Name, tag.Color, tag.CreatedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return &ErrConflict{Entity: "tag", Key: tag.Name}
	}
	return nil
}

func (s *PostgresStore) DeleteTag(ctx context.Context, userID, name string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM td_tags WHERE user_id = $1 AND lower(name) = lower($2)`, userID, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "tag", Key: name}
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE td_tasks SET tags = array_remove(tags, $2) WHERE user_id = $1`, userID, name)
	return err
}

// ── Conversation Store ──────────────────────────────────────

func (s *PostgresStore) GetConversation(ctx context.Context, userID, id string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, title, created_at, updated_at
		FROM td_conversations WHERE id = $1 AND user_id = $2`, id, userID).
		Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "conversation", Key: id}
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, userID string, limit, offset int) ([]models.Conversation, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM td_conversations WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	// limit <= 0 means no page cap.
	if limit <= 0 {
		limit = total
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, title, created_at, updated_at
		FROM td_conversations WHERE user_id = $1
		ORDER BY updated_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []models.Conversation
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		result = append(result, c)
	}
	return result, total, rows.Err()
}

func (s *PostgresStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO td_conversations (id, user_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		conv.ID, conv.UserID, conv.Title, conv.CreatedAt, conv.UpdatedAt)
	return err
}

func (s *PostgresStore) UpdateConversation(ctx context.Context, conv *models.Conversation) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE td_conversations SET title = $3, updated_at = $4
		WHERE id = $1 AND user_id = $2`,
		conv.ID, conv.UserID, conv.Title, conv.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "conversation", Key: conv.ID}
	}
	return nil
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, userID, id string) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM td_messages WHERE conversation_id = $1`, id).Scan(&count); err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM td_conversations WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		return 0, &ErrNotFound{Entity: "conversation", Key: id}
	}
	return count, nil
}

// ── Message Store ───────────────────────────────────────────

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, tool_calls, created_at
		FROM td_messages WHERE conversation_id = $1 ORDER BY created_at`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.ToolCalls, &m.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *PostgresStore) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM td_messages WHERE conversation_id = $1`, conversationID).Scan(&count)
	return count, err
}

func (s *PostgresStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO td_messages (id, conversation_id, role, content, tool_calls, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.ToolCalls, msg.CreatedAt)
	return err
}

// ── Task Event Store ────────────────────────────────────────

func (s *PostgresStore) CreateTaskEvent(ctx context.Context, event *models.TaskEvent) error {
	data := event.EventData
	if data == nil {
		data = map[string]any{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO td_task_events (id, task_id, user_id, event_type, event_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.TaskID, event.UserID, event.EventType, data, event.CreatedAt)
	return err
}

func (s *PostgresStore) ListTaskEvents(ctx context.Context, userID string, limit int) ([]models.TaskEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, task_id, user_id, event_type, event_data, created_at
		FROM td_task_events WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.TaskEvent
	for rows.Next() {
		var e models.TaskEvent
		if err := rows.Scan(&e.ID, &e.TaskID, &e.UserID, &e.EventType, &e.EventData, &e.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
