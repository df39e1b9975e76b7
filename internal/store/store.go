// Package store provides the storage interface and implementations for
// TaskDeck. Every read and write is scoped by the owning user ID; cross-user
// isolation is a correctness property of these queries, not of any lock.
package store

import (
	"context"

	"github.com/taskdeck/taskdeck/pkg/models"
)

// Store is the primary storage interface. Handler and executor code depend
// on this interface, making it easy to swap between in-memory (tests, local
// dev) and PostgreSQL (production) implementations.
type Store interface {
	TaskStore
	TagStore
	ConversationStore
	MessageStore
	TaskEventStore

	// Ping checks if the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Task Store ──────────────────────────────────────────────

// TaskFilter defines optional filters and ordering for listing tasks.
type TaskFilter struct {
	Status    string // "", "all", "pending", "completed"
	Priority  int    // 0 = any
	Tag       string // tag name, exact match
	Search    string // case-insensitive substring on title
	Overdue   bool   // due before now and not completed
	SortBy    string // due_date, priority, title, created_at (default)
	SortOrder string // asc, desc (default)
	Limit     int    // 0 = no limit
}

type TaskStore interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, userID, id string) (*models.Task, error)
	ListTasks(ctx context.Context, userID string, filter TaskFilter) ([]models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
	DeleteTask(ctx context.Context, userID, id string) error

	// CountTasks returns the per-user aggregates (total/pending/completed/
	// overdue) recomputed from current state.
	CountTasks(ctx context.Context, userID string) (models.Counts, error)
}

// ── Tag Store ───────────────────────────────────────────────

type TagStore interface {
	ListTags(ctx context.Context, userID string) ([]models.Tag, error)
	GetTagByName(ctx context.Context, userID, name string) (*models.Tag, error)
	CreateTag(ctx context.Context, tag *models.Tag) error
	DeleteTag(ctx context.Context, userID, name string) error
}

// ── Conversation Store ──────────────────────────────────────

type ConversationStore interface {
	GetConversation(ctx context.Context, userID, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string, limit, offset int) ([]models.Conversation, int, error)
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	UpdateConversation(ctx context.Context, conv *models.Conversation) error

	// DeleteConversation removes a conversation and its messages, returning
	// the number of messages deleted.
	DeleteConversation(ctx context.Context, userID, id string) (int, error)
}

// ── Message Store ───────────────────────────────────────────

type MessageStore interface {
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	CountMessages(ctx context.Context, conversationID string) (int, error)
	CreateMessage(ctx context.Context, msg *models.Message) error
}

// ── Task Event Store ────────────────────────────────────────

type TaskEventStore interface {
	// CreateTaskEvent appends an audit record for a task mutation.
	CreateTaskEvent(ctx context.Context, event *models.TaskEvent) error

	// ListTaskEvents returns the newest events for a user, newest first.
	ListTaskEvents(ctx context.Context, userID string, limit int) ([]models.TaskEvent, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist or is not
// visible to the requesting user.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ErrConflict is returned when a create would violate a per-user uniqueness
// rule, e.g. two tags with the same name.
type ErrConflict struct {
	Entity string
	Key    string
}

func (e *ErrConflict) Error() string {
	return e.Entity + " already exists: " + e.Key
}
