// Package models defines the shared data types for the TaskDeck backend:
// tasks, tags, conversations, chat messages, and the MCP protocol shapes.
package models

import (
	"encoding/json"
	"time"
)

// ── Tasks ────────────────────────────────────────────────────

// Priority levels: 1 = high, 2 = medium, 3 = low.
const (
	PriorityHigh   = 1
	PriorityMedium = 2
	PriorityLow    = 3
)

// Task is a single todo item owned by one user.
type Task struct {
	ID        string    `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	Completed bool      `json:"completed" db:"completed"`
	UserID    string    `json:"user_id" db:"user_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	DueDate        *time.Time `json:"due_date,omitempty" db:"due_date"`
	RemindAt       *time.Time `json:"remind_at,omitempty" db:"remind_at"`
	Priority       *int       `json:"priority,omitempty" db:"priority"` // 1=high, 2=medium, 3=low
	RecurrenceRule string     `json:"recurrence_rule,omitempty" db:"recurrence_rule"`
	Tags           []string   `json:"tags,omitempty"` // tag names, owner-scoped
}

// Overdue reports whether the task has a due date in the past and is not done.
func (t *Task) Overdue(now time.Time) bool {
	return t.DueDate != nil && t.DueDate.Before(now) && !t.Completed
}

// Snapshot returns the compact task representation included in operation
// results and chat action records.
func (t *Task) Snapshot() map[string]any {
	snap := map[string]any{
		"id":         t.ID,
		"title":      t.Title,
		"completed":  t.Completed,
		"created_at": t.CreatedAt.UTC().Format(time.RFC3339),
	}
	if t.DueDate != nil {
		snap["due_date"] = t.DueDate.UTC().Format(time.RFC3339)
	}
	if t.Priority != nil {
		snap["priority"] = *t.Priority
	}
	if len(t.Tags) > 0 {
		snap["tags"] = t.Tags
	}
	if t.RecurrenceRule != "" {
		snap["recurrence_rule"] = t.RecurrenceRule
	}
	return snap
}

// Counts are the per-user task aggregates returned with every mutation so
// clients never need a second read to refresh their totals.
type Counts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending_count"`
	Completed int `json:"completed_count"`
	Overdue   int `json:"overdue_count"`
}

// Tag categorizes tasks. Names are unique per user.
type Tag struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Color     string    `json:"color" db:"color"` // hex, e.g. #6B7280
	UserID    string    `json:"user_id" db:"user_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DefaultTagColor is used when a tag is created without a color.
const DefaultTagColor = "#6B7280"

// ── Conversations & Messages ─────────────────────────────────

// Conversation is a chat thread between one user and the assistant.
type Conversation struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Title     string    `json:"title,omitempty" db:"title"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Message is one persisted entry of a conversation. Only user/assistant
// text is replayed into later turns; ToolCalls is kept for display/audit.
type Message struct {
	ID             string          `json:"id" db:"id"`
	ConversationID string          `json:"conversation_id" db:"conversation_id"`
	Role           string          `json:"role" db:"role"` // user, assistant
	Content        string          `json:"content" db:"content"`
	ToolCalls      json.RawMessage `json:"tool_calls,omitempty" db:"tool_calls"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// TaskEvent is an audit record for task mutations.
type TaskEvent struct {
	ID        string         `json:"id" db:"id"`
	TaskID    string         `json:"task_id" db:"task_id"`
	UserID    string         `json:"user_id" db:"user_id"`
	EventType string         `json:"event_type" db:"event_type"` // created, updated, completed, deleted
	EventData map[string]any `json:"event_data,omitempty"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// ── Chat / LLM ───────────────────────────────────────────────

// ChatMessage is one entry of the exchange sent to the language model.
type ChatMessage struct {
	Role       string           `json:"role"` // system, user, assistant, tool
	Content    string           `json:"content"`
	ToolCalls  []ToolCallResult `json:"tool_calls,omitempty"`   // assistant messages requesting tools
	ToolCallID string           `json:"tool_call_id,omitempty"` // tool result messages
}

// ToolDefinition describes a callable function advertised to the LLM.
type ToolDefinition struct {
	Type     string       `json:"type"` // "function"
	Function ToolFunction `json:"function"`
}

// ToolFunction carries the function-calling schema for one operation.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"` // JSON Schema
}

// ToolCallResult is a structured tool invocation request emitted by the LLM.
type ToolCallResult struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // "function"
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"` // JSON-encoded argument bag
	} `json:"function"`
}

// Action records one executed operation within a turn: the tool name, its
// sanitized input (identity stripped), and the structured result.
type Action struct {
	Tool   string         `json:"tool"`
	Input  map[string]any `json:"input"`
	Result map[string]any `json:"result"`
}

// ── API request/response shapes ──────────────────────────────

type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type ChatResponse struct {
	Response       string         `json:"response"`
	ConversationID string         `json:"conversation_id"`
	ActionsTaken   []Action       `json:"actions_taken"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

type HistoryResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
	Messages      []Message             `json:"messages,omitempty"`
	Total         int                   `json:"total"`
	HasMore       bool                  `json:"has_more"`
}

type DeleteHistoryResponse struct {
	Deleted              bool `json:"deleted"`
	ConversationsDeleted int  `json:"conversations_deleted"`
	MessagesDeleted      int  `json:"messages_deleted"`
}

type ChatKitRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id,omitempty"`
}

type TaskCreateRequest struct {
	Title          string     `json:"title"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	RemindAt       *time.Time `json:"remind_at,omitempty"`
	Priority       *int       `json:"priority,omitempty"`
	RecurrenceRule string     `json:"recurrence_rule,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
}

type TaskUpdateRequest struct {
	Title          *string    `json:"title,omitempty"`
	Completed      *bool      `json:"completed,omitempty"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	RemindAt       *time.Time `json:"remind_at,omitempty"`
	Priority       *int       `json:"priority,omitempty"`
	RecurrenceRule *string    `json:"recurrence_rule,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
}

type TagCreateRequest struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// ── MCP Protocol Types ───────────────────────────────────────

type MCPRequest struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

type MCPResponse struct {
	Jsonrpc string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type MCPToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

type MCPToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type MCPToolResult struct {
	Content []MCPContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}

type MCPContent struct {
	Type string `json:"type"` // text
	Text string `json:"text,omitempty"`
}
