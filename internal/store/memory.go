// Package store — in-memory Store implementation.
// Used when TASKDECK_DATABASE_URL is not set (local dev, tests). Supports
// file-based snapshot persistence so data survives restarts.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/taskdeck/taskdeck/pkg/models"

	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Tasks         map[string]*models.Task         `json:"tasks"`         // key: id
	Tags          map[string]*models.Tag          `json:"tags"`          // key: user:name
	Conversations map[string]*models.Conversation `json:"conversations"` // key: id
	Messages      map[string][]*models.Message    `json:"messages"`      // key: conversation_id
	TaskEvents    []*models.TaskEvent             `json:"task_events"`
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu            sync.RWMutex
	tasks         map[string]*models.Task
	tags          map[string]*models.Tag
	conversations map[string]*models.Conversation
	messages      map[string][]*models.Message
	taskEvents    []*models.TaskEvent

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutine to stop
	closeOnce    sync.Once
}

// NewMemoryStore creates a new in-memory store.
// If TASKDECK_DATA_DIR is set, data is persisted to a JSON file in that
// directory. Otherwise defaults to ~/.taskdeck/data.json.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		tasks:         make(map[string]*models.Task),
		tags:          make(map[string]*models.Tag),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]*models.Message),
		taskEvents:    make([]*models.TaskEvent, 0),
		saveCh:        make(chan struct{}, 1),
		doneCh:        make(chan struct{}),
	}

	dataDir := os.Getenv("TASKDECK_DATA_DIR")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			dataDir = filepath.Join(home, ".taskdeck")
		}
	}
	if dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, "data.json")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
		// Already pending
	}
}

// saveLoop runs in a goroutine, debouncing save requests.
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(200 * time.Millisecond) // debounce
			m.saveSnapshot()
		}
	}
}

func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		Tasks:         m.tasks,
		Tags:          m.tags,
		Conversations: m.conversations,
		Messages:      m.messages,
		TaskEvents:    m.taskEvents,
	}
	data, err := json.Marshal(snap)
	m.mu.RUnlock()
	if err != nil {
		log.Warn().Err(err).Msg("Snapshot marshal failed")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Warn().Err(err).Msg("Snapshot write failed")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Warn().Err(err).Msg("Snapshot rename failed")
	}
}

func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		return // no snapshot yet
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Snapshot unreadable, starting empty")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.Tasks != nil {
		m.tasks = snap.Tasks
	}
	if snap.Tags != nil {
		m.tags = snap.Tags
	}
	if snap.Conversations != nil {
		m.conversations = snap.Conversations
	}
	if snap.Messages != nil {
		m.messages = snap.Messages
	}
	if snap.TaskEvents != nil {
		m.taskEvents = snap.TaskEvents
	}
}

// Ping always succeeds for the in-memory store.
func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close flushes the snapshot and stops background goroutines.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		close(m.doneCh)
		if m.snapshotPath != "" {
			m.saveSnapshot()
		}
	})
	return nil
}

// ── Task Store ──────────────────────────────────────────────

func (m *MemoryStore) CreateTask(_ context.Context, task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *task
	m.tasks[task.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetTask(_ context.Context, userID, id string) (*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	if !ok || task.UserID != userID {
		return nil, &ErrNotFound{Entity: "task", Key: id}
	}
	cp := *task
	return &cp, nil
}

func (m *MemoryStore) ListTasks(_ context.Context, userID string, filter TaskFilter) ([]models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now().UTC()
	var result []models.Task
	for _, task := range m.tasks {
		if task.UserID != userID {
			continue
		}
		if !matchesFilter(task, filter, now) {
			continue
		}
		result = append(result, *task)
	}

	sortTasks(result, filter.SortBy, filter.SortOrder)

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func matchesFilter(task *models.Task, filter TaskFilter, now time.Time) bool {
	switch filter.Status {
	case "pending":
		if task.Completed {
			return false
		}
	case "completed":
		if !task.Completed {
			return false
		}
	}
	if filter.Priority > 0 && (task.Priority == nil || *task.Priority != filter.Priority) {
		return false
	}
	if filter.Tag != "" {
		found := false
		for _, t := range task.Tags {
			if strings.EqualFold(t, filter.Tag) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.Search != "" && !strings.Contains(strings.ToLower(task.Title), strings.ToLower(filter.Search)) {
		return false
	}
	if filter.Overdue && !task.Overdue(now) {
		return false
	}
	return true
}

func sortTasks(tasks []models.Task, sortBy, sortOrder string) {
	asc := sortOrder == "asc"
	less := func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		switch sortBy {
		case "due_date":
			// Tasks without a due date sort last regardless of order.
			if (a.DueDate == nil) != (b.DueDate == nil) {
				return b.DueDate == nil
			}
			if a.DueDate == nil {
				return a.CreatedAt.Before(b.CreatedAt) == asc
			}
			return a.DueDate.Before(*b.DueDate) == asc
		case "priority":
			ap, bp := 0, 0
			if a.Priority != nil {
				ap = *a.Priority
			}
			if b.Priority != nil {
				bp = *b.Priority
			}
			if (ap == 0) != (bp == 0) {
				return bp == 0
			}
			return (ap < bp) == asc
		case "title":
			return (strings.ToLower(a.Title) < strings.ToLower(b.Title)) == asc
		default: // created_at
			return a.CreatedAt.Before(b.CreatedAt) == asc
		}
	}
	sort.SliceStable(tasks, less)
}

func (m *MemoryStore) UpdateTask(_ context.Context, task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.tasks[task.ID]
	if !ok || existing.UserID != task.UserID {
		return &ErrNotFound{Entity: "task", Key: task.ID}
	}
	cp := *task
	m.tasks[task.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteTask(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.tasks[id]
	if !ok || existing.UserID != userID {
		return &ErrNotFound{Entity: "task", Key: id}
	}
	delete(m.tasks, id)
	m.requestSave()
	return nil
}

func (m *MemoryStore) CountTasks(_ context.Context, userID string) (models.Counts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now().UTC()
	var counts models.Counts
	for _, task := range m.tasks {
		if task.UserID != userID {
			continue
		}
		counts.Total++
		if task.Completed {
			counts.Completed++
		} else {
			counts.Pending++
		}
		if task.Overdue(now) {
			counts.Overdue++
		}
	}
	return counts, nil
}

// ── Tag Store ───────────────────────────────────────────────

func tagKey(userID, name string) string {
	return userID + ":" + strings.ToLower(name)
}

func (m *MemoryStore) ListTags(_ context.Context, userID string) ([]models.Tag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []models.Tag
	for _, tag := range m.tags {
		if tag.UserID == userID {
			result = append(result, *tag)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *MemoryStore) GetTagByName(_ context.Context, userID, name string) (*models.Tag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tag, ok := m.tags[tagKey(userID, name)]
	if !ok {
		return nil, &ErrNotFound{Entity: "tag", Key: name}
	}
	cp := *tag
	return &cp, nil
}

func (m *MemoryStore) CreateTag(_ context.Context, tag *models.Tag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tagKey(tag.UserID, tag.Name)
	if _, exists := m.tags[key]; exists {
		return &ErrConflict{Entity: "tag", Key: tag.Name}
	}
	cp := *tag
	m.tags[key] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteTag(_ context.Context, userID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tagKey(userID, name)
	if _, ok := m.tags[key]; !ok {
		return &ErrNotFound{Entity: "tag", Key: name}
	}
	delete(m.tags, key)

	// Detach the tag from any tasks carrying it.
	for _, task := range m.tasks {
		if task.UserID != userID {
			continue
		}
		kept := task.Tags[:0]
		for _, t := range task.Tags {
			if !strings.EqualFold(t, name) {
				kept = append(kept, t)
			}
		}
		task.Tags = kept
	}
	m.requestSave()
	return nil
}

// ── Conversation Store ──────────────────────────────────────

func (m *MemoryStore) GetConversation(_ context.Context, userID, id string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.conversations[id]
	if !ok || conv.UserID != userID {
		return nil, &ErrNotFound{Entity: "conversation", Key: id}
	}
	cp := *conv
	return &cp, nil
}

func (m *MemoryStore) ListConversations(_ context.Context, userID string, limit, offset int) ([]models.Conversation, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []models.Conversation
	for _, conv := range m.conversations {
		if conv.UserID == userID {
			all = append(all, *conv)
		}
	}
	// Newest activity first.
	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })

	total := len(all)
	if offset >= len(all) {
		return []models.Conversation{}, total, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (m *MemoryStore) CreateConversation(_ context.Context, conv *models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *conv
	m.conversations[conv.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateConversation(_ context.Context, conv *models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.conversations[conv.ID]
	if !ok || existing.UserID != conv.UserID {
		return &ErrNotFound{Entity: "conversation", Key: conv.ID}
	}
	cp := *conv
	m.conversations[conv.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteConversation(_ context.Context, userID, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[id]
	if !ok || conv.UserID != userID {
		return 0, &ErrNotFound{Entity: "conversation", Key: id}
	}
	deleted := len(m.messages[id])
	delete(m.messages, id)
	delete(m.conversations, id)
	m.requestSave()
	return deleted, nil
}

// ── Message Store ───────────────────────────────────────────

func (m *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[conversationID]
	result := make([]models.Message, 0, len(msgs))
	for _, msg := range msgs {
		result = append(result, *msg)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *MemoryStore) CountMessages(_ context.Context, conversationID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages[conversationID]), nil
}

func (m *MemoryStore) CreateMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &cp)
	m.requestSave()
	return nil
}

// ── Task Event Store ────────────────────────────────────────

func (m *MemoryStore) CreateTaskEvent(_ context.Context, event *models.TaskEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *event
	m.taskEvents = append(m.taskEvents, &cp)
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListTaskEvents(_ context.Context, userID string, limit int) ([]models.TaskEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []models.TaskEvent
	for i := len(m.taskEvents) - 1; i >= 0; i-- {
		if m.taskEvents[i].UserID != userID {
			continue
		}
		result = append(result, *m.taskEvents[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}
