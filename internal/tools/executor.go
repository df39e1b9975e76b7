package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/taskdeck/taskdeck/internal/store"
	"github.com/taskdeck/taskdeck/pkg/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Executor runs one operation against the store. Every invocation is
// independent: the executor holds no per-call state beyond the store handle.
type Executor struct {
	store store.Store
}

// NewExecutor creates an operation executor backed by the given store.
func NewExecutor(s store.Store) *Executor {
	return &Executor{store: s}
}

// Invoke validates and executes a single operation on behalf of userID.
// The authenticated user ID always wins: any identity-shaped field in the
// raw arguments is discarded before dispatch, so the model can never act as
// a different principal than the one the transport authenticated.
//
// All failures come back as {"success": false, "error": ...} result maps;
// store errors never escape this boundary.
func (e *Executor) Invoke(ctx context.Context, name string, args map[string]any, userID string) map[string]any {
	if args == nil {
		args = map[string]any{}
	}
	delete(args, "user_id")

	var result map[string]any
	switch name {
	case "add_task":
		result = e.addTask(ctx, args, userID)
	case "list_tasks":
		result = e.listTasks(ctx, args, userID)
	case "complete_task":
		result = e.completeTask(ctx, args, userID)
	case "update_task":
		result = e.updateTask(ctx, args, userID)
	case "delete_task":
		result = e.deleteTask(ctx, args, userID)
	case "manage_tags":
		result = e.manageTags(ctx, args, userID)
	default:
		return failure(fmt.Sprintf("Unknown tool: %s", name))
	}

	log.Debug().
		Str("tool", name).
		Str("user_id", userID).
		Bool("success", result["success"] == true).
		Msg("Tool executed")
	return result
}

func failure(reason string) map[string]any {
	return map[string]any{"success": false, "error": reason}
}

// ── argument helpers ────────────────────────────────────────

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func argBool(args map[string]any, key string) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return false
}

// argInt accepts both JSON numbers (float64) and native ints.
func argInt(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

func argStrings(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		if s, ok := args[key].([]string); ok {
			return s
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parseDate accepts RFC 3339 timestamps and bare YYYY-MM-DD dates.
func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", value)
}

func validPriority(p int) bool { return p >= 1 && p <= 3 }

// withCounts adds the per-user aggregates to a mutation result so the
// caller never needs a second read to refresh totals.
func (e *Executor) withCounts(ctx context.Context, userID string, result map[string]any) map[string]any {
	counts, err := e.store.CountTasks(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Msg("Count refresh failed")
		return result
	}
	result["total_tasks"] = counts.Total
	result["pending_count"] = counts.Pending
	result["completed_count"] = counts.Completed
	result["overdue_count"] = counts.Overdue
	return result
}

// ── operations ──────────────────────────────────────────────

func (e *Executor) addTask(ctx context.Context, args map[string]any, userID string) map[string]any {
	title := strings.TrimSpace(argString(args, "title"))
	if title == "" {
		return failure("Must provide a title")
	}

	now := time.Now().UTC()
	task := &models.Task{
		ID:             uuid.NewString(),
		Title:          title,
		UserID:         userID,
		CreatedAt:      now,
		UpdatedAt:      now,
		RecurrenceRule: argString(args, "recurrence_rule"),
		Tags:           argStrings(args, "tags"),
	}

	if due := argString(args, "due_date"); due != "" {
		t, err := parseDate(due)
		if err != nil {
			return failure(fmt.Sprintf("Invalid due_date: %s", due))
		}
		task.DueDate = &t
	}
	if p, ok := argInt(args, "priority"); ok {
		if !validPriority(p) {
			return failure("Priority must be 1 (high), 2 (medium), or 3 (low)")
		}
		task.Priority = &p
	}

	if err := e.store.CreateTask(ctx, task); err != nil {
		return failure(fmt.Sprintf("Could not create task: %v", err))
	}
	e.recordEvent(ctx, task, "created", map[string]any{"title": task.Title})

	return e.withCounts(ctx, userID, map[string]any{
		"success": true,
		"task":    task.Snapshot(),
	})
}

func (e *Executor) listTasks(ctx context.Context, args map[string]any, userID string) map[string]any {
	filter := store.TaskFilter{
		Status:    argString(args, "status"),
		Tag:       argString(args, "tag"),
		Search:    argString(args, "search"),
		Overdue:   argBool(args, "overdue"),
		SortBy:    argString(args, "sort_by"),
		SortOrder: argString(args, "sort_order"),
		Limit:     50,
	}
	switch filter.Status {
	case "", "all", "pending", "completed":
	default:
		return failure(fmt.Sprintf("Invalid status filter: %s", filter.Status))
	}
	if p, ok := argInt(args, "priority"); ok {
		if !validPriority(p) {
			return failure("Priority must be 1 (high), 2 (medium), or 3 (low)")
		}
		filter.Priority = p
	}

	tasks, err := e.store.ListTasks(ctx, userID, filter)
	if err != nil {
		return failure(fmt.Sprintf("Could not list tasks: %v", err))
	}

	snapshots := make([]map[string]any, 0, len(tasks))
	for i := range tasks {
		snapshots = append(snapshots, tasks[i].Snapshot())
	}
	result := map[string]any{
		"success": true,
		"tasks":   snapshots,
	}
	counts, err := e.store.CountTasks(ctx, userID)
	if err != nil {
		return result
	}
	result["total"] = counts.Total
	result["pending_count"] = counts.Pending
	result["completed_count"] = counts.Completed
	result["overdue_count"] = counts.Overdue
	return result
}

// resolveTask finds the single task targeted by task_id or title_match.
// Fuzzy matches are scoped to the user; pendingOnly further restricts the
// candidate set to incomplete tasks. More than one candidate is a failure
// carrying the match list — mutating the wrong task silently is worse than
// one extra round-trip to disambiguate.
func (e *Executor) resolveTask(ctx context.Context, args map[string]any, userID string, pendingOnly bool) (*models.Task, map[string]any) {
	if id := argString(args, "task_id"); id != "" {
		task, err := e.store.GetTask(ctx, userID, id)
		if err != nil {
			return nil, failure("Task not found")
		}
		return task, nil
	}

	match := argString(args, "title_match")
	if match == "" {
		return nil, failure("Must provide task_id or title_match")
	}

	filter := store.TaskFilter{Search: match}
	if pendingOnly {
		filter.Status = "pending"
	}
	candidates, err := e.store.ListTasks(ctx, userID, filter)
	if err != nil {
		return nil, failure(fmt.Sprintf("Could not search tasks: %v", err))
	}

	switch len(candidates) {
	case 0:
		if pendingOnly {
			return nil, failure(fmt.Sprintf("No pending task found matching '%s'", match))
		}
		return nil, failure(fmt.Sprintf("No task found matching '%s'", match))
	case 1:
		return &candidates[0], nil
	default:
		matches := make([]map[string]any, 0, len(candidates))
		for i := range candidates {
			matches = append(matches, map[string]any{"id": candidates[i].ID, "title": candidates[i].Title})
		}
		result := failure(fmt.Sprintf("Multiple tasks match '%s'. Please be more specific.", match))
		result["matches"] = matches
		return nil, result
	}
}

func (e *Executor) completeTask(ctx context.Context, args map[string]any, userID string) map[string]any {
	task, fail := e.resolveTask(ctx, args, userID, true)
	if fail != nil {
		// A fuzzy match that only hits completed tasks reads better as
		// "already completed" than "no match".
		reason, _ := fail["error"].(string)
		if match := argString(args, "title_match"); match != "" && strings.HasPrefix(reason, "No pending task found") {
			done, err := e.store.ListTasks(ctx, userID, store.TaskFilter{Search: match, Status: "completed"})
			if err == nil && len(done) == 1 {
				return failure(fmt.Sprintf("Task '%s' is already completed", done[0].Title))
			}
		}
		return fail
	}
	if task.Completed {
		return failure(fmt.Sprintf("Task '%s' is already completed", task.Title))
	}

	task.Completed = true
	task.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return failure(fmt.Sprintf("Could not complete task: %v", err))
	}
	e.recordEvent(ctx, task, "completed", nil)

	// Recurring tasks respawn as a fresh pending copy on the next due date.
	if task.RecurrenceRule != "" {
		e.spawnRecurrence(ctx, task)
	}

	return e.withCounts(ctx, userID, map[string]any{
		"success": true,
		"task":    task.Snapshot(),
	})
}

// spawnRecurrence creates the next occurrence of a recurring task.
func (e *Executor) spawnRecurrence(ctx context.Context, done *models.Task) {
	var step time.Duration
	switch strings.ToLower(done.RecurrenceRule) {
	case "daily":
		step = 24 * time.Hour
	case "weekly":
		step = 7 * 24 * time.Hour
	case "monthly":
		step = 30 * 24 * time.Hour
	default:
		return
	}

	now := time.Now().UTC()
	next := &models.Task{
		ID:             uuid.NewString(),
		Title:          done.Title,
		UserID:         done.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
		Priority:       done.Priority,
		RecurrenceRule: done.RecurrenceRule,
		Tags:           done.Tags,
	}
	base := now
	if done.DueDate != nil {
		base = *done.DueDate
	}
	due := base.Add(step)
	next.DueDate = &due

	if err := e.store.CreateTask(ctx, next); err != nil {
		log.Warn().Err(err).Str("task_id", done.ID).Msg("Recurrence spawn failed")
		return
	}
	e.recordEvent(ctx, next, "created", map[string]any{"recurrence_of": done.ID})
}

func (e *Executor) updateTask(ctx context.Context, args map[string]any, userID string) map[string]any {
	newTitle := strings.TrimSpace(argString(args, "new_title"))
	_, hasPriority := argInt(args, "priority")
	_, hasTags := args["tags"]
	if newTitle == "" && argString(args, "due_date") == "" && !hasPriority && !hasTags {
		return failure("Must provide new_title, due_date, priority, or tags")
	}

	task, fail := e.resolveTask(ctx, args, userID, false)
	if fail != nil {
		return fail
	}

	changes := map[string]any{}
	previousTitle := task.Title
	if newTitle != "" && newTitle != task.Title {
		task.Title = newTitle
		changes["title"] = map[string]any{"from": previousTitle, "to": newTitle}
	}
	if due := argString(args, "due_date"); due != "" {
		t, err := parseDate(due)
		if err != nil {
			return failure(fmt.Sprintf("Invalid due_date: %s", due))
		}
		task.DueDate = &t
		changes["due_date"] = t.Format(time.RFC3339)
	}
	if p, ok := argInt(args, "priority"); ok {
		if !validPriority(p) {
			return failure("Priority must be 1 (high), 2 (medium), or 3 (low)")
		}
		task.Priority = &p
		changes["priority"] = p
	}
	if hasTags {
		task.Tags = argStrings(args, "tags")
		changes["tags"] = task.Tags
	}

	task.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return failure(fmt.Sprintf("Could not update task: %v", err))
	}
	e.recordEvent(ctx, task, "updated", changes)

	snap := task.Snapshot()
	snap["previous_title"] = previousTitle
	return map[string]any{
		"success": true,
		"task":    snap,
		"changes": changes,
	}
}

func (e *Executor) deleteTask(ctx context.Context, args map[string]any, userID string) map[string]any {
	var deleted []map[string]any

	switch {
	case argBool(args, "delete_completed"):
		tasks, err := e.store.ListTasks(ctx, userID, store.TaskFilter{Status: "completed"})
		if err != nil {
			return failure(fmt.Sprintf("Could not list completed tasks: %v", err))
		}
		for i := range tasks {
			if err := e.store.DeleteTask(ctx, userID, tasks[i].ID); err != nil {
				continue
			}
			deleted = append(deleted, map[string]any{"id": tasks[i].ID, "title": tasks[i].Title})
			e.recordEvent(ctx, &tasks[i], "deleted", nil)
		}

	case argString(args, "task_id") != "" || argString(args, "title_match") != "":
		task, fail := e.resolveTask(ctx, args, userID, false)
		if fail != nil {
			return fail
		}
		if err := e.store.DeleteTask(ctx, userID, task.ID); err != nil {
			return failure(fmt.Sprintf("Could not delete task: %v", err))
		}
		deleted = append(deleted, map[string]any{"id": task.ID, "title": task.Title})
		e.recordEvent(ctx, task, "deleted", nil)

	default:
		return failure("Must provide task_id, title_match, or delete_completed=true")
	}

	if deleted == nil {
		deleted = []map[string]any{}
	}
	return e.withCounts(ctx, userID, map[string]any{
		"success": true,
		"deleted": deleted,
		"count":   len(deleted),
	})
}

func (e *Executor) manageTags(ctx context.Context, args map[string]any, userID string) map[string]any {
	action := argString(args, "action")
	name := strings.TrimSpace(argString(args, "name"))

	switch action {
	case "list":
		tags, err := e.store.ListTags(ctx, userID)
		if err != nil {
			return failure(fmt.Sprintf("Could not list tags: %v", err))
		}
		out := make([]map[string]any, 0, len(tags))
		for _, tag := range tags {
			out = append(out, map[string]any{"name": tag.Name, "color": tag.Color})
		}
		return map[string]any{"success": true, "tags": out, "count": len(out)}

	case "create":
		if name == "" {
			return failure("Must provide a tag name")
		}
		color := argString(args, "color")
		if color == "" {
			color = models.DefaultTagColor
		}
		tag := &models.Tag{
			ID:        uuid.NewString(),
			Name:      name,
			Color:     color,
			UserID:    userID,
			CreatedAt: time.Now().UTC(),
		}
		if err := e.store.CreateTag(ctx, tag); err != nil {
			var conflict *store.ErrConflict
			if errors.As(err, &conflict) {
				return failure(fmt.Sprintf("Tag '%s' already exists", name))
			}
			return failure(fmt.Sprintf("Could not create tag: %v", err))
		}
		return map[string]any{
			"success": true,
			"tag":     map[string]any{"name": tag.Name, "color": tag.Color},
		}

	case "delete":
		if name == "" {
			return failure("Must provide a tag name")
		}
		if err := e.store.DeleteTag(ctx, userID, name); err != nil {
			return failure(fmt.Sprintf("No tag found named '%s'", name))
		}
		return map[string]any{"success": true, "deleted": name}

	default:
		return failure("Action must be 'list', 'create', or 'delete'")
	}
}

// recordEvent appends an audit record; failures are logged, never surfaced.
func (e *Executor) recordEvent(ctx context.Context, task *models.Task, eventType string, data map[string]any) {
	event := &models.TaskEvent{
		ID:        uuid.NewString(),
		TaskID:    task.ID,
		UserID:    task.UserID,
		EventType: eventType,
		EventData: data,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateTaskEvent(ctx, event); err != nil {
		log.Warn().Err(err).Str("task_id", task.ID).Msg("Audit event write failed")
	}
}
