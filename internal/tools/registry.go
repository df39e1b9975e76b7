// Package tools defines the fixed set of task-management operations exposed
// to the assistant and executes them against the store with server-side
// identity injection.
package tools

import "github.com/taskdeck/taskdeck/pkg/models"

// ParamSpec describes one operation parameter as a JSON Schema fragment.
type ParamSpec struct {
	Type        string     `json:"type"`
	Description string     `json:"description,omitempty"`
	Enum        []any      `json:"enum,omitempty"`
	Items       *ParamSpec `json:"items,omitempty"`
}

// OperationDescriptor declares one callable operation: its name, purpose,
// and parameter schema. Descriptors are the single source of truth — the
// LLM function-calling shape and the MCP tool listing are both derived from
// them, so the two surfaces cannot drift.
type OperationDescriptor struct {
	Name        string
	Description string
	Parameters  map[string]ParamSpec
	Required    []string
}

// Descriptors returns the full operation set in stable order. The list is
// immutable after startup; adding an operation means adding one descriptor
// plus its executor case.
func Descriptors() []OperationDescriptor {
	return operationDescriptors
}

var operationDescriptors = []OperationDescriptor{
	{
		Name:        "add_task",
		Description: "Create a new task for the user. Use this when the user wants to add, create, or remember something.",
		Parameters: map[string]ParamSpec{
			"title":           {Type: "string", Description: "The task title/description"},
			"due_date":        {Type: "string", Description: "Due date in RFC 3339 or YYYY-MM-DD format"},
			"priority":        {Type: "integer", Description: "Priority: 1=high, 2=medium, 3=low", Enum: []any{1, 2, 3}},
			"tags":            {Type: "array", Description: "Tag names to attach", Items: &ParamSpec{Type: "string"}},
			"recurrence_rule": {Type: "string", Description: "Recurrence rule, e.g. 'daily' or 'weekly'"},
		},
		Required: []string{"title"},
	},
	{
		Name:        "list_tasks",
		Description: "List the user's tasks. Can filter by completion status. Use this when the user wants to see, view, or check their tasks.",
		Parameters: map[string]ParamSpec{
			"status":     {Type: "string", Description: "Filter tasks by status. Default is 'all'.", Enum: []any{"all", "pending", "completed"}},
			"priority":   {Type: "integer", Description: "Filter by priority: 1=high, 2=medium, 3=low", Enum: []any{1, 2, 3}},
			"tag":        {Type: "string", Description: "Filter by tag name"},
			"search":     {Type: "string", Description: "Search tasks by title (case-insensitive)"},
			"overdue":    {Type: "boolean", Description: "If true, only tasks past their due date"},
			"sort_by":    {Type: "string", Description: "Sort field", Enum: []any{"due_date", "priority", "title", "created_at"}},
			"sort_order": {Type: "string", Description: "Sort direction", Enum: []any{"asc", "desc"}},
		},
	},
	{
		Name:        "complete_task",
		Description: "Mark a task as completed/done. Use this when the user says they finished, completed, or done with a task.",
		Parameters: map[string]ParamSpec{
			"task_id":     {Type: "string", Description: "The UUID of the task to complete"},
			"title_match": {Type: "string", Description: "Partial title to match (case-insensitive). Use if task_id is unknown."},
		},
	},
	{
		Name:        "update_task",
		Description: "Update a task's title, due date, priority, or tags. Use this when the user wants to change, rename, or modify a task.",
		Parameters: map[string]ParamSpec{
			"task_id":     {Type: "string", Description: "The UUID of the task to update"},
			"title_match": {Type: "string", Description: "Partial title to match (case-insensitive). Use if task_id is unknown."},
			"new_title":   {Type: "string", Description: "The new title for the task"},
			"due_date":    {Type: "string", Description: "New due date in RFC 3339 or YYYY-MM-DD format"},
			"priority":    {Type: "integer", Description: "New priority: 1=high, 2=medium, 3=low", Enum: []any{1, 2, 3}},
			"tags":        {Type: "array", Description: "Replacement tag names", Items: &ParamSpec{Type: "string"}},
		},
	},
	{
		Name:        "delete_task",
		Description: "Delete/remove a task permanently. Use this when the user wants to delete, remove, or clear a task.",
		Parameters: map[string]ParamSpec{
			"task_id":          {Type: "string", Description: "The UUID of the task to delete"},
			"title_match":      {Type: "string", Description: "Partial title to match (case-insensitive). Use if task_id is unknown."},
			"delete_completed": {Type: "boolean", Description: "If true, delete all completed tasks"},
		},
	},
	{
		Name:        "manage_tags",
		Description: "List, create, or delete the user's tags. Use this when the user wants to organize tasks into categories.",
		Parameters: map[string]ParamSpec{
			"action": {Type: "string", Description: "What to do with tags", Enum: []any{"list", "create", "delete"}},
			"name":   {Type: "string", Description: "Tag name (required for create/delete)"},
			"color":  {Type: "string", Description: "Hex color for the tag, e.g. #FF8800"},
		},
		Required: []string{"action"},
	},
}

func (d OperationDescriptor) schema() map[string]any {
	props := make(map[string]any, len(d.Parameters))
	for name, spec := range d.Parameters {
		props[name] = spec
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(d.Required) > 0 {
		schema["required"] = d.Required
	} else {
		schema["required"] = []string{}
	}
	return schema
}

// ToolDefinitions renders the descriptors in OpenAI function-calling shape.
func ToolDefinitions() []models.ToolDefinition {
	defs := make([]models.ToolDefinition, 0, len(operationDescriptors))
	for _, d := range operationDescriptors {
		defs = append(defs, models.ToolDefinition{
			Type: "function",
			Function: models.ToolFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.schema(),
			},
		})
	}
	return defs
}

// MCPToolInfos renders the descriptors in MCP tools/list shape.
func MCPToolInfos() []models.MCPToolInfo {
	infos := make([]models.MCPToolInfo, 0, len(operationDescriptors))
	for _, d := range operationDescriptors {
		infos = append(infos, models.MCPToolInfo{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.schema(),
		})
	}
	return infos
}
